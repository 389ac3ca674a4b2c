package settings

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"skyback/pkg/logx"
)

// Manager reads and updates the settings document stored under one key.
// It is owned by the application; the scheduler only holds a handle.
type Manager struct {
	store Store
	key   string
	log   logx.Logger

	mu sync.Mutex // serialises read-merge-write
}

func NewManager(store Store, key string, log logx.Logger) *Manager {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultKey
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{store: store, key: key, log: log.With(logx.String("comp", "settings"))}
}

func (m *Manager) Key() string { return m.key }

// Load returns the stored document.
//
// A missing document, or one that is not a JSON object, yields Default() with found=false and
// no error. Fields of the wrong JSON type are kept as their raw text so the policy rejects them
// (unknown frequency, unparseable timestamp) instead of treating the document as absent.
// Only a failing store read is returned as an error.
func (m *Manager) Load(ctx context.Context) (doc Document, found bool, err error) {
	raw, ok, err := m.store.Get(ctx, m.key)
	if err != nil {
		return Default(), false, errors.Wrapf(err, "read settings %q", m.key)
	}
	if !ok || isNullDoc(raw) {
		return Default(), false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		m.log.Warn("settings document malformed; using defaults", logx.Err(err))
		return Default(), false, nil
	}
	if v, ok := fields["frequency"]; ok && !isNullDoc(v) {
		f, isStr := jsonString(v)
		if !isStr {
			m.log.Warn("settings frequency is not a string", logx.String("frequency", f))
		}
		doc.Frequency = f
	}
	if v, ok := fields["lastBackupDate"]; ok && !isNullDoc(v) {
		d, isStr := jsonString(v)
		if !isStr {
			m.log.Warn("settings lastBackupDate is not a string", logx.String("lastBackupDate", d))
		}
		doc.LastBackupDate = &d
	}
	return doc, true, nil
}

// jsonString decodes a JSON string. Any other value comes back as its trimmed raw text.
func jsonString(v json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	return strings.TrimSpace(string(v)), false
}

// Update merges patch into the stored object and saves it.
// Keys not named in patch are preserved, including ones this package does not know.
func (m *Manager) Update(ctx context.Context, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok, err := m.store.Get(ctx, m.key)
	if err != nil {
		return errors.Wrapf(err, "read settings %q", m.key)
	}
	obj := map[string]any{}
	if ok && !isNullDoc(raw) {
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			m.log.Warn("settings document malformed; rewriting from defaults", logx.Err(err))
			obj = map[string]any{}
			ok = false
		}
	} else {
		ok = false
	}
	if !ok {
		obj["frequency"] = DefaultFrequency
		obj["lastBackupDate"] = nil
	}
	for k, v := range patch {
		obj[k] = v
	}

	b, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrap(err, "encode settings")
	}
	if err := m.store.Set(ctx, m.key, b); err != nil {
		return errors.Wrapf(err, "stage settings %q", m.key)
	}
	if err := m.store.Save(ctx); err != nil {
		return errors.Wrapf(err, "save settings %q", m.key)
	}
	return nil
}

// FormatTimestamp is the persisted lastBackupDate format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// MarkBackup records a completed backup at the given instant.
func (m *Manager) MarkBackup(ctx context.Context, at time.Time) error {
	return m.Update(ctx, map[string]any{"lastBackupDate": FormatTimestamp(at)})
}

// SetFrequency stores a validated frequency.
func (m *Manager) SetFrequency(ctx context.Context, freq string) error {
	f := strings.ToLower(strings.TrimSpace(freq))
	switch f {
	case "daily", "weekly":
	default:
		return errors.WithHint(errors.Newf("unsupported frequency %q", freq), "use daily or weekly")
	}
	return m.Update(ctx, map[string]any{"frequency": f})
}
