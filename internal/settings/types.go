package settings

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultKey is the store key holding the settings document.
const DefaultKey = "settings"

// DefaultFrequency is used when the document is missing.
const DefaultFrequency = "daily"

var (
	ErrClosed   = errors.New("settings store closed")
	ErrNotFound = errors.New("settings document not found")
)

// Config configures the settings store.
//
// Driver values:
//   - "file": JSON file backend (default when empty)
//   - "sqlite": SQLite database file
//   - "memory": in-process only
type Config struct {
	Driver      string
	Path        string
	Key         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the key/document persistence API consumed by the scheduler.
//
// Set stages a document; Save makes staged documents durable. Get observes staged writes.
// A failed Save discards what was staged, so readers fall back to the durable state.
type Store interface {
	Get(ctx context.Context, key string) (doc json.RawMessage, ok bool, err error)
	Set(ctx context.Context, key string, doc json.RawMessage) error
	Save(ctx context.Context) error
	Close() error
}

// Document is the canonical settings document.
// LastBackupDate is nil when no backup has been recorded.
type Document struct {
	Frequency      string  `json:"frequency"`
	LastBackupDate *string `json:"lastBackupDate"`
}

// Default returns the document used when nothing is stored.
func Default() Document {
	return Document{Frequency: DefaultFrequency}
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func isNullDoc(b json.RawMessage) bool {
	s := string(b)
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\n' || s[0] == '\t' || s[0] == '\r') {
		s = s[1:]
	}
	return s == "" || s == "null"
}
