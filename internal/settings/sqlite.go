package settings

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"skyback/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	mu     sync.Mutex
	staged map[string]json.RawMessage
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("settings.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create settings dir for %s", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	ctx := context.Background()
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply settings schema")
	}
	return &sqliteStore{
		db:     db,
		log:    log.With(logx.String("path", path)),
		staged: map[string]json.RawMessage{},
	}, nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	if s.db == nil {
		s.mu.Unlock()
		return nil, false, ErrClosed
	}
	if b, ok := s.staged[key]; ok {
		s.mu.Unlock()
		return cloneRaw(b), true, nil
	}
	db := s.db
	s.mu.Unlock()

	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "select settings %q", key)
	}
	return json.RawMessage(v), true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key string, doc json.RawMessage) error {
	_ = ctx
	if !json.Valid(doc) {
		return errors.Newf("settings %q: document is not valid JSON", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	s.staged[key] = cloneRaw(doc)
	return nil
}

func (s *sqliteStore) Save(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	if len(s.staged) == 0 {
		return nil
	}
	defer func() {
		if err != nil {
			s.staged = map[string]json.RawMessage{}
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin settings tx")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for k, v := range s.staged {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv(key, value, updated_at) VALUES(?,?,?)
			 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
			k, string(v), now,
		); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "upsert settings %q", k)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit settings tx")
	}
	s.staged = map[string]json.RawMessage{}
	return nil
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if len(s.staged) > 0 {
		s.log.Warn("closing settings store with unsaved changes", logx.Int("keys", len(s.staged)))
	}
	err := s.db.Close()
	s.db = nil
	return err
}
