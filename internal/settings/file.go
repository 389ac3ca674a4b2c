package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"skyback/pkg/logx"
)

// fileStore keeps every key of one JSON object file in memory.
//
// Other processes (the CLI, the host application) may rewrite the file while the daemon runs,
// so Get reloads it when its size or mtime changed and nothing is staged.
type fileStore struct {
	path string
	log  logx.Logger

	mu     sync.Mutex
	docs   map[string]json.RawMessage
	staged map[string]json.RawMessage
	stamp  fileStamp
	closed bool
}

type fileStamp struct {
	size    int64
	modTime time.Time
	exists  bool
}

func stampOf(fi os.FileInfo) fileStamp {
	return fileStamp{size: fi.Size(), modTime: fi.ModTime(), exists: true}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("settings.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create settings dir for %s", path)
	}
	s := &fileStore{
		path:   path,
		log:    log.With(logx.String("path", path)),
		docs:   map[string]json.RawMessage{},
		staged: map[string]json.RawMessage{},
	}
	if err := s.reloadLocked(true); err != nil {
		return nil, err
	}
	return s, nil
}

// reloadLocked reads the file into docs. A missing file is an empty store.
//
// A file that is not a JSON object is moved aside only at open (moveAside), so the first Save
// does not destroy it. While running, another process may be halfway through rewriting the
// file; then the read fails and docs keep the last good state.
func (s *fileStore) reloadLocked(moveAside bool) error {
	fi, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.docs = map[string]json.RawMessage{}
		s.stamp = fileStamp{}
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "stat %s", s.path)
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return errors.Wrapf(err, "read %s", s.path)
	}
	docs := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(b)) > 0 {
		if err := json.Unmarshal(b, &docs); err != nil || docs == nil {
			if !moveAside {
				if err == nil {
					err = errors.New("not a JSON object")
				}
				return errors.Wrapf(err, "decode %s", s.path)
			}
			aside := s.path + ".corrupt-" + strconv.FormatInt(time.Now().Unix(), 10)
			s.log.Warn("settings file is not a JSON object; moving aside",
				logx.String("aside", aside), logx.Err(err))
			if rerr := os.Rename(s.path, aside); rerr != nil {
				return errors.Wrapf(rerr, "move aside corrupt settings file %s", s.path)
			}
			s.docs = map[string]json.RawMessage{}
			s.stamp = fileStamp{}
			return nil
		}
	}
	s.docs = docs
	s.stamp = stampOf(fi)
	return nil
}

func (s *fileStore) changedOnDisk() bool {
	fi, err := os.Stat(s.path)
	if err != nil {
		return s.stamp.exists
	}
	st := stampOf(fi)
	return st.size != s.stamp.size || !st.modTime.Equal(s.stamp.modTime) || !s.stamp.exists
}

func (s *fileStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	if b, ok := s.staged[key]; ok {
		return cloneRaw(b), true, nil
	}
	if len(s.staged) == 0 && s.changedOnDisk() {
		if err := s.reloadLocked(false); err != nil {
			return nil, false, err
		}
	}
	b, ok := s.docs[key]
	return cloneRaw(b), ok, nil
}

func (s *fileStore) Set(ctx context.Context, key string, doc json.RawMessage) error {
	_ = ctx
	if !json.Valid(doc) {
		return errors.Newf("settings %q: document is not valid JSON", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.staged[key] = cloneRaw(doc)
	return nil
}

func (s *fileStore) Save(ctx context.Context) (err error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
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

	// Merge onto the latest on-disk state so keys written by others survive.
	if s.changedOnDisk() {
		if err := s.reloadLocked(false); err != nil {
			return err
		}
	}
	next := make(map[string]json.RawMessage, len(s.docs)+len(s.staged))
	for k, v := range s.docs {
		next[k] = v
	}
	for k, v := range s.staged {
		next[k] = v
	}

	b, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode settings file")
	}
	b = append(b, '\n')

	if err := writeFileAtomic(s.path, b, 0o644); err != nil {
		return errors.Wrapf(err, "save %s", s.path)
	}
	fi, err := os.Stat(s.path)
	if err != nil {
		return errors.Wrapf(err, "stat %s", s.path)
	}
	s.docs = next
	s.staged = map[string]json.RawMessage{}
	s.stamp = stampOf(fi)
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.staged) > 0 {
		s.log.Warn("closing settings store with unsaved changes", logx.Int("keys", len(s.staged)))
	}
	s.closed = true
	return nil
}

func writeFileAtomic(path string, b []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
