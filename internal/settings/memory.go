package settings

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is a process-local Store. Save copies staged documents into the committed set.
type Memory struct {
	mu        sync.Mutex
	committed map[string]json.RawMessage
	staged    map[string]json.RawMessage
	closed    bool
}

func NewMemory() *Memory {
	return &Memory{
		committed: map[string]json.RawMessage{},
		staged:    map[string]json.RawMessage{},
	}
}

func (m *Memory) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	if b, ok := m.staged[key]; ok {
		return cloneRaw(b), true, nil
	}
	b, ok := m.committed[key]
	return cloneRaw(b), ok, nil
}

func (m *Memory) Set(ctx context.Context, key string, doc json.RawMessage) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.staged[key] = cloneRaw(doc)
	return nil
}

func (m *Memory) Save(ctx context.Context) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for k, v := range m.staged {
		m.committed[k] = v
	}
	m.staged = map[string]json.RawMessage{}
	return nil
}

// Rollback drops staged documents.
func (m *Memory) Rollback() {
	m.mu.Lock()
	m.staged = map[string]json.RawMessage{}
	m.mu.Unlock()
}

// Committed returns the last saved document for key.
func (m *Memory) Committed(key string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.committed[key]
	return cloneRaw(b), ok
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
