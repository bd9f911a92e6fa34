package kv

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and single-node development.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	version   int64
	expiresAt time.Time // zero = no expiry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (m *Memory) WithNow(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) live(key string) *memoryEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *Memory) Get(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return Entry{}, ErrNotFound
	}
	data := make([]byte, len(e.data))
	copy(data, e.data)
	return Entry{Data: data, Version: e.version}, nil
}

func (m *Memory) Put(_ context.Context, key string, data []byte, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var version int64 = 1
	if e := m.live(key); e != nil {
		version = e.version + 1
	}
	m.set(key, data, version, ttl)
	return version, nil
}

func (m *Memory) PutIfMatch(_ context.Context, key string, data []byte, expect int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	current := int64(0)
	if e != nil {
		current = e.version
	}
	if current != expect {
		return 0, ErrVersionMismatch
	}
	version := current + 1
	m.set(key, data, version, ttl)
	return version, nil
}

func (m *Memory) set(key string, data []byte, version int64, ttl time.Duration) {
	stored := make([]byte, len(data))
	copy(stored, data)
	e := &memoryEntry{data: stored, version: version}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
