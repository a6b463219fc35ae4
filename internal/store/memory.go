package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is the in-process fallback store. It honors the same FIFO and TTL
// contract as the Redis store so callers cannot tell which one served them.
// A single coarse mutex guards the map; there is no store-level atomicity to
// lean on here.
type Memory struct {
	mu   sync.Mutex
	data map[string]*memoryList
	ttl  time.Duration
	now  func() time.Time
}

type memoryList struct {
	entries  [][]byte
	deadline time.Time
}

// NewMemory creates an in-process store with the given default TTL.
func NewMemory(defaultTTL time.Duration) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Memory{
		data: make(map[string]*memoryList),
		ttl:  defaultTTL,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Push appends the payload and refreshes the key's TTL.
func (m *Memory) Push(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(key)
	l := m.listLocked(key)
	l.entries = append(l.entries, payload)
	l.deadline = m.now().Add(m.ttl)
	return nil
}

// PushMulti appends every payload under the key. The mutex makes the commit
// atomic with respect to other store operations.
func (m *Memory) PushMulti(_ context.Context, key string, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(key)
	l := m.listLocked(key)
	l.entries = append(l.entries, payloads...)
	l.deadline = m.now().Add(m.ttl)
	return nil
}

// Pop removes and returns the oldest payload, or nil when the key is empty.
func (m *Memory) Pop(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(key)
	l, ok := m.data[key]
	if !ok || len(l.entries) == 0 {
		return nil, nil
	}
	payload := l.entries[0]
	l.entries = l.entries[1:]
	if len(l.entries) == 0 {
		delete(m.data, key)
	}
	return payload, nil
}

// Len returns the number of payloads under the key.
func (m *Memory) Len(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(key)
	l, ok := m.data[key]
	if !ok {
		return 0, nil
	}
	return int64(len(l.entries)), nil
}

// SetTTL moves the key's eviction deadline.
func (m *Memory) SetTTL(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.data[key]; ok {
		l.deadline = m.now().Add(ttl)
	}
	return nil
}

// Ping always succeeds; process memory is reachable by definition.
func (m *Memory) Ping(context.Context) error { return nil }

// Keys returns every live key with the given prefix.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key, l := range m.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if m.now().After(l.deadline) {
			delete(m.data, key)
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Entries returns every payload under the key, oldest first.
func (m *Memory) Entries(_ context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(key)
	l, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	out := make([][]byte, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

// Replace swaps the key's contents for the given payloads, oldest first.
func (m *Memory) Replace(_ context.Context, key string, payloads [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(payloads) == 0 {
		delete(m.data, key)
		return nil
	}
	entries := make([][]byte, len(payloads))
	copy(entries, payloads)
	m.data[key] = &memoryList{entries: entries, deadline: m.now().Add(m.ttl)}
	return nil
}

// Remove deletes the key.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close is a no-op for process memory.
func (m *Memory) Close() error { return nil }

func (m *Memory) listLocked(key string) *memoryList {
	l, ok := m.data[key]
	if !ok {
		l = &memoryList{}
		m.data[key] = l
	}
	return l
}

// evictLocked drops the key if its TTL deadline has passed.
func (m *Memory) evictLocked(key string) {
	if l, ok := m.data[key]; ok && m.now().After(l.deadline) {
		delete(m.data, key)
	}
}
