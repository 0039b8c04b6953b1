package store

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryValue struct {
	value     string
	expiresAt time.Time
}

func (v memoryValue) expired(now time.Time) bool {
	return !v.expiresAt.IsZero() && !now.Before(v.expiresAt)
}

// Memory is a bounded in-process Store for single-instance runs and local development.
// Expired keys are dropped lazily on access; the LRU bound caps memory either way.
type Memory struct {
	mu    sync.Mutex
	items *lru.Cache[string, memoryValue]
	now   func() time.Time
}

// NewMemory creates a store holding at most size keys.
func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = 1024
	}
	items, err := lru.New[string, memoryValue](size)
	if err != nil {
		return nil, err
	}
	return &Memory{items: items, now: time.Now}, nil
}

func (m *Memory) lookup(key string) (memoryValue, bool) {
	v, ok := m.items.Get(key)
	if !ok {
		return memoryValue{}, false
	}
	if v.expired(m.now()) {
		m.items.Remove(key)
		return memoryValue{}, false
	}
	return v, true
}

func (m *Memory) entry(value string, ttl time.Duration) memoryValue {
	v := memoryValue{value: value}
	if ttl > 0 {
		v.expiresAt = m.now().Add(ttl)
	}
	return v
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.lookup(key)
	return v.value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Add(key, m.entry(value, ttl))
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.items.Add(key, m.entry(value, ttl))
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Remove(key)
	return nil
}

func (m *Memory) DeleteIfEquals(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.lookup(key)
	if !ok || v.value != value {
		return false, nil
	}
	m.items.Remove(key)
	return true, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Purge()
	return nil
}
