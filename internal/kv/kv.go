// Package kv is the small key-value capability used for sessions and
// attempt counters: get, set with TTL, delete. No multi-key transactions.
package kv

import (
	"context"
	"sync"
	"time"
)

// KV is a key-value store with per-key expiry.
type KV interface {
	// Get returns the value and whether it was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value for ttl. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryKV is an in-process KV.
type MemoryKV struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time
}

// NewMemory returns an empty MemoryKV using the wall clock.
func NewMemory() *MemoryKV {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock returns an empty MemoryKV using now for expiry.
func NewMemoryWithClock(now func() time.Time) *MemoryKV {
	return &MemoryKV{items: make(map[string]memItem), now: now}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !it.expiresAt.IsZero() && !m.now().Before(it.expiresAt) {
		delete(m.items, key)
		return nil, false, nil
	}
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, true, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := memItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = it
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// peek returns the value and its remaining ttl (0 for no expiry).
func (m *MemoryKV) peek(key string) ([]byte, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok {
		return nil, 0, false
	}
	if it.expiresAt.IsZero() {
		return append([]byte(nil), it.value...), 0, true
	}
	left := it.expiresAt.Sub(m.now())
	if left <= 0 {
		delete(m.items, key)
		return nil, 0, false
	}
	return append([]byte(nil), it.value...), left, true
}
