package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memItem struct {
	entry   Entry
	expires time.Time
}

// MemoryCache is an in-process Port, used when no Redis is configured.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memItem
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{items: map[string]memItem{}, ttl: ttl, now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if m.ttl > 0 && m.now().After(it.expires) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil, nil
	}
	e := it.entry
	e.Value = append([]byte(nil), it.entry.Value...)
	return &e, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{
		entry:   Entry{Value: append([]byte(nil), value...), StoredAt: ts},
		expires: m.now().Add(m.ttl),
	}
	return nil
}

func (m *MemoryCache) InvalidatePrefix(_ context.Context, academyID uuid.UUID, area FeatureArea) error {
	prefix := Prefix(area, academyID)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
		}
	}
	return nil
}

// Len is the number of stored keys, expired ones included.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
