package teller

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Cache is a best-effort read accelerator for account snapshots,
// balances, and per-account transaction lists. It is never the system
// of record: implementations signal any failure as a miss and the
// caller falls back to the Repository.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, val []byte)
	Evict(ctx context.Context, key string)
}

func acctKey(email string) string {
	return "acct:" + email
}

func balKey(id snowflake.ID) string {
	return fmt.Sprintf("bal:%d", id)
}

func histKey(id snowflake.ID) string {
	return fmt.Sprintf("hist:%d", id)
}

// NopCache misses on every read and drops every write. Used when no
// cache backend is configured; the engine then always reads the store.
type NopCache struct{}

var _ Cache = (*NopCache)(nil)

func (NopCache) Get(_ context.Context, _ string) ([]byte, bool) { return nil, false }
func (NopCache) Put(_ context.Context, _ string, _ []byte)      {}
func (NopCache) Evict(_ context.Context, _ string)              {}

// MemoryCache is a process-local Cache for tests and single-node
// deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

var _ Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	return cp, true
}

func (m *MemoryCache) Put(_ context.Context, key string, val []byte) {
	cp := make([]byte, len(val))
	copy(cp, val)
	m.mu.Lock()
	m.entries[key] = cp
	m.mu.Unlock()
}

func (m *MemoryCache) Evict(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}
