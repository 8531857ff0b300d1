package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/boxingbuddies/engagement/pkg/logging"
)

// memoryEntry wraps cached bytes with its two deadlines: freshUntil is
// the TTL boundary, staleUntil bounds how long the entry may still be
// served when a recompute fails.
type memoryEntry struct {
	tag        string
	data       []byte
	freshUntil time.Time
	staleUntil time.Time
}

// Memory is the in-process Bus backend: an LRU of entries plus a
// tag -> keys index for explicit invalidation.
type Memory struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, memoryEntry]
	tags   map[string]map[string]struct{}
	grace  time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewMemory creates a memory-backed bus holding at most size entries.
func NewMemory(size int, grace time.Duration) (*Memory, error) {
	m := &Memory{
		tags:   make(map[string]map[string]struct{}),
		grace:  grace,
		logger: logging.GetLogger().With(zap.String("component", "memory-cache")),
		now:    time.Now,
	}
	// The eviction callback runs synchronously under m.mu (every LRU
	// access happens with the lock held), so it must not lock again.
	l, err := lru.NewWithEvict[string, memoryEntry](size, func(key string, e memoryEntry) {
		if keys, ok := m.tags[e.tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(m.tags, e.tag)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	m.lru = l
	return m, nil
}

// Get implements Bus.
func (m *Memory) Get(ctx context.Context, tag, key string, ttl time.Duration, load Loader) ([]byte, error) {
	k := entryKey(tag, key)

	m.mu.Lock()
	e, ok := m.lru.Get(k)
	now := m.now()
	if ok && now.Before(e.freshUntil) {
		m.mu.Unlock()
		return e.data, nil
	}
	m.mu.Unlock()

	data, err := load(ctx)
	if err != nil {
		if ok && m.now().Before(e.staleUntil) {
			m.logger.Warn("serving stale cache entry after load failure",
				zap.String("tag", tag),
				zap.String("key", key),
				zap.Error(err))
			return e.data, nil
		}
		return nil, err
	}

	m.mu.Lock()
	stored := m.now()
	m.lru.Add(k, memoryEntry{
		tag:        tag,
		data:       data,
		freshUntil: stored.Add(ttl),
		staleUntil: stored.Add(ttl + m.grace),
	})
	keys, found := m.tags[tag]
	if !found {
		keys = make(map[string]struct{})
		m.tags[tag] = keys
	}
	keys[k] = struct{}{}
	m.mu.Unlock()

	return data, nil
}

// Invalidate implements Bus. Entries under the tag are removed
// entirely; a purged value is never served stale.
func (m *Memory) Invalidate(_ context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.tags[tag] {
		m.lru.Remove(k)
	}
	delete(m.tags, tag)
	return nil
}

// Close implements Bus.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Purge()
	m.tags = make(map[string]map[string]struct{})
	return nil
}
