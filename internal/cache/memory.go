package cache

import (
	"context"
	"hash"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	numMemoryShards       = 16
	maxEntriesPerShard    = 4096
	defaultSweepInterval  = time.Minute
	defaultMemoryCacheTTL = 5 * time.Minute
)

type memoryEntry struct {
	value    string
	expireAt time.Time
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

// Memory is a sharded, TTL-based in-process store.
// A background sweeper removes expired entries off the hot path.
type Memory struct {
	shards [numMemoryShards]*memoryShard
	ttl    time.Duration
	sweep  time.Duration
	now    func() time.Time

	started  atomic.Bool
	closed   atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// MemoryOption customises a Memory store.
type MemoryOption func(*Memory)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithSweepInterval sets how often expired entries are removed.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.sweep = d
		}
	}
}

var hasherPool = sync.Pool{
	New: func() any { return fnv.New64a() },
}

func hashKey(key string) uint64 {
	h := hasherPool.Get().(hash.Hash64)
	h.Reset()
	h.Write([]byte(key))
	sum := h.Sum64()
	hasherPool.Put(h)
	return sum
}

// NewMemory creates a new sharded memory store.
func NewMemory(ttl time.Duration, opts ...MemoryOption) *Memory {
	if ttl <= 0 {
		ttl = defaultMemoryCacheTTL
	}
	m := &Memory{
		ttl:      ttl,
		sweep:    defaultSweepInterval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &memoryShard{entries: make(map[string]*memoryEntry)}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) getShard(key string) *memoryShard {
	return m.shards[hashKey(key)%numMemoryShards]
}

// DefaultTTL implements Store.
func (m *Memory) DefaultTTL() time.Duration { return m.ttl }

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	if m.closed.Load() {
		return "", false, ErrClosed
	}
	shard := m.getShard(key)
	now := m.now()

	shard.mu.RLock()
	entry, ok := shard.entries[key]
	if !ok || !now.Before(entry.expireAt) {
		shard.mu.RUnlock()
		return "", false, nil
	}
	value := entry.value
	shard.mu.RUnlock()
	return value, true, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key, value string, opts SetOptions) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}
	shard := m.getShard(key)
	now := m.now()
	expireAt := now.Add(effectiveTTL(opts, m.ttl))

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if entry, ok := shard.entries[key]; ok {
		if opts.OnlyIfAbsent && now.Before(entry.expireAt) {
			return false, nil
		}
		entry.value = value
		entry.expireAt = expireAt
		return true, nil
	}

	if len(shard.entries) >= maxEntriesPerShard {
		evictOldest(shard, now)
	}
	shard.entries[key] = &memoryEntry{value: value, expireAt: expireAt}
	return true, nil
}

// evictOldest removes expired entries first, then the soonest to expire while
// still over the limit. Caller must hold shard.mu write lock.
func evictOldest(shard *memoryShard, now time.Time) {
	for key, entry := range shard.entries {
		if !now.Before(entry.expireAt) {
			delete(shard.entries, key)
		}
	}

	for len(shard.entries) >= maxEntriesPerShard {
		var oldestKey string
		var oldestTime time.Time
		for key, entry := range shard.entries {
			if oldestKey == "" || entry.expireAt.Before(oldestTime) {
				oldestKey = key
				oldestTime = entry.expireAt
			}
		}
		if oldestKey == "" {
			break
		}
		delete(shard.entries, oldestKey)
	}
}

// Connect launches the background sweeper. It is idempotent.
func (m *Memory) Connect(context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.started.CompareAndSwap(false, true) {
		m.wg.Add(1)
		go m.sweepLoop()
	}
	return nil
}

// Close stops the sweeper and drops every entry.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() {
		m.closed.Store(true)
		close(m.stopChan)
	})
	m.wg.Wait()
	for _, shard := range m.shards {
		shard.mu.Lock()
		shard.entries = make(map[string]*memoryEntry)
		shard.mu.Unlock()
	}
	return nil
}

func (m *Memory) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Memory) sweepExpired() {
	now := m.now()
	for _, shard := range m.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if !now.Before(entry.expireAt) {
				delete(shard.entries, key)
			}
		}
		shard.mu.Unlock()
	}
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	total := 0
	for _, shard := range m.shards {
		shard.mu.RLock()
		total += len(shard.entries)
		shard.mu.RUnlock()
	}
	return total
}
