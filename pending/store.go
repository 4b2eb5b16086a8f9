package pending

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"golang.org/x/exp/maps"
)

// ErrKeyExists is returned by Put when the key already holds a context.
var ErrKeyExists = errors.New("pending: key already exists")

// Store maps a leg msgId to its context. Take is an atomic read-and-remove:
// concurrent takers of one key get the context at most once.
type Store interface {
	Put(key string, c *Context) error
	Take(key string) (*Context, bool)
	EvictOlderThan(d time.Duration) []*Context
	Len() int
	Keys() []string
}

const defaultShards = 32

type entry struct {
	ctx      *Context
	storedAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

// MemoryStore is a lock-striped in-memory Store.
type MemoryStore struct {
	shards []*shard
	ttl    time.Duration
	now    func() time.Time
}

// StoreOption configures a MemoryStore.
type StoreOption func(*MemoryStore)

// WithTTL makes Take treat entries older than ttl as absent. Such entries
// stay in the store until EvictOlderThan hands them to the caller.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *MemoryStore) {
		s.ttl = ttl
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithShards sets the number of lock stripes.
func WithShards(n int) StoreOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shards = newShards(n)
		}
	}
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]entry)}
	}
	return shards
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		shards: newShards(defaultShards),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Put stores c under key. An expired entry under the same key is replaced.
func (s *MemoryStore) Put(key string, c *Context) error {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.entries[key]; ok && !s.expired(e, now) {
		return ErrKeyExists
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	sh.entries[key] = entry{ctx: c, storedAt: now}
	return nil
}

// Take removes and returns the context stored under key. An expired entry is
// reported as absent and left for eviction.
func (s *MemoryStore) Take(key string) (*Context, bool) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || s.expired(e, now) {
		return nil, false
	}
	delete(sh.entries, key)
	return e.ctx, true
}

func (s *MemoryStore) expired(e entry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.storedAt) > s.ttl
}

// EvictOlderThan removes every entry stored more than d ago and returns the
// removed contexts ordered by age.
func (s *MemoryStore) EvictOlderThan(d time.Duration) []*Context {
	now := s.now()
	var evicted []entry

	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if now.Sub(e.storedAt) > d {
				evicted = append(evicted, e)
				delete(sh.entries, key)
			}
		}
		sh.mu.Unlock()
	}

	sort.Slice(evicted, func(i, j int) bool {
		return evicted[i].storedAt.Before(evicted[j].storedAt)
	})
	out := make([]*Context, len(evicted))
	for i, e := range evicted {
		out[i] = e.ctx
	}
	return out
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Keys returns a sorted snapshot of the stored keys.
func (s *MemoryStore) Keys() []string {
	var keys []string
	for _, sh := range s.shards {
		sh.mu.Lock()
		keys = append(keys, maps.Keys(sh.entries)...)
		sh.mu.Unlock()
	}
	sort.Strings(keys)
	return keys
}
