package cache

import (
	"sync"
	"time"
)

// localEntry is a cached value in the fast tier.
type localEntry struct {
	value      []byte
	writtenAt  time.Time
	expiresAt  time.Time
	lastAccess time.Time
}

func (e *localEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// localTier is the in-process cache tier. Capacity is adjustable at
// runtime by the strategy controller; eviction is LRU once capacity is
// exceeded, with a background janitor sweeping expired entries.
type localTier struct {
	mu       sync.Mutex
	entries  map[string]*localEntry
	capacity int

	hits   int64
	misses int64

	stop     chan struct{}
	stopOnce sync.Once
}

func newLocalTier(capacity int, cleanupInterval time.Duration) *localTier {
	t := &localTier{
		entries:  make(map[string]*localEntry),
		capacity: capacity,
		stop:     make(chan struct{}),
	}
	go t.janitor(cleanupInterval)
	return t
}

func (t *localTier) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *localTier) sweep() {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		if e.expired(now) {
			delete(t.entries, k)
		}
	}
}

func (t *localTier) get(key string) ([]byte, bool) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || e.expired(now) {
		if ok {
			delete(t.entries, key)
		}
		t.misses++
		return nil, false
	}
	e.lastAccess = now
	t.hits++
	return e.value, true
}

// remainingTTL returns how much of the entry's lifetime is left; used by
// speculative prefetch.
func (t *localTier) remainingTTL(key string) (time.Duration, bool) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok || e.expired(now) {
		return 0, false
	}
	return e.expiresAt.Sub(now), true
}

func (t *localTier) set(key string, value []byte, ttl time.Duration) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[key] = &localEntry{
		value:      value,
		writtenAt:  now,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	}
	t.evictLocked()
}

func (t *localTier) delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

func (t *localTier) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*localEntry)
}

func (t *localTier) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// resize changes capacity and evicts down to it. Shrinking is the graceful
// degradation path: entries go LRU-first instead of flushing everything.
func (t *localTier) resize(capacity int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.capacity = capacity
	t.evictLocked()
}

// counters returns cumulative hit/miss counts; the controller diffs
// successive readings to get a windowed hit rate.
func (t *localTier) counters() (hits, misses int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hits, t.misses
}

// evictLocked removes expired entries first, then least-recently-used
// entries, until size fits capacity.
func (t *localTier) evictLocked() {
	if len(t.entries) <= t.capacity {
		return
	}

	now := time.Now()
	for k, e := range t.entries {
		if e.expired(now) {
			delete(t.entries, k)
		}
	}

	for len(t.entries) > t.capacity {
		var oldestKey string
		var oldest time.Time
		for k, e := range t.entries {
			if oldestKey == "" || e.lastAccess.Before(oldest) {
				oldestKey = k
				oldest = e.lastAccess
			}
		}
		delete(t.entries, oldestKey)
	}
}

func (t *localTier) close() {
	t.stopOnce.Do(func() { close(t.stop) })
}
