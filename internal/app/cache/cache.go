// Package cache implements the adaptive two-tier cache in front of
// expensive lookups: a fast in-process tier plus a shared Redis tier. The
// remote tier is guarded by a circuit breaker, and an adaptive controller
// retunes capacity and TTLs under load. Remote failures are always absorbed
// internally; callers only ever see compute errors.
package cache

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ComputeFn produces the value on a full miss. It may suspend on a remote
// round trip; its errors propagate to the caller unchanged.
type ComputeFn func(ctx context.Context) ([]byte, error)

// Settings holds cache construction parameters.
type Settings struct {
	LocalCapacity   int
	CleanupInterval time.Duration
	Namespace       string
	RemoteOpTimeout time.Duration
	Breaker         BreakerSettings
}

// Cache is the two-tier read-through cache.
type Cache struct {
	local  *localTier
	remote *breakerRemote
	log    zerolog.Logger

	baseCapacity int
	ttlFactor    atomic.Uint64 // float64 bits
	prefetch     atomic.Bool
	latencyEWMA  atomic.Uint64 // float64 bits, milliseconds
}

// New creates a cache. The Redis client is shared with the broker; the
// cache never owns the connection.
func New(client *redis.Client, settings Settings, log zerolog.Logger) *Cache {
	c := &Cache{
		local:        newLocalTier(settings.LocalCapacity, settings.CleanupInterval),
		remote:       newBreakerRemote(newRemoteTier(client, settings.Namespace, settings.RemoteOpTimeout), settings.Breaker, log),
		log:          log,
		baseCapacity: settings.LocalCapacity,
	}
	c.ttlFactor.Store(math.Float64bits(1.0))
	return c
}

// GetOrCompute looks up key in local tier, then remote tier, then falls
// back to compute. A remote hit is promoted into the local tier; a computed
// value is written through to both tiers unless the remote breaker is open.
func (c *Cache) GetOrCompute(ctx context.Context, key string, baseTTL time.Duration, compute ComputeFn) ([]byte, error) {
	if val, ok := c.local.get(key); ok {
		c.maybePrefetch(key, baseTTL, compute)
		return val, nil
	}

	ttl := c.adjustedTTL(baseTTL)

	start := time.Now()
	val, found, err := c.remote.get(ctx, key)
	c.observeLatency(time.Since(start))
	if err != nil {
		// Absorbed: an open breaker or a slow store degrades to
		// local-only + compute, never to a caller-visible failure.
		c.log.Debug().Err(err).Str("key", key).Msg("remote tier skipped")
	} else if found {
		c.local.set(key, val, ttl)
		return val, nil
	}

	val, err = compute(ctx)
	if err != nil {
		return nil, err
	}

	c.local.set(key, val, ttl)
	if err := c.remote.set(ctx, key, val, ttl); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("remote write-through skipped")
	}
	return val, nil
}

// Put stores a value in both tiers.
func (c *Cache) Put(ctx context.Context, key string, value []byte, baseTTL time.Duration) {
	ttl := c.adjustedTTL(baseTTL)
	c.local.set(key, value, ttl)
	if err := c.remote.set(ctx, key, value, ttl); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("remote put skipped")
	}
}

// Invalidate removes a key from both tiers immediately. There is no
// wildcard variant: callers needing per-session invalidation track their
// derived keys explicitly.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.local.delete(key)
	if err := c.remote.delete(ctx, key); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("remote invalidate skipped")
	}
}

// maybePrefetch refreshes a nearly-expired entry in the background when the
// aggressive strategy enables speculative prefetching.
func (c *Cache) maybePrefetch(key string, baseTTL time.Duration, compute ComputeFn) {
	if !c.prefetch.Load() {
		return
	}
	remaining, ok := c.local.remainingTTL(key)
	if !ok || remaining > baseTTL/10 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		val, err := compute(ctx)
		if err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("prefetch compute failed")
			return
		}
		c.Put(ctx, key, val, baseTTL)
	}()
}

// applyStrategy retunes the cache for a mode. Emergency shrinks the local
// tier and shortens TTLs rather than clearing it; a full flush is the last
// resort when shrinking did not get the tier under its new capacity.
func (c *Cache) applyStrategy(mode Mode) {
	s := strategyFor(mode, c.baseCapacity)
	c.ttlFactor.Store(math.Float64bits(s.TTLFactor))
	c.prefetch.Store(s.Prefetch)
	c.local.resize(s.LocalCapacity)

	if mode == ModeEmergency && c.local.len() > s.LocalCapacity {
		c.log.Warn().Msg("gradual shrink failed, flushing local tier")
		c.local.flush()
	}
}

func (c *Cache) adjustedTTL(baseTTL time.Duration) time.Duration {
	factor := math.Float64frombits(c.ttlFactor.Load())
	return time.Duration(float64(baseTTL) * factor)
}

func (c *Cache) observeLatency(d time.Duration) {
	const alpha = 0.3
	ms := float64(d.Microseconds()) / 1000.0
	for {
		old := c.latencyEWMA.Load()
		prev := math.Float64frombits(old)
		next := prev*(1-alpha) + ms*alpha
		if c.latencyEWMA.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

func (c *Cache) remoteLatencyMs() float64 {
	return math.Float64frombits(c.latencyEWMA.Load())
}

// BreakerState exposes the remote-tier breaker state.
func (c *Cache) BreakerState() gobreaker.State {
	return c.remote.state()
}

// LocalLen returns the local tier entry count.
func (c *Cache) LocalLen() int {
	return c.local.len()
}

// Close stops the local tier janitor. The shared Redis client is closed by
// its owner.
func (c *Cache) Close() {
	c.local.close()
}
