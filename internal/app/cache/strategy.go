package cache

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Mode names an operating strategy for the cache tier.
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeBalanced     Mode = "balanced"
	ModeAggressive   Mode = "aggressive"
	ModeEmergency    Mode = "emergency"
)

// Strategy holds the concrete knobs a mode maps to.
type Strategy struct {
	LocalCapacity int
	TTLFactor     float64
	Prefetch      bool
}

// strategyFor maps a mode onto concrete knobs relative to the configured
// base capacity.
func strategyFor(mode Mode, baseCapacity int) Strategy {
	switch mode {
	case ModeAggressive:
		return Strategy{LocalCapacity: baseCapacity * 2, TTLFactor: 2.0, Prefetch: true}
	case ModeConservative:
		return Strategy{LocalCapacity: max(16, baseCapacity/2), TTLFactor: 0.5, Prefetch: false}
	case ModeEmergency:
		return Strategy{LocalCapacity: max(16, baseCapacity/4), TTLFactor: 0.25, Prefetch: false}
	default:
		return Strategy{LocalCapacity: baseCapacity, TTLFactor: 1.0, Prefetch: false}
	}
}

// Signals are the load observations one evaluation cycle feeds the
// controller.
type Signals struct {
	MemoryPct float64 // heap in use as a percentage of the configured limit
	HitRate   float64 // local-tier hit rate since the previous cycle
	LatencyMs float64 // remote-tier latency EWMA
	Samples   int64   // local-tier lookups since the previous cycle
}

// ControllerSettings are the adaptive controller tunables.
type ControllerSettings struct {
	Interval      time.Duration
	BreachStreak  int           // consecutive cycles wanting the same new mode
	MinDwell      time.Duration // minimum time in a mode before leaving it
	HighMemoryPct float64
	LowHitRate    float64
	HighLatencyMs float64
	MemoryLimitMB int
}

// Controller observes load signals on a fixed interval and switches the
// cache between named strategies. Transitions are hysteretic: a switch
// needs BreachStreak consecutive cycles proposing the same mode and
// MinDwell elapsed in the current one, so a single noisy sample can never
// flip the mode back and forth.
type Controller struct {
	cfg   ControllerSettings
	cache *Cache
	log   zerolog.Logger

	mu         sync.Mutex
	mode       Mode
	modeSince  time.Time
	candidate  Mode
	streak     int
	lastHits   int64
	lastMisses int64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewController creates a controller in balanced mode. Call Start to begin
// evaluation; Stop cancels the background task.
func NewController(cfg ControllerSettings, cache *Cache, log zerolog.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		cache:     cache,
		log:       log,
		mode:      ModeBalanced,
		modeSince: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the evaluation loop until ctx is done or Stop is called.
func (c *Controller) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.Observe(c.collect())
			}
		}
	}()
}

// Stop cancels the evaluation loop and waits for it to exit.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

// Mode returns the current operating mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// collect gathers live signals from the runtime and the cache.
func (c *Controller) collect() Signals {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	limit := float64(c.cfg.MemoryLimitMB) * 1024 * 1024

	hits, misses := c.cache.local.counters()

	c.mu.Lock()
	dHits := hits - c.lastHits
	dMisses := misses - c.lastMisses
	c.lastHits = hits
	c.lastMisses = misses
	c.mu.Unlock()

	samples := dHits + dMisses
	hitRate := 1.0
	if samples > 0 {
		hitRate = float64(dHits) / float64(samples)
	}

	return Signals{
		MemoryPct: float64(ms.HeapInuse) / limit * 100,
		HitRate:   hitRate,
		LatencyMs: c.cache.remoteLatencyMs(),
		Samples:   samples,
	}
}

// Observe feeds one cycle of signals through the hysteresis logic and
// applies any resulting mode switch. Exposed so tests can drive the
// controller deterministically.
func (c *Controller) Observe(sig Signals) {
	c.mu.Lock()

	want := c.desired(sig)
	if want == c.mode {
		c.candidate = c.mode
		c.streak = 0
		c.mu.Unlock()
		return
	}

	if want != c.candidate {
		c.candidate = want
		c.streak = 1
	} else {
		c.streak++
	}

	if c.streak < c.cfg.BreachStreak || time.Since(c.modeSince) < c.cfg.MinDwell {
		c.mu.Unlock()
		return
	}

	from := c.mode
	c.mode = want
	c.modeSince = time.Now()
	c.streak = 0
	c.mu.Unlock()

	c.log.Info().
		Str("from", string(from)).
		Str("to", string(want)).
		Float64("memory_pct", sig.MemoryPct).
		Float64("hit_rate", sig.HitRate).
		Float64("latency_ms", sig.LatencyMs).
		Msg("cache strategy change")

	c.cache.applyStrategy(want)
}

// desired maps signals to the mode they call for.
func (c *Controller) desired(sig Signals) Mode {
	switch {
	case sig.MemoryPct >= c.cfg.HighMemoryPct:
		return ModeEmergency
	case sig.MemoryPct >= c.cfg.HighMemoryPct*0.8 || sig.LatencyMs >= c.cfg.HighLatencyMs:
		return ModeConservative
	case sig.Samples > 0 && sig.HitRate < c.cfg.LowHitRate:
		return ModeConservative
	case sig.HitRate >= 0.8 && sig.MemoryPct < c.cfg.HighMemoryPct*0.5 &&
		sig.LatencyMs < c.cfg.HighLatencyMs/2:
		return ModeAggressive
	default:
		return ModeBalanced
	}
}
