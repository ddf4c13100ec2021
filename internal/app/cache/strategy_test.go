package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testController(t *testing.T, cfg ControllerSettings) *Controller {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(client, testSettings(), zerolog.Nop())
	t.Cleanup(func() {
		c.Close()
		_ = client.Close()
	})
	return NewController(cfg, c, zerolog.Nop())
}

func defaultControllerSettings() ControllerSettings {
	return ControllerSettings{
		Interval:      time.Second,
		BreachStreak:  3,
		MinDwell:      0,
		HighMemoryPct: 85,
		LowHitRate:    0.2,
		HighLatencyMs: 250,
		MemoryLimitMB: 512,
	}
}

func healthy() Signals {
	return Signals{MemoryPct: 30, HitRate: 0.5, LatencyMs: 10, Samples: 100}
}

func memoryPressure() Signals {
	return Signals{MemoryPct: 95, HitRate: 0.5, LatencyMs: 10, Samples: 100}
}

func TestController_SingleBreachDoesNotSwitch(t *testing.T) {
	c := testController(t, defaultControllerSettings())

	c.Observe(memoryPressure())
	assert.Equal(t, ModeBalanced, c.Mode())

	// A healthy cycle resets the streak.
	c.Observe(healthy())
	c.Observe(memoryPressure())
	c.Observe(memoryPressure())
	assert.Equal(t, ModeBalanced, c.Mode())
}

func TestController_SustainedBreachSwitches(t *testing.T) {
	c := testController(t, defaultControllerSettings())

	for i := 0; i < 3; i++ {
		c.Observe(memoryPressure())
	}
	assert.Equal(t, ModeEmergency, c.Mode())
}

func TestController_MinDwellBlocksEarlySwitch(t *testing.T) {
	cfg := defaultControllerSettings()
	cfg.MinDwell = time.Hour
	c := testController(t, cfg)

	for i := 0; i < 10; i++ {
		c.Observe(memoryPressure())
	}
	assert.Equal(t, ModeBalanced, c.Mode(), "mode must not change before the dwell time")
}

func TestController_FlappingCandidatesResetStreak(t *testing.T) {
	c := testController(t, defaultControllerSettings())

	// Two cycles toward emergency, then two toward conservative: neither
	// reaches the required streak.
	c.Observe(memoryPressure())
	c.Observe(memoryPressure())
	c.Observe(Signals{MemoryPct: 30, HitRate: 0.05, LatencyMs: 10, Samples: 100})
	c.Observe(Signals{MemoryPct: 30, HitRate: 0.05, LatencyMs: 10, Samples: 100})
	assert.Equal(t, ModeBalanced, c.Mode())
}

func TestController_RecoversTowardBalanced(t *testing.T) {
	c := testController(t, defaultControllerSettings())

	for i := 0; i < 3; i++ {
		c.Observe(memoryPressure())
	}
	require.Equal(t, ModeEmergency, c.Mode())

	for i := 0; i < 3; i++ {
		c.Observe(healthy())
	}
	assert.Equal(t, ModeBalanced, c.Mode())
}

func TestController_DesiredModeMapping(t *testing.T) {
	c := testController(t, defaultControllerSettings())

	tests := []struct {
		name string
		sig  Signals
		want Mode
	}{
		{"memory above limit", Signals{MemoryPct: 90, HitRate: 0.5, Samples: 10}, ModeEmergency},
		{"memory near limit", Signals{MemoryPct: 70, HitRate: 0.5, Samples: 10}, ModeConservative},
		{"remote latency high", Signals{MemoryPct: 10, HitRate: 0.5, LatencyMs: 300, Samples: 10}, ModeConservative},
		{"hit rate collapsed", Signals{MemoryPct: 10, HitRate: 0.1, Samples: 10}, ModeConservative},
		{"no traffic is not a collapse", Signals{MemoryPct: 10, HitRate: 0, Samples: 0}, ModeBalanced},
		{"hot and healthy", Signals{MemoryPct: 10, HitRate: 0.9, LatencyMs: 5, Samples: 10}, ModeAggressive},
		{"ordinary load", Signals{MemoryPct: 30, HitRate: 0.5, LatencyMs: 50, Samples: 10}, ModeBalanced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.desired(tt.sig))
		})
	}
}

func TestStrategyFor(t *testing.T) {
	base := 100

	s := strategyFor(ModeAggressive, base)
	assert.Equal(t, 200, s.LocalCapacity)
	assert.True(t, s.Prefetch)

	s = strategyFor(ModeConservative, base)
	assert.Equal(t, 50, s.LocalCapacity)
	assert.False(t, s.Prefetch)

	s = strategyFor(ModeEmergency, base)
	assert.Equal(t, 25, s.LocalCapacity)
	assert.Equal(t, 0.25, s.TTLFactor)

	s = strategyFor(ModeBalanced, base)
	assert.Equal(t, base, s.LocalCapacity)
	assert.Equal(t, 1.0, s.TTLFactor)

	// The floor keeps tiny configured capacities usable.
	s = strategyFor(ModeEmergency, 8)
	assert.Equal(t, 16, s.LocalCapacity)
}
