// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the worker configuration.
type Config struct {
	Redis      RedisConfig      `yaml:"redis"`
	Correlator CorrelatorConfig `yaml:"correlator"`
	Session    SessionConfig    `yaml:"session"`
	Snapshots  SnapshotsConfig  `yaml:"snapshots"`
	Cache      CacheConfig      `yaml:"cache"`
	Spotify    SpotifyConfig    `yaml:"spotify"`
}

// RedisConfig represents the shared broker / remote cache connection.
// The client connects lazily; the worker pings once at startup.
type RedisConfig struct {
	Addr           string `yaml:"addr" default:"localhost:6379"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db" validate:"gte=0"`
	DialTimeoutMs  int    `yaml:"dial_timeout_ms" default:"5000" validate:"gte=100"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms" default:"3000" validate:"gte=100"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms" default:"3000" validate:"gte=100"`
	MaxRetries     int    `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
}

// CorrelatorConfig represents request/reply settings.
type CorrelatorConfig struct {
	ReplyTimeoutMs int `yaml:"reply_timeout_ms" default:"5000" validate:"gte=100,lte=60000"`
}

// ReplyTimeout returns the reply timeout as a duration.
func (c CorrelatorConfig) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutMs) * time.Millisecond
}

// SessionConfig represents per-session actor settings.
type SessionConfig struct {
	SnapshotEveryEvents int `yaml:"snapshot_every_events" default:"20" validate:"gte=1"`
	SnapshotEverySec    int `yaml:"snapshot_every_sec" default:"60" validate:"gte=1"`
	IdleTimeoutSec      int `yaml:"idle_timeout_sec" default:"600" validate:"gte=1"`
	InboxSize           int `yaml:"inbox_size" default:"64" validate:"gte=1"`
}

// SnapshotEvery returns the time-based snapshot interval.
func (c SessionConfig) SnapshotEvery() time.Duration {
	return time.Duration(c.SnapshotEverySec) * time.Second
}

// IdleTimeout returns the idle session teardown timeout.
func (c SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// SnapshotsConfig represents snapshot store settings.
type SnapshotsConfig struct {
	Dir      string `yaml:"dir" default:"data/snapshots"`
	InMemory bool   `yaml:"in_memory"`
}

// CacheConfig represents the adaptive cache tier.
type CacheConfig struct {
	Local      LocalCacheConfig  `yaml:"local"`
	Remote     RemoteCacheConfig `yaml:"remote"`
	Breaker    BreakerConfig     `yaml:"breaker"`
	Controller ControllerConfig  `yaml:"controller"`

	SearchTTLSec int `yaml:"search_ttl_sec" default:"600" validate:"gte=1"`
	QueryTTLSec  int `yaml:"query_ttl_sec" default:"3" validate:"gte=1"`
}

// SearchTTL returns the base TTL for search results.
func (c CacheConfig) SearchTTL() time.Duration {
	return time.Duration(c.SearchTTLSec) * time.Second
}

// QueryTTL returns the base TTL for now-playing/queue query results.
func (c CacheConfig) QueryTTL() time.Duration {
	return time.Duration(c.QueryTTLSec) * time.Second
}

// LocalCacheConfig represents the fast in-process tier.
type LocalCacheConfig struct {
	Capacity           int `yaml:"capacity" default:"1024" validate:"gte=16"`
	CleanupIntervalSec int `yaml:"cleanup_interval_sec" default:"60" validate:"gte=1"`
}

// RemoteCacheConfig represents the shared Redis tier.
type RemoteCacheConfig struct {
	Namespace   string `yaml:"namespace" default:"grooveline"`
	OpTimeoutMs int    `yaml:"op_timeout_ms" default:"2000" validate:"gte=100"`
}

// OpTimeout returns the per-operation timeout for the remote tier.
func (c RemoteCacheConfig) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutMs) * time.Millisecond
}

// BreakerConfig represents the remote-tier circuit breaker. The exact
// thresholds are deliberately tunables, not constants.
type BreakerConfig struct {
	FailureRatio float64 `yaml:"failure_ratio" default:"0.6" validate:"gt=0,lte=1"`
	MinSamples   int     `yaml:"min_samples" default:"10" validate:"gte=1"`
	WindowSec    int     `yaml:"window_sec" default:"60" validate:"gte=1"`
	CooldownSec  int     `yaml:"cooldown_sec" default:"30" validate:"gte=1"`
}

// Window returns the rolling measurement window.
func (c BreakerConfig) Window() time.Duration {
	return time.Duration(c.WindowSec) * time.Second
}

// Cooldown returns the open-state cooldown before the half-open trial.
func (c BreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSec) * time.Second
}

// ControllerConfig represents the adaptive strategy controller. Mode
// transitions are hysteretic: a mode switch needs BreachStreak consecutive
// evaluations AND MinDwellSec elapsed in the current mode.
type ControllerConfig struct {
	IntervalSec   int     `yaml:"interval_sec" default:"10" validate:"gte=1"`
	BreachStreak  int     `yaml:"breach_streak" default:"3" validate:"gte=1"`
	MinDwellSec   int     `yaml:"min_dwell_sec" default:"30" validate:"gte=0"`
	HighMemoryPct float64 `yaml:"high_memory_pct" default:"85" validate:"gt=0,lte=100"`
	LowHitRate    float64 `yaml:"low_hit_rate" default:"0.2" validate:"gte=0,lt=1"`
	HighLatencyMs int     `yaml:"high_latency_ms" default:"250" validate:"gte=1"`
	MemoryLimitMB int     `yaml:"memory_limit_mb" default:"512" validate:"gte=16"`
}

// Interval returns the evaluation interval.
func (c ControllerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// MinDwell returns the minimum time to stay in a mode before switching.
func (c ControllerConfig) MinDwell() time.Duration {
	return time.Duration(c.MinDwellSec) * time.Second
}

// SpotifyConfig represents the Spotify API client used for search lookups.
// All fields optional; search is disabled without credentials.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// Enabled reports whether Spotify credentials are configured.
func (c SpotifyConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}
