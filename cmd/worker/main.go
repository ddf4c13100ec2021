// Package main provides the worker entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hiraoku/grooveline/internal/app/cache"
	"github.com/hiraoku/grooveline/internal/app/dispatcher"
	"github.com/hiraoku/grooveline/internal/app/search"
	"github.com/hiraoku/grooveline/internal/app/session"
	"github.com/hiraoku/grooveline/internal/infra/broker"
	"github.com/hiraoku/grooveline/internal/infra/config"
	"github.com/hiraoku/grooveline/internal/infra/logger"
	"github.com/hiraoku/grooveline/internal/infra/spotify"
	"github.com/hiraoku/grooveline/internal/infra/store"
)

var (
	app        = kingpin.New("grooveline-worker", "grooveline playback coordination worker")
	configPath = app.Flag("config", "Path to config file").Default("config/worker.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Run worker (a separate function ensures defers run on error returns)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Worker error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := broker.New(broker.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  time.Duration(cfg.Redis.DialTimeoutMs) * time.Millisecond,
		ReadTimeout:  time.Duration(cfg.Redis.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Redis.WriteTimeoutMs) * time.Millisecond,
		MaxRetries:   cfg.Redis.MaxRetries,
	}, zlog.Logger)
	defer func() { _ = b.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := b.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
	}

	st, err := store.Open(cfg.Snapshots.Dir, cfg.Snapshots.InMemory, zlog.Logger)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	defer func() { _ = st.Close() }()

	c := cache.New(b.Client(), cache.Settings{
		LocalCapacity:   cfg.Cache.Local.Capacity,
		CleanupInterval: time.Duration(cfg.Cache.Local.CleanupIntervalSec) * time.Second,
		Namespace:       cfg.Cache.Remote.Namespace,
		RemoteOpTimeout: cfg.Cache.Remote.OpTimeout(),
		Breaker: cache.BreakerSettings{
			FailureRatio: cfg.Cache.Breaker.FailureRatio,
			MinSamples:   cfg.Cache.Breaker.MinSamples,
			Window:       cfg.Cache.Breaker.Window(),
			Cooldown:     cfg.Cache.Breaker.Cooldown(),
		},
	}, zlog.Logger)
	defer c.Close()

	ctrl := cache.NewController(cache.ControllerSettings{
		Interval:      cfg.Cache.Controller.Interval(),
		BreachStreak:  cfg.Cache.Controller.BreachStreak,
		MinDwell:      cfg.Cache.Controller.MinDwell(),
		HighMemoryPct: cfg.Cache.Controller.HighMemoryPct,
		LowHitRate:    cfg.Cache.Controller.LowHitRate,
		HighLatencyMs: float64(cfg.Cache.Controller.HighLatencyMs),
		MemoryLimitMB: cfg.Cache.Controller.MemoryLimitMB,
	}, c, zlog.Logger)

	mgr := session.NewManager(st, session.Config{
		SnapshotEveryEvents: cfg.Session.SnapshotEveryEvents,
		SnapshotEvery:       cfg.Session.SnapshotEvery(),
		IdleTimeout:         cfg.Session.IdleTimeout(),
		InboxSize:           cfg.Session.InboxSize,
	}, zlog.Logger)

	var searchSvc *search.Service
	if cfg.Spotify.Enabled() {
		sp, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return fmt.Errorf("failed to create Spotify client: %w", err)
		}
		searchSvc = search.New(sp, c, cfg.Cache.SearchTTL(), zlog.Logger)
	} else {
		zlog.Info().Msg("Spotify credentials not configured, search is disabled")
	}

	disp := dispatcher.New(b, mgr, c, searchSvc, cfg.Cache.QueryTTL(), zlog.Logger)

	ctrl.Start(ctx)
	defer ctrl.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return disp.Run(gctx)
	})

	zlog.Info().Msg("Worker started")
	err = g.Wait()

	// Persist every live session before exiting.
	mgr.Shutdown()
	zlog.Info().Msg("Worker stopped")

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
