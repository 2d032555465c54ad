package main

import (
	"context"
	"time"

	"github.com/tokenlens/tokenlens/internal/analyzer"
	"github.com/tokenlens/tokenlens/internal/api"
	"github.com/tokenlens/tokenlens/internal/config"
	"github.com/tokenlens/tokenlens/internal/cssstore"
	"github.com/tokenlens/tokenlens/internal/enrich"
	"github.com/tokenlens/tokenlens/internal/fetcher"
	"github.com/tokenlens/tokenlens/internal/layout"
	"github.com/tokenlens/tokenlens/internal/monitoring"
	"github.com/tokenlens/tokenlens/internal/orchestrator"
	"github.com/tokenlens/tokenlens/internal/stats"
	"github.com/tokenlens/tokenlens/internal/storage"
	"github.com/tokenlens/tokenlens/internal/store"
	"github.com/tokenlens/tokenlens/internal/version"
)

// app wires every component of the service together.
type app struct {
	cfg     *config.Config
	db      *storage.DB
	css     *cssstore.Store
	robots  *store.MemoryStore
	cache   *store.MemoryStore
	metrics *monitoring.MetricsCollector
	tracker *monitoring.Tracker
	orch    *orchestrator.Orchestrator
	stats   *stats.Service
	api     *api.Server
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	css, err := cssstore.New(db, cfg.CSSStore)
	if err != nil {
		db.Close()
		return nil, err
	}

	metrics := monitoring.NewMetricsCollector()
	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{
		Enabled:     cfg.Monitoring.TelemetryEnabled,
		LogPath:     cfg.Monitoring.TelemetryPath,
		LogToStdout: cfg.Monitoring.LogToStdout,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	enricher, err := enrich.New(cfg.Enrich, metrics)
	if err != nil {
		db.Close()
		return nil, err
	}

	robots := store.NewMemoryStore(cfg.Fetch.RobotsCacheTTL)
	cache := store.NewMemoryStore(time.Minute)
	statsSvc := stats.New(db, cache)

	orch := orchestrator.New(cfg.Scan, cfg.Fetch, orchestrator.Deps{
		DB:       db,
		CSS:      css,
		Fetcher:  fetcher.New(cfg.Fetch, robots, metrics),
		Analyzer: analyzer.New(cfg.Analyzer),
		Layout:   layout.New(),
		Versions: version.NewEngine(db),
		Enricher: enricher,
		Metrics:  metrics,
		Tracker:  tracker,
		Listener: statsSvc,
	})

	server := api.NewServer(api.Dependencies{
		DB:           db,
		Orchestrator: orch,
		Stats:        statsSvc,
		Metrics:      metrics,
		RateLimit:    cfg.RateLimit,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	return &app{
		cfg:     cfg,
		db:      db,
		css:     css,
		robots:  robots,
		cache:   cache,
		metrics: metrics,
		tracker: tracker,
		orch:    orch,
		stats:   statsSvc,
		api:     server,
	}, nil
}

func (a *app) start() {
	a.orch.Start()
	a.stats.Start()
}

func (a *app) close() {
	a.orch.Stop()
	a.stats.Stop()
	_ = a.tracker.Close()
	_ = a.robots.Close()
	_ = a.cache.Close()
	_ = a.db.Close()
}
