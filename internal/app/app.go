// Package app provides the main application bootstrap and runtime orchestration.
//
// The App type wires together all dependencies and exposes methods to run
// different operational modes:
//
//   - Serve mode: HTTP API plus periodic collection and rebuilds
//   - Collect mode: feed collection only
//   - Rebuild mode: partition rebuilds only
//
// Every mode serves the probe and metrics endpoints. Without a database the
// engine runs in memory and loses its state on exit.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/japanese-wolf/brain-stream/internal/api"
	"github.com/japanese-wolf/brain-stream/internal/core/embeddings"
	"github.com/japanese-wolf/brain-stream/internal/core/errors"
	"github.com/japanese-wolf/brain-stream/internal/engine"
	"github.com/japanese-wolf/brain-stream/internal/ingest/collector"
	"github.com/japanese-wolf/brain-stream/internal/platform/config"
	"github.com/japanese-wolf/brain-stream/internal/platform/observability"
	"github.com/japanese-wolf/brain-stream/internal/platform/worker"
	db "github.com/japanese-wolf/brain-stream/internal/storage"
)

const (
	collectTimeout = 15 * time.Minute
	rebuildTimeout = 30 * time.Minute

	taskCollect = "collect"
	taskRebuild = "rebuild"
)

// App holds the application dependencies and provides methods to run different modes.
type App struct {
	cfg       *config.Config
	database  *db.DB
	embedder  *embeddings.Client
	engine    *engine.Engine
	collector *collector.Collector
	logger    *zerolog.Logger
}

// New builds the engine and restores persisted state. database may be nil.
func New(ctx context.Context, cfg *config.Config, database *db.DB, logger *zerolog.Logger) (*App, error) {
	embedder := embeddings.NewClient(ctx, cfg.EmbeddingClientConfig(), logger)

	// A typed nil would defeat the engine's in-memory check.
	var store engine.Store
	if database != nil {
		store = database
	}

	eng := engine.New(cfg.EngineOptions(), embedder, store, logger)

	if err := eng.Restore(ctx); err != nil {
		_ = embedder.Close()

		return nil, fmt.Errorf("restore engine state: %w", err)
	}

	stats := eng.Stats()
	logger.Info().
		Int("articles", stats.Articles).
		Int("clusters", stats.Clusters).
		Uint64("version", stats.Version).
		Bool("persistent", database != nil).
		Msg("engine ready")

	a := &App{
		cfg:      cfg,
		database: database,
		embedder: embedder,
		engine:   eng,
		logger:   logger,
	}
	a.collector = a.newCollector()

	return a, nil
}

// Close releases provider clients.
func (a *App) Close() error {
	return a.embedder.Close()
}

// StartServer serves the API, probes and metrics until ctx is canceled.
func (a *App) StartServer(ctx context.Context) error {
	handler := api.NewHandler(&service{Engine: a.engine, app: a}, a.cfg.CORSOrigin, a.logger, api.WithSources(a.collector))

	var pinger observability.Pinger
	if a.database != nil {
		pinger = a.database
	}

	srv := observability.NewServer(pinger, a.cfg.HTTPPort, handler, a.logger)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("http server start: %w", err)
	}

	return nil
}

// RunServe collects and rebuilds on their intervals while the server runs.
func (a *App) RunServe(ctx context.Context) error {
	a.logger.Info().Msg("Starting serve mode")

	return worker.Loop(ctx, worker.Config{
		Name:       "serve",
		Tasks:      []worker.Task{a.collectTask(), a.rebuildTask()},
		RunOnStart: true,
		Logger:     a.logger,
	})
}

// RunCollect runs feed collection, once or on the collect interval.
func (a *App) RunCollect(ctx context.Context, once bool) error {
	a.logger.Info().Bool("once", once).Msg("Starting collect mode")

	return a.runTask(ctx, a.collectTask(), once)
}

// RunRebuild rebuilds the partition, once or on the rebuild interval.
func (a *App) RunRebuild(ctx context.Context, once bool) error {
	a.logger.Info().Bool("once", once).Msg("Starting rebuild mode")

	return a.runTask(ctx, a.rebuildTask(), once)
}

func (a *App) runTask(ctx context.Context, task worker.Task, once bool) error {
	if once {
		if !worker.RunOnce(ctx, task, a.logger) {
			return fmt.Errorf("%s failed", task.Name)
		}

		return nil
	}

	return worker.Loop(ctx, worker.Config{
		Name:       task.Name,
		Tasks:      []worker.Task{task},
		RunOnStart: true,
		Logger:     a.logger,
	})
}

func (a *App) collectTask() worker.Task {
	c := a.collector

	return worker.Task{
		Name:     taskCollect,
		Interval: a.cfg.Collector.Interval,
		Timeout:  collectTimeout,
		Run: func(ctx context.Context) error {
			sum := c.Collect(ctx)

			a.logger.Info().
				Int("fetched", sum.Fetched).
				Int("ingested", sum.Ingested).
				Int("duplicates", sum.Duplicates).
				Int("existing", sum.Existing).
				Int("skipped", sum.Skipped).
				Strs("failed_sources", sum.Failed).
				Msg("collection finished")

			if len(sum.Failed) > 0 && len(sum.Failed) == len(c.Sources()) {
				return fmt.Errorf("all %d sources failed", len(sum.Failed))
			}

			return ctx.Err()
		},
	}
}

func (a *App) rebuildTask() worker.Task {
	return worker.Task{
		Name:     taskRebuild,
		Interval: a.cfg.Collector.RebuildInterval,
		Timeout:  rebuildTimeout,
		Run: func(ctx context.Context) error {
			res, err := a.rebuild(ctx)
			if errors.Is(err, errors.ErrRebuildInProgress) {
				a.logger.Info().Msg("rebuild skipped, another rebuild is running")

				return nil
			}

			if err != nil {
				return err
			}

			a.logger.Info().
				Uint64("version", res.Version).
				Int("clusters", res.Clusters).
				Int("noise", res.Noise).
				Dur("duration", res.Duration).
				Msg("rebuild finished")

			return nil
		},
	}
}

// rebuild serializes rebuilds across instances sharing one database.
func (a *App) rebuild(ctx context.Context) (engine.RebuildResult, error) {
	if a.database == nil {
		return a.engine.Rebuild(ctx)
	}

	var res engine.RebuildResult

	acquired, err := a.database.WithAdvisoryLock(ctx, db.RebuildLockID, func(ctx context.Context) error {
		var rebuildErr error

		res, rebuildErr = a.engine.Rebuild(ctx)

		return rebuildErr
	})
	if err != nil {
		return res, err
	}

	if !acquired {
		return res, fmt.Errorf("rebuild lock held: %w", errors.ErrRebuildInProgress)
	}

	return res, nil
}

func (a *App) newCollector() *collector.Collector {
	cc := a.cfg.Collector

	feeds := append(collector.DefaultFeeds(), collector.GitHubReleaseFeeds(cc.GitHubRepos)...)
	feeds = collector.FilterFeeds(feeds, cc.DisabledSources)

	client := &http.Client{Timeout: cc.FetchTimeout}
	limiter := rate.NewLimiter(rate.Limit(cc.FetchRPS), 1)

	sources := make([]collector.Source, 0, len(feeds))

	for _, f := range feeds {
		sources = append(sources, collector.NewRSSSource(collector.RSSConfig{
			Name:          f.Name,
			Vendor:        f.Vendor,
			URL:           f.URL,
			Client:        client,
			Limiter:       limiter,
			UserAgent:     cc.UserAgent,
			MaxItems:      cc.MaxItems,
			MinTextLength: cc.MinTextLength,
			Readability:   cc.ReadabilityOn,
		}, a.logger))
	}

	a.logger.Info().Int("sources", len(sources)).Msg("collector configured")

	return collector.New(sources, a.engine, a.logger)
}

// service routes API rebuilds through the cross-instance lock.
type service struct {
	*engine.Engine
	app *App
}

func (s *service) Rebuild(ctx context.Context) (engine.RebuildResult, error) {
	return s.app.rebuild(ctx)
}
