// Package app wires the chatstats components together and manages their
// lifecycle: explicit init-then-use-then-close, no ambient globals.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/chatstats/internal/batch"
	"github.com/edgard/chatstats/internal/config"
	"github.com/edgard/chatstats/internal/database"
	"github.com/edgard/chatstats/internal/ingest"
	"github.com/edgard/chatstats/internal/logger"
	"github.com/edgard/chatstats/internal/policy"
	"github.com/edgard/chatstats/internal/query"
	"github.com/edgard/chatstats/internal/segment"
)

// maintenanceTimeout bounds one scheduled maintenance run.
const maintenanceTimeout = 5 * time.Minute

// App holds all constructed components. The ingestor and query engine are
// the two surfaces a host embeds.
type App struct {
	cfg    *config.Config
	log    *slog.Logger
	db     *sqlx.DB
	store  database.Store
	pol    *policy.Store
	seg    *segment.Segmenter
	batch  *batch.Batcher
	ingest *ingest.Preprocessor
	query  *query.Engine
	sched  gocron.Scheduler
}

// New constructs every component. A storage or schema failure aborts
// startup entirely; there is no degraded mode.
func New(cfg *config.Config, v *viper.Viper, log *slog.Logger) (*App, error) {
	db, err := database.NewDB(cfg.Database.Path, database.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store := database.NewStore(db, log)

	var saver policy.Saver
	if v != nil {
		saver = func(groups config.GroupLists) error {
			return config.SaveGroups(v, groups)
		}
	}
	pol := policy.NewStore(cfg.Recording, cfg.Tokenizer, saver, log)

	seg, err := segment.New(cfg.Ingest.SegmentWorkers, log)
	if err != nil {
		database.CloseDB(db)
		return nil, fmt.Errorf("failed to initialize segmenter: %w", err)
	}

	batcher := batch.New(store, batch.Config{
		Size:            cfg.Batch.Size,
		FlushInterval:   cfg.Batch.FlushInterval,
		QueueSize:       cfg.Batch.QueueSize,
		MaxFlushRetries: cfg.Batch.MaxFlushRetries,
	}, log)

	pre := ingest.New(pol, seg, batcher, store, cfg.Ingest, log)

	engine := query.NewEngine(db, query.Config{
		Timeout:       cfg.Query.Timeout,
		MaxLimit:      cfg.Query.MaxLimit,
		MaxDays:       cfg.Query.MaxDays,
		StatsCacheTTL: cfg.Query.StatsCacheTTL,
		MaxRankScan:   cfg.Query.MaxRankScan,
	}, log)

	sched, err := gocron.NewScheduler(gocron.WithLogger(logger.NewGocronLogger(log)))
	if err != nil {
		database.CloseDB(db)
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &App{
		cfg:    cfg,
		log:    log.With("component", "app"),
		db:     db,
		store:  store,
		pol:    pol,
		seg:    seg,
		batch:  batcher,
		ingest: pre,
		query:  engine,
		sched:  sched,
	}, nil
}

// Ingest returns the ingestion entry point for the host's event feed.
func (a *App) Ingest() *ingest.Preprocessor { return a.ingest }

// Query returns the analytics query engine.
func (a *App) Query() *query.Engine { return a.query }

// Policy returns the recording policy store.
func (a *App) Policy() *policy.Store { return a.pol }

// Store returns the write-side data access layer.
func (a *App) Store() database.Store { return a.store }

// Run starts the batcher and the scheduler, then blocks until ctx is
// cancelled and both have shut down. The database is closed on return.
func (a *App) Run(ctx context.Context) error {
	defer database.CloseDB(a.db)

	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	if err := a.registerJobs(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.batch.Run(gctx)
	})

	g.Go(func() error {
		a.sched.Start()
		<-gctx.Done()

		if err := a.sched.Shutdown(); err != nil {
			a.log.Error("Error shutting down scheduler", "error", err)
		}
		return nil
	})

	a.log.Info("chatstats running")
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("Shutdown with error", "error", err)
		return err
	}
	a.log.Info("chatstats stopped")
	return nil
}

// registerJobs schedules the enabled background jobs.
func (a *App) registerJobs() error {
	mt := a.cfg.Scheduler.Maintenance
	if !mt.Enabled {
		a.log.Info("Maintenance job disabled")
		return nil
	}

	log := a.log.With("task", "maintenance")
	_, err := a.sched.NewJob(
		gocron.CronJob(mt.Schedule, true),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
			defer cancel()

			start := time.Now()
			if err := a.store.RunMaintenance(ctx); err != nil {
				log.Error("Maintenance task failed", "error", err, "duration", time.Since(start))
				return
			}
			log.Info("Maintenance task completed", "duration", time.Since(start))
		}),
		gocron.WithName("maintenance"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule maintenance job: %w", err)
	}
	return nil
}
