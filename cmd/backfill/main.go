// Package main runs the bucket backfill: it writes an explicit module and
// week onto ledger rows recorded without one. Dry run by default.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/questpoints/config"
	"github.com/alem-hub/questpoints/internal/application/command"
	"github.com/alem-hub/questpoints/internal/application/eventhandler"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/internal/infrastructure/messaging"
	"github.com/alem-hub/questpoints/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/questpoints/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/questpoints/pkg/logger"
)

func main() {
	var (
		subject         = flag.String("subject", "", "subject whose modules classify the rows (required)")
		dryRun          = flag.Bool("dry-run", true, "classify one batch without writing")
		includeFallback = flag.Bool("include-fallback", false, "also write rows that only resolve to the first module")
		batch           = flag.Int("batch", 500, "rows fetched per batch")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, command.BackfillBucketsCommand{
		SubjectID:       shared.SubjectID(*subject),
		BatchSize:       *batch,
		DryRun:          *dryRun,
		IncludeFallback: *includeFallback,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd command.BackfillBucketsCommand) error {
	if !cmd.SubjectID.IsValid() {
		return fmt.Errorf("-subject is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver != config.StoragePostgres {
		return fmt.Errorf("backfill needs STORAGE_DRIVER=postgres, got %s", cfg.Database.Driver)
	}

	log := logger.New(logger.Options{
		Output:  os.Stdout,
		Level:   logger.ParseLevel(cfg.Observability.LogLevel),
		Service: cfg.App.Name + "-backfill",
		Pretty:  cfg.Observability.LogPretty,
	})

	pool := postgres.DefaultConfig()
	pool.URL = cfg.Database.URL
	pool.MaxConns = 2
	pool.MinConns = 1
	conn, err := postgres.NewConnection(ctx, pool)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: log})
	defer bus.Close()
	if !cmd.DryRun && !cfg.Redis.Disabled {
		cache, err := redis.NewCache(redis.Config{
			URL:         cfg.Redis.URL,
			Host:        cfg.Redis.Host,
			Port:        cfg.Redis.Port,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    2,
			MaxRetries:  redis.DefaultConfig().MaxRetries,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			log.Warn("Redis unreachable, cached summaries expire on their TTL", logger.Err(err))
		} else {
			defer cache.Close()
			invalidate := eventhandler.NewOnPointsChangedHandler(redis.NewSummaryCache(cache, cfg.Redis.SummaryTTL), log)
			if err := invalidate.Register(bus); err != nil {
				return fmt.Errorf("failed to register event handlers: %w", err)
			}
		}
	}

	handler := command.NewBackfillBucketsHandler(
		postgres.NewLedgerRepository(conn),
		postgres.NewCourseRepository(conn),
		bus,
		log,
	)

	log.Info("backfill started",
		logger.String("subject", cmd.SubjectID.String()),
		logger.Bool("dry_run", cmd.DryRun),
		logger.Bool("include_fallback", cmd.IncludeFallback),
		logger.Int("batch", cmd.BatchSize),
	)

	res, err := handler.Handle(ctx, cmd)
	if res != nil {
		log.Info("backfill finished",
			logger.Int("classified", len(res.Changes)),
			logger.Int("applied", res.Applied),
			logger.Int("skipped", res.Skipped),
		)
	}
	return err
}
