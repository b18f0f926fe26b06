// Package main is the entry point of the questpoints API: the course points
// ledger, the question lifecycle and the points summary over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/questpoints/config"
	"github.com/alem-hub/questpoints/internal/application/command"
	"github.com/alem-hub/questpoints/internal/application/eventhandler"
	"github.com/alem-hub/questpoints/internal/application/query"
	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/question"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/internal/domain/student"
	"github.com/alem-hub/questpoints/internal/infrastructure/messaging"
	"github.com/alem-hub/questpoints/internal/infrastructure/metrics"
	"github.com/alem-hub/questpoints/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/questpoints/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/questpoints/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/questpoints/internal/infrastructure/scheduler"
	"github.com/alem-hub/questpoints/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/questpoints/internal/infrastructure/seed"
	httpserver "github.com/alem-hub/questpoints/internal/interface/http"
	"github.com/alem-hub/questpoints/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Service:   cfg.App.Name,
		AddCaller: cfg.App.Debug,
		Pretty:    cfg.Observability.LogPretty,
	})
	log.Info("starting questpoints API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("storage", string(cfg.Database.Driver)),
		logger.Any("features", cfg.Features.Snapshot()),
	)

	m := metrics.New()
	health := httpserver.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStorage(ctx, cfg, log, health)
	if err != nil {
		return err
	}
	defer store.close()

	if cfg.Database.SeedFile != "" {
		data, err := seed.LoadFile(cfg.Database.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to load seed: %w", err)
		}
		if err := seed.Apply(ctx, data, store.moduleSink, store.profileSink); err != nil {
			return fmt.Errorf("failed to apply seed: %w", err)
		}
		log.Info("seed applied",
			logger.Int("modules", len(data.Modules)),
			logger.Int("users", len(data.Profiles)),
		)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS SUMMARY CACHE (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var summaryCache *redis.SummaryCache
	if !cfg.Redis.Disabled && cfg.Features.SummaryCache() {
		cache, err := redis.NewCache(redis.Config{
			URL:          cfg.Redis.URL,
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   redis.DefaultConfig().MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			log.Warn("failed to connect to Redis, summary caching disabled", logger.Err(err))
		} else {
			defer cache.Close()
			summaryCache = redis.NewSummaryCache(cache, cfg.Redis.SummaryTTL)
			health.AddOptionalCheck("redis", httpserver.PingCheck(cache))
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	busConfig.Recorder = m
	bus := messaging.NewInMemoryEventBus(busConfig)
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	if summaryCache != nil {
		if err := eventhandler.NewOnPointsChangedHandler(summaryCache, log).Register(bus); err != nil {
			return fmt.Errorf("failed to register event handlers: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	deps := buildDependencies(cfg, store, bus, summaryCache, m, log)
	deps.HealthChecker = health

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SCHEDULED JOBS
	// ─────────────────────────────────────────────────────────────────────────
	sched, err := buildScheduler(cfg, store, bus, m, log)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() { _ = sched.Stop() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverConfig := httpserver.DefaultConfig()
	serverConfig.Host = cfg.HTTP.Host
	serverConfig.Port = cfg.HTTP.Port
	serverConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	serverConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	serverConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	serverConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins
	serverConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	serverConfig.EnableMetrics = cfg.Observability.MetricsEnabled
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer

	server := httpserver.NewServer(serverConfig, deps)
	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err, ok := <-errCh:
		if ok && err != nil {
			log.Error("HTTP server failed", logger.Err(err))
			return err
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		return err
	}

	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

// storage bundles the repositories of one backend.
type storage struct {
	ledger      ledger.Repository
	questions   question.Repository
	assignments question.AssignmentRepository
	courses     course.Directory
	students    student.Directory

	moduleSink  seed.ModuleSink
	profileSink seed.ProfileSink

	// pool is nil in memory mode.
	pool *postgres.Connection

	close func()
}

func openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger, health *httpserver.CompositeHealthChecker) (*storage, error) {
	if cfg.Database.Driver == config.StorageMemory {
		log.Warn("using in-memory storage; data is lost on restart")
		courses := memory.NewCourseDirectory()
		students := memory.NewStudentDirectory()
		return &storage{
			ledger:      memory.NewLedgerStore(),
			questions:   memory.NewQuestionStore(),
			assignments: memory.NewAssignmentStore(),
			courses:     courses,
			students:    students,
			moduleSink:  courses,
			profileSink: students,
			close:       func() {},
		}, nil
	}

	log.Info("connecting to database")
	conn, err := postgres.NewConnection(ctx, postgres.Config{
		URL:               cfg.Database.URL,
		MaxConns:          int32(cfg.Database.MaxConns),
		MinConns:          int32(cfg.Database.MinConns),
		MaxConnLifetime:   cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime:   cfg.Database.ConnMaxIdleTime,
		HealthCheckPeriod: postgres.DefaultConfig().HealthCheckPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	if cfg.Database.RunMigrations {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("migrations completed")
	}

	health.AddCheck("postgres", httpserver.PingCheck(conn))

	courses := postgres.NewCourseRepository(conn)
	students := postgres.NewStudentRepository(conn)
	return &storage{
		ledger:      postgres.NewLedgerRepository(conn),
		questions:   postgres.NewQuestionRepository(conn),
		assignments: postgres.NewAssignmentRepository(conn),
		courses:     courses,
		students:    students,
		moduleSink:  courses,
		profileSink: students,
		pool:        conn,
		close: func() {
			log.Info("closing database connection")
			conn.Close()
		},
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION WIRING
// ══════════════════════════════════════════════════════════════════════════════

func buildDependencies(
	cfg *config.Config,
	store *storage,
	bus *messaging.InMemoryEventBus,
	summaryCache *redis.SummaryCache,
	m *metrics.Metrics,
	log *logger.Logger,
) httpserver.Dependencies {
	features := cfg.Features

	awarder := command.NewAwarder(store.ledger, bus, command.AwarderConfig{
		Policy: command.PointsPolicy{
			CreationCap:    cfg.Points.CreationCap,
			ValidationCap:  cfg.Points.ValidationCap,
			ReparationCap:  cfg.Points.ReparationCap,
			AssignmentSize: cfg.Points.AssignmentSize,
		},
		Recorder: m,
		Logger:   log,
	})

	lifecycle := command.LifecycleConfig{
		EnforcePhases: features.EnforcePhaseWindows(),
		Logger:        log,
	}

	summaryConfig := query.SummaryConfig{
		LegacyWeekParsing: features.LegacyWeekParsing(),
		Logger:            log,
	}
	if summaryCache != nil {
		summaryConfig.Cache = summaryCache
	}
	summary := query.NewGetPointsSummaryHandler(store.ledger, store.students, store.courses, summaryConfig)

	var export *query.ExportSummaryHandler
	if features.SummaryExport() {
		export = query.NewExportSummaryHandler(summary)
	}

	return httpserver.Dependencies{
		CreateQuestion:      command.NewCreateQuestionHandler(store.questions, store.courses, awarder, bus, lifecycle),
		EditQuestion:        command.NewEditQuestionHandler(store.questions, store.courses, bus, lifecycle),
		ValidateQuestion:    command.NewValidateQuestionHandler(store.questions, store.courses, awarder, bus, lifecycle),
		RespondToValidation: command.NewRespondToValidationHandler(store.questions, store.courses, awarder, bus, lifecycle),
		TeacherValidate:     command.NewTeacherValidateQuestionHandler(store.questions, bus, lifecycle),
		GetAssignments: command.NewGetQuestionAssignmentsHandler(store.questions, store.assignments, store.courses, awarder, bus, command.AssignmentConfig{
			EnforcePhases:   features.EnforcePhaseWindows(),
			AutomaticPoints: features.AutomaticPoints(),
			AutomaticPointsFor: func(id shared.StudentID) bool {
				return features.AutomaticPointsFor(id.String())
			},
			Logger: log,
		}),

		AwardCustomPoints: command.NewAwardCustomPointsHandler(awarder),
		UpdatePoint:       command.NewUpdatePointHandler(store.ledger, bus, m, log),
		ReconcilePoints: command.NewReconcilePointsHandler(store.ledger, store.courses, bus, command.ReconcileConfig{
			MaxAttempts:       cfg.Points.ReconcileAttempts,
			LegacyWeekParsing: features.LegacyWeekParsing(),
			Recorder:          m,
			Logger:            log,
		}),

		GetPointsSummary: summary,
		ExportSummary:    export,

		Metrics: m,
		Logger:  log,
	}
}

func buildScheduler(cfg *config.Config, store *storage, bus *messaging.InMemoryEventBus, m *metrics.Metrics, log *logger.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(scheduler.Config{Logger: log, Recorder: m})

	if store.pool != nil && cfg.Scheduler.PoolStatsInterval > 0 {
		job := jobs.NewPoolStatsJob(store.pool, m)
		if err := sched.Register(job, scheduler.Every(cfg.Scheduler.PoolStatsInterval)); err != nil {
			return nil, err
		}
	}

	if cfg.Scheduler.BackfillInterval > 0 {
		subjects := make([]shared.SubjectID, len(cfg.Scheduler.BackfillSubjects))
		for i, s := range cfg.Scheduler.BackfillSubjects {
			subjects[i] = shared.SubjectID(s)
		}
		job := jobs.NewBackfillBucketsJob(
			command.NewBackfillBucketsHandler(store.ledger, store.courses, bus, log),
			jobs.BackfillBucketsConfig{Subjects: subjects, BatchSize: cfg.Scheduler.BackfillBatchSize},
			log,
		)
		if err := sched.Register(job, scheduler.Every(cfg.Scheduler.BackfillInterval)); err != nil {
			return nil, err
		}
	}

	return sched, nil
}
