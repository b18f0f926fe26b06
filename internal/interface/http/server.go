// Package http implements the REST API of the points ledger: summaries,
// point edits, the question lifecycle and assignments, plus health checks and
// the Prometheus endpoint.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alem-hub/questpoints/internal/application/command"
	"github.com/alem-hub/questpoints/internal/application/query"
	"github.com/alem-hub/questpoints/internal/infrastructure/metrics"
	"github.com/alem-hub/questpoints/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64

	EnableCORS     bool
	AllowedOrigins []string
	EnableMetrics  bool

	// RateLimitPerMinute is the per-IP budget; 0 disables limiting.
	RateLimitPerMinute int

	// JWTSecret signs session tokens. An empty JWTIssuer skips the iss check.
	JWTSecret string
	JWTIssuer string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       1 << 20,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		EnableMetrics:      true,
		RateLimitPerMinute: 300,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers. A nil
// handler makes its route answer 501.
type Dependencies struct {
	// Question lifecycle
	CreateQuestion      *command.CreateQuestionHandler
	EditQuestion        *command.EditQuestionHandler
	ValidateQuestion    *command.ValidateQuestionHandler
	RespondToValidation *command.RespondToValidationHandler
	TeacherValidate     *command.TeacherValidateQuestionHandler
	GetAssignments      *command.GetQuestionAssignmentsHandler

	// Ledger
	AwardCustomPoints *command.AwardCustomPointsHandler
	UpdatePoint       *command.UpdatePointHandler
	ReconcilePoints   *command.ReconcilePointsHandler

	// Queries
	GetPointsSummary *query.GetPointsSummaryHandler
	ExportSummary    *query.ExportSummaryHandler

	Metrics       *metrics.Metrics
	Logger        *logger.Logger
	HealthChecker HealthChecker
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *logger.Logger
	validator  *requestValidator
	tokens     *tokenParser

	rateLimiter *ipRateLimiter

	mu        sync.Mutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config:    config,
		deps:      deps,
		router:    http.NewServeMux(),
		logger:    deps.Logger,
		validator: newRequestValidator(),
		tokens:    newTokenParser(config.JWTSecret, config.JWTIssuer),
	}

	if s.logger == nil {
		s.logger = logger.Default()
	}
	s.logger = s.logger.With(logger.Component("http"))

	if config.RateLimitPerMinute > 0 {
		s.rateLimiter = newIPRateLimiter(config.RateLimitPerMinute, 10*time.Minute)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.middleware(s.router),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /healthz", s.handleHealth) // Kubernetes alias
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Points
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /api/v1/points/summary", s.handleGetPointsSummary)
	s.router.HandleFunc("GET /api/v1/points/summary.xlsx", s.handleExportSummary)
	s.router.HandleFunc("POST /api/v1/points", s.handleAwardCustomPoints)
	s.router.HandleFunc("PATCH /api/v1/points/{id}", s.handleUpdatePoint)
	s.router.HandleFunc("POST /api/v1/points/reconcile", s.handleReconcilePoints)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Questions
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("POST /api/v1/questions", s.handleCreateQuestion)
	s.router.HandleFunc("PUT /api/v1/questions/{id}", s.handleEditQuestion)
	s.router.HandleFunc("POST /api/v1/questions/{id}/validation", s.handleValidateQuestion)
	s.router.HandleFunc("POST /api/v1/questions/{id}/response", s.handleRespondToValidation)
	s.router.HandleFunc("POST /api/v1/questions/{id}/teacher-validation", s.handleTeacherValidate)
	s.router.HandleFunc("GET /api/v1/modules/{id}/assignments", s.handleGetAssignments)

	// ─────────────────────────────────────────────────────────────────────────
	// Metrics (if enabled)
	// ─────────────────────────────────────────────────────────────────────────
	if s.config.EnableMetrics && s.deps.Metrics != nil {
		s.router.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// ErrServerRunning is returned by Start on a server already serving.
var ErrServerRunning = errors.New("http: server already running")

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerRunning
	}
	s.running, s.startedAt = true, time.Now()
	s.mu.Unlock()

	s.logger.Info("http server listening", logger.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// StartAsync runs Start in a goroutine. The channel yields a serve error, or
// closes without one after a graceful shutdown.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.Start(); err != nil {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if !wasRunning {
		return nil
	}
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Uptime reports how long the server has been serving; zero when stopped.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
