// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/omerta/internal/cascade"
	"github.com/mbd888/omerta/internal/config"
	"github.com/mbd888/omerta/internal/content"
	"github.com/mbd888/omerta/internal/engine"
	"github.com/mbd888/omerta/internal/events"
	"github.com/mbd888/omerta/internal/ledger"
	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/metrics"
	"github.com/mbd888/omerta/internal/outcome"
	"github.com/mbd888/omerta/internal/ratelimit"
	"github.com/mbd888/omerta/internal/realtime"
	"github.com/mbd888/omerta/internal/risk"
	"github.com/mbd888/omerta/internal/security"
	"github.com/mbd888/omerta/internal/timers"
	"github.com/mbd888/omerta/internal/validation"
	"github.com/mbd888/omerta/internal/world"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	riskSvc      *risk.Service
	resolver     *outcome.Resolver
	timerSvc     *timers.Service
	sweeper      *timers.Sweeper
	cascades     *cascade.Engine
	ledgerSvc    *ledger.Service
	worldSvc     *world.Service
	contentCli   *content.Client
	dispatcher   *events.Dispatcher
	realtimeHub  *realtime.Hub
	engine       *engine.Engine
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	var (
		riskStore    risk.Store
		outcomeStore outcome.Store
		timerStore   timers.Store
		cascadeStore cascade.Store
		ledgerStore  ledger.Store
		worldStore   world.Store
		subStore     events.SubscriptionStore
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		rs := risk.NewPostgresStore(db)
		if err := rs.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate risk store", "error", err)
		}
		riskStore = rs

		as := outcome.NewPostgresStore(db)
		if err := as.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate outcome store", "error", err)
		}
		outcomeStore = as

		ts := timers.NewPostgresStore(db)
		if err := ts.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate timer store", "error", err)
		}
		timerStore = ts

		cs := cascade.NewPostgresStore(db)
		if err := cs.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate cascade store", "error", err)
		}
		cascadeStore = cs

		ls := ledger.NewPostgresStore(db)
		if err := ls.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate ledger store", "error", err)
		}
		ledgerStore = ls

		ws := world.NewPostgresStore(db)
		if err := ws.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate world store", "error", err)
		}
		worldStore = ws

		es := events.NewPostgresSubscriptionStore(db)
		if err := es.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate subscription store", "error", err)
		}
		subStore = es
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		riskStore = risk.NewMemoryStore()
		outcomeStore = outcome.NewMemoryStore()
		timerStore = timers.NewMemoryStore()
		cascadeStore = cascade.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		worldStore = world.NewMemoryStore()
		subStore = events.NewMemorySubscriptionStore()
	}

	// Core services
	s.riskSvc = risk.NewService(riskStore).WithMaxRetries(cfg.CASMaxRetries)
	s.resolver = outcome.NewResolver(outcomeStore, s.logger,
		outcome.WithBand(outcome.Band{Floor: cfg.ProbabilityFloor, Ceil: cfg.ProbabilityCeil}))
	s.timerSvc = timers.NewService(timerStore, s.logger, timers.WithMaxRetries(cfg.CASMaxRetries))
	s.ledgerSvc = ledger.NewService(ledgerStore, s.logger)
	s.worldSvc = world.NewService(worldStore, s.logger, world.WithMaxRetries(cfg.CASMaxRetries))
	s.logger.Info("risk and outcome resolution enabled")

	// Narrative generation (falls back to canned lines when no CONTENT_URL)
	s.contentCli = content.NewClient(cfg.ContentURL, cfg.ContentAPIKey, cfg.ContentTimeout, s.logger)
	if cfg.ContentURL != "" {
		s.logger.Info("content generation enabled", "url", cfg.ContentURL)
	} else {
		s.logger.Info("content generation disabled, using fallback narratives")
	}

	// Consequence cascades apply risk and reputation deltas to related entities
	applier := engine.NewRiskApplier(s.riskSvc, s.worldSvc, s.logger)
	s.cascades = cascade.New(s.worldSvc, applier, cascadeStore, s.logger,
		cascade.WithMaxDepth(cfg.CascadeMaxDepth),
		cascade.WithMaxFanout(cfg.CascadeMaxFanout))
	s.logger.Info("event cascades enabled",
		"maxDepth", cfg.CascadeMaxDepth,
		"maxFanout", cfg.CascadeMaxFanout)

	// Webhook notifications
	s.dispatcher = events.NewDispatcher(subStore, s.logger)
	s.logger.Info("event notifications enabled")

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Action pipeline ties everything together
	s.engine = engine.New(engine.Deps{
		Risk:       s.riskSvc,
		Resolver:   s.resolver,
		Timers:     s.timerSvc,
		Cascades:   s.cascades,
		Ledger:     s.ledgerSvc,
		Content:    s.contentCli,
		Dispatcher: s.dispatcher,
		Hub:        s.realtimeHub,
		Logger:     s.logger,
	})

	// Sweeper drives timed-state transitions and passive risk decay
	s.sweeper = timers.NewSweeper(timerStore, cfg.SweepInterval, s.logger,
		timers.OnExpired(s.engine.OnTimerExpired),
		timers.OnActivated(func(ctx context.Context, ts *timers.TimedState) {
			s.realtimeHub.Broadcast("timer_activated", ts)
		}),
		timers.WithMaintenance(func(ctx context.Context, now time.Time) error {
			_, err := s.riskSvc.DecayDue(ctx, now)
			return err
		}))

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(s.cfg.RateLimitRPM)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", s.realtimeHub.ServeWS)

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	engine.NewHandler(s.engine).RegisterRoutes(v1)
	risk.NewHandler(s.riskSvc).RegisterRoutes(v1)
	timers.NewHandler(s.timerSvc).RegisterRoutes(v1)
	cascade.NewHandler(s.cascades).RegisterRoutes(v1)
	ledger.NewHandler(s.ledgerSvc).RegisterRoutes(v1)
	world.NewHandler(s.worldSvc).RegisterRoutes(v1)
	events.NewHandler(s.dispatcher.Store()).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "in-memory"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v == "unhealthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Omerta",
		"description": "Risk and outcome resolution engine",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start webhook dispatcher workers
	s.dispatcher.Start(runCtx)

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start timed-state sweep loop
	s.sweeper.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeper, dispatcher)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop sweep loop
	if s.sweeper != nil {
		s.sweeper.Stop()
		s.logger.Info("sweeper stopped")
	}

	// Drain queued webhook deliveries
	if s.dispatcher != nil {
		s.dispatcher.Stop()
		s.logger.Info("event dispatcher stopped")
	}

	// Wait for in-flight narrative attachments
	if s.engine != nil {
		s.engine.Drain()
	}

	// Disconnect websocket clients
	if s.realtimeHub != nil {
		s.realtimeHub.Stop()
		s.logger.Info("realtime hub stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
