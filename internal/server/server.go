// Package server wires the wallet API together: storage, the ledger
// engine, domain services, middleware and routes.
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
	"github.com/redis/go-redis/v9"

	"github.com/faithly/walletd/internal/auth"
	"github.com/faithly/walletd/internal/config"
	"github.com/faithly/walletd/internal/escrow"
	"github.com/faithly/walletd/internal/health"
	"github.com/faithly/walletd/internal/ledger"
	"github.com/faithly/walletd/internal/logging"
	"github.com/faithly/walletd/internal/metrics"
	"github.com/faithly/walletd/internal/payments"
	"github.com/faithly/walletd/internal/ratelimit"
	"github.com/faithly/walletd/internal/realtime"
	"github.com/faithly/walletd/internal/reconciliation"
	"github.com/faithly/walletd/internal/security"
	"github.com/faithly/walletd/internal/traces"
	"github.com/faithly/walletd/internal/validation"
	"github.com/faithly/walletd/internal/wallet"
	"github.com/faithly/walletd/internal/webhooks"
)

// Version reported on the health endpoint.
const Version = "0.1.0"

// stoppableLimiter is satisfied by both the in-process and the
// Redis-backed rate limiters.
type stoppableLimiter interface {
	ratelimit.Allower
	Stop()
}

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	engine       *ledger.Engine
	ledgerStore  ledger.Store
	wallets      *wallet.Service
	escrowSvc    *escrow.Service
	paymentsSvc  *payments.Service
	checkout     payments.CheckoutAPI
	dispatcher   *webhooks.Dispatcher
	emitter      *webhooks.Emitter
	webhookStore webhooks.Store
	hub          *realtime.Hub
	reconChecker *reconciliation.Checker
	reconTimer   *reconciliation.Timer
	authMgr      *auth.Manager
	healthReg    *health.Registry
	limiter      stoppableLimiter
	redis        *redis.Client
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	stopTraces   func(context.Context) error
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

// WithCheckout sets a custom checkout backend (for testing)
func WithCheckout(c payments.CheckoutAPI) Option {
	return func(s *Server) {
		s.checkout = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set checkout/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		walletStore wallet.Store
		escrowStore escrow.Store
	)
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
		s.ledgerStore = ledger.NewPostgresStore(db)
		walletStore = wallet.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		s.webhookStore = webhooks.NewPostgresStore(db)
		s.healthReg.Register("database", health.DatabaseChecker(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.ledgerStore = ledger.NewMemoryStore()
		walletStore = wallet.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Ledger engine and domain services
	s.engine = ledger.New(s.ledgerStore, s.logger, cfg.StoreTimeout)
	s.wallets = wallet.NewService(walletStore, s.engine, s.logger)
	s.escrowSvc = escrow.NewService(escrowStore, s.engine, s.logger)

	if s.checkout == nil {
		s.checkout = payments.NewStripeCheckout(cfg.StripeSecretKey, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)
	}
	s.paymentsSvc = payments.NewService(s.checkout, s.engine, s.logger)

	// Outbound webhooks and realtime streaming
	s.dispatcher = webhooks.NewDispatcher(s.webhookStore, s.logger)
	s.emitter = webhooks.NewEmitter(s.dispatcher, s.logger)
	s.hub = realtime.NewHub(s.logger)
	s.logger.Info("webhooks and realtime streaming enabled")

	// Post-commit hooks: balance policy alerts, then event fan-out
	policy := wallet.NewPolicyChecker(s.wallets, &policyEmitter{hub: s.hub, webhooks: s.emitter}, s.logger)
	s.engine.AddHook(policy.Hook())
	s.engine.AddHook(s.transactionEventHook())

	// Reconciliation sweeps the cached balances against the log
	s.reconChecker = reconciliation.NewChecker(s.ledgerStore, s.logger)
	s.reconTimer = reconciliation.NewTimer(s.reconChecker, reconciliation.DefaultInterval, s.logger)

	s.authMgr = auth.NewManager(cfg.JWTSecret)

	// Rate limiting (shared counters when Redis is configured)
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(redisOpts)
		s.limiter = ratelimit.NewRedis(s.redis, cfg.RateLimitRPM, time.Minute)
		s.healthReg.Register("redis", health.RedisChecker(s.redis))
		s.logger.Info("shared rate limiting enabled", "rpm", cfg.RateLimitRPM)
	} else {
		rlCfg := ratelimit.DefaultConfig()
		rlCfg.RequestsPerMinute = cfg.RateLimitRPM
		s.limiter = ratelimit.New(rlCfg)
	}

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
// Event fan-out
// -----------------------------------------------------------------------------

// policyEmitter forwards balance policy events to the realtime hub and
// to the owning user's webhook subscriptions.
type policyEmitter struct {
	hub      *realtime.Hub
	webhooks *webhooks.Emitter
}

func (p *policyEmitter) Emit(ctx context.Context, event string, payload interface{}) {
	switch v := payload.(type) {
	case wallet.LowBalancePayload:
		p.hub.Emit(ctx, event, map[string]interface{}{
			"user_id":      v.UserID,
			"balance_wc":   v.BalanceWC,
			"threshold_wc": v.ThresholdWC,
		})
		p.webhooks.EmitToUser(ctx, v.UserID, event, v)
	case wallet.AutoTopupPayload:
		p.hub.Emit(ctx, event, map[string]interface{}{
			"user_id":            v.UserID,
			"current_balance_wc": v.CurrentBalanceWC,
			"threshold_wc":       v.ThresholdWC,
			"topup_amount_wc":    v.TopupAmountWC,
		})
		p.webhooks.EmitToUser(ctx, v.UserID, event, v)
	default:
		p.hub.Emit(ctx, event, payload)
		p.webhooks.Emit(ctx, event, payload)
	}
}

// transactionEventHook streams every applied transaction to realtime
// clients and delivers the matching webhook events to the wallet owner.
func (s *Server) transactionEventHook() ledger.Hook {
	return func(ctx context.Context, txn *ledger.Transaction) {
		data := map[string]interface{}{
			"transaction_id":   txn.ID,
			"user_id":          txn.UserID,
			"type":             string(txn.Type),
			"amount_wc":        txn.Amount,
			"balance_after_wc": txn.BalanceAfter,
			"created_at":       txn.CreatedAt,
		}
		if txn.RelatedEntityID != "" {
			data["related_entity_type"] = txn.RelatedEntityType
			data["related_entity_id"] = txn.RelatedEntityID
		}
		if txn.PaymentReference != "" {
			data["payment_reference"] = txn.PaymentReference
		}

		s.hub.BroadcastTransaction(data)
		s.emitter.EmitToUser(ctx, txn.UserID, webhooks.EventTransactionApplied, data)

		switch {
		case txn.Type == ledger.TypeEscrowLock:
			s.emitter.EmitToUser(ctx, txn.UserID, webhooks.EventEscrowLocked, data)
		case txn.Type == ledger.TypeEscrowRelease:
			s.emitter.EmitToUser(ctx, txn.UserID, webhooks.EventEscrowReleased, data)
		case txn.Type == ledger.TypeCredit && txn.PaymentReference != "":
			s.emitter.EmitToUser(ctx, txn.UserID, webhooks.EventPaymentCredited, data)
		}
	}
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

	// CORS (the platform frontend calls this API from the browser)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.router.Use(ratelimit.Middleware(s.limiter))

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
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// Stripe webhook lives outside auth: Stripe signs the payload instead
	paymentsHandler := payments.NewHandler(s.paymentsSvc, s.cfg.StripeWebhookSecret, s.logger)
	paymentsHandler.RegisterWebhookRoutes(s.router)

	// V1 API group
	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authMgr))

	v1.GET("/info", s.infoHandler)

	// PROTECTED ROUTES (require a platform-issued token)
	// Ownership on :userID routes is enforced per-route by the handlers.
	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	{
		wallet.NewHandler(s.wallets, s.logger).RegisterRoutes(protected)
		ledger.NewHandler(s.engine, s.logger).RegisterRoutes(protected)
		escrow.NewHandler(s.escrowSvc, s.logger).RegisterRoutes(protected)
		webhooks.NewHandler(s.webhookStore).RegisterRoutes(protected)
		paymentsHandler.RegisterRoutes(protected)
	}

	// ADMIN ROUTES (admin token or X-Admin-Secret header)
	admin := v1.Group("")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	{
		ledger.NewHandler(s.engine, s.logger).RegisterAdminRoutes(admin)
		reconciliation.NewHandler(s.reconChecker, s.reconTimer, s.logger).RegisterAdminRoutes(admin)
		admin.GET("/admin/realtime/stats", s.realtimeStatsHandler)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "walletd",
		"description": "Worship Coin wallet and ledger service",
		"version":     Version,
		"currency":    "WC",
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   Version,
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.stopTraces = stopTraces
	}

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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start periodic reconciliation
	go s.reconTimer.Start(runCtx)

	// Keep the DB pool gauge current
	if s.db != nil {
		go metrics.PollDBStats(runCtx, s.db, 15*time.Second)
	}

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

	// Cancel the context for all background goroutines (hub, timers)
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

	// Stop reconciliation timer
	s.reconTimer.Stop()
	s.logger.Info("reconciliation timer stopped")

	// Stop rate limiter cleanup goroutine
	if s.limiter != nil {
		s.limiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close Redis connection
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	// Flush pending trace spans
	if s.stopTraces != nil {
		if err := s.stopTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
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

// AuthManager returns the token manager for testing
func (s *Server) AuthManager() *auth.Manager {
	return s.authMgr
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
