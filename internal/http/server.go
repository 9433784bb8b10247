// Package http exposes budgets and expenses as an owner-scoped JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"budgettracker/internal/auth"
	"budgettracker/internal/cache"
	"budgettracker/internal/core"
	"budgettracker/internal/log"
	"budgettracker/internal/middleware/ratelimit"
	"budgettracker/internal/middleware/security"
	"budgettracker/internal/middleware/trace"
	"budgettracker/internal/store"
)

// Config wires the server to its stores and policies.
type Config struct {
	Addr     string
	Budgets  store.Store[core.Budget]
	Expenses store.Store[core.Expense]
	Logger   *log.Logger

	// Backend names the store implementation in health responses.
	Backend string
	Version string

	StoreTimeout       time.Duration
	RateLimitPerMinute int
	FrontendURL        string
	// TrustedProxies are CIDRs, beyond private networks, whose forwarding headers are believed.
	TrustedProxies     []string

	AuthJWTSecret string
	AuthRequired  bool

	// Hooks for tests; defaults are uuid.NewString and time.Now.
	NewID func() string
	Now   func() time.Time
}

type appMetrics struct {
	uptime time.Time
}

type Server struct {
	http.Server
	logger     *log.Logger
	budgets    store.Store[core.Budget]
	backend    string
	version    string
	timeout    time.Duration
	now        func() time.Time
	tracer     *trace.Middleware
	detector   *security.Detector
	limiter    *ratelimit.Limiter
	cacheMgr   *cache.Manager
	appMetrics appMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.DefaultConfig())
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	detector, err := security.NewDetector(cfg.TrustedProxies...)
	if err != nil {
		cfg.Logger.Error("Ignoring trusted proxies", log.FieldError, err.Error())
		detector, _ = security.NewDetector()
	}
	identities := cache.NewLRUCache[string](1000, 15*time.Minute)
	cacheMgr := cache.NewManager()
	cacheMgr.Register(identities)
	cacheMgr.StartCleanup(5 * time.Minute)

	s := &Server{
		logger:     cfg.Logger.WithComponent(log.ComponentHTTP),
		budgets:    cfg.Budgets,
		backend:    cfg.Backend,
		version:    cfg.Version,
		timeout:    cfg.StoreTimeout,
		now:        cfg.Now,
		tracer:     trace.NewMiddleware(cfg.Logger, detector.ExtractClientIP),
		detector:   detector,
		limiter:    ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		cacheMgr:   cacheMgr,
		appMetrics: appMetrics{uptime: time.Now()},
	}

	api := http.NewServeMux()
	(&resource[core.Budget]{
		name: store.CollectionBudgets, store: cfg.Budgets,
		timeout: cfg.StoreTimeout, newID: cfg.NewID, now: cfg.Now,
	}).register(api)
	(&resource[core.Expense]{
		name: store.CollectionExpenses, store: cfg.Expenses,
		timeout: cfg.StoreTimeout, newID: cfg.NewID, now: cfg.Now,
	}).register(api)

	resolver := auth.NewResolver(cfg.AuthJWTSecret, cfg.AuthRequired, identities)
	writes := s.limiter.Middleware(detector.ExtractClientIP, ratelimit.WritesOnly)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /api/health", s.handleAPIHealth)
	mux.Handle("/api/", writes(auth.Middleware(resolver)(api)))

	handler := http.Handler(mux)
	handler = security.NewCORS(cfg.FrontendURL).Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = detector.Middleware(handler)
	handler = log.Middleware(cfg.Logger, trace.RequestIDFromRequest)(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops background cleanup and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheMgr.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
