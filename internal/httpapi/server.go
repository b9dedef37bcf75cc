package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pantrykit/authgate/internal/audit"
	"github.com/pantrykit/authgate/internal/auth"
	"github.com/pantrykit/authgate/internal/metrics"
)

// Config configures the HTTP server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Version      string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		Version:      "dev",
	}
}

// Server hosts the gate's operational endpoints and mounts the host
// application's protected routes behind the gate middleware. Recipe
// and inventory handlers themselves live outside this service; they
// attach through Mount and receive the principal via request context.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	middleware *Middleware
	metrics    *metrics.Metrics
	trail      *audit.Trail
	logger     *zap.Logger
	config     Config
	startTime  time.Time
	legacyAuth bool
}

// New creates the HTTP server.
func New(cfg Config, mw *Middleware, m *metrics.Metrics, trail *audit.Trail, legacyAuth bool, logger *zap.Logger) (*Server, error) {
	if mw == nil {
		return nil, fmt.Errorf("gate middleware is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router:     mux.NewRouter(),
		middleware: mw,
		metrics:    m,
		trail:      trail,
		logger:     logger,
		config:     cfg,
		startTime:  time.Now(),
		legacyAuth: legacyAuth,
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.Use(RequestID)
	s.router.Use(Logging(s.logger))
	s.router.Use(Recovery(s.logger))

	// Operational endpoints, outside the gate.
	s.router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	s.router.HandleFunc("/v1/status", s.statusHandler).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Mount attaches an application handler under the given path prefix at
// the given minimum role. Read routes mount at viewer, write routes
// at editor.
func (s *Server) Mount(prefix string, minimum auth.Role, handler http.Handler) {
	s.router.PathPrefix(prefix).Handler(s.middleware.Protect(minimum)(handler))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.config.Addr),
		zap.Bool("legacy_auth", s.legacyAuth),
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    map[string]string{"gate": "ok"},
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:    s.config.Version,
		Uptime:     time.Since(s.startTime).String(),
		LegacyAuth: s.legacyAuth,
		Timestamp:  time.Now(),
	}
	if s.trail != nil {
		resp.AuditEvents = s.trail.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}
