package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/chronicle/pkg/api"
	"github.com/rhuss/chronicle/pkg/observability"
	"github.com/rhuss/chronicle/pkg/transport"
)

// ReadinessFunc reports whether the server's dependencies are usable.
type ReadinessFunc func(ctx context.Context) error

// Server wraps an http.Server with a chi router and manages the full
// lifecycle including startup and graceful shutdown.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	config     ServerConfig
	logger     *slog.Logger
}

// ServerConfig holds configuration for the transport server.
type ServerConfig struct {
	Addr            string
	MaxBodySize     int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Instances       map[string]string
	Metrics         bool
	MetricsPath     string
	Readiness       ReadinessFunc
	Middleware      []transport.Middleware
	Logger          *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		MaxBodySize:     10 << 20, // 10 MB
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Metrics:         true,
		MetricsPath:     "/metrics",
		Logger:          slog.Default(),
	}
}

// ServerOption configures a Server.
type ServerOption func(*ServerConfig)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(c *ServerConfig) { c.Addr = addr }
}

// WithMaxBodySize sets the maximum request body size.
func WithMaxBodySize(n int64) ServerOption {
	return func(c *ServerConfig) { c.MaxBodySize = n }
}

// WithTimeouts sets the read and write timeouts.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(c *ServerConfig) { c.ReadTimeout, c.WriteTimeout = read, write }
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(c *ServerConfig) { c.ShutdownTimeout = d }
}

// WithInstances sets the selectable instances (name -> table prefix).
func WithInstances(m map[string]string) ServerOption {
	return func(c *ServerConfig) { c.Instances = m }
}

// WithMetrics enables or disables the Prometheus endpoint and middleware.
func WithMetrics(enabled bool, path string) ServerOption {
	return func(c *ServerConfig) {
		c.Metrics = enabled
		if path != "" {
			c.MetricsPath = path
		}
	}
}

// WithReadiness sets the check behind /readyz.
func WithReadiness(fn ReadinessFunc) ServerOption {
	return func(c *ServerConfig) { c.Readiness = fn }
}

// WithMiddleware sets the pipeline middleware applied to every handler
// mounted with Handle, and to the not-found and method-not-allowed replies.
func WithMiddleware(mw ...transport.Middleware) ServerOption {
	return func(c *ServerConfig) { c.Middleware = mw }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(c *ServerConfig) { c.Logger = l }
}

// NewServer creates a server with the operational endpoints (/healthz,
// /readyz and, when enabled, the metrics endpoint) already mounted.
func NewServer(opts ...ServerOption) *Server {
	cfg := DefaultServerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: cfg.Logger,
	}

	if cfg.Metrics {
		s.router.Use(observability.MetricsMiddleware)
		s.router.Method(http.MethodGet, cfg.MetricsPath, promhttp.Handler())
	}

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	s.router.Get("/readyz", s.handleReady)

	s.router.NotFound(s.adapter(notFound()).ServeHTTP)
	s.router.MethodNotAllowed(s.adapter(methodNotAllowed()).ServeHTTP)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return s
}

// Handle mounts a pipeline handler for method and pattern.
func (s *Server) Handle(method, pattern string, h transport.Handler) {
	s.router.Method(method, pattern, s.adapter(h))
}

// Handler returns the root http.Handler. Use this to test with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) adapter(h transport.Handler) *Adapter {
	return NewAdapter(h, Config{
		MaxBodySize: s.config.MaxBodySize,
		Instances:   s.config.Instances,
	}, s.logger, s.config.Middleware...)
}

func notFound() transport.Handler {
	return transport.HandlerFunc(func(r *http.Request, resp *transport.Response) *transport.Response {
		return transport.BuildAPIError(resp, api.NewNotFoundError("no such endpoint"))
	})
}

func methodNotAllowed() transport.Handler {
	return transport.HandlerFunc(func(r *http.Request, resp *transport.Response) *transport.Response {
		return transport.BuildError(resp, "method not allowed", http.StatusMethodNotAllowed)
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.config.Readiness != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.config.Readiness(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ListenAndServe starts the server and blocks until a shutdown signal
// (SIGINT or SIGTERM) is received. It then gracefully shuts down,
// waiting for in-flight requests to complete within the configured timeout.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}

// Run listens on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.ServeOn(ctx, ln)
}

// ServeOn serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) ServeOn(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown gracefully shuts down the server with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
