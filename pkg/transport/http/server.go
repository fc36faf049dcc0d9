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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/atelier-dev/atelier/pkg/observability"
	"github.com/atelier-dev/atelier/pkg/transport"
)

// Server wraps an http.Server around the API handler and manages the full
// lifecycle including startup and graceful shutdown.
type Server struct {
	httpServer *http.Server
	config     ServerConfig
	logger     *slog.Logger

	corsOrigins []string
	metricsPath string
	mounts      map[string]http.Handler
	extra       []transport.Middleware
}

// ServerConfig holds configuration for the transport server.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ShutdownTimeout: 30 * time.Second,
		Logger:          slog.Default(),
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.config.Addr = addr }
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.config.Logger = l; s.logger = l }
}

// WithCORS enables CORS handling for the given origins.
func WithCORS(origins []string) ServerOption {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithMetrics mounts the Prometheus handler at path. The mount bypasses
// the request middleware chain.
func WithMetrics(path string) ServerOption {
	return func(s *Server) { s.metricsPath = path }
}

// WithMount attaches an extra handler subtree at prefix, outside the API
// middleware chain. Used for the MCP endpoint.
func WithMount(prefix string, h http.Handler) ServerOption {
	return func(s *Server) { s.mounts[prefix] = h }
}

// WithMiddleware appends middleware to the API chain, after the built-in
// recovery, request ID, logging, CORS, and metrics layers. Authentication
// and rate limiting plug in here.
func WithMiddleware(mw ...transport.Middleware) ServerOption {
	return func(s *Server) { s.extra = append(s.extra, mw...) }
}

// NewServer creates a transport server around the given API handler.
func NewServer(handler http.Handler, opts ...ServerOption) *Server {
	s := &Server{
		config: DefaultServerConfig(),
		logger: slog.Default(),
		mounts: make(map[string]http.Handler),
	}
	for _, opt := range opts {
		opt(s)
	}

	chain := []transport.Middleware{
		transport.Recovery(s.logger),
		transport.RequestID(),
		transport.Logging(s.logger),
	}
	if len(s.corsOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		})
		chain = append(chain, c.Handler)
	}
	chain = append(chain, observability.MetricsMiddleware)
	chain = append(chain, s.extra...)

	mux := http.NewServeMux()
	mux.Handle("/", transport.Chain(chain...)(handler))
	if s.metricsPath != "" {
		mux.Handle("GET "+s.metricsPath, promhttp.Handler())
	}
	for prefix, h := range s.mounts {
		mux.Handle(prefix, h)
	}

	s.httpServer = &http.Server{
		Addr:    s.config.Addr,
		Handler: mux,
	}
	return s
}

// Handler returns the fully assembled root handler. Used for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the server and blocks until a shutdown signal
// (SIGINT or SIGTERM) is received. It then gracefully shuts down,
// waiting for in-flight requests to complete within the configured timeout.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.listenAndServeWithContext(ctx)
}

func (s *Server) listenAndServeWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server starting", slog.String("addr", s.config.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// ServeOn starts the server on the given listener. Used for testing.
func (s *Server) ServeOn(ln net.Listener) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
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
