// Package server provides the base HTTP server, common flags, middleware
// chain and response helpers shared by the proxy and the webhook twin.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"
)

// Config holds the settings common to every binary.
type Config struct {
	Name            string
	Port            int
	Verbose         bool
	Latency         time.Duration // simulated latency, twin only
	ShutdownTimeout time.Duration
}

// BindFlags registers the common flags on fs.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "HTTP listen port (falls back to $PORT)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable debug logging and request header capture")
}

// ApplyEnv fills unset fields from the environment.
func (c *Config) ApplyEnv() {
	if c.Port == 0 {
		if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
			c.Port = p
		}
	}
}

// NewLogger builds the JSON slog logger used by all binaries.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// Server wraps a chi router with the common middleware and lifecycle.
type Server struct {
	Config *Config
	Router *chi.Mux
	Logger *slog.Logger
	mw     *Middleware

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server. A nil logger gets NewLogger(cfg.Verbose).
func New(cfg *Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = NewLogger(cfg.Verbose)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	r := chi.NewRouter()
	mw := NewMiddleware(cfg, logger)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(mw.CORS)
	r.Use(mw.RequestLog)
	r.Use(mw.LatencyInjection)

	return &Server{
		Config: cfg,
		Router: r,
		Logger: logger,
		mw:     mw,
	}
}

// Middleware returns the middleware instance for request log and fault
// access.
func (s *Server) Middleware() *Middleware {
	return s.mw
}

// GetConfig returns the runtime settings for the admin config endpoint.
func (s *Server) GetConfig() map[string]any {
	return map[string]any{
		"name":    s.Config.Name,
		"port":    s.Config.Port,
		"verbose": s.Config.Verbose,
		"latency": s.Config.Latency.String(),
	}
}

// Addr returns the bound listen address once Serve is running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve listens on the configured port and blocks until ctx is done, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Config.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("starting server", "name", s.Config.Name, "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.Logger.Info("shutting down server", "name", s.Config.Name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Config.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ServeHTTP implements http.Handler so a Server can be used directly in
// tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Error writes the {"ok": false, "error": ...} envelope.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{
		"ok":    false,
		"error": message,
	})
}
