// Package web serves the research UI and streams research runs to the browser.
package web

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/research-mailer/internal/research"
)

// shutdownTimeout is the maximum time to wait for in-flight requests
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// ServerConfig holds the configuration for the web server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":7860").
	ListenAddr string

	// Producer runs research for the /run endpoint.
	Producer research.Producer

	// TLSConfig enables HTTPS when non-nil.
	TLSConfig *tls.Config

	// SeparateMetrics drops /metrics from the UI router; a server from
	// NewMetrics serves it instead.
	SeparateMetrics bool
}

// Server serves the UI over HTTP or HTTPS.
type Server struct {
	config     ServerConfig
	router     chi.Router
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server and registers its routes.
func New(cfg ServerConfig) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":7860"
	}

	s := &Server{config: cfg}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: /run streams for as long as the research takes.
	}
	return s
}

// NewMetrics creates a plain HTTP server for /metrics and /healthz only.
func NewMetrics(addr string) *Server {
	s := &Server{config: ServerConfig{ListenAddr: addr}}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	s.router = r

	s.httpServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/run", s.handleRun)
	r.Get("/healthz", handleHealth)
	if !s.config.SeparateMetrics {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}
	return r
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server and blocks until the context is cancelled.
// On cancellation it stops accepting connections, cancels in-flight research
// runs, and waits up to 30 seconds for requests to finish.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// Request contexts derive from ctx so streams end when the server stops.
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }
	s.httpServer.TLSConfig = s.config.TLSConfig

	slog.Info("HTTP server listening",
		"addr", ln.Addr().String(),
		"tls_enabled", s.config.TLSConfig != nil,
	)

	serveErr := make(chan error, 1)
	go func() {
		if s.config.TLSConfig != nil {
			serveErr <- s.httpServer.ServeTLS(ln, "", "")
			return
		}
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown timeout reached, forcing close", "error", err)
		return s.httpServer.Close()
	}
	slog.Info("all requests completed")
	return nil
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// accessLog logs one line per request once the response is complete.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}
