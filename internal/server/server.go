// Package server exposes the upload service's HTTP API: registration,
// login, demo sessions, and the upload lifecycle endpoints, wired with
// authentication, rate limiting and access logging middleware.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/shivaxm/uploadsvc/internal/authn"
	"github.com/shivaxm/uploadsvc/internal/demo"
	"github.com/shivaxm/uploadsvc/internal/metrics"
	"github.com/shivaxm/uploadsvc/internal/ratelimit"
	"github.com/shivaxm/uploadsvc/internal/upload"
)

// Server bundles the dependencies every HTTP handler needs.
type Server struct {
	authn       *authn.Manager
	demo        *demo.Manager
	limiter     *ratelimit.Limiter
	coordinator *upload.Coordinator
	metrics     *metrics.Registry
	logger      *logrus.Logger
	isProd      bool

	httpServer *http.Server
}

// Config bundles the constructor parameters for Server.
type Config struct {
	Authn       *authn.Manager
	Demo        *demo.Manager
	Limiter     *ratelimit.Limiter
	Coordinator *upload.Coordinator
	Metrics     *metrics.Registry
	Logger      *logrus.Logger
	Listen      string
	IsProd      bool
}

// New builds a Server and its underlying http.Server, ready for Start.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		authn:       cfg.Authn,
		demo:        cfg.Demo,
		limiter:     cfg.Limiter,
		coordinator: cfg.Coordinator,
		metrics:     cfg.Metrics,
		logger:      logger,
		isProd:      cfg.IsProd,
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(logger.Writer(), router)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.authenticate)

	r.HandleFunc("/health/live", s.handleHealthLive).Methods("GET")
	r.HandleFunc("/health/ready", s.handleHealthReady).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})).Methods("GET")

	r.HandleFunc("/auth/register", s.rateLimit(ratelimit.ScopeAuthRegister, s.handleRegister)).Methods("POST")
	r.HandleFunc("/auth/login", s.rateLimit(ratelimit.ScopeAuthLogin, s.handleLogin)).Methods("POST")
	r.HandleFunc("/demo/start", s.rateLimit(ratelimit.ScopeDemoStart, s.handleDemoStart)).Methods("POST")

	r.HandleFunc("/files/init", s.rateLimit(ratelimit.ScopeFilesInit, s.handleFilesInit)).Methods("POST")
	r.HandleFunc("/files/{id}/complete", s.rateLimit(ratelimit.ScopeFilesComplete, s.handleFilesComplete)).Methods("POST")
	r.HandleFunc("/files", s.handleFilesList).Methods("GET")
	r.HandleFunc("/files/{id}", s.handleFilesGet).Methods("GET")
	r.HandleFunc("/files/{id}/download-url", s.rateLimit(ratelimit.ScopeFilesDownloadURL, s.handleFilesDownloadURL)).Methods("POST")

	return r
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("upload service listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen and serve: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
