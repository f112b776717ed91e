// Package server exposes the HTTP surface: history queries, correlation
// matrices and backtest runs over the loaded archives.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/futsim/futsim/internal/asset"
	"github.com/futsim/futsim/internal/backtest"
	"github.com/futsim/futsim/internal/config"
	"github.com/futsim/futsim/internal/metrics"
)

// Server is the read-only HTTP front end. All state behind it is immutable
// after startup; every request runs against shared archives.
type Server struct {
	router         *mux.Router
	server         *http.Server
	manager        *asset.Manager
	backtestConfig backtest.Config
	limiter        *rate.Limiter
	now            func() time.Time
}

// New wires the routes and middleware.
func New(serverConfig config.ServerConfig, backtestConfig backtest.Config, manager *asset.Manager) *Server {
	s := &Server{
		router:         mux.NewRouter(),
		manager:        manager,
		backtestConfig: backtestConfig,
		limiter:        rate.NewLimiter(rate.Limit(serverConfig.RequestsPerSecond), serverConfig.RequestBurst),
		now:            time.Now,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         serverConfig.Listen,
		Handler:      s.router,
		ReadTimeout:  serverConfig.ReadTimeout,
		WriteTimeout: serverConfig.WriteTimeout,
		IdleTimeout:  serverConfig.IdleTimeout,
	}
	metrics.ArchivesLoaded.Set(float64(len(manager.Symbols())))
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodPost)
	api.HandleFunc("/correlation", s.handleCorrelation).Methods(http.MethodPost)
	api.HandleFunc("/backtest", s.handleBacktest).Methods(http.MethodPost)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// Start blocks serving requests until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	log.Info().Str("listen", s.server.Addr).Msg("Starting HTTP server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		route := r.URL.Path
		metrics.RequestDuration.
			WithLabelValues(route, strconv.Itoa(wrapper.status)).
			Observe(time.Since(started).Seconds())
		log.Info().
			Str("method", r.Method).
			Str("path", route).
			Int("status", wrapper.status).
			Dur("elapsed", time.Since(started)).
			Str("remote", r.RemoteAddr).
			Msg("Request")
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","archives":%d}`, len(s.manager.Symbols()))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
