// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/reviewgen/internal/history"
	"github.com/jeranaias/reviewgen/internal/llm"
	"github.com/jeranaias/reviewgen/internal/review"
	"github.com/jeranaias/reviewgen/internal/validate"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr binds to loopback only.
	DefaultAddr = "127.0.0.1:8787"

	// DefaultMaxBodyBytes limits a request body (1MB).
	DefaultMaxBodyBytes = 1 << 20

	// MaxAttemptsLimit caps a per-request attempt override.
	MaxAttemptsLimit = 10

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// Version is the API version reported by /health.
	Version = "1"
)

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats counts served work since start.
type Stats struct {
	Requests atomic.Int64
	Reviews  atomic.Int64
	Accepted atomic.Int64
	Degraded atomic.Int64
	Failed   atomic.Int64
	Tokens   atomic.Int64

	start time.Time
}

// StatsSnapshot is the JSON form of Stats.
type StatsSnapshot struct {
	Requests   int64     `json:"requests"`
	Reviews    int64     `json:"reviews"`
	Accepted   int64     `json:"accepted"`
	Degraded   int64     `json:"degraded"`
	Failed     int64     `json:"failed"`
	Tokens     int64     `json:"tokens"`
	StartTime  time.Time `json:"start_time"`
	UptimeSecs int64     `json:"uptime_secs"`
}

func (s *Stats) record(r *review.Result) {
	s.Reviews.Add(1)
	s.Tokens.Add(int64(r.TotalTokens()))
	switch r.State {
	case review.StateAccepted:
		s.Accepted.Add(1)
	case review.StateDegraded:
		s.Degraded.Add(1)
	default:
		s.Failed.Add(1)
	}
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Requests:   s.Requests.Load(),
		Reviews:    s.Reviews.Load(),
		Accepted:   s.Accepted.Load(),
		Degraded:   s.Degraded.Load(),
		Failed:     s.Failed.Load(),
		Tokens:     s.Tokens.Load(),
		StartTime:  s.start,
		UptimeSecs: int64(time.Since(s.start).Seconds()),
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Config holds server settings.
type Config struct {
	Addr string

	// AuthToken enables bearer authentication when non-empty.
	AuthToken string

	// RateLimitPerMinute is per client IP; zero disables limiting.
	RateLimitPerMinute int

	MaxBodyBytes int64

	// Review is the orchestrator baseline; OnFragment is ignored.
	Review review.Config
}

// Server is the HTTP review API.
type Server struct {
	cfg       Config
	client    *llm.Client
	validator *validate.Validator
	store     *history.Store
	log       logrus.FieldLogger

	// sem admits one review at a time; the client is single-goroutine.
	sem     chan struct{}
	stats   *Stats
	mux     *http.ServeMux
	limiter *RateLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithHistory records reviews to store and enables the history endpoints.
func WithHistory(store *history.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) { s.log = log }
}

// New creates a Server. A nil validator uses the default profile.
func New(client *llm.Client, validator *validate.Validator, cfg Config, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if validator == nil {
		validator = validate.New(nil)
	}
	cfg.Review.OnFragment = nil

	s := &Server{
		cfg:       cfg,
		client:    client,
		validator: validator,
		sem:       make(chan struct{}, 1),
		stats:     &Stats{start: time.Now()},
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimitPerMinute)
	}

	s.setupRoutes()
	return s
}

// Stats returns the live counters.
func (s *Server) Stats() *Stats {
	return s.stats
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/review", s.handleReview)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)
	s.mux.HandleFunc("GET /v1/history", s.handleHistoryList)
	s.mux.HandleFunc("GET /v1/history/{id}", s.handleHistoryGet)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.log),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.log),
		s.countMiddleware,
	}
	if s.limiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter, s.log))
	}
	if s.cfg.AuthToken != "" {
		middlewares = append(middlewares, AuthMiddleware(s.cfg.AuthToken, s.log))
	}
	return Chain(middlewares...)(s.mux)
}

func (s *Server) countMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.stats.Requests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// ListenAndServe serves on cfg.Addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done. Request contexts derive from ctx,
// so a running review is canceled on shutdown and recorded as failed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// no WriteTimeout: a review with retries can run for minutes
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.WithField("addr", ln.Addr().String()).Info("Review server listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("Review server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ============================================================================
// HELPERS
// ============================================================================

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Debug("Writing response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorBody{Error: ErrorDetail{Message: message, Code: status}})
}
