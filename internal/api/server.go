// Package api serves the gate over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/gate"
	"github.com/ppiankov/sentinel/internal/ratelimit"
	"github.com/ppiankov/sentinel/internal/reason"
)

// DefaultMaxBodyBytes caps request bodies. It sits well above the telemetry
// ceiling so oversized telemetry still reaches the gate's own check.
const DefaultMaxBodyBytes = 1 << 20

// StatusNoData is reported by /status before the first evaluation.
const StatusNoData = "NO_DATA"

// Evaluator is the gate surface the HTTP adapter needs.
type Evaluator interface {
	Evaluate(raw any, source string) contract.Response
	Snapshot(telemetry map[string]any, source string) gate.Result
	Reject(requestID string, code reason.Code, detail, source string) contract.Response
}

// Server is the HTTP adapter. It remembers the last legacy status triple.
type Server struct {
	eval    Evaluator
	logger  *slog.Logger
	maxBody int64
	limiter *ratelimit.Limiter

	mu   sync.RWMutex
	last *gate.Result
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option { return func(s *Server) { s.maxBody = n } }

// WithRateLimit caps evaluations per client address.
func WithRateLimit(l *ratelimit.Limiter) Option { return func(s *Server) { s.limiter = l } }

// New returns an HTTP adapter over eval.
func New(eval Evaluator, opts ...Option) *Server {
	s := &Server{eval: eval, logger: slog.Default(), maxBody: DefaultMaxBodyBytes}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(s.recoverer)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/v3/evaluate", s.handleEvaluate)
		r.Post("/evaluate", s.handleSnapshot)
	})
	r.Get("/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx ends.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

// LastStatus returns the most recent legacy triple, if any.
func (s *Server) LastStatus() (gate.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return gate.Result{}, false
	}
	return *s.last, true
}

func (s *Server) remember(r gate.Result) {
	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()
}
