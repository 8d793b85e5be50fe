package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ppiankov/sentinel/internal/gate"
	"github.com/ppiankov/sentinel/internal/reason"
)

// RequestIDHeader carries the per-request trace id.
const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

// requestID tags each request with the caller's id or a fresh UUID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"trace_id", traceID(r.Context()),
		)
	})
}

// recoverer turns a handler panic into a fail-closed ERROR response. The
// panic value is logged, never returned.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("handler panic", "path", r.URL.Path, "panic", rec, "trace_id", traceID(r.Context()))
			if r.URL.Path == "/evaluate" {
				writeJSON(w, http.StatusInternalServerError, gate.Result{
					Status: gate.StatusError, Details: []string{gate.LegacyErrorCode},
				})
				return
			}
			writeJSON(w, http.StatusInternalServerError, s.eval.Reject("", reason.Internal, "internal error", sourceHTTP))
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimit refuses evaluations over the per-client limit with 429 and an
// ERROR decision.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(client); err == nil {
			client = host
		}
		result := s.limiter.Allow(client)
		if !result.Exceeded {
			next.ServeHTTP(w, r)
			return
		}

		s.logger.Warn("rate limited", "client", client, "reason", result.Reason, "trace_id", traceID(r.Context()))
		if r.URL.Path == "/evaluate" {
			writeJSON(w, http.StatusTooManyRequests, gate.Result{
				Status: gate.StatusError, Details: []string{gate.LegacyErrorCode},
			})
			return
		}
		writeJSON(w, http.StatusTooManyRequests, s.eval.Reject("", reason.Internal, "rate limit exceeded", sourceHTTP))
	})
}
