// Package api exposes the HTTP interface for the verification gateway.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/migrapass/checkgate/internal/browser"
	"github.com/migrapass/checkgate/internal/captcha"
	"github.com/migrapass/checkgate/internal/checks"
	"github.com/migrapass/checkgate/internal/config"
	"github.com/migrapass/checkgate/internal/gateway"
	"github.com/migrapass/checkgate/internal/metrics"
)

// IDGenerator produces request correlation IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Server wires HTTP handlers to the check registry.
type Server struct {
	router   chi.Router
	registry *checks.Registry
	pool     *browser.Pool
	solver   *captcha.Solver
	idGen    IDGenerator
	logger   *zap.Logger
	cfg      config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	registry *checks.Registry,
	pool *browser.Pool,
	solver *captcha.Solver,
	idGen IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: registry,
		pool:     pool,
		solver:   solver,
		idGen:    idGen,
		logger:   logger,
		cfg:      cfg,
	}

	requestTimeout := time.Duration(cfg.Server.RequestTimeoutMs) * time.Millisecond
	if requestTimeout <= 0 {
		requestTimeout = 90 * time.Second
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/checks", func(r chi.Router) {
			r.Get("/", s.listChecks)
			r.Route("/{check_type}", func(r chi.Router) {
				r.Post("/", s.runCheck)
				r.Delete("/cache", s.invalidateCache)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":          "ready",
		"browser_running": s.pool.Running(),
		"breakers":        s.registry.BreakerPhases(),
	}
	if s.solver.Enabled() {
		// Advisory only; nil when the provider cannot be reached.
		if balance := s.solver.Balance(r.Context()); balance != nil {
			body["captcha_balance"] = *balance
		}
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) listChecks(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"checks": s.registry.Types()})
}

func (s *Server) runCheck(w http.ResponseWriter, r *http.Request) {
	check, ok := gateway.ParseCheckType(chi.URLParam(r, "check_type"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown check type")
		return
	}
	g, ok := s.registry.Gateway(check)
	if !ok {
		s.writeError(w, http.StatusNotFound, "check not registered")
		return
	}

	var input gateway.Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	result := g.Execute(r.Context(), input)

	status := http.StatusOK
	if result.Status == gateway.StatusError && result.Payload == nil {
		status = http.StatusServiceUnavailable
		if result.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
		}
	}
	s.writeJSON(w, status, result)
}

func (s *Server) invalidateCache(w http.ResponseWriter, r *http.Request) {
	check, ok := gateway.ParseCheckType(chi.URLParam(r, "check_type"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown check type")
		return
	}
	g, ok := s.registry.Gateway(check)
	if !ok {
		s.writeError(w, http.StatusNotFound, "check not registered")
		return
	}

	var input gateway.Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := g.Invalidate(r.Context(), input); err != nil {
		s.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"check": string(check), "cache": "invalidated"})
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, err := s.idGen.NewID()
		if err != nil {
			reqID = "unknown"
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
