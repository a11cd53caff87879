// Package server provides the web UI and HTTP API for running analyses.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/jonathan/auto-analyzer/internal/history"
	"github.com/jonathan/auto-analyzer/internal/pipeline"
	"github.com/jonathan/auto-analyzer/internal/server/middleware"
	"github.com/jonathan/auto-analyzer/internal/server/ratelimit"
	"github.com/jonathan/auto-analyzer/internal/workspace"
)

// maxUploadBytes bounds uploaded CSV files.
const maxUploadBytes = 100 << 20

// Runner executes the pipeline. *pipeline.Orchestrator implements it.
type Runner interface {
	RunWithProgress(ctx context.Context, inputPath string, onProgress pipeline.ProgressCallback) (*pipeline.RunResult, error)
	Layout() workspace.Layout
}

// Config holds server configuration
type Config struct {
	Port    int
	Runner  Runner
	History history.Store      // Optional; /api/runs listing is disabled without it
	Tokens  *Tokens            // Optional; /api routes are open without it
	Limiter *ratelimit.Limiter // Optional
	Logger  *slog.Logger
	// UploadDir holds temporary upload copies. Defaults to os.TempDir().
	UploadDir string
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	runner      Runner
	layout      workspace.Layout
	history     history.Store
	tokens      *Tokens
	rateLimiter *ratelimit.Limiter
	runSlot     *semaphore.Weighted
	running     atomic.Bool
	uploadDir   string
	logger      *slog.Logger
	handler     http.Handler
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("server requires a pipeline runner")
	}

	s := &Server{
		runner:      cfg.Runner,
		layout:      cfg.Runner.Layout(),
		history:     cfg.History,
		tokens:      cfg.Tokens,
		rateLimiter: cfg.Limiter,
		runSlot:     semaphore.NewWeighted(1),
		uploadDir:   cfg.UploadDir,
		logger:      cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux := http.NewServeMux()

	// Browser UI
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("GET /files/{path...}", s.handleFile)

	// Operations
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// JSON API
	mux.Handle("POST /api/runs", s.protect(s.handleCreateRun))
	mux.Handle("POST /api/runs/stream", s.protect(s.handleRunStream))
	mux.Handle("GET /api/runs", s.protect(s.handleListRuns))
	mux.Handle("GET /api/runs/{id}", s.protect(s.handleGetRun))

	var handler http.Handler = mux
	if s.rateLimiter != nil {
		handler = s.withRateLimit(handler)
	}
	s.handler = s.withLogging(s.withCORS(handler))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0, // Runs stream for as long as the agents take
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr, "work_dir", s.layout.Root, "auth", s.tokens != nil)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.logger.Info("server stopped")
	return nil
}

// protect requires a bearer token on API handlers when token signing is configured.
func (s *Server) protect(h http.HandlerFunc) http.Handler {
	if s.tokens == nil {
		return h
	}
	return middleware.AuthMiddleware(s.tokens)(h)
}

// acquireRun claims the single run slot. The caller must call the returned release.
func (s *Server) acquireRun() (release func(), err error) {
	if !s.runSlot.TryAcquire(1) {
		return nil, ErrRunInProgress
	}
	s.running.Store(true)
	return func() {
		s.running.Store(false)
		s.runSlot.Release(1)
	}, nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(clientID(r), r.URL.Path, r.Method)
		setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logs. It passes Flush
// through so SSE keeps working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "idle"
	if s.running.Load() {
		status = "running"
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok", "pipeline": status})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("error encoding JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// clientID identifies the caller by the IP part of RemoteAddr.
func clientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		response["retry_after"] = int(info.RetryAfter.Seconds())
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(info.RetryAfter.Seconds())))
	}

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
