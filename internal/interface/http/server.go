// Package http implements the JSON API and the websocket change stream of
// SparkQuest Hub.
package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sparkquest/sparkquest-hub/internal/application/command"
	"github.com/sparkquest/sparkquest-hub/internal/application/query"
	"github.com/sparkquest/sparkquest-hub/internal/application/saga"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/messaging"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/metrics"
	"github.com/sparkquest/sparkquest-hub/internal/interface/http/handlers"
	"github.com/sparkquest/sparkquest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr - address to listen on (default: ":8080").
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes - maximum size of JSON request bodies.
	MaxBodyBytes int64

	// RequestTimeout - deadline put on every API request context. Streams
	// are exempt.
	RequestTimeout time.Duration

	// AllowedOrigins - allowed origins for CORS and websocket upgrades.
	// Empty allows any origin.
	AllowedOrigins []string

	// EnableMetrics - expose Prometheus metrics at MetricsPath.
	EnableMetrics bool
	MetricsPath   string

	// RequestsPerSecond - sustained requests per client IP (0 = disabled).
	RequestsPerSecond float64
	RequestBurst      int

	// StreamPing - interval of websocket keepalive pings.
	StreamPing time.Duration

	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		MaxBodyBytes:   1 << 20,
		RequestTimeout: 45 * time.Second,
		EnableMetrics:  true,
		MetricsPath:    "/metrics",
		RequestBurst:   20,
		StreamPing:     30 * time.Second,
		Version:        "v1",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Command side
	CreateTopic *command.CreateTopicHandler
	Resolver    *command.SectionResolver
	Learning    *saga.LearningFlowSaga
	Transaction *command.AppendTransactionHandler

	// Query side
	Topics           topic.Repository
	GetBalance       *query.GetBalanceHandler
	ListTransactions *query.ListTransactionsHandler
	GetProgress      *query.GetProgressHandler
	GetStreak        *query.GetStreakHandler
	GetAchievements  *query.GetAchievementsHandler

	// Sync layer. A nil hub disables the stream endpoint.
	Hub *messaging.ChildHub

	// Per-child feature gates. Nil means enabled.
	Illustrations func(childID string) bool
	Realtime      func(childID string) bool

	HealthChecker handlers.HealthChecker
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *slog.Logger
	limiter    *handlers.IPRateLimiter
	streams    *streamRegistry

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	defaults := DefaultConfig()
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.StreamPing <= 0 {
		config.StreamPing = defaults.StreamPing
	}
	if config.MetricsPath == "" {
		config.MetricsPath = defaults.MetricsPath
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:  config,
		deps:    deps,
		router:  http.NewServeMux(),
		logger:  deps.Logger.With("component", "http"),
		streams: newStreamRegistry(),
	}

	if config.RequestsPerSecond > 0 {
		s.limiter = handlers.NewIPRateLimiter(config.RequestsPerSecond, config.RequestBurst)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Addr,
		Handler:        s.buildMiddlewareChain(s.router),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.route("GET /health", s.handleHealth)
	s.route("GET /healthz", s.handleHealth)
	s.route("GET /ready", s.handleReady)
	s.route("GET /live", s.handleLive)
	s.route("GET /{$}", s.handleRoot)

	// ─────────────────────────────────────────────────────────────────────────
	// Topics & Sections
	// ─────────────────────────────────────────────────────────────────────────
	s.api("POST /v1/topics", s.handleCreateTopic)
	s.api("GET /v1/topics/{topicID}", s.handleGetTopic)
	s.api("GET /v1/topics/{topicID}/sections/{index}", s.handleResolveSection)
	s.api("POST /v1/topics/{topicID}/sections/{index}/regenerate", s.handleRegenerateSection)
	s.api("DELETE /v1/topics/{topicID}/sections/{index}", s.handleInvalidateSection)

	// ─────────────────────────────────────────────────────────────────────────
	// Child Progress
	// ─────────────────────────────────────────────────────────────────────────
	s.api("GET /v1/children/{childID}/topics/{topicID}/progress", s.handleGetProgress)
	s.api("POST /v1/children/{childID}/topics/{topicID}/sections/{index}/complete", s.handleCompleteSection)
	s.api("POST /v1/children/{childID}/topics/{topicID}/quiz/complete", s.handleCompleteQuiz)
	s.api("POST /v1/children/{childID}/topics/{topicID}/certificate", s.handleIssueCertificate)

	// ─────────────────────────────────────────────────────────────────────────
	// Sparks, Streak & Achievements
	// ─────────────────────────────────────────────────────────────────────────
	s.api("GET /v1/children/{childID}/balance", s.handleGetBalance)
	s.api("GET /v1/children/{childID}/transactions", s.handleListTransactions)
	s.api("POST /v1/children/{childID}/transactions", s.handleAppendTransaction)
	s.api("GET /v1/children/{childID}/streak", s.handleGetStreak)
	s.api("GET /v1/children/{childID}/achievements", s.handleGetAchievements)

	// ─────────────────────────────────────────────────────────────────────────
	// Sync Stream
	// ─────────────────────────────────────────────────────────────────────────
	if s.deps.Hub != nil {
		s.route("GET /v1/children/{childID}/stream", s.handleStream)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Metrics (if enabled)
	// ─────────────────────────────────────────────────────────────────────────
	if s.config.EnableMetrics {
		s.router.Handle("GET "+s.config.MetricsPath, promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
}

// route registers an instrumented handler.
func (s *Server) route(pattern string, h http.HandlerFunc) {
	s.router.Handle(pattern, s.instrument(pattern, h))
}

// api registers an instrumented JSON API handler with the request deadline and
// no-cache headers.
func (s *Server) api(pattern string, h http.HandlerFunc) {
	s.router.Handle(pattern, s.instrument(pattern, handlers.ChainHandler(h,
		handlers.TimeoutMiddleware(s.config.RequestTimeout),
		handlers.NoCacheMiddleware,
		handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes),
	)))
}

// instrument records request metrics labelled by route pattern.
func (s *Server) instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrapResponseWriter(w)
		next.ServeHTTP(rw, r)
		s.deps.Metrics.Request(r.Method, pattern, rw.statusCode, time.Since(start).Seconds())
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN
// ══════════════════════════════════════════════════════════════════════════════

// buildMiddlewareChain wraps the router with all middleware.
func (s *Server) buildMiddlewareChain(handler http.Handler) http.Handler {
	// Apply middleware in reverse order (last middleware wraps first)
	h := handler

	h = handlers.SecurityHeadersMiddleware(h)

	// Logging middleware
	h = s.loggingMiddleware(h)

	// Request ID middleware (outside logging so the log line carries it)
	h = s.requestIDMiddleware(h)

	// Recovery middleware
	h = s.recoveryMiddleware(h)

	// CORS middleware
	h = s.corsMiddleware(h)

	// Rate limiting middleware
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}

	return h
}

// requestIDMiddleware adds a unique request ID to each request.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		ctx = logger.WithContext(ctx, logger.WithRequestID(s.logger, requestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs all HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrapResponseWriter(w)

		next.ServeHTTP(rw, r)

		level := slog.LevelInfo
		if rw.statusCode >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.FromContext(r.Context()).Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", handlers.ClientIP(r),
		)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				s.logger.Error("panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
					"path", r.URL.Path,
					"request_id", getRequestID(r.Context()),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.limiter != nil {
		go s.sweepLimiter()
	}

	s.logger.Info("starting HTTP server", "address", s.config.Addr)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server. Open streams are closed first
// since http.Server.Shutdown does not wait for hijacked connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	s.streams.closeAll()
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

func (s *Server) sweepLimiter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		if !s.IsRunning() {
			return
		}
		s.limiter.Sweep(10 * time.Minute)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	response := JSONResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta: &ResponseMeta{
			Timestamp: time.Now().UTC(),
			Version:   "v1",
		},
		RequestID: getRequestID(r.Context()),
	}

	_ = json.NewEncoder(w).Encode(response)
}

// writeJSONError writes an error JSON response.
func writeJSONError(w http.ResponseWriter, status int, code, message string, details ...string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	response := JSONResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta: &ResponseMeta{
			Timestamp: time.Now().UTC(),
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER TYPES AND FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack exposes the connection for the websocket upgrade.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	rw.wroteHeader = true
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// getRequestID extracts the request ID from context.
func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
