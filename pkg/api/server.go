// Package api exposes the iteration engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/odvcencio/stepwise/pkg/archive"
	"github.com/odvcencio/stepwise/pkg/engine"
	"github.com/odvcencio/stepwise/pkg/logging"
	"github.com/odvcencio/stepwise/pkg/telemetry"
)

const defaultMaxBodyBytes int64 = 10 << 20

// Iterator runs one iteration. *engine.Controller satisfies it.
type Iterator interface {
	Iterate(ctx context.Context, req *engine.Request) *engine.Response
}

// TraceStore loads archived exchanges. *archive.Store satisfies it.
type TraceStore interface {
	Get(ctx context.Context, traceID string) (*archive.Record, error)
	Recent(ctx context.Context, limit int) ([]archive.Summary, error)
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Address to listen on (default: 127.0.0.1:8080)
	Address string

	Engine Iterator

	// Archive enables the trace routes (optional)
	Archive TraceStore

	// Events enables the websocket event stream (optional)
	Events EventSource

	// Ready reports whether a model provider can be called. Nil means
	// ready whenever an engine is configured.
	Ready func() bool

	// JWTSecret enables bearer authentication on /api/v1 when set.
	JWTSecret string

	// RateLimit is requests per second for iteration routes; 0 disables.
	RateLimit float64
	RateBurst int

	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *logging.Logger
}

// Server is the stepwise HTTP server.
type Server struct {
	engine     Iterator
	archive    TraceStore
	events     EventSource
	ready      func() bool
	auth       *Authenticator
	limiter    *rate.Limiter
	maxBody    int64
	logger     *logging.Logger
	handler    http.Handler
	httpServer *http.Server
}

// NewServer creates the server and its routes.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8080"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Server{
		engine:  cfg.Engine,
		archive: cfg.Archive,
		events:  cfg.Events,
		ready:   cfg.Ready,
		maxBody: cfg.MaxBodyBytes,
		logger:  logger,
	}
	if cfg.JWTSecret != "" {
		s.auth = NewAuthenticator(cfg.JWTSecret)
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.logRequests)

	router.Get("/healthz", s.handleHealthz)
	router.Get("/readyz", s.handleReadyz)
	router.Handle("/metrics", telemetry.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.rateLimitMiddleware).Post("/iterate", s.handleIterate)
		r.Get("/traces", s.handleListTraces)
		r.Get("/traces/{id}", s.handleGetTrace)
		r.With(s.rateLimitMiddleware).Post("/traces/{id}/replay", s.handleReplayTrace)
		r.Get("/events", s.handleEvents)
	})

	s.handler = router
	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the API server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": "engine not initialized"})
		return
	}
	if s.ready != nil && !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "reason": "no model provider configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleIterate answers 200 for every engine outcome. Failures are in the
// body so the caller always gets the debug trace.
func (s *Server) handleIterate(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not initialized")
		return
	}
	var req engine.Request
	if status, err := decodeJSONBody(w, r, &req, s.maxBody); err != nil {
		writeError(w, status, "invalid request body: "+err.Error())
		return
	}
	if claims, ok := ClaimsFrom(r.Context()); ok {
		_ = s.logger.Debug(logging.CategoryAPI, "iterate.caller", "authenticated iteration", map[string]any{
			"caller":    claims.Caller,
			"model":     req.Model,
			"iteration": req.Iteration,
		})
	}
	writeJSON(w, http.StatusOK, s.engine.Iterate(r.Context(), &req))
}

// handleListTraces returns the newest archived exchanges. ?limit caps the
// count (default 50).
func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "trace archive is disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := s.archive.Recent(r.Context(), limit)
	if err != nil {
		_ = s.logger.Warn(logging.CategoryAPI, "trace.list_failed", "could not list traces", map[string]any{
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "failed to list traces")
		return
	}
	if list == nil {
		list = []archive.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"traces": list})
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadTrace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleReplayTrace runs an archived request again. The replay gets a new
// trace id of its own.
func (s *Server) handleReplayTrace(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not initialized")
		return
	}
	rec, ok := s.loadTrace(w, r)
	if !ok {
		return
	}
	var req engine.Request
	if err := json.Unmarshal(rec.Request, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "archived request is not replayable: "+err.Error())
		return
	}
	w.Header().Set("X-Replay-Of", rec.TraceID)
	writeJSON(w, http.StatusOK, s.engine.Iterate(r.Context(), &req))
}

func (s *Server) loadTrace(w http.ResponseWriter, r *http.Request) (*archive.Record, bool) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "trace archive is disabled")
		return nil, false
	}
	id := chi.URLParam(r, "id")
	rec, err := s.archive.Get(r.Context(), id)
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trace not found: "+id)
		return nil, false
	}
	if err != nil {
		_ = s.logger.Warn(logging.CategoryAPI, "trace.load_failed", "could not load trace", map[string]any{
			"trace_id": id,
			"error":    err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "failed to load trace")
		return nil, false
	}
	return rec, true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) (int, error) {
	if r.Body == nil {
		return http.StatusBadRequest, errors.New("request body required")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return http.StatusBadRequest, errors.New("request body required")
		}
		return http.StatusBadRequest, err
	}
	return 0, nil
}

// Helpers
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
