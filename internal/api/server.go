// Package api exposes the HTTP interface for the enrichment service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/digest-enricher/internal/clock/system"
	"github.com/JakeFAU/digest-enricher/internal/digest"
	"github.com/JakeFAU/digest-enricher/internal/flush"
	"github.com/JakeFAU/digest-enricher/internal/metrics"
	"github.com/JakeFAU/digest-enricher/internal/pipeline"
	"github.com/JakeFAU/digest-enricher/internal/queue"
)

// DefaultRequestTimeout bounds a request, including ?wait=true enqueues.
const DefaultRequestTimeout = 10 * time.Minute

// Service is the enrichment pipeline as seen by the handlers.
type Service interface {
	Ingest(ctx context.Context, date digest.DateKey, items []pipeline.IngestItem) (pipeline.IngestResult, error)
	Batch(ctx context.Context, date digest.DateKey) (*digest.DailyBatch, error)
	EnqueueFetch(ctx context.Context, date digest.DateKey, wait bool) (pipeline.EnqueueResult, error)
	EnqueueSummarize(ctx context.Context, date digest.DateKey, wait bool) (pipeline.EnqueueResult, error)
	EnqueueTranslate(ctx context.Context, date digest.DateKey, langs []digest.Lang, wait bool) (pipeline.EnqueueResult, error)
	EnqueueIllustrate(ctx context.Context, date digest.DateKey, wait bool) (pipeline.EnqueueResult, error)
	Flush(ctx context.Context, date digest.DateKey, req digest.FlushRequest) (digest.FlushResult, error)
	AwaitAndMerge(ctx context.Context, date digest.DateKey, req pipeline.MergeRequest) (flush.MergeResult, error)
	AwaitAndSchedule(ctx context.Context, date digest.DateKey, req pipeline.MergeRequest) error
	QueueStats() map[queue.Family]queue.Stats
	Ready(ctx context.Context) error
}

// FlushHistory lists recorded flush runs.
type FlushHistory interface {
	Recent(ctx context.Context, date digest.DateKey, limit uint64) ([]digest.FlushRun, error)
}

// Config holds server options. An empty APIKey disables the key guard.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the pipeline.
type Server struct {
	router  chi.Router
	svc     Service
	history FlushHistory
	clock   digest.Clock
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. history may be nil; a nil clock
// means the system UTC clock.
func NewServer(svc Service, history FlushHistory, clock digest.Clock, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if clock == nil {
		clock = system.New()
	}
	s := &Server{
		svc:     svc,
		history: history,
		clock:   clock,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/queues", s.queueStats)
		r.Post("/flush", s.flush)
		r.Route("/batches/{date}", func(r chi.Router) {
			r.Post("/", s.ingest)
			r.Get("/", s.getBatch)
			r.Post("/fetch", s.enqueueFetch)
			r.Post("/summarize", s.enqueueSummarize)
			r.Post("/translate", s.enqueueTranslate)
			r.Post("/illustrate", s.enqueueIllustrate)
			r.Post("/flush", s.flush)
			r.Get("/flushes", s.flushHistory)
			r.Post("/items/{id}/merge", s.mergeItem)
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
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.svc.Ready(ctx); err != nil {
		s.logger.Warn("staging store not ready", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"ok":false,"error":"request timed out"}`)
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{OK: false, Error: msg})
}
