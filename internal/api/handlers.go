package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/digest-enricher/internal/digest"
	"github.com/JakeFAU/digest-enricher/internal/pipeline"
	"github.com/JakeFAU/digest-enricher/internal/queue"
)

const (
	maxBodyBytes        = 8 << 20
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// ingestRequest is the body of POST /v1/batches/{date}.
type ingestRequest struct {
	Items []pipeline.IngestItem `json:"items"`
}

type ingestResponse struct {
	OK bool `json:"ok"`
	pipeline.IngestResult
}

type enqueueResponse struct {
	OK bool `json:"ok"`
	pipeline.EnqueueResult
}

type translateRequest struct {
	Lang string `json:"lang"`
}

// flushRequest is the body of the flush endpoints. Date is only read by POST /v1/flush.
type flushRequest struct {
	Date  string `json:"date"`
	Type  string `json:"type"`
	Lang  string `json:"lang"`
	Total *int   `json:"total"`
}

type flushResponse struct {
	OK bool `json:"ok"`
	digest.FlushResult
}

type mergeRequest struct {
	Kind        string `json:"kind"`
	Lang        string `json:"lang"`
	MaxAttempts int    `json:"maxAttempts"`
	IntervalMs  int    `json:"intervalMs"`
	Async       bool   `json:"async"`
}

type mergeResponse struct {
	OK      bool   `json:"ok"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func (s *Server) dateParam(r *http.Request) (digest.DateKey, error) {
	return digest.ParseDateKey(chi.URLParam(r, "date"), s.clock.Now())
}

func waitParam(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return false, nil
	}
	wait, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: wait must be a boolean", digest.ErrValidation)
	}
	return wait, nil
}

// writeFailure maps a pipeline error onto the response. Validation errors are the caller's
// fault; everything else is a boundary failure reported with 200 and ok=false.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, digest.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, digest.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, digest.ErrPollTimeout):
		writeError(w, http.StatusOK, "timeout")
	default:
		s.logger.Error(op+" failed", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusOK, err.Error())
	}
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ingestRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items required")
		return
	}
	res, err := s.svc.Ingest(r.Context(), date, req.Items)
	if err != nil {
		s.writeFailure(w, r, "ingest", err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ingestResponse{OK: true, IngestResult: res})
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	batch, err := s.svc.Batch(r.Context(), date)
	if err != nil {
		s.writeFailure(w, r, "get batch", err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

type enqueueFunc func(r *http.Request, date digest.DateKey, wait bool) (pipeline.EnqueueResult, error)

func (s *Server) enqueue(family queue.Family, fn enqueueFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, err := s.dateParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		wait, err := waitParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err := fn(r, date, wait)
		if err != nil {
			s.writeFailure(w, r, "enqueue "+string(family), err)
			return
		}
		s.logger.Info("tasks enqueued",
			zap.String("family", string(family)),
			zap.String("date", date.String()),
			zap.Int("enqueued", res.Enqueued),
			zap.Bool("wait", wait),
		)
		writeJSON(w, http.StatusAccepted, enqueueResponse{OK: true, EnqueueResult: res})
	}
}

func (s *Server) enqueueFetch(w http.ResponseWriter, r *http.Request) {
	s.enqueue(queue.FamilyFetch, func(r *http.Request, date digest.DateKey, wait bool) (pipeline.EnqueueResult, error) {
		return s.svc.EnqueueFetch(r.Context(), date, wait)
	})(w, r)
}

func (s *Server) enqueueSummarize(w http.ResponseWriter, r *http.Request) {
	s.enqueue(queue.FamilySummarize, func(r *http.Request, date digest.DateKey, wait bool) (pipeline.EnqueueResult, error) {
		return s.svc.EnqueueSummarize(r.Context(), date, wait)
	})(w, r)
}

func (s *Server) enqueueIllustrate(w http.ResponseWriter, r *http.Request) {
	s.enqueue(queue.FamilyIllustrate, func(r *http.Request, date digest.DateKey, wait bool) (pipeline.EnqueueResult, error) {
		return s.svc.EnqueueIllustrate(r.Context(), date, wait)
	})(w, r)
}

func (s *Server) enqueueTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var langs []digest.Lang
	if strings.TrimSpace(req.Lang) != "" {
		lang, err := digest.ParseLang(req.Lang)
		if err != nil || !lang.IsTranslation() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("lang must be ko or ja, got %q", req.Lang))
			return
		}
		langs = []digest.Lang{lang}
	}
	s.enqueue(queue.FamilyTranslate, func(r *http.Request, date digest.DateKey, wait bool) (pipeline.EnqueueResult, error) {
		return s.svc.EnqueueTranslate(r.Context(), date, langs, wait)
	})(w, r)
}

func (s *Server) flush(w http.ResponseWriter, r *http.Request) {
	var body flushRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rawDate := chi.URLParam(r, "date")
	if rawDate == "" {
		rawDate = body.Date
	}
	date, err := digest.ParseDateKey(rawDate, s.clock.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Total == nil {
		writeError(w, http.StatusBadRequest, "total required")
		return
	}
	taskType, err := digest.ParseTaskType(body.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := digest.FlushRequest{Type: taskType, Total: *body.Total}
	if strings.TrimSpace(body.Lang) != "" {
		if req.Lang, err = digest.ParseLang(body.Lang); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.svc.Flush(r.Context(), date, req)
	if err != nil {
		s.writeFailure(w, r, "flush", err)
		return
	}
	writeJSON(w, http.StatusOK, flushResponse{OK: true, FlushResult: res})
}

func (s *Server) mergeItem(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	itemID := chi.URLParam(r, "id")
	var body mergeRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := digest.ParseKind(body.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var lang digest.Lang
	if strings.TrimSpace(body.Lang) != "" {
		if lang, err = digest.ParseLang(body.Lang); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if _, err := digest.StagingKeyFor(kind, lang, itemID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := pipeline.MergeRequest{
		ItemID:      itemID,
		Kind:        kind,
		Lang:        lang,
		MaxAttempts: body.MaxAttempts,
		Interval:    time.Duration(body.IntervalMs) * time.Millisecond,
	}
	if body.Async {
		if err := s.svc.AwaitAndSchedule(r.Context(), date, req); err != nil {
			s.writeFailure(w, r, "schedule merge", err)
			return
		}
		writeJSON(w, http.StatusAccepted, mergeResponse{OK: true, Message: "scheduled"})
		return
	}

	res, err := s.svc.AwaitAndMerge(r.Context(), date, req)
	if err != nil {
		s.writeFailure(w, r, "merge", err)
		return
	}
	writeJSON(w, http.StatusOK, mergeResponse{OK: true, Merged: res.Merged, Message: res.Message})
}

func (s *Server) flushHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "flush log unavailable")
		return
	}
	date, err := s.dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := uint64(defaultHistoryLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || n == 0 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}
	runs, err := s.history.Recent(r.Context(), date, limit)
	if err != nil {
		s.writeFailure(w, r, "flush history", err)
		return
	}
	if runs == nil {
		runs = []digest.FlushRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "runs": runs})
}

func (s *Server) queueStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "queues": s.svc.QueueStats()})
}
