// Package flush merges staged results into the canonical daily document.
package flush

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/digest-enricher/internal/digest"
	"github.com/JakeFAU/digest-enricher/internal/metrics"
	"github.com/JakeFAU/digest-enricher/internal/queue"
)

// FlushedEvent is the notification published after a flush patched items.
const FlushedEvent = "batch.flushed"

// BatchStore reads and overwrites canonical documents.
type BatchStore interface {
	GetBatch(ctx context.Context, date digest.DateKey) (*digest.DailyBatch, error)
	PutBatch(ctx context.Context, batch *digest.DailyBatch) error
}

// Notification is the payload published on FlushedEvent.
type Notification struct {
	Event   string          `json:"event"`
	Date    digest.DateKey  `json:"date"`
	Type    digest.TaskType `json:"type"`
	Lang    digest.Lang     `json:"lang,omitempty"`
	Flushed int             `json:"flushed"`
	Counts  digest.Counts   `json:"counts"`
	At      time.Time       `json:"at"`
}

// Attributes exposes routing attributes for message brokers.
func (n Notification) Attributes() map[string]string {
	attrs := map[string]string{
		"event": n.Event,
		"date":  n.Date.String(),
		"type":  string(n.Type),
	}
	if n.Lang != "" {
		attrs["lang"] = string(n.Lang)
	}
	return attrs
}

// MergeResult reports a single-item merge.
type MergeResult struct {
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// Coordinator owns every write to canonical documents. All writes run on the merge queue,
// which executes one task at a time.
type Coordinator struct {
	docs     BatchStore
	staging  digest.StagingStore
	merges   *queue.Queue
	flushLog digest.FlushLog
	pub      digest.Publisher
	topic    string
	clock    digest.Clock
	ids      digest.IDGenerator
	logger   *zap.Logger
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithFlushLog records every patching flush.
func WithFlushLog(log digest.FlushLog) Option {
	return func(c *Coordinator) { c.flushLog = log }
}

// WithPublisher announces every patching flush on topic.
func WithPublisher(pub digest.Publisher, topic string) Option {
	return func(c *Coordinator) {
		c.pub = pub
		c.topic = topic
	}
}

// WithClock overrides the time source.
func WithClock(clock digest.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithIDGenerator sets the generator used for flush run ids.
func WithIDGenerator(ids digest.IDGenerator) Option {
	return func(c *Coordinator) { c.ids = ids }
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// New builds a Coordinator.
func New(docs BatchStore, staging digest.StagingStore, merges *queue.Queue, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if docs == nil || staging == nil || merges == nil {
		return nil, fmt.Errorf("document store, staging store and merge queue are required")
	}
	if merges.Concurrency() != 1 {
		return nil, fmt.Errorf("merge queue must run one task at a time, got %d", merges.Concurrency())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		docs:    docs,
		staging: staging,
		merges:  merges,
		clock:   wallClock{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// onMergeQueue runs fn on the merge queue and waits for its result.
func onMergeQueue[T any](ctx context.Context, merges *queue.Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	err := merges.Add(func(context.Context) error {
		if err := ctx.Err(); err != nil {
			done <- outcome{err: err}
			return nil
		}
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
		return err
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("enqueue merge: %w", err)
	}
	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Create stores batch unless a document for its date already exists. It reports whether the
// document was written.
func (c *Coordinator) Create(ctx context.Context, batch *digest.DailyBatch) (bool, error) {
	if batch == nil {
		return false, fmt.Errorf("%w: batch is required", digest.ErrValidation)
	}
	if err := batch.Validate(); err != nil {
		return false, err
	}
	return onMergeQueue(ctx, c.merges, func(ctx context.Context) (bool, error) {
		existing, err := c.docs.GetBatch(ctx, batch.Date)
		if err != nil {
			return false, err
		}
		if existing != nil {
			c.logger.Info("batch already exists", zap.String("date", batch.Date.String()))
			return false, nil
		}
		if err := c.docs.PutBatch(ctx, batch); err != nil {
			return false, err
		}
		c.logger.Info("batch created", zap.String("date", batch.Date.String()), zap.Int("items", len(batch.Items)))
		return true, nil
	})
}

// ScheduleMerge queues a single-item merge and returns without waiting.
func (c *Coordinator) ScheduleMerge(date digest.DateKey, itemID string, kind digest.Kind, lang digest.Lang) error {
	if _, err := digest.StagingKeyFor(kind, lang, itemID); err != nil {
		return err
	}
	return c.merges.Add(func(ctx context.Context) error {
		_, err := c.mergeItem(ctx, date, itemID, kind, lang)
		return err
	})
}

// MergeItem runs a single-item merge on the merge queue and waits for its result.
func (c *Coordinator) MergeItem(ctx context.Context, date digest.DateKey, itemID string, kind digest.Kind, lang digest.Lang) (MergeResult, error) {
	if _, err := digest.StagingKeyFor(kind, lang, itemID); err != nil {
		return MergeResult{}, err
	}
	return onMergeQueue(ctx, c.merges, func(ctx context.Context) (MergeResult, error) {
		return c.mergeItem(ctx, date, itemID, kind, lang)
	})
}

func (c *Coordinator) mergeItem(ctx context.Context, date digest.DateKey, itemID string, kind digest.Kind, lang digest.Lang) (MergeResult, error) {
	if kind == digest.KindSummary {
		lang = digest.LangEN
	}
	raw, err := digest.StagingKeyFor(kind, lang, itemID)
	if err != nil {
		return MergeResult{}, err
	}
	logger := c.logger.With(zap.String("date", date.String()), zap.String("item_id", itemID), zap.String("key", raw))

	value, ok, err := c.staging.Get(ctx, raw)
	if err != nil {
		metrics.ObserveMerge(string(kind), "error")
		return MergeResult{}, err
	}
	if !ok {
		metrics.ObserveMerge(string(kind), "noop")
		return MergeResult{Message: "staged value not found"}, nil
	}

	batch, err := c.docs.GetBatch(ctx, date)
	if err != nil {
		metrics.ObserveMerge(string(kind), "error")
		return MergeResult{}, err
	}
	if batch == nil {
		metrics.ObserveMerge(string(kind), "error")
		return MergeResult{}, fmt.Errorf("batch %s: %w", date, digest.ErrNotFound)
	}
	idx := batch.Find(itemID)
	if idx < 0 {
		metrics.ObserveMerge(string(kind), "noop")
		return MergeResult{Message: "item not found"}, nil
	}

	key := digest.StagingKey{Raw: raw, Kind: kind, Lang: lang, ItemID: itemID}
	patched, err := applyPatch(&batch.Items[idx], key, value)
	if err != nil {
		metrics.ObserveMerge(string(kind), "error")
		return MergeResult{}, err
	}
	if patched {
		if err := c.docs.PutBatch(ctx, batch); err != nil {
			metrics.ObserveMerge(string(kind), "error")
			return MergeResult{}, err
		}
	}
	if err := c.staging.Delete(ctx, raw); err != nil {
		logger.Warn("consumed staging key not deleted", zap.Error(err))
	}

	if !patched {
		metrics.ObserveMerge(string(kind), "skipped")
		logger.Debug("merge skipped, field already populated")
		return MergeResult{Message: "field already populated"}, nil
	}
	metrics.ObserveMerge(string(kind), "merged")
	logger.Info("item merged", zap.String("kind", string(kind)))
	return MergeResult{Merged: true, Message: "merged"}, nil
}

// Flush merges every staged result of req.Type into the document for date once the staged
// count exactly equals req.Total. It runs on the merge queue.
func (c *Coordinator) Flush(ctx context.Context, date digest.DateKey, req digest.FlushRequest) (digest.FlushResult, error) {
	if err := req.Validate(); err != nil {
		return digest.FlushResult{}, err
	}
	return onMergeQueue(ctx, c.merges, func(ctx context.Context) (res digest.FlushResult, err error) {
		ctx, span := metrics.StartSpan(ctx, "flush",
			attribute.String("batch.date", string(date)),
			attribute.String("flush.type", string(req.Type)),
			attribute.Int("flush.total", req.Total),
		)
		defer func() { metrics.EndSpan(span, err) }()
		return c.flush(ctx, date, req)
	})
}

// staged groups parsed staging keys by kind.
type staged struct {
	counts digest.Counts
	total  int
	keys   []digest.StagingKey
}

func (c *Coordinator) collect(ctx context.Context) (staged, error) {
	var s staged
	seen := make(map[string]struct{})
	for _, pattern := range digest.StagingPatterns {
		keys, err := c.staging.Keys(ctx, pattern)
		if err != nil {
			return staged{}, fmt.Errorf("list %s: %w", pattern, err)
		}
		for _, raw := range keys {
			if _, dup := seen[raw]; dup {
				continue
			}
			key, ok := digest.ParseStagingKey(raw)
			if !ok {
				continue
			}
			seen[raw] = struct{}{}
			switch {
			case key.Kind == digest.KindContent:
				s.counts.Content++
			case key.Kind == digest.KindSummary:
				s.counts.EN++
			case key.Lang == digest.LangKO:
				s.counts.KO++
			case key.Lang == digest.LangJA:
				s.counts.JA++
			}
			s.keys = append(s.keys, key)
		}
	}
	s.total = s.counts.EN + s.counts.KO + s.counts.JA + s.counts.Content
	sort.Slice(s.keys, func(i, j int) bool { return s.keys[i].Raw < s.keys[j].Raw })
	return s, nil
}

// gate reports whether the staged counts satisfy req, with a message when they do not.
func gate(counts digest.Counts, req digest.FlushRequest) (bool, string) {
	check := func(name string, n int) (bool, string) {
		if n != req.Total {
			return false, fmt.Sprintf("%s staged %d of %d", name, n, req.Total)
		}
		return true, ""
	}
	switch req.Type {
	case digest.TaskSummarize:
		return check("en", counts.EN)
	case digest.TaskFetch:
		return check("content", counts.Content)
	case digest.TaskTranslate:
		switch req.Lang {
		case digest.LangKO:
			return check("ko", counts.KO)
		case digest.LangJA:
			return check("ja", counts.JA)
		default:
			if ok, msg := check("ko", counts.KO); !ok {
				return false, msg
			}
			return check("ja", counts.JA)
		}
	}
	return false, fmt.Sprintf("unsupported type %q", req.Type)
}

// wants reports whether key belongs to the flush described by req.
func wants(key digest.StagingKey, req digest.FlushRequest) bool {
	switch req.Type {
	case digest.TaskSummarize:
		return key.Kind == digest.KindSummary
	case digest.TaskFetch:
		return key.Kind == digest.KindContent
	case digest.TaskTranslate:
		return key.Kind == digest.KindTranslation && (req.Lang == "" || key.Lang == req.Lang)
	}
	return false
}

func (c *Coordinator) flush(ctx context.Context, date digest.DateKey, req digest.FlushRequest) (digest.FlushResult, error) {
	started := c.clock.Now()
	logger := c.logger.With(
		zap.String("date", date.String()),
		zap.String("type", string(req.Type)),
		zap.String("lang", string(req.Lang)),
		zap.Int("total", req.Total),
	)

	s, err := c.collect(ctx)
	if err != nil {
		metrics.ObserveFlush(string(req.Type), "error", 0)
		return digest.FlushResult{}, err
	}
	result := digest.FlushResult{Counts: s.counts, TotalKeys: s.total}

	ok, why := gate(s.counts, req)
	if !ok {
		result.Message = "not ready: " + why
		metrics.ObserveFlush(string(req.Type), "gated", 0)
		logger.Info("flush gate not met", zap.String("reason", why))
		return result, nil
	}
	result.Attempted = true
	result.CanFlush = true

	batch, err := c.docs.GetBatch(ctx, date)
	if err != nil {
		metrics.ObserveFlush(string(req.Type), "error", 0)
		return result, err
	}
	if batch == nil {
		metrics.ObserveFlush(string(req.Type), "error", 0)
		return result, fmt.Errorf("batch %s: %w", date, digest.ErrNotFound)
	}

	patchedItems := make(map[string]struct{})
	var consumed []string
	skipped := 0
	for _, key := range s.keys {
		if !wants(key, req) {
			continue
		}
		idx := batch.Find(key.ItemID)
		if idx < 0 {
			continue
		}
		value, present, err := c.staging.Get(ctx, key.Raw)
		if err != nil {
			metrics.ObserveFlush(string(req.Type), "error", 0)
			return result, err
		}
		if !present {
			continue
		}
		changed, err := applyPatch(&batch.Items[idx], key, value)
		if err != nil {
			logger.Warn("staged value rejected", zap.String("key", key.Raw), zap.Error(err))
			continue
		}
		consumed = append(consumed, key.Raw)
		if changed {
			patchedItems[key.ItemID] = struct{}{}
		} else {
			skipped++
		}
	}

	if len(patchedItems) > 0 {
		if err := c.docs.PutBatch(ctx, batch); err != nil {
			metrics.ObserveFlush(string(req.Type), "error", 0)
			return result, err
		}
	}
	if len(consumed) > 0 {
		if err := c.staging.Delete(ctx, consumed...); err != nil {
			metrics.ObserveFlush(string(req.Type), "error", len(patchedItems))
			return result, fmt.Errorf("delete consumed keys: %w", err)
		}
	}

	result.Flushed = len(patchedItems)
	result.Message = fmt.Sprintf("flushed %d items, skipped %d already populated, consumed %d keys",
		result.Flushed, skipped, len(consumed))
	outcome := "flushed"
	if result.Flushed == 0 {
		outcome = "noop"
	}
	metrics.ObserveFlush(string(req.Type), outcome, result.Flushed)
	logger.Info("flush complete",
		zap.Int("flushed", result.Flushed),
		zap.Int("skipped", skipped),
		zap.Int("consumed", len(consumed)),
	)

	if result.Flushed > 0 {
		c.announce(ctx, logger, digest.FlushRun{
			Date:      date,
			Request:   req,
			Result:    result,
			StartedAt: started,
			Duration:  c.clock.Now().Sub(started),
		})
	}
	return result, nil
}

// announce records and publishes a patching flush. Failures are logged only.
func (c *Coordinator) announce(ctx context.Context, logger *zap.Logger, run digest.FlushRun) {
	if c.flushLog != nil {
		if c.ids != nil {
			if id, err := c.ids.NewID(); err == nil {
				run.ID = id
			}
		}
		if err := c.flushLog.RecordFlush(ctx, run); err != nil {
			logger.Warn("flush audit not recorded", zap.Error(err))
		}
	}
	if c.pub != nil && c.topic != "" {
		msgID, err := c.pub.Publish(ctx, c.topic, Notification{
			Event:   FlushedEvent,
			Date:    run.Date,
			Type:    run.Request.Type,
			Lang:    run.Request.Lang,
			Flushed: run.Result.Flushed,
			Counts:  run.Result.Counts,
			At:      run.StartedAt.Add(run.Duration),
		})
		if err != nil {
			logger.Warn("flush notification not published", zap.Error(err))
			return
		}
		logger.Debug("flush notification published", zap.String("message_id", msgID))
	}
}

