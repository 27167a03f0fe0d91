// Package pipeline turns a stored daily batch into enrichment tasks and stages their results.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/digest-enricher/internal/digest"
	"github.com/JakeFAU/digest-enricher/internal/flush"
	"github.com/JakeFAU/digest-enricher/internal/queue"
	"github.com/JakeFAU/digest-enricher/internal/staging"
)

// DefaultStagingTTL bounds how long a staged result waits for a flush.
const DefaultStagingTTL = 24 * time.Hour

// Documents reads canonical documents and writes auxiliary objects such as images.
type Documents interface {
	GetBatch(ctx context.Context, date digest.DateKey) (*digest.DailyBatch, error)
	Put(ctx context.Context, bucket, key string, value any) error
}

// Collaborators groups the outbound services tasks call.
type Collaborators struct {
	Fetcher     digest.ContentFetcher
	Summarizer  digest.Summarizer
	Translator  digest.Translator
	Illustrator digest.Illustrator
}

// Config tunes staging and polling.
type Config struct {
	StagingTTL      time.Duration
	PollMaxAttempts int
	PollInterval    time.Duration
}

// Pipeline produces tasks onto the queue families.
type Pipeline struct {
	docs    Documents
	staging digest.StagingStore
	queues  *queue.Set
	coord   *flush.Coordinator
	poller  *staging.Poller
	collab  Collaborators
	hasher  digest.Hasher
	cfg     Config
	logger  *zap.Logger
}

// New builds a Pipeline.
func New(docs Documents, store digest.StagingStore, queues *queue.Set, coord *flush.Coordinator,
	hasher digest.Hasher, collab Collaborators, cfg Config, logger *zap.Logger,
) (*Pipeline, error) {
	if docs == nil || store == nil || queues == nil || coord == nil || hasher == nil {
		return nil, fmt.Errorf("documents, staging, queues, coordinator and hasher are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StagingTTL <= 0 {
		cfg.StagingTTL = DefaultStagingTTL
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = 30
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Pipeline{
		docs:    docs,
		staging: store,
		queues:  queues,
		coord:   coord,
		poller:  staging.NewPoller(store, logger.Named("poller")),
		collab:  collab,
		hasher:  hasher,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// IngestItem is one source entry submitted for a day.
type IngestItem struct {
	Title string `json:"title"`
	Type  string `json:"type"`
	URL   string `json:"url"`
	Score int    `json:"score"`
	By    string `json:"by"`
	Time  int64  `json:"time"`
}

// IngestResult reports whether a document was created.
type IngestResult struct {
	Created bool `json:"created"`
	Items   int  `json:"items"`
}

// Ingest creates the document for date from items. An existing document is left untouched.
// Items whose titles hash to the same id are kept once.
func (p *Pipeline) Ingest(ctx context.Context, date digest.DateKey, items []IngestItem) (IngestResult, error) {
	batch := &digest.DailyBatch{Date: date, Items: make([]digest.Item, 0, len(items))}
	seen := make(map[string]struct{}, len(items))
	for idx, in := range items {
		id, err := digest.ItemIDFor(p.hasher, in.Title)
		if err != nil {
			return IngestResult{}, fmt.Errorf("item %d: %w", idx, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		item := digest.Item{
			ID:    id,
			Type:  in.Type,
			URL:   strings.TrimSpace(in.URL),
			Score: in.Score,
			By:    in.By,
			Time:  in.Time,
		}
		item.Title.Set(digest.LangEN, strings.TrimSpace(in.Title))
		batch.Items = append(batch.Items, item)
	}

	created, err := p.coord.Create(ctx, batch)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Created: created, Items: len(batch.Items)}, nil
}

// Batch returns the document for date or digest.ErrNotFound.
func (p *Pipeline) Batch(ctx context.Context, date digest.DateKey) (*digest.DailyBatch, error) {
	batch, err := p.docs.GetBatch(ctx, date)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("batch %s: %w", date, digest.ErrNotFound)
	}
	return batch, nil
}

// EnqueueResult reports what an enqueue call scheduled. Completed is set only when the caller
// waited for the family to go idle.
type EnqueueResult struct {
	Enqueued  int  `json:"enqueued"`
	Completed *int `json:"completed,omitempty"`
}

// job is one unit of work that stages at most one result.
type job func(ctx context.Context) (bool, error)

// submit queues jobs on q and optionally waits for the queue to drain.
func (p *Pipeline) submit(ctx context.Context, q *queue.Queue, jobs []job, wait bool) (EnqueueResult, error) {
	var staged atomic.Int64
	res := EnqueueResult{}
	for _, j := range jobs {
		err := q.Add(func(ctx context.Context) error {
			ok, err := j(ctx)
			if ok && err == nil {
				staged.Add(1)
			}
			return err
		})
		if err != nil {
			return res, fmt.Errorf("enqueue %s: %w", q.Name(), err)
		}
		res.Enqueued++
	}
	if !wait {
		return res, nil
	}
	if err := q.OnIdle(ctx); err != nil {
		return res, err
	}
	completed := int(staged.Load())
	res.Completed = &completed
	return res, nil
}

func (p *Pipeline) stage(ctx context.Context, key, value string) error {
	if err := p.staging.Set(ctx, key, value, p.cfg.StagingTTL); err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	return nil
}

// stageResult stages value and reports whether it landed.
func (p *Pipeline) stageResult(ctx context.Context, key, value string) (bool, error) {
	if err := p.stage(ctx, key, value); err != nil {
		return false, err
	}
	return true, nil
}

// EnqueueFetch schedules content extraction for every item whose content is empty.
func (p *Pipeline) EnqueueFetch(ctx context.Context, date digest.DateKey, wait bool) (EnqueueResult, error) {
	if p.collab.Fetcher == nil {
		return EnqueueResult{}, fmt.Errorf("content fetcher is not configured")
	}
	batch, err := p.Batch(ctx, date)
	if err != nil {
		return EnqueueResult{}, err
	}
	var jobs []job
	for _, item := range batch.Items {
		if item.HasContent() || item.URL == "" {
			continue
		}
		id, url := item.ID, item.URL
		logger := p.logger.With(zap.String("date", date.String()), zap.String("item_id", id))
		jobs = append(jobs, func(ctx context.Context) (bool, error) {
			text, err := p.collab.Fetcher.Extract(ctx, url)
			if err != nil {
				return false, fmt.Errorf("extract %s: %w", url, err)
			}
			if text == nil || *text == "" {
				logger.Debug("no content extracted", zap.String("url", url))
				return false, nil
			}
			return p.stageResult(ctx, digest.ContentKey(id), *text)
		})
	}
	return p.submit(ctx, p.queues.Fetch(), jobs, wait)
}

// EnqueueSummarize schedules a summary for every item with content and no English summary.
func (p *Pipeline) EnqueueSummarize(ctx context.Context, date digest.DateKey, wait bool) (EnqueueResult, error) {
	if p.collab.Summarizer == nil {
		return EnqueueResult{}, fmt.Errorf("summarizer is not configured")
	}
	batch, err := p.Batch(ctx, date)
	if err != nil {
		return EnqueueResult{}, err
	}
	var jobs []job
	for _, item := range batch.Items {
		if !item.HasContent() || item.Summary.Has(digest.LangEN) {
			continue
		}
		id, content := item.ID, *item.Content
		jobs = append(jobs, func(ctx context.Context) (bool, error) {
			summary, err := p.collab.Summarizer.Summarize(ctx, content)
			if err != nil {
				return false, fmt.Errorf("summarize %s: %w", id, err)
			}
			return p.stageResult(ctx, digest.SummaryKey(id), summary)
		})
	}
	return p.submit(ctx, p.queues.Summarize(), jobs, wait)
}

// EnqueueTranslate schedules translations into each of langs, or every translation language
// when langs is empty. An item is translated when its title or summary lacks the language.
func (p *Pipeline) EnqueueTranslate(ctx context.Context, date digest.DateKey, langs []digest.Lang, wait bool) (EnqueueResult, error) {
	if p.collab.Translator == nil {
		return EnqueueResult{}, fmt.Errorf("translator is not configured")
	}
	if len(langs) == 0 {
		langs = digest.TranslationLangs
	}
	for _, lang := range langs {
		if !lang.IsTranslation() {
			return EnqueueResult{}, fmt.Errorf("%w: cannot translate to %q", digest.ErrValidation, lang)
		}
	}
	batch, err := p.Batch(ctx, date)
	if err != nil {
		return EnqueueResult{}, err
	}
	var jobs []job
	for _, lang := range langs {
		for _, item := range batch.Items {
			summaryEN, hasSummary := item.Summary.Get(digest.LangEN)
			if item.Title.Has(lang) && (!hasSummary || item.Summary.Has(lang)) {
				continue
			}
			titleEN, _ := item.Title.Get(digest.LangEN)
			id := item.ID
			jobs = append(jobs, func(ctx context.Context) (bool, error) {
				return p.translate(ctx, id, lang, titleEN, summaryEN)
			})
		}
	}
	return p.submit(ctx, p.queues.Translate(), jobs, wait)
}

func (p *Pipeline) translate(ctx context.Context, id string, lang digest.Lang, title, summary string) (bool, error) {
	var staged digest.StagedTranslation
	var err error
	staged.TranslatedTitle, err = p.collab.Translator.Translate(ctx, title, lang, digest.ModeTitle)
	if err != nil {
		return false, fmt.Errorf("translate title %s to %s: %w", id, lang, err)
	}
	if summary != "" {
		staged.TranslatedSummary, err = p.collab.Translator.Translate(ctx, summary, lang, digest.ModeContent)
		if err != nil {
			return false, fmt.Errorf("translate summary %s to %s: %w", id, lang, err)
		}
	}
	if staged.TranslatedTitle == "" && staged.TranslatedSummary == "" {
		return false, nil
	}
	payload, err := json.Marshal(staged)
	if err != nil {
		return false, fmt.Errorf("encode translation: %w", err)
	}
	return p.stageResult(ctx, digest.TranslationKey(lang, id), string(payload))
}

// ImageKey is the object key of the illustration for date under digest.ImageBucket.
func ImageKey(date digest.DateKey) string {
	return date.String() + ".png"
}

// EnqueueIllustrate schedules one illustration for the day's English titles.
func (p *Pipeline) EnqueueIllustrate(ctx context.Context, date digest.DateKey, wait bool) (EnqueueResult, error) {
	if p.collab.Illustrator == nil {
		return EnqueueResult{}, fmt.Errorf("illustrator is not configured")
	}
	batch, err := p.Batch(ctx, date)
	if err != nil {
		return EnqueueResult{}, err
	}
	titles := make([]string, 0, len(batch.Items))
	for _, item := range batch.Items {
		if t, ok := item.Title.Get(digest.LangEN); ok {
			titles = append(titles, t)
		}
	}
	if len(titles) == 0 {
		return EnqueueResult{}, nil
	}
	jobs := []job{func(ctx context.Context) (bool, error) {
		img, err := p.collab.Illustrator.Illustrate(ctx, date, titles)
		if err != nil {
			return false, fmt.Errorf("illustrate %s: %w", date, err)
		}
		if err := p.docs.Put(ctx, digest.ImageBucket, ImageKey(date), img); err != nil {
			return false, err
		}
		p.logger.Info("illustration stored", zap.String("date", date.String()), zap.Int("bytes", len(img)))
		return true, nil
	}}
	return p.submit(ctx, p.queues.Illustrate(), jobs, wait)
}

// MergeRequest identifies a staged result to wait for and merge.
type MergeRequest struct {
	ItemID      string
	Kind        digest.Kind
	Lang        digest.Lang
	MaxAttempts int
	Interval    time.Duration
}

// await polls for the staged key named by req. It returns digest.ErrPollTimeout when the key
// never appears.
func (p *Pipeline) await(ctx context.Context, req MergeRequest) error {
	key, err := digest.StagingKeyFor(req.Kind, req.Lang, req.ItemID)
	if err != nil {
		return err
	}
	attempts := req.MaxAttempts
	if attempts <= 0 {
		attempts = p.cfg.PollMaxAttempts
	}
	interval := req.Interval
	if interval <= 0 {
		interval = p.cfg.PollInterval
	}
	_, ok, err := p.poller.WaitForKey(ctx, key, attempts, interval)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s after %d attempts: %w", key, attempts, digest.ErrPollTimeout)
	}
	return nil
}

// AwaitAndMerge polls for the staged key and merges it through the coordinator, waiting for
// the merge to finish.
func (p *Pipeline) AwaitAndMerge(ctx context.Context, date digest.DateKey, req MergeRequest) (flush.MergeResult, error) {
	if err := p.await(ctx, req); err != nil {
		return flush.MergeResult{}, err
	}
	return p.coord.MergeItem(ctx, date, req.ItemID, req.Kind, req.Lang)
}

// AwaitAndSchedule polls for the staged key and then queues its merge without waiting for it.
func (p *Pipeline) AwaitAndSchedule(ctx context.Context, date digest.DateKey, req MergeRequest) error {
	if err := p.await(ctx, req); err != nil {
		return err
	}
	return p.coord.ScheduleMerge(date, req.ItemID, req.Kind, req.Lang)
}

// Flush runs a batch flush.
func (p *Pipeline) Flush(ctx context.Context, date digest.DateKey, req digest.FlushRequest) (digest.FlushResult, error) {
	return p.coord.Flush(ctx, date, req)
}

// QueueStats reports every queue family.
func (p *Pipeline) QueueStats() map[queue.Family]queue.Stats {
	return p.queues.Stats()
}

// Ready pings the staging store.
func (p *Pipeline) Ready(ctx context.Context) error {
	return p.staging.Ping(ctx)
}
