package queue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Family names a queue in a Set.
type Family string

// Queue families.
const (
	FamilyFetch      Family = "fetch"
	FamilySummarize  Family = "summarize"
	FamilyTranslate  Family = "translate"
	FamilyIllustrate Family = "illustrate"
	FamilyMerge      Family = "merge"
)

// Families lists every family in a stable order.
var Families = []Family{FamilyFetch, FamilySummarize, FamilyTranslate, FamilyIllustrate, FamilyMerge}

// Config sets per-family concurrency. The merge family always runs one task at a time.
type Config struct {
	Fetch      int `mapstructure:"fetch"`
	Summarize  int `mapstructure:"summarize"`
	Translate  int `mapstructure:"translate"`
	Illustrate int `mapstructure:"illustrate"`
}

// Set owns one queue per family.
type Set struct {
	queues map[Family]*Queue
}

// NewSet builds every family queue.
func NewSet(cfg Config, logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := map[Family]int{
		FamilyFetch:      cfg.Fetch,
		FamilySummarize:  cfg.Summarize,
		FamilyTranslate:  cfg.Translate,
		FamilyIllustrate: cfg.Illustrate,
		FamilyMerge:      1,
	}
	s := &Set{queues: make(map[Family]*Queue, len(Families))}
	for _, f := range Families {
		s.queues[f] = New(string(f), concurrency[f], logger.Named("queue."+string(f)))
	}
	return s
}

// Get returns the queue for family.
func (s *Set) Get(family Family) (*Queue, error) {
	q, ok := s.queues[family]
	if !ok {
		return nil, fmt.Errorf("unknown queue family %q", family)
	}
	return q, nil
}

// Fetch returns the fetch queue.
func (s *Set) Fetch() *Queue { return s.queues[FamilyFetch] }

// Summarize returns the summarize queue.
func (s *Set) Summarize() *Queue { return s.queues[FamilySummarize] }

// Translate returns the translate queue.
func (s *Set) Translate() *Queue { return s.queues[FamilyTranslate] }

// Illustrate returns the illustrate queue.
func (s *Set) Illustrate() *Queue { return s.queues[FamilyIllustrate] }

// Merge returns the single-concurrency merge queue.
func (s *Set) Merge() *Queue { return s.queues[FamilyMerge] }

// Stats reports every family.
func (s *Set) Stats() map[Family]Stats {
	out := make(map[Family]Stats, len(s.queues))
	for f, q := range s.queues {
		out[f] = q.Stats()
	}
	return out
}

// Close drains producers first and the merge queue last.
func (s *Set) Close(ctx context.Context) error {
	var errs []error
	for _, f := range Families {
		if err := s.queues[f].Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
