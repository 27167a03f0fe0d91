package digest

import (
	"context"
	"time"
)

// Buckets used by the pipeline.
const (
	AggregationBucket = "aggregation"
	ImageBucket       = "images"
)

// DocumentStore is the typed object-store adapter.
type DocumentStore interface {
	// Get returns nil, nil when the object does not exist.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, value any) error
	Delete(ctx context.Context, bucket, key string) error
}

// StagingStore is the low-latency write-ahead buffer.
type StagingStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}

// ContentFetcher extracts readable text from a URL. A nil result means nothing usable was found.
type ContentFetcher interface {
	Extract(ctx context.Context, url string) (*string, error)
}

// Summarizer produces an english summary of article text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Translator translates english text.
type Translator interface {
	Translate(ctx context.Context, text string, lang Lang, mode TranslateMode) (string, error)
}

// Illustrator renders one image for a day's batch.
type Illustrator interface {
	Illustrate(ctx context.Context, date DateKey, titles []string) ([]byte, error)
}

// Publisher pushes flush notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// FlushRun is one audited batch-flush outcome.
type FlushRun struct {
	ID        string        `json:"id"`
	Date      DateKey       `json:"date"`
	Request   FlushRequest  `json:"request"`
	Result    FlushResult   `json:"result"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"durationNs"`
}

// FlushLog records batch-flush outcomes.
type FlushLog interface {
	RecordFlush(ctx context.Context, run FlushRun) error
}

// Hasher computes stable item identifiers.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique ids.
type IDGenerator interface {
	NewID() (string, error)
}
