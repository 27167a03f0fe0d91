// Package storage adapts a blob backend into the typed document store used by the pipeline.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/digest-enricher/internal/digest"
)

// Backend persists raw objects under a logical bucket.
type Backend interface {
	// GetObject returns nil, nil when the object does not exist.
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	PutObject(ctx context.Context, bucket, key, contentType string, r io.Reader) (string, error)
	// DeleteObject treats a missing object as success.
	DeleteObject(ctx context.Context, bucket, key string) error
}

// Store implements digest.DocumentStore on top of a Backend.
type Store struct {
	backend Backend
	logger  *zap.Logger
}

var _ digest.DocumentStore = (*Store)(nil)

// New builds a document store.
func New(backend Backend, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}, nil
}

// Get returns the raw object or nil when it does not exist.
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := s.backend.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w: %w", bucket, key, digest.ErrStore, err)
	}
	return data, nil
}

// GetJSON decodes the object into dst. It reports false when the object does not exist.
func (s *Store) GetJSON(ctx context.Context, bucket, key string, dst any) (bool, error) {
	data, err := s.Get(ctx, bucket, key)
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w: %v", bucket, key, digest.ErrValidation, err)
	}
	return true, nil
}

// Put writes value. Byte slices and strings are stored as-is; anything else is encoded as JSON.
func (s *Store) Put(ctx context.Context, bucket, key string, value any) error {
	var payload []byte
	switch v := value.(type) {
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
		}
		payload = encoded
	}
	contentType := ContentTypeFor(key)
	uri, err := s.backend.PutObject(ctx, bucket, key, contentType, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w: %w", bucket, key, digest.ErrStore, err)
	}
	s.logger.Debug("object written",
		zap.String("uri", uri),
		zap.String("content_type", contentType),
		zap.Int("bytes", len(payload)),
	)
	return nil
}

// Delete removes the object. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if err := s.backend.DeleteObject(ctx, bucket, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w: %w", bucket, key, digest.ErrStore, err)
	}
	return nil
}

// GetBatch loads the canonical document for date. It returns nil, nil when none exists yet.
func (s *Store) GetBatch(ctx context.Context, date digest.DateKey) (*digest.DailyBatch, error) {
	data, err := s.Get(ctx, digest.AggregationBucket, date.ObjectKey())
	if err != nil || data == nil {
		return nil, err
	}
	batch, err := digest.DecodeBatch(data)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", date, err)
	}
	if batch.Date == "" {
		batch.Date = date
	}
	return batch, nil
}

// PutBatch validates and overwrites the canonical document.
func (s *Store) PutBatch(ctx context.Context, batch *digest.DailyBatch) error {
	if batch == nil || batch.Date == "" {
		return fmt.Errorf("%w: batch date is required", digest.ErrValidation)
	}
	if err := batch.Validate(); err != nil {
		return err
	}
	return s.Put(ctx, digest.AggregationBucket, batch.Date.ObjectKey(), batch)
}

var contentTypes = map[string]string{
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".txt":  "text/plain; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".pdf":  "application/pdf",
}

// ContentTypeFor infers a MIME type from the key's extension.
func ContentTypeFor(key string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}
	return "application/octet-stream"
}
