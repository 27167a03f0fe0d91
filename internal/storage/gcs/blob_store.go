// Package gcs provides a blob backend on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to map logical buckets to GCS buckets.
type Config struct {
	// BucketPrefix is prepended to each logical bucket name, e.g. "myproj-" + "aggregation".
	BucketPrefix string `mapstructure:"bucket_prefix"`
}

// BlobStore reads and writes objects in GCS.
type BlobStore struct {
	client *storage.Client
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return &BlobStore{client: client, prefix: cfg.BucketPrefix}, nil
}

// PhysicalBucket maps a logical bucket to its GCS name.
func (s *BlobStore) PhysicalBucket(bucket string) string {
	return s.prefix + bucket
}

func (s *BlobStore) object(bucket, key string) (*storage.ObjectHandle, error) {
	if strings.TrimSpace(bucket) == "" || strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("bucket and key are required")
	}
	return s.client.Bucket(s.PhysicalBucket(bucket)).Object(key), nil
}

// GetObject downloads the object, returning nil when it does not exist.
func (s *BlobStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.object(bucket, key)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open reader: %w", err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// PutObject uploads data and returns a gs:// URI. Objects are written with no-store caching.
func (s *BlobStore) PutObject(ctx context.Context, bucket, key, contentType string, r io.Reader) (string, error) {
	obj, err := s.object(bucket, key)
	if err != nil {
		return "", err
	}
	writer := obj.NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	writer.CacheControl = "no-store"
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.PhysicalBucket(bucket), key), nil
}

// DeleteObject removes the object. A missing object is not an error.
func (s *BlobStore) DeleteObject(ctx context.Context, bucket, key string) error {
	obj, err := s.object(bucket, key)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
