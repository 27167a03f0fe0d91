// Package memory stores objects in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Object is a stored blob with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// BlobStore stores objects keyed by bucket and key.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

func objectPath(bucket, key string) string {
	return bucket + "/" + key
}

// GetObject returns a copy of the stored bytes, or nil when missing.
func (s *BlobStore) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectPath(bucket, key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), obj.Data...), nil
}

// PutObject persists the content and returns a pseudo URI.
func (s *BlobStore) PutObject(_ context.Context, bucket, key, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	p := objectPath(bucket, key)
	s.mu.Lock()
	s.objects[p] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	s.mu.Unlock()
	return "memory://" + p, nil
}

// DeleteObject removes the object if present.
func (s *BlobStore) DeleteObject(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	delete(s.objects, objectPath(bucket, key))
	s.mu.Unlock()
	return nil
}

// Object returns the stored object, for inspection in tests.
func (s *BlobStore) Object(bucket, key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectPath(bucket, key)]
	return obj, ok
}
