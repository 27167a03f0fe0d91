package gcs

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

// CacheBustParam is the query parameter added to every read.
const CacheBustParam = "cb"

// CacheBustingTransport adds no-cache headers and a unique query parameter to GET requests.
type CacheBustingTransport struct {
	base  http.RoundTripper
	epoch string
	seq   atomic.Uint64
}

// NewCacheBustingTransport wraps base (http.DefaultTransport when nil).
func NewCacheBustingTransport(base http.RoundTripper) *CacheBustingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &CacheBustingTransport{
		base:  base,
		epoch: strconv.FormatInt(time.Now().UnixNano(), 36),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *CacheBustingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Cache-Control", "no-cache")
	clone.Header.Set("Pragma", "no-cache")
	q := clone.URL.Query()
	q.Set(CacheBustParam, t.epoch+"-"+strconv.FormatUint(t.seq.Add(1), 36))
	clone.URL.RawQuery = q.Encode()
	return t.base.RoundTrip(clone)
}

// NewClient builds a storage client whose reads bypass intermediary caches.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*storage.Client, error) {
	scoped := append([]option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}, opts...)
	httpClient, _, err := htransport.NewClient(ctx, scoped...)
	if err != nil {
		return nil, fmt.Errorf("build gcs http client: %w", err)
	}
	httpClient.Transport = NewCacheBustingTransport(httpClient.Transport)
	client, err := storage.NewClient(ctx, append(opts, option.WithHTTPClient(httpClient))...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return client, nil
}
