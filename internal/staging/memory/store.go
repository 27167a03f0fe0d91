// Package memory is an in-process staging store with TTL expiry.
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/digest-enricher/internal/digest"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Store keeps staged values in a map. Expiry is evaluated lazily against the clock.
type Store struct {
	mu      sync.Mutex
	clock   digest.Clock
	entries map[string]entry
}

var _ digest.StagingStore = (*Store)(nil)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// New creates an empty store. A nil clock uses wall time.
func New(clock digest.Clock) *Store {
	if clock == nil {
		clock = systemClock{}
	}
	return &Store{clock: clock, entries: make(map[string]entry)}
}

func (s *Store) liveLocked(key string, now time.Time) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

// Get returns the value and whether it is present.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.liveLocked(key, s.clock.Now())
	return e.value, ok, nil
}

// Set stores value. A ttl <= 0 never expires.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Delete removes keys; missing keys are ignored.
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// Keys returns live keys matching the glob pattern, sorted.
func (s *Store) Keys(_ context.Context, pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	var out []string
	for k := range s.entries {
		if _, ok := s.liveLocked(k, now); !ok {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
