package staging_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/digest-enricher/internal/digest"
	"github.com/JakeFAU/digest-enricher/internal/staging"
	"github.com/JakeFAU/digest-enricher/internal/staging/memory"
)

type countingStore struct {
	*memory.Store
	gets    atomic.Int32
	readyAt int32
	err     error
}

func (c *countingStore) Get(ctx context.Context, key string) (string, bool, error) {
	n := c.gets.Add(1)
	if c.err != nil {
		return "", false, c.err
	}
	if c.readyAt > 0 && n >= c.readyAt {
		return "value", true, nil
	}
	return c.Store.Get(ctx, key)
}

func TestWaitForKeyReturnsFirstPresentValue(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.New(nil), readyAt: 3}
	poller := staging.NewPoller(store, nil)

	v, ok, err := poller.WaitForKey(context.Background(), "en:a", 5, time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value", v)
	require.EqualValues(t, 3, store.gets.Load())
}

func TestWaitForKeyExhaustsAttempts(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.New(nil)}
	poller := staging.NewPoller(store, nil)

	v, ok, err := poller.WaitForKey(context.Background(), "en:a", 4, time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, v)
	require.EqualValues(t, 4, store.gets.Load())
}

func TestWaitForKeyPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.New(nil), err: digest.ErrStore}
	poller := staging.NewPoller(store, nil)

	_, _, err := poller.WaitForKey(context.Background(), "en:a", 3, time.Millisecond)
	require.ErrorIs(t, err, digest.ErrStore)
	require.EqualValues(t, 1, store.gets.Load())
}

func TestWaitForKeyStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.New(nil)}
	poller := staging.NewPoller(store, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok, err := poller.WaitForKey(ctx, "en:a", 1000, time.Hour)
	require.False(t, ok)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
