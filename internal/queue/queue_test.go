package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestQueueBoundsConcurrency(t *testing.T) {
	t.Parallel()

	q := New("test", 2, nil)
	var running, peak atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		require.NoError(t, q.Add(func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		}))
	}

	require.Eventually(t, func() bool { return q.Stats().Running == 2 }, time.Second, time.Millisecond)
	require.Equal(t, 4, q.Stats().Pending)
	close(release)

	require.NoError(t, q.OnIdle(context.Background()))
	require.EqualValues(t, 2, peak.Load())
	require.Equal(t, Stats{Completed: 6}, q.Stats())
}

func TestQueuePreservesAdmissionOrder(t *testing.T) {
	t.Parallel()

	q := New("order", 1, nil)
	var mu sync.Mutex
	var got []int
	for i := 0; i < 20; i++ {
		i := i
		require.NoError(t, q.Add(func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}))
	}
	require.NoError(t, q.OnIdle(context.Background()))
	for i := range got {
		require.Equal(t, i, got[i])
	}
	require.Len(t, got, 20)
}

func TestQueueFailingTasksDoNotBlockSiblings(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	q := New("faulty", 2, zap.New(core))
	var ok atomic.Int32

	require.NoError(t, q.Add(func(context.Context) error { panic("kaboom") }))
	require.NoError(t, q.Add(func(context.Context) error { return errors.New("upstream 500") }))
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Add(func(context.Context) error {
			ok.Add(1)
			return nil
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.OnIdle(ctx))
	require.EqualValues(t, 3, ok.Load())

	stats := q.Stats()
	require.EqualValues(t, 3, stats.Completed)
	require.EqualValues(t, 2, stats.Failed)
	require.Equal(t, 2, logs.FilterMessage("task failed").Len())
}

func TestOnIdleReturnsImmediatelyWhenEmpty(t *testing.T) {
	t.Parallel()

	q := New("empty", 1, nil)
	require.NoError(t, q.OnIdle(context.Background()))

	require.NoError(t, q.Add(func(context.Context) error { return nil }))
	require.NoError(t, q.OnIdle(context.Background()))
	require.NoError(t, q.OnIdle(context.Background()))
}

func TestOnIdleHonorsContext(t *testing.T) {
	t.Parallel()

	q := New("slow", 1, nil)
	release := make(chan struct{})
	require.NoError(t, q.Add(func(context.Context) error { <-release; return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.OnIdle(ctx), context.DeadlineExceeded)
	close(release)
	require.NoError(t, q.OnIdle(context.Background()))
}

func TestCloseStopsAdmissionAndCancelsStragglers(t *testing.T) {
	t.Parallel()

	q := New("closing", 1, nil)
	canceled := make(chan struct{})
	require.NoError(t, q.Add(func(ctx context.Context) error {
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, q.Close(ctx))
	require.ErrorIs(t, q.Add(func(context.Context) error { return nil }), ErrClosed)

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("running task was not canceled")
	}
}

func TestSetForcesSerialMerge(t *testing.T) {
	t.Parallel()

	s := NewSet(Config{Fetch: 4, Summarize: 3, Translate: 2}, nil)
	require.Equal(t, 4, s.Fetch().Concurrency())
	require.Equal(t, 3, s.Summarize().Concurrency())
	require.Equal(t, 2, s.Translate().Concurrency())
	require.Equal(t, 1, s.Illustrate().Concurrency())
	require.Equal(t, 1, s.Merge().Concurrency())

	q, err := s.Get(FamilyMerge)
	require.NoError(t, err)
	require.Same(t, s.Merge(), q)
	_, err = s.Get("bogus")
	require.Error(t, err)

	require.Len(t, s.Stats(), len(Families))
	require.NoError(t, s.Close(context.Background()))
}
