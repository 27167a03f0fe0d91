// Package queue runs in-process tasks with bounded concurrency per family.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/digest-enricher/internal/metrics"
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("queue closed")

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Stats is a point-in-time view of a queue.
type Stats struct {
	Pending   int    `json:"pending"`
	Running   int    `json:"running"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Queue starts tasks in admission order with at most concurrency running at once.
// Pending tasks are held in memory only.
type Queue struct {
	name        string
	concurrency int
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	pending   []Task
	running   int
	completed uint64
	failed    uint64
	closed    bool
	idle      chan struct{}
}

// New creates a queue. Concurrency below one is treated as one.
func New(name string, concurrency int, logger *zap.Logger) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		name:        name,
		concurrency: concurrency,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		idle:        idle,
	}
}

// Name returns the queue's family name.
func (q *Queue) Name() string { return q.name }

// Concurrency returns the running-task bound.
func (q *Queue) Concurrency() int { return q.concurrency }

// Add admits a task. It never blocks on running work.
func (q *Queue) Add(task Task) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.running == 0 && len(q.pending) == 0 {
		q.idle = make(chan struct{})
	}
	q.pending = append(q.pending, task)
	q.pumpLocked()
	return nil
}

func (q *Queue) pumpLocked() {
	for q.running < q.concurrency && len(q.pending) > 0 {
		task := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.running++
		go q.run(task)
	}
	metrics.SetQueueDepth(q.name, len(q.pending), q.running)
}

func (q *Queue) run(task Task) {
	start := time.Now()
	err := q.safeRun(task)
	duration := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
		q.logger.Error("task failed",
			zap.String("family", q.name),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}
	metrics.ObserveTask(q.name, outcome, duration)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.running--
	if err != nil {
		q.failed++
	} else {
		q.completed++
	}
	q.pumpLocked()
	if q.running == 0 && len(q.pending) == 0 {
		close(q.idle)
	}
}

func (q *Queue) safeRun(task Task) (err error) {
	ctx, span := metrics.StartSpan(q.ctx, "queue.task", attribute.String("queue.family", q.name))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
			q.logger.Debug("recovered task panic",
				zap.String("family", q.name),
				zap.ByteString("stack", debug.Stack()),
			)
		}
		metrics.EndSpan(span, err)
	}()
	return task(ctx)
}

// OnIdle blocks until nothing is pending or running, or ctx ends.
func (q *Queue) OnIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %s queue: %w", q.name, ctx.Err())
	}
}

// Stats reports current counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:   len(q.pending),
		Running:   q.running,
		Completed: q.completed,
		Failed:    q.failed,
	}
}

// Close stops admission and waits for queued work. If ctx ends first, the context passed
// to running tasks is canceled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	err := q.OnIdle(ctx)
	q.cancel()
	return err
}
