// Package queue implements the bounded FIFO task queue drained by a fixed
// pool of background workers.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/packeteater/internal/core"
	"firestige.xyz/packeteater/internal/metrics"
)

// Task is one immutable unit of work.
type Task struct {
	Path string
	Body []byte
}

// Runner executes tasks on worker goroutines.
type Runner interface {
	Run(ctx context.Context, t Task) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, t Task) error

// Run calls f(ctx, t).
func (f RunnerFunc) Run(ctx context.Context, t Task) error { return f(ctx, t) }

// DropPolicy decides which task is shed when the queue is full.
type DropPolicy string

const (
	// DropTail rejects the task being scheduled.
	DropTail DropPolicy = "tail"
	// DropHead evicts the oldest queued task to admit the new one.
	DropHead DropPolicy = "head"
)

// ParseDropPolicy parses "tail" or "head"; empty means tail.
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch DropPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DropTail:
		return DropTail, nil
	case DropHead:
		return DropHead, nil
	default:
		return "", fmt.Errorf("unknown drop policy %q", s)
	}
}

// Config sizes a Queue.
type Config struct {
	Workers      int
	Capacity     int
	DropPolicy   DropPolicy
	DrainTimeout time.Duration
}

const (
	defaultWorkers  = 1
	defaultCapacity = 4096
)

// Stats is a snapshot of queue counters. Every scheduled task ends up in
// exactly one of Sent, Failed, Panicked, Evicted or Abandoned, or is still
// queued or running. Dropped counts tasks Schedule refused; they were never
// scheduled.
type Stats struct {
	Scheduled uint64
	Dropped   uint64 // rejected by the tail policy
	Evicted   uint64 // scheduled, then pushed out by the head policy
	Sent      uint64
	Failed    uint64
	Panicked  uint64
	Abandoned uint64
	Depth     int
}

// Queue is a bounded FIFO of tasks executed by Workers goroutines.
// Schedule never waits for a task to run.
type Queue struct {
	cfg    Config
	runner Runner
	tasks  chan Task

	mu     sync.Mutex // serializes producers against close(tasks)
	closed bool

	runCtx    context.Context
	cancelRun context.CancelFunc
	abandon   atomic.Bool
	workers   sync.WaitGroup
	done      chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error

	scheduled atomic.Uint64
	dropped   atomic.Uint64
	evicted   atomic.Uint64
	sent      atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
	abandoned atomic.Uint64
}

// New creates a queue and starts its workers.
func New(cfg Config, runner Runner) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.DropPolicy == "" {
		cfg.DropPolicy = DropTail
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:       cfg,
		runner:    runner,
		tasks:     make(chan Task, cfg.Capacity),
		runCtx:    ctx,
		cancelRun: cancel,
		done:      make(chan struct{}),
	}

	q.workers.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go q.worker(i)
	}
	go func() {
		q.workers.Wait()
		close(q.done)
	}()

	return q
}

// Schedule enqueues t without blocking. It returns core.ErrQueueClosed after
// Shutdown and core.ErrQueueFull when the tail policy rejects t.
func (q *Queue) Schedule(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return core.ErrQueueClosed
	}

	select {
	case q.tasks <- t:
		q.admitted()
		return nil
	default:
	}

	if q.cfg.DropPolicy == DropHead {
		select {
		case <-q.tasks:
			q.evicted.Add(1)
			metrics.QueueTasksTotal.WithLabelValues(metrics.TaskEvicted).Inc()
		default:
		}
		select {
		case q.tasks <- t:
			q.admitted()
			return nil
		default:
		}
	}

	q.drop()
	return core.ErrQueueFull
}

func (q *Queue) admitted() {
	q.scheduled.Add(1)
	metrics.QueueDepth.Set(float64(len(q.tasks)))
}

func (q *Queue) drop() {
	q.dropped.Add(1)
	metrics.QueueTasksTotal.WithLabelValues(metrics.TaskDropped).Inc()
}

// Len returns the number of tasks waiting for a worker.
func (q *Queue) Len() int { return len(q.tasks) }

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Scheduled: q.scheduled.Load(),
		Dropped:   q.dropped.Load(),
		Evicted:   q.evicted.Load(),
		Sent:      q.sent.Load(),
		Failed:    q.failed.Load(),
		Panicked:  q.panicked.Load(),
		Abandoned: q.abandoned.Load(),
		Depth:     len(q.tasks),
	}
}

// Shutdown stops accepting tasks and lets queued tasks drain for at most
// DrainTimeout or until ctx is done, whichever comes first. After that the
// in-flight task's context is cancelled and the remaining tasks are
// abandoned, and Shutdown returns an error wrapping core.ErrDrainTimeout.
// Calling Shutdown again returns the first result.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.shutdownOnce.Do(func() {
		q.shutdownErr = q.shutdown(ctx)
	})
	return q.shutdownErr
}

func (q *Queue) shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	defer q.cancelRun()

	var expired <-chan time.Time
	if q.cfg.DrainTimeout > 0 {
		timer := time.NewTimer(q.cfg.DrainTimeout)
		defer timer.Stop()
		expired = timer.C
	} else {
		ch := make(chan time.Time)
		close(ch)
		expired = ch
	}

	select {
	case <-q.done:
		metrics.QueueDepth.Set(0)
		return nil
	case <-expired:
	case <-ctx.Done():
	}

	pending := len(q.tasks)
	q.abandon.Store(true)
	q.cancelRun()

	select {
	case <-q.done:
	case <-ctx.Done():
	}
	metrics.QueueDepth.Set(0)

	slog.Warn("task queue shutdown abandoned pending tasks",
		"pending", pending, "abandoned", q.abandoned.Load())
	return fmt.Errorf("%w: %d tasks pending", core.ErrDrainTimeout, pending)
}

func (q *Queue) worker(id int) {
	defer q.workers.Done()

	for t := range q.tasks {
		metrics.QueueDepth.Set(float64(len(q.tasks)))
		if q.abandon.Load() {
			q.abandoned.Add(1)
			metrics.QueueTasksTotal.WithLabelValues(metrics.TaskAbandoned).Inc()
			continue
		}
		q.execute(id, t)
	}
}

// execute runs t and contains any error or panic it produces.
func (q *Queue) execute(id int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			q.panicked.Add(1)
			metrics.QueueTasksTotal.WithLabelValues(metrics.TaskPanicked).Inc()
			slog.Error("task panicked", "worker", id, "path", t.Path, "panic", r)
		}
	}()

	if err := q.runner.Run(q.runCtx, t); err != nil {
		q.failed.Add(1)
		metrics.QueueTasksTotal.WithLabelValues(metrics.TaskFailed).Inc()
		slog.Debug("task failed", "worker", id, "path", t.Path, "error", err)
		return
	}
	q.sent.Add(1)
	metrics.QueueTasksTotal.WithLabelValues(metrics.TaskSent).Inc()
}
