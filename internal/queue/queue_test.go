package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/packeteater/internal/core"
)

// recorder records the paths it runs, in order.
type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) Run(_ context.Context, t Task) error {
	r.mu.Lock()
	r.paths = append(r.paths, t.Path)
	r.mu.Unlock()
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

// gate blocks every task until released and reports when a task starts.
type gate struct {
	recorder
	started chan string
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan string, 64), release: make(chan struct{})}
}

func (g *gate) Run(ctx context.Context, t Task) error {
	g.started <- t.Path
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.recorder.Run(ctx, t)
}

func task(i int) Task { return Task{Path: strconv.Itoa(i), Body: []byte{byte(i)}} }

func waitStarted(t *testing.T, g *gate, want string) {
	t.Helper()
	select {
	case got := <-g.started:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s never started", want)
	}
}

func TestSingleWorkerPreservesOrder(t *testing.T) {
	rec := &recorder{}
	q := New(Config{Workers: 1, Capacity: 256, DrainTimeout: 5 * time.Second}, rec)

	var want []string
	for i := 0; i < 200; i++ {
		require.NoError(t, q.Schedule(task(i)))
		want = append(want, strconv.Itoa(i))
	}
	require.NoError(t, q.Shutdown(context.Background()))

	assert.Equal(t, want, rec.seen())
	stats := q.Stats()
	assert.Equal(t, uint64(200), stats.Scheduled)
	assert.Equal(t, uint64(200), stats.Sent)
	assert.Zero(t, stats.Depth)
}

func TestSingleWorkerNeverOverlaps(t *testing.T) {
	var active, maxActive atomic.Int32
	runner := RunnerFunc(func(context.Context, Task) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	})

	q := New(Config{Workers: 1, Capacity: 64, DrainTimeout: 5 * time.Second}, runner)
	for i := 0; i < 20; i++ {
		require.NoError(t, q.Schedule(task(i)))
	}
	require.NoError(t, q.Shutdown(context.Background()))

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestSeveralWorkersRunConcurrently(t *testing.T) {
	g := newGate()
	q := New(Config{Workers: 3, Capacity: 8, DrainTimeout: 5 * time.Second}, g)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Schedule(task(i)))
	}
	started := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case p := <-g.started:
			started[p] = true
		case <-time.After(2 * time.Second):
			t.Fatal("workers did not pick tasks up concurrently")
		}
	}
	close(g.release)
	require.NoError(t, q.Shutdown(context.Background()))

	assert.Len(t, started, 3)
	assert.ElementsMatch(t, []string{"0", "1", "2"}, g.seen())
}

func TestScheduleDoesNotWaitForExecution(t *testing.T) {
	g := newGate()
	q := New(Config{Workers: 1, Capacity: 16, DrainTimeout: time.Second}, g)
	defer func() {
		close(g.release)
		q.Shutdown(context.Background())
	}()

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Schedule(task(i)))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestErrorsAndPanicsAreContained(t *testing.T) {
	rec := &recorder{}
	runner := RunnerFunc(func(ctx context.Context, tk Task) error {
		switch tk.Path {
		case "1":
			return errors.New("connection refused")
		case "2":
			panic("boom")
		}
		return rec.Run(ctx, tk)
	})

	q := New(Config{Workers: 1, Capacity: 8, DrainTimeout: 5 * time.Second}, runner)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Schedule(task(i)))
	}
	require.NoError(t, q.Shutdown(context.Background()))

	assert.Equal(t, []string{"0", "3", "4"}, rec.seen())
	stats := q.Stats()
	assert.Equal(t, uint64(3), stats.Sent)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.Panicked)
}

func TestDropTailRejectsNewest(t *testing.T) {
	g := newGate()
	q := New(Config{Workers: 1, Capacity: 2, DropPolicy: DropTail, DrainTimeout: 5 * time.Second}, g)

	require.NoError(t, q.Schedule(task(0)))
	waitStarted(t, g, "0")
	require.NoError(t, q.Schedule(task(1)))
	require.NoError(t, q.Schedule(task(2)))

	err := q.Schedule(task(3))
	assert.ErrorIs(t, err, core.ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	close(g.release)
	require.NoError(t, q.Shutdown(context.Background()))

	assert.Equal(t, []string{"0", "1", "2"}, g.seen())
	assert.Equal(t, uint64(1), q.Stats().Dropped)
}

func TestDropHeadEvictsOldest(t *testing.T) {
	g := newGate()
	q := New(Config{Workers: 1, Capacity: 2, DropPolicy: DropHead, DrainTimeout: 5 * time.Second}, g)

	require.NoError(t, q.Schedule(task(0)))
	waitStarted(t, g, "0")
	require.NoError(t, q.Schedule(task(1)))
	require.NoError(t, q.Schedule(task(2)))
	require.NoError(t, q.Schedule(task(3)))

	close(g.release)
	require.NoError(t, q.Shutdown(context.Background()))

	assert.Equal(t, []string{"0", "2", "3"}, g.seen())
	stats := q.Stats()
	assert.Zero(t, stats.Dropped)
	assert.Equal(t, uint64(1), stats.Evicted)
	assert.Equal(t, uint64(4), stats.Scheduled)
	assert.Equal(t, stats.Scheduled, stats.Sent+stats.Failed+stats.Panicked+stats.Evicted+stats.Abandoned)
}

func TestShutdownAbandonsAfterDrainTimeout(t *testing.T) {
	g := newGate()
	q := New(Config{Workers: 1, Capacity: 8, DrainTimeout: 50 * time.Millisecond}, g)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Schedule(task(i)))
	}
	waitStarted(t, g, "0")

	start := time.Now()
	err := q.Shutdown(context.Background())
	assert.ErrorIs(t, err, core.ErrDrainTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Failed, "in-flight task sees its context cancelled")
	assert.Equal(t, uint64(2), stats.Abandoned)
	assert.Zero(t, stats.Sent)
	assert.Empty(t, g.seen())
}

func TestShutdownHonorsContext(t *testing.T) {
	g := newGate()
	q := New(Config{Workers: 1, Capacity: 8, DrainTimeout: time.Hour}, g)

	require.NoError(t, q.Schedule(task(0)))
	waitStarted(t, g, "0")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Shutdown(ctx), core.ErrDrainTimeout)
}

func TestScheduleAfterShutdown(t *testing.T) {
	q := New(Config{}, &recorder{})
	require.NoError(t, q.Shutdown(context.Background()))

	assert.ErrorIs(t, q.Schedule(task(0)), core.ErrQueueClosed)
	assert.NoError(t, q.Shutdown(context.Background()), "second shutdown returns the first result")
}

func TestNewAppliesDefaults(t *testing.T) {
	q := New(Config{}, &recorder{})
	defer q.Shutdown(context.Background())

	assert.Equal(t, defaultWorkers, q.cfg.Workers)
	assert.Equal(t, defaultCapacity, cap(q.tasks))
	assert.Equal(t, DropTail, q.cfg.DropPolicy)
}

func TestParseDropPolicy(t *testing.T) {
	for in, want := range map[string]DropPolicy{"": DropTail, "tail": DropTail, "HEAD": DropHead, " head ": DropHead} {
		got, err := ParseDropPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDropPolicy("random")
	assert.Error(t, err)
}
