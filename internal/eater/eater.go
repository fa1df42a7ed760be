// Package eater is the entry point host adapters call for every intercepted
// packet. HandlePacketData checks the environment, encodes the packet and
// schedules its submission, then returns without waiting on the network.
package eater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"firestige.xyz/packeteater/internal/config"
	"firestige.xyz/packeteater/internal/core"
	"firestige.xyz/packeteater/internal/guard"
	"firestige.xyz/packeteater/internal/metrics"
	"firestige.xyz/packeteater/internal/queue"
	"firestige.xyz/packeteater/internal/record"
	"firestige.xyz/packeteater/internal/submit"
)

// Option customizes Open.
type Option func(*options)

type options struct {
	guard      guard.Guard
	now        func() time.Time
	submitOpts []submit.Option
	wrapRunner func(queue.Runner) queue.Runner
}

// WithGuard overrides the guard built from configuration.
func WithGuard(g guard.Guard) Option {
	return func(o *options) { o.guard = g }
}

// WithClock overrides the capture clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSubmitOptions passes options to the submission client.
func WithSubmitOptions(opts ...submit.Option) Option {
	return func(o *options) { o.submitOpts = append(o.submitOpts, opts...) }
}

// Core owns the guard, encoder, queue and submission client of one relay.
type Core struct {
	guard    guard.Guard
	encoder  *record.Encoder
	queue    *queue.Queue
	client   *submit.Client
	path     string
	limiter  *rate.Limiter
	excluded map[uint16]struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open builds a Core from cfg and starts its workers. The HTTP client is not
// created until the first packet reaches a worker.
func Open(cfg *config.GlobalConfig, opts ...Option) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", core.ErrConfigInvalid)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.guard == nil {
		o.guard = guard.New(cfg.Guard)
	}

	policy, err := queue.ParseDropPolicy(cfg.Queue.DropPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}

	c := &Core{
		guard:   o.guard,
		encoder: &record.Encoder{Now: o.now},
		client:  submit.New(cfg.Submission, o.submitOpts...),
		path:    cfg.Submission.Path,
	}
	if c.path == "" {
		c.path = "/upload"
	}

	if cfg.Filter.RateLimit > 0 {
		burst := cfg.Filter.Burst
		if burst <= 0 {
			burst = int(cfg.Filter.RateLimit)
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.Filter.RateLimit), burst)
	}
	if len(cfg.Filter.ExcludePacketIDs) > 0 {
		c.excluded = make(map[uint16]struct{}, len(cfg.Filter.ExcludePacketIDs))
		for _, id := range cfg.Filter.ExcludePacketIDs {
			c.excluded[uint16(id)] = struct{}{}
		}
	}

	var runner queue.Runner = c.client
	if o.wrapRunner != nil {
		runner = o.wrapRunner(runner)
	}
	c.queue = queue.New(queue.Config{
		Workers:      cfg.Queue.Workers,
		Capacity:     cfg.Queue.Capacity,
		DropPolicy:   policy,
		DrainTimeout: cfg.Queue.DrainTimeout,
	}, runner)

	slog.Info("packet eater started",
		"base_url", cfg.Submission.BaseURL,
		"workers", cfg.Queue.Workers,
		"capacity", cfg.Queue.Capacity,
		"drop_policy", string(policy))

	return c, nil
}

// HandlePacketData relays one packet. It never blocks on the network and
// never panics; packets are silently dropped when the process is not the
// game client, when filtered, or when the queue is full or closed.
func (c *Core) HandlePacketData(info core.SessionInfo, data []byte, dir core.Direction, origin core.Origin) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PacketsTotal.WithLabelValues(dir.String(), metrics.OutcomePanic).Inc()
			slog.Error("packet handling panicked", "panic", r)
		}
	}()

	if !c.guard.IsTargetEnvironment() {
		metrics.PacketsTotal.WithLabelValues(dir.String(), metrics.OutcomeSuppressed).Inc()
		return
	}

	if c.excluded != nil {
		if h, err := core.ParseHeader(data); err == nil {
			if _, skip := c.excluded[h.ID]; skip {
				metrics.PacketsTotal.WithLabelValues(dir.String(), metrics.OutcomeExcluded).Inc()
				return
			}
		}
	}

	if c.limiter != nil && !c.limiter.Allow() {
		metrics.PacketsTotal.WithLabelValues(dir.String(), metrics.OutcomeRateLimited).Inc()
		return
	}

	body := c.encoder.Encode(info, data, dir, origin)
	if err := c.queue.Schedule(queue.Task{Path: c.path, Body: body}); err != nil {
		metrics.PacketsTotal.WithLabelValues(dir.String(), metrics.OutcomeRejected).Inc()
		if !errors.Is(err, core.ErrQueueFull) {
			slog.Debug("packet not queued", "error", err)
		}
		return
	}
	metrics.PacketsTotal.WithLabelValues(dir.String(), metrics.OutcomeQueued).Inc()
}

// Stats returns the queue counters.
func (c *Core) Stats() queue.Stats { return c.queue.Stats() }

// Close drains the queue within its drain timeout and then releases the
// submission client. It is safe to call more than once.
func (c *Core) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		qerr := c.queue.Shutdown(ctx)
		cerr := c.client.Close()
		c.closeErr = errors.Join(qerr, cerr)

		s := c.queue.Stats()
		slog.Info("packet eater stopped",
			"scheduled", s.Scheduled,
			"sent", s.Sent,
			"failed", s.Failed,
			"dropped", s.Dropped,
			"evicted", s.Evicted,
			"abandoned", s.Abandoned)
	})
	return c.closeErr
}
