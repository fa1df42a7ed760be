package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultLokiBatchSize     = 100
	defaultLokiFlushInterval = 5 * time.Second
	defaultLokiJob           = "packeteater"

	// maxPendingBatches bounds the number of full batches waiting for a push.
	maxPendingBatches = 8
)

// LokiConfig contains configuration for Loki writer.
type LokiConfig struct {
	Endpoint      string            // Loki push endpoint URL
	Labels        map[string]string // Stream labels
	BatchSize     int               // Number of log lines per push
	FlushInterval string            // Flush interval (e.g., "5s")
}

// LokiWriter implements io.Writer and ships log lines to Grafana Loki.
// Write never performs network I/O; full batches are handed to a background
// pusher and dropped when the pusher falls behind.
type LokiWriter struct {
	endpoint      string
	labels        map[string]string
	batchSize     int
	flushInterval time.Duration
	httpClient    *http.Client

	mu      sync.Mutex
	batch   []logEntry
	closed  bool
	pending chan []logEntry
	done    chan struct{}
	wg      sync.WaitGroup

	dropped atomic.Uint64
	pushed  atomic.Uint64
}

type logEntry struct {
	timestamp time.Time
	line      string
}

type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewLokiWriter creates a new Loki writer and starts its pusher.
func NewLokiWriter(cfg LokiConfig) (*LokiWriter, error) {
	flushInterval := defaultLokiFlushInterval
	if cfg.FlushInterval != "" {
		d, err := time.ParseDuration(cfg.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid flush interval: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid flush interval: %s", cfg.FlushInterval)
		}
		flushInterval = d
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultLokiBatchSize
	}

	labels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	if _, ok := labels["job"]; !ok {
		labels["job"] = defaultLokiJob
	}

	lw := &LokiWriter{
		endpoint:      cfg.Endpoint,
		labels:        labels,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		batch:         make([]logEntry, 0, batchSize),
		pending:       make(chan []logEntry, maxPendingBatches),
		done:          make(chan struct{}),
	}

	lw.wg.Add(1)
	go lw.run()

	return lw, nil
}

// Write implements io.Writer.
func (lw *LokiWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.closed {
		return 0, fmt.Errorf("loki writer is closed")
	}

	lw.batch = append(lw.batch, logEntry{
		timestamp: time.Now(),
		line:      string(bytes.TrimRight(p, "\n")),
	})
	if len(lw.batch) >= lw.batchSize {
		lw.handOffLocked()
	}
	return len(p), nil
}

// Dropped returns the number of log lines discarded because Loki could not
// keep up or rejected a push.
func (lw *LokiWriter) Dropped() uint64 { return lw.dropped.Load() }

// Pushed returns the number of log lines Loki accepted.
func (lw *LokiWriter) Pushed() uint64 { return lw.pushed.Load() }

// Close stops the pusher after shipping whatever is still buffered.
func (lw *LokiWriter) Close() error {
	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return nil
	}
	lw.closed = true
	rest := lw.batch
	lw.batch = nil
	lw.mu.Unlock()

	close(lw.done)
	lw.wg.Wait()

	if len(rest) == 0 {
		return nil
	}
	return lw.push(rest)
}

// handOffLocked queues the current batch for the pusher. Must be called with
// lw.mu held.
func (lw *LokiWriter) handOffLocked() {
	if len(lw.batch) == 0 {
		return
	}
	full := lw.batch
	lw.batch = make([]logEntry, 0, lw.batchSize)
	select {
	case lw.pending <- full:
	default:
		lw.dropped.Add(uint64(len(full)))
	}
}

func (lw *LokiWriter) run() {
	defer lw.wg.Done()

	ticker := time.NewTicker(lw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case b := <-lw.pending:
			_ = lw.push(b)
		case <-ticker.C:
			lw.mu.Lock()
			if !lw.closed {
				lw.handOffLocked()
			}
			lw.mu.Unlock()
		case <-lw.done:
			for {
				select {
				case b := <-lw.pending:
					_ = lw.push(b)
				default:
					return
				}
			}
		}
	}
}

func (lw *LokiWriter) push(entries []logEntry) error {
	values := make([][]string, len(entries))
	for i, e := range entries {
		values[i] = []string{strconv.FormatInt(e.timestamp.UnixNano(), 10), e.line}
	}
	data, err := json.Marshal(lokiPushRequest{
		Streams: []lokiStream{{Stream: lw.labels, Values: values}},
	})
	if err != nil {
		lw.dropped.Add(uint64(len(entries)))
		return fmt.Errorf("failed to marshal loki request: %w", err)
	}

	if err := lw.send(data); err != nil {
		lw.dropped.Add(uint64(len(entries)))
		return err
	}
	lw.pushed.Add(uint64(len(entries)))
	return nil
}

func (lw *LokiWriter) send(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lw.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := lw.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("loki push failed with status %d: %s", resp.StatusCode, body)
	}
	return nil
}
