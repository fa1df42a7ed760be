// Package submit implements the lazily constructed, mutex-guarded HTTP client
// that posts encoded records to the collection endpoint.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"firestige.xyz/packeteater/internal/config"
	"firestige.xyz/packeteater/internal/core"
	"firestige.xyz/packeteater/internal/metrics"
	"firestige.xyz/packeteater/internal/queue"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultUserAgent = "packeteater"

	// gzipThreshold is the smallest body worth compressing.
	gzipThreshold = 512

	maxResponseBytes = 4096
)

// Factory builds the underlying HTTP client on first use.
type Factory func() *http.Client

// Option configures a Client.
type Option func(*Client)

// WithFactory replaces the default HTTP client factory.
func WithFactory(f Factory) Option {
	return func(c *Client) { c.factory = f }
}

// Acceptance is the body the collector returns with 202 Accepted.
type Acceptance struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

// Client posts records to BaseURL. The HTTP client is built inside the
// critical section on the first Submit, and at most one Submit is in flight
// at any time.
type Client struct {
	baseURL   string
	timeout   time.Duration
	gzip      bool
	userAgent string
	factory   Factory

	mu       sync.Mutex
	hc       *http.Client
	builds   int
	accepted bool
}

// New returns a Client for cfg. No connection is made until the first Submit.
func New(cfg config.SubmissionConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		timeout:   cfg.Timeout,
		gzip:      strings.EqualFold(cfg.Compression, "gzip"),
		userAgent: cfg.UserAgent,
		factory:   defaultFactory,
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultFactory() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Run implements queue.Runner.
func (c *Client) Run(ctx context.Context, t queue.Task) error {
	return c.Submit(ctx, t.Path, t.Body)
}

// Submit posts body to BaseURL+path. Transport failures, timeouts and non-2xx
// responses are returned; nothing is retried.
func (c *Client) Submit(ctx context.Context, path string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hc == nil {
		c.hc = c.factory()
		c.builds++
		slog.Debug("submission client created", "base_url", c.baseURL)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, path, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	metrics.SubmitLatencySeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SubmitRequestsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("submit %s: %w", path, err)
	}
	defer resp.Body.Close()
	metrics.SubmitRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusAccepted && !c.accepted {
		c.accepted = true
		c.logAcceptance(resp.Body)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s", core.ErrUnexpectedStatus, resp.Status)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, path string, body []byte) (*http.Request, error) {
	payload := body
	compressed := false
	if c.gzip && len(body) >= gzipThreshold {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, fmt.Errorf("compress body: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress body: %w", err)
		}
		payload = buf.Bytes()
		compressed = true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
	return req, nil
}

func (c *Client) logAcceptance(body io.Reader) {
	var a Acceptance
	if err := json.NewDecoder(io.LimitReader(body, maxResponseBytes)).Decode(&a); err != nil {
		slog.Info("submission accepted", "base_url", c.baseURL)
		return
	}
	slog.Info("submission accepted", "base_url", c.baseURL, "status", a.Status, "request_id", a.RequestID)
}

// Builds reports how many times the HTTP client has been constructed.
func (c *Client) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}

// Close releases idle connections and drops the HTTP client. A later Submit
// builds a new one.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hc != nil {
		c.hc.CloseIdleConnections()
		c.hc = nil
	}
	return nil
}
