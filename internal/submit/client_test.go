package submit

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/packeteater/internal/config"
	"firestige.xyz/packeteater/internal/core"
	"firestige.xyz/packeteater/internal/queue"
)

func newClient(url string, opts ...Option) *Client {
	return New(config.SubmissionConfig{BaseURL: url, Timeout: time.Second}, opts...)
}

func countingFactory(n *atomic.Int32) Option {
	return WithFactory(func() *http.Client {
		n.Add(1)
		return &http.Client{}
	})
}

func TestSubmitRequestShape(t *testing.T) {
	var got struct {
		method, path, contentType, userAgent, encoding string
		body                                           []byte
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.contentType = r.Header.Get("Content-Type")
		got.userAgent = r.Header.Get("User-Agent")
		got.encoding = r.Header.Get("Content-Encoding")
		got.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newClient(server.URL + "/")
	body := []byte(`{"name":"Ayame"}`)
	require.NoError(t, c.Submit(context.Background(), "/upload", body))

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/upload", got.path)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, "packeteater", got.userAgent)
	assert.Empty(t, got.encoding)
	assert.Equal(t, body, got.body)
}

func TestClientIsBuiltLazilyOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var builds atomic.Int32
	c := newClient(server.URL, countingFactory(&builds))
	assert.Zero(t, builds.Load(), "no client before the first submission")
	assert.Zero(t, c.Builds())

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Submit(context.Background(), "/upload", []byte("{}")))
	}
	assert.Equal(t, int32(1), builds.Load())
	assert.Equal(t, 1, c.Builds())
}

func TestConcurrentSubmitsAreSerialized(t *testing.T) {
	var active, maxActive atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var builds atomic.Int32
	c := newClient(server.URL, countingFactory(&builds))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Submit(context.Background(), "/upload", []byte("{}")))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load(), "requests must never overlap")
	assert.Equal(t, int32(1), builds.Load(), "concurrent first use builds one client")
}

func TestNon2xxIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":"not yet whitelisted"}`, http.StatusForbidden)
	}))
	defer server.Close()

	err := newClient(server.URL).Submit(context.Background(), "/upload", []byte("{}"))
	assert.ErrorIs(t, err, core.ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "403")
}

func TestStalledEndpointTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	c := New(config.SubmissionConfig{BaseURL: server.URL, Timeout: 100 * time.Millisecond})

	start := time.Now()
	err := c.Submit(context.Background(), "/upload", []byte("{}"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTransportFailureIsAnError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	assert.Error(t, newClient(url).Submit(context.Background(), "/upload", []byte("{}")))
}

func TestGzipAppliedAboveThreshold(t *testing.T) {
	var encodings []string
	var bodies [][]byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := r.Header.Get("Content-Encoding")
		var rd io.Reader = r.Body
		if enc == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			rd = zr
		}
		b, _ := io.ReadAll(rd)
		encodings = append(encodings, enc)
		bodies = append(bodies, b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := New(config.SubmissionConfig{BaseURL: server.URL, Timeout: time.Second, Compression: "gzip"})
	small := []byte(`{"payload":""}`)
	large := []byte(`{"payload":"` + strings.Repeat("QUFB", 512) + `"}`)

	require.NoError(t, c.Submit(context.Background(), "/upload", small))
	require.NoError(t, c.Submit(context.Background(), "/upload", large))

	assert.Equal(t, []string{"", "gzip"}, encodings)
	assert.Equal(t, small, bodies[0])
	assert.Equal(t, large, bodies[1])
}

func TestFirstAcceptanceLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"status":"queued","request_id":"4b1c"}`)
	}))
	defer server.Close()

	c := newClient(server.URL)
	require.NoError(t, c.Submit(context.Background(), "/upload", []byte("{}")))
	require.NoError(t, c.Submit(context.Background(), "/upload", []byte("{}")))

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "submission accepted"))
	assert.Contains(t, out, "request_id=4b1c")
}

func TestRunAdaptsQueueTask(t *testing.T) {
	var path atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var runner queue.Runner = newClient(server.URL)
	require.NoError(t, runner.Run(context.Background(), queue.Task{Path: "/upload", Body: []byte("{}")}))
	assert.Equal(t, "/upload", path.Load())
}

func TestCloseDropsClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newClient(server.URL)
	assert.NoError(t, c.Close(), "closing an unused client is a no-op")

	require.NoError(t, c.Submit(context.Background(), "/upload", []byte("{}")))
	require.NoError(t, c.Close())
	require.NoError(t, c.Submit(context.Background(), "/upload", []byte("{}")))
	assert.Equal(t, 2, c.Builds())
}
