// Package collector implements the /upload receiver that validates submitted
// records and publishes them to a queue backend.
package collector

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"firestige.xyz/packeteater/internal/config"
	"firestige.xyz/packeteater/internal/core"
	"firestige.xyz/packeteater/internal/metrics"
	"firestige.xyz/packeteater/internal/record"
)

// DefaultMaxBodyBytes bounds request bodies, after decompression.
const DefaultMaxBodyBytes = 1 << 20

// Response statuses.
const (
	StatusQueued         = "queued"
	StatusNotWhitelisted = "not yet whitelisted"
	StatusBanned         = "banned"
	StatusInvalid        = "invalid record"
	StatusTooLarge       = "too large"
	StatusError          = "error"
)

// Response is the JSON body of every collector reply.
type Response struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// Handler accepts POST and PUT submissions.
type Handler struct {
	sink     Sink
	registry *Registry
	maxBody  int64
	now      func() time.Time
	newID    func() string
}

// NewHandler returns a handler publishing to sink. Loopback and private
// clients are always admitted; others only when the registry whitelists
// them.
func NewHandler(sink Sink, registry *Registry, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	if registry == nil {
		registry = NewRegistry(config.CollectorConfig{})
	}
	return &Handler{
		sink:     sink,
		registry: registry,
		maxBody:  maxBody,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.Header().Set("Allow", "POST, PUT")
		h.reply(w, http.StatusMethodNotAllowed, Response{Status: "method not allowed"})
		return
	}

	// The client address is used for admission and hashed here; it is not
	// kept anywhere else.
	ip := remoteIP(r)
	if !ip.IsValid() {
		h.reply(w, http.StatusForbidden, Response{Status: StatusNotWhitelisted})
		return
	}
	submitter := SubmitterID(ip.String())

	switch s := h.registry.Lookup(submitter, isLocal(ip)); {
	case s.Banned:
		h.reply(w, http.StatusForbidden, Response{Status: StatusBanned})
		return
	case !s.Whitelisted:
		h.reply(w, http.StatusForbidden, Response{Status: StatusNotWhitelisted})
		return
	}

	body, err := h.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, errBodyTooLarge) {
			h.reply(w, http.StatusRequestEntityTooLarge, Response{Status: StatusTooLarge})
			return
		}
		slog.Debug("unreadable submission body", "error", err)
		h.reply(w, http.StatusBadRequest, Response{Status: StatusInvalid})
		return
	}

	rec, err := record.Decode(body)
	if err != nil {
		slog.Debug("rejected submission", "error", err)
		h.reply(w, http.StatusBadRequest, Response{Status: StatusInvalid})
		return
	}
	data, err := rec.Data()
	if err != nil {
		slog.Debug("rejected submission", "error", err)
		h.reply(w, http.StatusBadRequest, Response{Status: StatusInvalid})
		return
	}
	hdr, err := core.ParseHeader(data)
	if err != nil {
		slog.Debug("rejected submission", "error", err)
		h.reply(w, http.StatusBadRequest, Response{Status: StatusInvalid})
		return
	}
	if rec.Version == "" {
		rec.Version = core.UnknownVersion
	}

	env := newEnvelope(h.newID(), submitter, h.now().UnixMilli(), rec, data, hdr)
	if err := h.sink.Publish(r.Context(), env); err != nil {
		metrics.CollectorPublishedTotal.WithLabelValues(h.sink.Name(), "error").Inc()
		slog.Error("failed to publish envelope", "sink", h.sink.Name(), "request_id", env.RequestID, "error", err)
		h.reply(w, http.StatusInternalServerError, Response{Status: StatusError})
		return
	}
	metrics.CollectorPublishedTotal.WithLabelValues(h.sink.Name(), "ok").Inc()

	h.reply(w, http.StatusAccepted, Response{Status: StatusQueued, RequestID: env.RequestID})
}

var errBodyTooLarge = errors.New("decompressed body too large")

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	var rd io.Reader = http.MaxBytesReader(w, r.Body, h.maxBody)
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(rd)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		rd = zr
	}

	b, err := io.ReadAll(io.LimitReader(rd, h.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > h.maxBody {
		return nil, errBodyTooLarge
	}
	return b, nil
}

func (h *Handler) reply(w http.ResponseWriter, code int, resp Response) {
	metrics.CollectorRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

func remoteIP(r *http.Request) netip.Addr {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

func isLocal(ip netip.Addr) bool {
	return ip.IsValid() && (ip.IsLoopback() || ip.IsPrivate())
}
