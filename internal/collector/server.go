package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"firestige.xyz/packeteater/internal/config"
)

// Server serves the collector handler and owns its sink.
type Server struct {
	cfg    config.CollectorConfig
	sink   Sink
	ln     net.Listener
	server *http.Server
}

// NewServer builds the sink named in cfg. Nothing listens until Start.
func NewServer(cfg config.CollectorConfig) (*Server, error) {
	sink, err := NewSink(cfg)
	if err != nil {
		return nil, err
	}
	return NewServerWithSink(cfg, sink), nil
}

// NewServerWithSink serves with an existing sink.
func NewServerWithSink(cfg config.CollectorConfig, sink Sink) *Server {
	if cfg.Path == "" {
		cfg.Path = "/upload"
	}
	return &Server{cfg: cfg, sink: sink}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("collector listen on %s: %w", s.cfg.Listen, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, NewHandler(s.sink, NewRegistry(s.cfg), s.cfg.MaxBodyBytes))

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	slog.Info("starting collector",
		"addr", ln.Addr().String(),
		"path", s.cfg.Path,
		"sink", s.sink.Name(),
		"allow_remote", s.cfg.AllowRemote)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("collector server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Listen
}

// Stop shuts the HTTP server down and closes the sink.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	if s.server != nil {
		slog.Info("stopping collector")
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("collector shutdown failed: %w", err))
		}
	}
	if err := s.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s sink: %w", s.sink.Name(), err))
	}
	return errors.Join(errs...)
}
