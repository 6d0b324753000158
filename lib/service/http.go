// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const defaultShutdownTimeout = 10 * time.Second

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Address is the TCP listen address, e.g. ":8090". Port 0 picks a
	// free port; read it back from Addr once Ready is closed.
	Address string

	Handler http.Handler

	// ShutdownTimeout bounds the drain of in-flight requests after
	// Serve's context ends. Defaults to 10 seconds.
	ShutdownTimeout time.Duration

	// WriteTimeout bounds writing a response, measured from the end of
	// the request headers. Zero means no limit. A deploy answers only
	// after the agent does, so the controller sets this above the
	// agent deploy timeout.
	WriteTimeout time.Duration

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// HTTPServer serves the controller's control API and /metrics.
type HTTPServer struct {
	config HTTPServerConfig
	logger *slog.Logger
	ready  chan struct{}
	addr   net.Addr
}

// NewHTTPServer validates config. It panics on a missing address or
// handler, which are programming errors in main.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	if config.Address == "" {
		panic("service.HTTPServer: Address is required")
	}
	if config.Handler == nil {
		panic("service.HTTPServer: Handler is required")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPServer{
		config: config,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (s *HTTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound address. Valid after Ready is closed.
func (s *HTTPServer) Addr() net.Addr {
	return s.addr
}

// Serve binds the listener and serves until ctx ends, then drains
// in-flight requests. Request contexts derive from ctx, so a handler
// waiting on an agent sees the shutdown too. Returns nil after a clean
// drain.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler:           s.config.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.logger.Info("http server listening", "address", s.addr.String())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server draining", "timeout", s.config.ShutdownTimeout)
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		s.logger.Error("http server drain incomplete", "error", err)
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
