// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

// Package responder runs the throwaway loopback HTTP servers the guest
// installer talks to through the QEMU guest forward.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Server is an HTTP server bound to an ephemeral loopback port.
type Server struct {
	logger   *slog.Logger
	listener net.Listener
	server   *http.Server
	port     int
	errCh    chan error
}

// Start binds 127.0.0.1:0 and serves handler on a background goroutine.
// Every request, including OPTIONS *, reaches handler.
func Start(logger *slog.Logger, handler http.Handler) (*Server, error) {
	if logger == nil {
		return nil, errors.New("responder: logger is required")
	}
	if handler == nil {
		return nil, errors.New("responder: handler is required")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("responder: bind loopback: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	log := logger.With("component", "responder", "port", port)

	s := &Server{
		logger:   log,
		listener: ln,
		port:     port,
		errCh:    make(chan error, 1),
		server: &http.Server{
			Handler:                      handler,
			DisableGeneralOptionsHandler: true,
			ReadHeaderTimeout:            30 * time.Second,
			IdleTimeout:                  2 * time.Minute,
			ErrorLog:                     slog.NewLogLogger(log.Handler(), slog.LevelDebug),
		},
	}

	go func() {
		defer close(s.errCh)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("responder stopped", "error", err)
			s.errCh <- err
		}
	}()

	log.Debug("responder listening")
	return s, nil
}

// Port returns the bound loopback port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port of the listener.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close shuts the server down, forcing open connections closed once ctx expires.
func (s *Server) Close(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if err != nil {
		err = errors.Join(err, s.server.Close())
	}
	if serveErr := <-s.errCh; serveErr != nil {
		err = errors.Join(err, serveErr)
	}
	if err != nil {
		return fmt.Errorf("responder: close: %w", err)
	}
	return nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("guest request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
