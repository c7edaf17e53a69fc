// Package server accepts transfer connections and drives one stream
// receiver per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/netutil"

	"firestige.xyz/iris/internal/log"
	"firestige.xyz/iris/internal/metrics"
	"firestige.xyz/iris/internal/protocol"
	"firestige.xyz/iris/internal/receive"
	"firestige.xyz/iris/internal/sink"
)

// Config tunes the receiving server.
type Config struct {
	// Listen is the TCP listen address, e.g. ":8080".
	Listen string
	// MaxSessions bounds concurrently handled connections.
	MaxSessions int
	// ChunkSize is the payload receive/write granularity.
	ChunkSize int
	// Limits bounds peer-declared sizes.
	Limits protocol.Limits
}

func (c Config) withDefaults() Config {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 3
	}
	return c
}

// Server owns the listener. Each accepted connection gets its own
// receiver with its own parse state; no session state is shared.
type Server struct {
	cfg    Config
	sink   sink.Sink
	wg     sync.WaitGroup
	logger log.Logger

	mu   sync.Mutex
	addr net.Addr
}

// New creates a server persisting messages to out.
func New(out sink.Sink, cfg Config) *Server {
	return &Server{
		cfg:    cfg.withDefaults(),
		sink:   out,
		logger: log.GetLogger().WithField("component", "server"),
	}
}

// Addr returns the bound listen address, or nil before ListenAndServe
// has bound it. Lets callers use ":0" listen addresses.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe accepts connections until ctx is cancelled. A bind or
// listen failure is fatal to the consumer process. Session failures end
// only the failing session; accepting continues.
func (s *Server) ListenAndServe(ctx context.Context) error {
	raw, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	ln := netutil.LimitListener(raw, s.cfg.MaxSessions)
	s.mu.Lock()
	s.addr = raw.Addr()
	s.mu.Unlock()
	s.logger.WithFields(map[string]interface{}{
		"listen":       s.cfg.Listen,
		"max_sessions": s.cfg.MaxSessions,
	}).Info("server started")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.WithError(err).Warn("accept failed")
			continue
		}
		metrics.SessionsTotal.Inc()
		s.wg.Add(1)
		go s.handle(conn)
	}

	// In-flight sessions drain before shutdown completes.
	s.wg.Wait()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	peer := conn.RemoteAddr().String()
	logger := s.logger.WithField("peer", peer)
	logger.Info("session opened")

	rx := receive.New(s.sink, receive.Config{
		Limits:    s.cfg.Limits,
		ChunkSize: s.cfg.ChunkSize,
	})
	received, err := rx.Run(conn)
	if err != nil {
		logger.WithError(err).WithField("messages", received).Warn("session ended with error")
		return
	}
	logger.WithField("messages", received).Info("session closed")
}
