package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrServerStarted is returned by a second Start.
var ErrServerStarted = errors.New("server already started")

// ServerConfig configures a stream server.
type ServerConfig struct {
	// Address to listen on (e.g. ":7401").
	Address string

	// Conn is applied to every accepted connection. The server chains its
	// own bookkeeping in front of Conn.OnClose.
	Conn ConnConfig

	// OnConnect sees each accepted connection before its read loop runs.
	OnConnect func(c *Conn)

	Logger *slog.Logger
}

// Server accepts stream connections and tracks the open ones.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	open   map[*Conn]struct{}
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewServer creates a server. Start begins listening.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{cfg: cfg, logger: logger, open: make(map[*Conn]struct{})}
}

// Start binds the address and accepts in the background until Stop or
// until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return ErrServerStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.ln = ln
	s.group, ctx = errgroup.WithContext(ctx)
	s.group.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	s.group.Go(func() error {
		s.serve(ctx, ln)
		return nil
	})
	return nil
}

// Stop closes the listener and every open connection. A stopped server
// cannot be restarted.
func (s *Server) Stop() error {
	s.mu.Lock()
	cancel, group := s.cancel, s.group
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	err := group.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	for _, c := range s.snapshot() {
		c.finish(nil)
	}
	return err
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

func (s *Server) snapshot() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.open))
	for c := range s.open {
		out = append(out, c)
	}
	return out
}

func (s *Server) serve(ctx context.Context, ln net.Listener) {
	for {
		nc, err := ln.Accept()
		switch {
		case ctx.Err() != nil || errors.Is(err, net.ErrClosed):
			if nc != nil {
				nc.Close()
			}
			return
		case err != nil:
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.accept(ctx, nc)
	}
}

func (s *Server) accept(ctx context.Context, nc net.Conn) {
	cfg := s.cfg.Conn
	userClose := cfg.OnClose
	cfg.OnClose = func(c *Conn, err error) {
		s.mu.Lock()
		delete(s.open, c)
		s.mu.Unlock()
		if userClose != nil {
			userClose(c, err)
		}
	}

	c := newConn(nc, cfg)
	s.mu.Lock()
	s.open[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("connection accepted", "conn", c.ID(), "remote", nc.RemoteAddr())
	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(c)
	}
	c.start(ctx)
}
