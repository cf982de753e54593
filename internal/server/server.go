// Package server runs the chat session engine: a single accept
// dispatcher that admits sockets into the registry, one handler
// goroutine per session, and a lifecycle coordinator that reacts to
// joins, authentications and drops in order.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"relaychat/internal/errors"
	"relaychat/internal/metrics"
	"relaychat/internal/registry"
	"relaychat/util"
)

// Options configure a Server.  Zero durations disable the feature.
type Options struct {
	// Addr is the TCP listen address for ListenAndServe.
	Addr string

	// IdleTimeout ends a read that sees no bytes for this long.
	IdleTimeout time.Duration
	// KeepAlive is the TCP keepalive period for accepted sockets
	// (negative disables keepalives).
	KeepAlive time.Duration
	// ReconnectGrace is how long a timed-out session waits for its
	// host to reconnect before it is dropped.
	ReconnectGrace time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// MaxFrame bounds the bytes buffered for one frame (0 = unbounded).
	MaxFrame int

	Logger  *util.Logger
	Metrics *metrics.Collector

	// OnEvent, if set, is called by the coordinator after each
	// lifecycle event has been applied.
	OnEvent func(Event)
}

// Server is a chat server.  Create with New, run with ListenAndServe
// or Serve.
type Server struct {
	opts   Options
	reg    *registry.Registry
	logger *util.Logger
	stats  *metrics.Collector

	events   chan Event
	handlers sync.WaitGroup

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

// eventQueue is the lifecycle queue depth.  Emitters block when it is
// full, so it only smooths bursts.
const eventQueue = 256

// New creates a server.  It does not listen until ListenAndServe or
// Serve is called.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}
	return &Server{
		opts:   opts,
		logger: opts.Logger,
		stats:  opts.Metrics,
		reg: registry.New(registry.Options{
			WriteTimeout: opts.WriteTimeout,
			Logger:       opts.Logger,
			Metrics:      opts.Metrics,
		}),
		events: make(chan Event, eventQueue),
		ready:  make(chan struct{}),
	}
}

// Registry exposes the live session set for status reporting.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Metrics returns the server's collector (possibly nil).
func (s *Server) Metrics() *metrics.Collector { return s.stats }

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound listen address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe binds Options.Addr and serves until ctx is cancelled.
// A bind failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{KeepAlive: s.opts.KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return errors.Wrap("listen", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or accepting
// fails.  On return the listener and every session are closed, all
// handlers have exited and the lifecycle queue has been drained.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	close(s.ready)
	s.logger.Info("listening on %s", ln.Addr())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		ln.Close() //nolint:errcheck
		return nil
	})
	g.Go(func() error {
		err := s.acceptLoop(gctx, ln)
		cancel()
		s.reg.CloseAll()
		s.handlers.Wait()
		close(s.events)
		return err
	})
	g.Go(s.coordinate)

	err := g.Wait()
	s.logger.Info("server stopped")
	return err
}

// ── Dispatcher ───────────────────────────────────────────────────────

// acceptLoop is the only caller of Registry.Admit.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextAcceptBackoff(backoff)
				s.logger.Warn("accept: %v; retrying in %s", err, backoff)
				time.Sleep(backoff)
				continue
			}
			return errors.Wrap("accept", ln.Addr().String(), err)
		}
		backoff = 0

		addr := conn.RemoteAddr()
		sess, res := s.reg.Admit(addr, conn)
		switch res {
		case registry.NewSession:
			s.logger.Verbose("accepted %s", addr)
			// Accepted goes out before the handler can emit anything.
			s.emit(Accepted, sess)
			s.handlers.Add(1)
			go s.handle(ctx, sess)
		case registry.MigratedSession:
			s.logger.Info("%s resumed on %s", sess, addr)
			s.emit(Accepted, sess)
		case registry.Rejected:
			s.logger.Info("rejected %s: %s is already connected", addr, sess)
		}
	}
}

func nextAcceptBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}
