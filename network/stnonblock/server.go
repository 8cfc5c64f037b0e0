// Package stnonblock is the single-threaded nonblocking connection driver.
//
// A single goroutine, locked to its OS thread, drives a coroutine.Engine.
// The acceptor and every connection run as coroutines that block between
// readiness events; the engine's idle hook waits on the epoll poller and
// unblocks the coroutines whose descriptors became ready. Exactly one
// coroutine runs at a time, so sessions use Exclusive liveness and the
// driver state needs no locks.
package stnonblock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"

	"github.com/raniellyferreira/memcore/coroutine"
	"github.com/raniellyferreira/memcore/internal/netpoll"
	"github.com/raniellyferreira/memcore/network"
)

// Option configures a Server
type Option func(*Server)

// WithStackSnapshots records coroutine stacks on every switch
func WithStackSnapshots(enabled bool) Option {
	return func(s *Server) {
		s.snapshots = enabled
	}
}

// Server is the single-threaded driver
type Server struct {
	cfg       network.Config
	snapshots bool

	mu      sync.Mutex
	started bool
	stopped bool
	addr    net.Addr
	done    chan struct{}
	err     error

	lfd      int
	poller   *netpoll.Poller
	engine   *coroutine.Engine
	stopping atomix.Bool
	serial   atomix.Uint32

	// owned by the engine
	waiters map[int]coroutine.Handle
	events  map[int]netpoll.Event

	accepted atomix.Uint64
	active   atomix.Int64
	closed   atomix.Uint64
}

var _ network.Server = (*Server)(nil)

// New creates a single-threaded driver
func New(cfg network.Config, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg.Normalize(),
		lfd:     -1,
		waiters: make(map[int]coroutine.Handle),
		events:  make(map[int]netpoll.Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds addr and starts the engine goroutine
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return network.ErrServerClosed
	}
	if s.started {
		return fmt.Errorf("stnonblock: already started")
	}

	lfd, bound, err := netpoll.Listen(addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	poller, err := netpoll.NewPoller(s.cfg.MaxEvents)
	if err != nil {
		netpoll.CloseFD(lfd)
		return err
	}
	if err := poller.Add(lfd, netpoll.Read); err != nil {
		poller.Close()
		netpoll.CloseFD(lfd)
		return err
	}

	s.lfd = lfd
	s.addr = bound
	s.poller = poller
	s.done = make(chan struct{})
	s.engine = coroutine.New(
		coroutine.WithIdle(s.idle),
		coroutine.WithLogger(s.cfg.Logger),
		coroutine.WithStackSnapshots(s.snapshots),
	)

	go s.serve()
	s.started = true
	s.cfg.Logger.Info("Server listening", "addr", bound.String(), "strategy", "single-threaded")
	return nil
}

// serve drives the engine until Stop
func (s *Server) serve() {
	defer close(s.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	err := s.engine.Start(context.Background(), s.acceptor)
	if err != nil && !errors.Is(err, network.ErrServerClosed) {
		s.cfg.Logger.Error("Engine stopped", "error", err)
		s.err = err
	}
}

// Stop makes the idle hook fail, which tears down every coroutine and
// releases its session
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	if !s.started {
		return nil
	}

	s.stopping.Store(true)
	s.poller.Wake()
	<-s.done

	s.poller.Close()
	if err := netpoll.CloseFD(s.lfd); err != nil {
		return err
	}
	s.cfg.Logger.Info("Server stopped", "addr", s.addr.String())
	return s.err
}

// Addr returns the bound address
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stats returns the driver counters
func (s *Server) Stats() network.ServerStats {
	return network.ServerStats{
		Accepted: s.accepted.Load(),
		Active:   s.active.Load(),
		Closed:   s.closed.Load(),
	}
}

// idle waits for readiness and unblocks the waiting coroutines
func (s *Server) idle(ctx context.Context, e *coroutine.Engine) error {
	if s.stopping.Load() {
		return network.ErrServerClosed
	}

	_, err := s.poller.Wait(-1, func(fd int, ev netpoll.Event) {
		h, ok := s.waiters[fd]
		if !ok {
			return
		}
		delete(s.waiters, fd)
		s.events[fd] = ev
		e.Unblock(h)
	})
	if err != nil {
		return err
	}
	if s.stopping.Load() {
		return network.ErrServerClosed
	}
	return nil
}

// wait blocks the current coroutine until fd is ready
func (s *Server) wait(fd int) netpoll.Event {
	s.waiters[fd] = s.engine.Current()
	s.engine.Block(0)

	ev := s.events[fd]
	delete(s.events, fd)
	return ev
}

// acceptor is the main coroutine
func (s *Server) acceptor() {
	for {
		for {
			fd, _, err := netpoll.Accept(s.lfd)
			if err != nil {
				if !iox.IsWouldBlock(err) {
					s.cfg.Logger.Error("Accept failed", "error", err)
				}
				break
			}
			s.accepted.Add(1)
			s.engine.Spawn(func() {
				s.serveConn(fd)
			})
		}
		s.wait(s.lfd)
	}
}

// serveConn runs one session until it dies or the engine tears it down
func (s *Server) serveConn(fd int) {
	id := uint64(s.serial.Add(1))
	sess := network.NewSession(id, netpoll.NewSocket(fd), network.Exclusive(), &s.cfg)
	if err := s.poller.Add(fd, netpoll.Read); err != nil {
		s.cfg.Logger.Error("Failed to register connection", "error", err)
		sess.Release()
		return
	}
	s.active.Add(1)
	s.cfg.Logger.Debug("Connection accepted", "session", id)

	defer func() {
		s.poller.Remove(fd)
		delete(s.waiters, fd)
		delete(s.events, fd)
		sess.Close()
		if err := sess.Release(); err != nil {
			s.cfg.Logger.Debug("Close failed", "session", id, "error", err)
		}
		s.active.Add(-1)
		s.closed.Add(1)
		s.cfg.Logger.Debug("Connection closed", "session", id, "error", sess.Err())
	}()

	interest := netpoll.Read
	for {
		ev := s.wait(fd)
		if ev.Readable() {
			sess.DoRead()
		}
		if sess.Alive() && sess.Pending() {
			sess.DoWrite()
		}
		if !sess.Alive() {
			return
		}

		if next := sess.Interest(); next != interest {
			if err := s.poller.Modify(fd, next); err != nil {
				sess.OnError(err)
				return
			}
			interest = next
		}
	}
}
