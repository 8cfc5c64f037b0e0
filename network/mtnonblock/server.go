// Package mtnonblock is the multi-threaded nonblocking connection driver.
//
// One acceptor goroutine hands accepted descriptors round-robin to a fixed
// set of workers running on an executor.Executor. Every worker owns an
// epoll poller and the sessions registered with it; sessions never move
// between workers. The only session state touched across goroutines is the
// liveness flag, used by Stop to kill every session at once.
package mtnonblock

import (
	"fmt"
	"net"
	"runtime"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"

	"github.com/raniellyferreira/memcore/executor"
	"github.com/raniellyferreira/memcore/internal/netpoll"
	"github.com/raniellyferreira/memcore/network"
)

// handoffCapacity bounds the descriptors queued for one worker
const handoffCapacity = 1024

// Option configures a Server
type Option func(*Server)

// WithWorkers sets the number of worker goroutines
func WithWorkers(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithErrorHandler receives failures of worker tasks
func WithErrorHandler(fn func(*executor.TaskError)) Option {
	return func(s *Server) {
		s.onError = fn
	}
}

// Server is the multi-threaded driver
type Server struct {
	cfg     network.Config
	workers int
	onError func(*executor.TaskError)

	mu      sync.Mutex
	started bool
	stopped bool

	lfd          int
	addr         net.Addr
	acceptPoller *netpoll.Poller
	acceptDone   chan struct{}
	loops        []*loop
	next         int
	pool         *executor.Executor

	// sessions maps session id to *network.Session across all workers
	sessions sync.Map
	serial   atomix.Uint32
	stopping atomix.Bool

	accepted atomix.Uint64
	active   atomix.Int64
	closed   atomix.Uint64
}

// loop is the state owned by one worker
type loop struct {
	id      int
	poller  *netpoll.Poller
	handoff lfq.SPSC[int]
	conns   map[int]*network.Session
	exited  atomix.Bool
}

var _ network.Server = (*Server)(nil)

// New creates a multi-threaded driver
func New(cfg network.Config, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg.Normalize(),
		workers: runtime.NumCPU(),
		lfd:     -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds addr, starts the workers and the acceptor
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return network.ErrServerClosed
	}
	if s.started {
		return fmt.Errorf("mtnonblock: already started")
	}

	lfd, bound, err := netpoll.Listen(addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	acceptPoller, err := netpoll.NewPoller(16)
	if err != nil {
		netpoll.CloseFD(lfd)
		return err
	}
	if err := acceptPoller.Add(lfd, netpoll.Read); err != nil {
		acceptPoller.Close()
		netpoll.CloseFD(lfd)
		return err
	}

	loops := make([]*loop, 0, s.workers)
	for i := 0; i < s.workers; i++ {
		poller, err := netpoll.NewPoller(s.cfg.MaxEvents)
		if err != nil {
			for _, l := range loops {
				l.poller.Close()
			}
			acceptPoller.Close()
			netpoll.CloseFD(lfd)
			return err
		}
		l := &loop{id: i, poller: poller, conns: make(map[int]*network.Session)}
		l.handoff.Init(handoffCapacity)
		loops = append(loops, l)
	}

	s.lfd = lfd
	s.addr = bound
	s.acceptPoller = acceptPoller
	s.acceptDone = make(chan struct{})
	s.loops = loops
	s.pool = executor.New("mtnonblock", s.workers,
		executor.WithLogger(s.cfg.Logger),
		executor.WithErrorHandler(s.onError),
	)
	for _, l := range loops {
		l := l
		s.pool.Submit(func() error {
			return s.run(l)
		})
	}

	go s.acceptLoop()
	s.started = true
	s.cfg.Logger.Info("Server listening", "addr", bound.String(), "workers", s.workers)
	return nil
}

// Stop kills every session, waits for the workers to release them and
// closes the listening socket
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
	s.acceptPoller.Wake()
	<-s.acceptDone

	s.sessions.Range(func(_, v interface{}) bool {
		v.(*network.Session).Close()
		return true
	})
	for _, l := range s.loops {
		l.poller.Wake()
	}
	s.pool.Shutdown(true)

	s.acceptPoller.Close()
	err := netpoll.CloseFD(s.lfd)
	s.cfg.Logger.Info("Server stopped", "addr", s.addr.String())
	return err
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

// Executor returns the worker pool, nil before Start
func (s *Server) Executor() *executor.Executor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool
}

// acceptLoop accepts connections until Stop
func (s *Server) acceptLoop() {
	defer close(s.acceptDone)

	for !s.stopping.Load() {
		if _, err := s.acceptPoller.Wait(-1, func(int, netpoll.Event) {}); err != nil {
			if !s.stopping.Load() {
				s.cfg.Logger.Error("Accept poller failed", "error", err)
			}
			return
		}

		for !s.stopping.Load() {
			fd, _, err := netpoll.Accept(s.lfd)
			if err != nil {
				if !iox.IsWouldBlock(err) {
					s.cfg.Logger.Error("Accept failed", "error", err)
				}
				break
			}
			s.accepted.Add(1)
			s.dispatch(fd)
		}
	}
}

// dispatch hands fd to the next live worker, backing off while its
// handoff queue is full
func (s *Server) dispatch(fd int) {
	for range s.loops {
		l := s.loops[s.next]
		s.next = (s.next + 1) % len(s.loops)
		if l.exited.Load() {
			continue
		}

		var bo iox.Backoff
		for {
			err := l.handoff.Enqueue(&fd)
			if err == nil {
				l.poller.Wake()
				return
			}
			if s.stopping.Load() || l.exited.Load() {
				break
			}
			l.poller.Wake()
			bo.Wait()
		}
	}
	netpoll.CloseFD(fd)
}

// run is the worker task serving one loop until Stop
func (s *Server) run(l *loop) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer s.teardown(l)

	for !s.stopping.Load() {
		_, err := l.poller.Wait(-1, func(fd int, ev netpoll.Event) {
			s.handle(l, fd, ev)
		})
		if err != nil {
			if s.stopping.Load() {
				return nil
			}
			return fmt.Errorf("worker %d: %w", l.id, err)
		}
		s.adopt(l)
	}
	return nil
}

// adopt registers the descriptors handed over by the acceptor
func (s *Server) adopt(l *loop) {
	for {
		fd, err := l.handoff.Dequeue()
		if err != nil {
			return
		}

		id := uint64(s.serial.Add(1))
		sess := network.NewSession(id, netpoll.NewSocket(fd), network.Shared(), &s.cfg)
		if err := l.poller.Add(fd, netpoll.Read); err != nil {
			s.cfg.Logger.Error("Failed to register connection", "worker", l.id, "error", err)
			sess.Release()
			continue
		}

		l.conns[fd] = sess
		s.sessions.Store(id, sess)
		s.active.Add(1)
		s.cfg.Logger.Debug("Connection accepted", "worker", l.id, "session", id)
	}
}

// handle runs the readiness callbacks of one session
func (s *Server) handle(l *loop, fd int, ev netpoll.Event) {
	sess, ok := l.conns[fd]
	if !ok {
		return
	}

	before := sess.Interest()
	if ev.Readable() {
		sess.DoRead()
	}
	if sess.Alive() && sess.Pending() {
		sess.DoWrite()
	}

	if !sess.Alive() {
		s.release(l, fd, sess)
		return
	}
	if after := sess.Interest(); after != before {
		if err := l.poller.Modify(fd, after); err != nil {
			sess.OnError(err)
			s.release(l, fd, sess)
		}
	}
}

// release tears down a dead session; only the owning worker calls it
func (s *Server) release(l *loop, fd int, sess *network.Session) {
	l.poller.Remove(fd)
	delete(l.conns, fd)
	s.sessions.Delete(sess.ID())
	if err := sess.Release(); err != nil {
		s.cfg.Logger.Debug("Close failed", "session", sess.ID(), "error", err)
	}
	s.active.Add(-1)
	s.closed.Add(1)
	s.cfg.Logger.Debug("Connection closed", "worker", l.id, "session", sess.ID(), "error", sess.Err())
}

// teardown releases everything a worker owns once it stops serving
func (s *Server) teardown(l *loop) {
	l.exited.Store(true)
	for fd, sess := range l.conns {
		sess.Close()
		s.release(l, fd, sess)
	}
	for {
		fd, err := l.handoff.Dequeue()
		if err != nil {
			break
		}
		netpoll.CloseFD(fd)
	}
	l.poller.Close()
}
