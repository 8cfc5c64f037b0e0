package coroutine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

var (
	// ErrStarted is returned when Start is called on an engine that already ran
	ErrStarted = errors.New("coroutine: engine already started")

	// ErrDeadlock is returned when every context is blocked and no idle hook
	// is configured to unblock them
	ErrDeadlock = errors.New("coroutine: all contexts blocked and no idle hook")
)

// Handle identifies a context. The zero Handle refers to the current
// context in Sched and Block and to the idle sentinel in Current.
type Handle uint64

// IdleFunc is called by the driving loop whenever contexts exist but none is
// runnable. Returning an error stops the engine.
type IdleFunc func(ctx context.Context, e *Engine) error

// Logger is used to report context failures
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Option configures an Engine
type Option func(*Engine)

// WithIdle sets the hook run while every context is blocked
func WithIdle(fn IdleFunc) Option {
	return func(e *Engine) {
		e.idleHook = fn
	}
}

// WithStackSnapshots records the stack of every context as it is switched
// out, retrievable with Stack
func WithStackSnapshots(enabled bool) Option {
	return func(e *Engine) {
		e.snapshots = enabled
	}
}

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Stats holds engine counters
type Stats struct {
	Contexts   int
	Runnable   int
	Blocked    int
	Spawned    uint64
	Finished   uint64
	Panics     uint64
	Switches   uint64
	Reallocs   uint64
	StackBytes int
}

// Engine schedules contexts cooperatively
type Engine struct {
	contexts map[Handle]*coroutine
	runnable []Handle
	blocked  map[Handle]struct{}
	current  Handle
	last     Handle

	// idle is the baton channel of the driving goroutine
	idle    chan bool
	started bool
	closing bool

	idleHook  IdleFunc
	snapshots bool
	scratch   []byte
	logger    Logger

	spawned  uint64
	finished uint64
	panics   uint64
	switches uint64
	reallocs uint64
}

// New creates a coroutine engine
func New(opts ...Option) *Engine {
	e := &Engine{
		contexts: make(map[Handle]*coroutine),
		blocked:  make(map[Handle]struct{}),
		idle:     make(chan bool),
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start spawns main and drives the engine from the calling goroutine until
// no context is left, the idle hook fails or ctx is done. Every context still
// alive at that point is torn down before Start returns.
func (e *Engine) Start(ctx context.Context, main func()) error {
	if e.started {
		return ErrStarted
	}
	e.started = true
	defer e.teardown()

	e.Spawn(main)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(e.runnable) > 0 {
			e.switchTo(e.runnable[0])
			continue
		}
		if len(e.blocked) == 0 {
			return nil
		}
		if e.idleHook == nil {
			return ErrDeadlock
		}
		if err := e.idleHook(ctx, e); err != nil {
			return err
		}
	}
}

// Spawn creates a context running fn and appends it to the runnable list.
// The context first runs when the scheduler switches to it.
func (e *Engine) Spawn(fn func()) Handle {
	e.last++
	h := e.last
	e.contexts[h] = &coroutine{
		handle: h,
		fn:     fn,
		resume: make(chan bool),
		done:   make(chan struct{}),
	}
	e.runnable = append(e.runnable, h)
	e.spawned++
	return h
}

// Yield switches to the runnable context after the current one, wrapping
// around to the head of the list. It does nothing when no context is
// runnable or the current context is the only one.
func (e *Engine) Yield() {
	if len(e.runnable) == 0 {
		return
	}
	i := e.indexOf(e.current)
	if i < 0 {
		e.switchTo(e.runnable[0])
		return
	}
	if len(e.runnable) == 1 {
		return
	}
	e.switchTo(e.runnable[(i+1)%len(e.runnable)])
}

// Sched switches to h. A zero h behaves like Yield. Switching to a blocked,
// unknown or current context does nothing.
func (e *Engine) Sched(h Handle) {
	if h == 0 {
		e.Yield()
		return
	}
	if h == e.current || e.indexOf(h) < 0 {
		return
	}
	e.switchTo(h)
}

// Block moves h, or the current context when h is zero, to the blocked
// list. Blocking the current context hands control back to the idle
// sentinel until the context is unblocked and scheduled again.
func (e *Engine) Block(h Handle) {
	if h == 0 {
		h = e.current
	}
	i := e.indexOf(h)
	if h == 0 || i < 0 {
		return
	}
	e.runnable = append(e.runnable[:i], e.runnable[i+1:]...)
	e.blocked[h] = struct{}{}

	if h == e.current {
		e.switchTo(0)
	}
}

// Unblock moves a blocked context to the tail of the runnable list. It never
// switches.
func (e *Engine) Unblock(h Handle) {
	if _, ok := e.blocked[h]; !ok {
		return
	}
	delete(e.blocked, h)
	e.runnable = append(e.runnable, h)
}

// Current returns the running context, or zero while the idle sentinel runs
func (e *Engine) Current() Handle {
	return e.current
}

// Runnable returns the runnable contexts in scheduling order
func (e *Engine) Runnable() []Handle {
	return append([]Handle(nil), e.runnable...)
}

// Blocked reports whether h is blocked
func (e *Engine) Blocked(h Handle) bool {
	_, ok := e.blocked[h]
	return ok
}

// Stack returns the last stack snapshot of h. It is empty unless stack
// snapshots are enabled and h has been switched out at least once.
func (e *Engine) Stack(h Handle) []byte {
	c, ok := e.contexts[h]
	if !ok {
		return nil
	}
	return append([]byte(nil), c.stack...)
}

// Stats returns the engine counters
func (e *Engine) Stats() Stats {
	s := Stats{
		Contexts: len(e.contexts),
		Runnable: len(e.runnable),
		Blocked:  len(e.blocked),
		Spawned:  e.spawned,
		Finished: e.finished,
		Panics:   e.panics,
		Switches: e.switches,
		Reallocs: e.reallocs,
	}
	for _, c := range e.contexts {
		s.StackBytes += cap(c.stack)
	}
	return s
}

func (e *Engine) indexOf(h Handle) int {
	for i, r := range e.runnable {
		if r == h {
			return i
		}
	}
	return -1
}

// switchTo suspends the caller and resumes target. It returns once some
// other party hands control back to the caller.
func (e *Engine) switchTo(target Handle) {
	if e.closing || target == e.current {
		return
	}

	wait := e.idle
	if from, ok := e.contexts[e.current]; ok {
		if e.snapshots {
			e.snapshot(from)
		}
		wait = from.resume
	}

	e.current = target
	e.switches++
	e.resume(target)

	if !<-wait {
		runtime.Goexit()
	}
}

// resume hands the baton to h, starting its goroutine on first use
func (e *Engine) resume(h Handle) {
	if h == 0 {
		e.idle <- true
		return
	}
	c := e.contexts[h]
	if !c.started {
		c.started = true
		go e.run(c)
		return
	}
	c.resume <- true
}

// run is the body of a context goroutine
func (e *Engine) run(c *coroutine) {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			e.panics++
			e.logger.Error("Context panicked", "handle", uint64(c.handle), "panic", fmt.Sprint(r))
		}
		// teardown owns the baton for killed contexts
		if c.killed {
			return
		}
		e.finish(c)
	}()
	c.fn()
}

// finish removes a completed context and returns control to the idle sentinel
func (e *Engine) finish(c *coroutine) {
	if i := e.indexOf(c.handle); i >= 0 {
		e.runnable = append(e.runnable[:i], e.runnable[i+1:]...)
	}
	delete(e.blocked, c.handle)
	delete(e.contexts, c.handle)
	e.finished++

	e.current = 0
	e.switches++
	e.idle <- true
}

// teardown unwinds every remaining context, one at a time. Deferred calls of
// the contexts run; scheduling calls made from them do nothing.
func (e *Engine) teardown() {
	e.closing = true
	for len(e.contexts) > 0 {
		for h, c := range e.contexts {
			delete(e.contexts, h)
			if !c.started {
				continue
			}
			c.killed = true
			e.current = h
			c.resume <- false
			<-c.done
		}
	}
	e.current = 0
	e.runnable = nil
	e.blocked = make(map[Handle]struct{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
