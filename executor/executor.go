// Package executor provides a fixed-size pool of worker goroutines draining
// one shared FIFO task queue, with cooperative shutdown.
package executor

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// State is the lifecycle state of an Executor
type State int

const (
	// StateRunning accepts new tasks
	StateRunning State = iota
	// StateStopping rejects new tasks and drains the queue
	StateStopping
	// StateStopped has an empty queue and no task in flight
	StateStopped
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Task is a unit of work. A returned error is reported, it never stops the
// worker that ran the task.
type Task func() error

// TaskError wraps the failure of a single task
type TaskError struct {
	Pool  string
	Err   error
	Panic interface{}
	Stack []byte
}

// Error implements the error interface
func (e *TaskError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("executor %s: task panicked: %v", e.Pool, e.Panic)
	}
	return fmt.Sprintf("executor %s: task failed: %v", e.Pool, e.Err)
}

// Unwrap returns the error returned by the task
func (e *TaskError) Unwrap() error {
	return e.Err
}

// Logger is used to report task failures
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Option configures an Executor
type Option func(*Executor)

// WithErrorHandler sets a callback receiving every task failure
func WithErrorHandler(fn func(*TaskError)) Option {
	return func(e *Executor) {
		e.onError = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Stats holds executor counters
type Stats struct {
	State     State
	Workers   int
	Queued    int
	Active    int
	Completed uint64
	Failed    uint64
}

// Executor runs submitted tasks on a fixed set of workers
type Executor struct {
	name string
	size int

	mu    sync.Mutex
	cond  *sync.Cond
	queue []Task
	state State

	active    int
	completed uint64
	failed    uint64

	workers sync.WaitGroup
	onError func(*TaskError)
	logger  Logger
}

// New starts an executor with size workers
func New(name string, size int, opts ...Option) *Executor {
	if size < 1 {
		size = 1
	}
	e := &Executor{
		name:   name,
		size:   size,
		logger: nopLogger{},
	}
	e.cond = sync.NewCond(&e.mu)
	for _, opt := range opts {
		opt(e)
	}

	e.workers.Add(size)
	for i := 0; i < size; i++ {
		go e.worker(i)
	}
	return e
}

// Submit enqueues task and wakes one worker. It reports false, without
// enqueueing, once shutdown has begun.
func (e *Executor) Submit(task Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning {
		return false
	}
	e.queue = append(e.queue, task)
	e.cond.Signal()
	return true
}

// Shutdown stops accepting tasks and wakes every worker. Queued tasks still
// run. With await set, Shutdown returns once the executor is stopped and
// every worker has exited.
func (e *Executor) Shutdown(await bool) {
	e.mu.Lock()
	if e.state == StateRunning {
		e.state = StateStopping
		if len(e.queue) == 0 && e.active == 0 {
			e.state = StateStopped
		}
		e.logger.Debug("Executor shutting down", "name", e.name, "queued", len(e.queue))
	}
	e.cond.Broadcast()

	if !await {
		e.mu.Unlock()
		return
	}
	for e.state != StateStopped {
		e.cond.Wait()
	}
	e.mu.Unlock()

	e.workers.Wait()
}

// State returns the current state
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns the executor counters
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		State:     e.state,
		Workers:   e.size,
		Queued:    len(e.queue),
		Active:    e.active,
		Completed: e.completed,
		Failed:    e.failed,
	}
}

// worker drains the queue until the executor stops
func (e *Executor) worker(id int) {
	defer e.workers.Done()

	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		for len(e.queue) == 0 && e.state == StateRunning {
			e.cond.Wait()
		}

		if len(e.queue) == 0 {
			// Stopping or stopped with nothing left to take
			if e.active == 0 && e.state != StateStopped {
				e.state = StateStopped
				e.logger.Debug("Executor stopped", "name", e.name, "worker", id)
				e.cond.Broadcast()
			}
			if e.state == StateStopped {
				return
			}
			// Another worker still has a task in flight and may need to
			// observe the final transition
			e.cond.Wait()
			continue
		}

		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.active++

		e.mu.Unlock()
		terr := e.execute(task)
		e.mu.Lock()

		e.active--
		e.completed++
		if terr != nil {
			e.failed++
		}
		if e.state == StateStopping && len(e.queue) == 0 && e.active == 0 {
			e.state = StateStopped
			e.cond.Broadcast()
		}

		if terr != nil {
			e.mu.Unlock()
			e.report(terr)
			e.mu.Lock()
		}
	}
}

// execute runs task, converting a returned error or a panic into a TaskError
func (e *Executor) execute(task Task) (terr *TaskError) {
	defer func() {
		if r := recover(); r != nil {
			terr = &TaskError{Pool: e.name, Panic: r, Stack: debug.Stack()}
		}
	}()
	if err := task(); err != nil {
		return &TaskError{Pool: e.name, Err: err}
	}
	return nil
}

// report hands a task failure to the logger and the error handler
func (e *Executor) report(terr *TaskError) {
	e.logger.Error("Task failed", "name", e.name, "error", terr.Error())
	if e.onError != nil {
		e.onError(terr)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
