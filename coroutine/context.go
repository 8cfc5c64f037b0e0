package coroutine

import "runtime"

// coroutine is the state of one execution context
type coroutine struct {
	handle  Handle
	fn      func()
	resume  chan bool
	done    chan struct{}
	started bool
	killed  bool

	// stack holds the last snapshot; its capacity follows the hysteresis rule
	stack []byte
}

// snapshot records the calling goroutine's stack into c
func (e *Engine) snapshot(c *coroutine) {
	if e.scratch == nil {
		e.scratch = make([]byte, 4096)
	}
	for {
		n := runtime.Stack(e.scratch, false)
		if n < len(e.scratch) {
			if c.store(e.scratch[:n]) {
				e.reallocs++
			}
			return
		}
		e.scratch = make([]byte, 2*len(e.scratch))
	}
}

// store copies extent into the snapshot buffer. The buffer is reallocated
// only when extent outgrows it or shrinks below half of it. It reports
// whether a reallocation happened.
func (c *coroutine) store(extent []byte) bool {
	n := len(extent)
	realloc := n > cap(c.stack) || 2*n < cap(c.stack)
	if realloc {
		c.stack = make([]byte, n)
	}
	c.stack = c.stack[:n]
	copy(c.stack, extent)
	return realloc
}
