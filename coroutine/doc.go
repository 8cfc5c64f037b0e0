// Package coroutine implements a cooperative scheduler that runs many
// logical execution contexts one at a time on a single driving goroutine.
//
// Every context is backed by its own goroutine, but only the context holding
// the baton runs; all others are parked on a channel receive. Control moves
// only through explicit calls: Yield, Sched and Block. When no context is
// runnable the engine returns control to its driver, the idle sentinel,
// which runs the configured idle hook (typically a readiness multiplexer
// wait that unblocks contexts).
//
// Basic usage:
//
//	e := coroutine.New(coroutine.WithIdle(func(ctx context.Context, e *coroutine.Engine) error {
//		// wait for events, then e.Unblock(h) the interested contexts
//		return nil
//	}))
//	err := e.Start(ctx, func() {
//		h := e.Spawn(worker)
//		e.Block(0)
//	})
//
// An Engine and the contexts it runs are confined to the goroutines it
// creates. Its methods must only be called from a running context or from
// the idle hook.
package coroutine
