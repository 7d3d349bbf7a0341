// Package lifecycle provides the start/stop/should-stop scaffolding
// every long-running agent worker embeds, so monitor and booker
// agents share one cooperative-cancellation contract instead of each
// re-deriving it.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Worker runs run until its context is cancelled or run returns on
// its own. Start is idempotent: calling it twice does not spawn a
// second goroutine. Stop signals cooperative cancellation and blocks
// until run has returned; calling Stop twice is safe and returns
// immediately the second time. A panic inside run is recovered and
// logged, ending only this worker.
type Worker struct {
	run func(ctx context.Context)

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	started   atomic.Bool
}

// New wraps run in a Worker. run must check ctx.Done() at every
// iteration boundary and after every suspendable operation (poll
// sleep, bus read, lock acquisition) so Stop can actually interrupt
// it rather than wait for a natural completion.
func New(run func(ctx context.Context)) *Worker {
	return &Worker{run: run, done: make(chan struct{})}
}

// Start launches run in a background goroutine, derived from parent.
// A second call is a no-op — the worker does not get a second
// goroutine.
func (w *Worker) Start(parent context.Context) {
	w.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		w.cancel = cancel
		w.started.Store(true)
		go func() {
			defer close(w.done)
			defer func() {
				if r := recover(); r != nil {
					slog.Error("worker panicked", "panic", r)
				}
			}()
			w.run(ctx)
		}()
	})
}

// Stop cancels the worker's context and waits for run to return. It
// is safe to call before Start (in which case it is a no-op, since
// there is nothing to stop) and safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		if !w.started.Load() {
			return
		}
		w.cancel()
		<-w.done
	})
}

// ShouldStop reports whether ctx has been cancelled, for a worker body
// that wants an explicit check outside a select statement (e.g. at
// the top of a loop before a non-blocking step).
func ShouldStop(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
