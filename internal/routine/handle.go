package routine

import (
	"context"
	"sync"
)

// Handle tracks one live run of a Routine. It is completed exactly once, when
// the run loop exits; Err reports the terminal error, if any.
type Handle struct {
	done chan struct{}

	mu  sync.Mutex
	err error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Done is closed when the run loop has fully exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the error the run loop terminated with, or nil. It is only
// meaningful once Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the run loop exits or ctx is cancelled. It returns the
// loop's terminal error (nil for graceful completion).
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.Err()
	}
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
