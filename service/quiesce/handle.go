package quiesce

import (
	"context"
	"errors"
	"time"

	"github.com/tevino/abool"
)

// ErrWaitTimeout is returned when waiting for a quiesce request took longer
// than the given limit. The request itself continues.
var ErrWaitTimeout = errors.New("timed out waiting for quiesce")

// Handle signals the completion of a quiesce request.
// It is resolved exactly once and cannot be canceled.
type Handle struct {
	resolved *abool.AtomicBool
	done     chan struct{}
}

func newHandle() *Handle {
	return &Handle{
		resolved: abool.New(),
		done:     make(chan struct{}),
	}
}

// resolve resolves the handle and reports whether this call did it.
func (h *Handle) resolve() bool {
	if !h.resolved.SetToIf(false, true) {
		return false
	}
	close(h.done)
	return true
}

// Done returns a channel that is closed when the request is resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Resolved returns whether the request is resolved.
func (h *Handle) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the request is resolved.
func (h *Handle) Wait() {
	<-h.done
}

// WaitTimeout blocks until the request is resolved or the timeout elapses,
// in which case ErrWaitTimeout is returned.
func (h *Handle) WaitTimeout(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return nil
	case <-timer.C:
		// Prefer a resolution that raced with the timer.
		if h.Resolved() {
			return nil
		}
		return ErrWaitTimeout
	}
}

// WaitContext blocks until the request is resolved or the context is done.
func (h *Handle) WaitContext(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		if h.Resolved() {
			return nil
		}
		return ctx.Err()
	}
}
