// Package latch provides one-shot synchronization primitives: a Future that
// settles exactly once with success, failure or cancellation, and a Gate
// that opens exactly once and releases every waiter.
//
// Both are lock-free. The single transition is claimed with a compare-and-swap
// and published by closing a channel, so everything written before the
// transition is visible to any goroutine that observes it.
package latch

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrCancelled is the terminal error of a Future settled by Cancel.
var ErrCancelled = errors.New("cancelled")

const (
	statePending int32 = iota
	stateSettling
	stateResolved
	stateRejected
	stateCancelled
)

// Future is a single-resolve completion signal carrying no value. The zero
// value is not usable; construct with NewFuture.
type Future struct {
	state atomic.Int32
	err   error
	done  chan struct{}
}

// NewFuture returns a pending Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve settles the future successfully. It reports whether this call
// performed the transition.
func (f *Future) Resolve() bool {
	return f.settle(stateResolved, nil)
}

// Reject settles the future with err. A nil err is replaced with a generic
// error so that a rejected future never looks successful.
func (f *Future) Reject(err error) bool {
	if err == nil {
		err = errors.New("rejected")
	}
	return f.settle(stateRejected, err)
}

// Cancel settles the future with ErrCancelled.
func (f *Future) Cancel() bool {
	return f.settle(stateCancelled, ErrCancelled)
}

func (f *Future) settle(final int32, err error) bool {
	if !f.state.CompareAndSwap(statePending, stateSettling) {
		return false
	}
	f.err = err
	f.state.Store(final)
	close(f.done)
	return true
}

// Done is closed once the future has settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Pending reports whether the future has not settled yet.
func (f *Future) Pending() bool {
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}

// Cancelled reports whether the future settled through Cancel.
func (f *Future) Cancelled() bool {
	return !f.Pending() && f.state.Load() == stateCancelled
}

// Err returns the terminal error: nil after Resolve, the rejection cause
// after Reject, ErrCancelled after Cancel. It returns nil while pending;
// use Pending or Done to tell the two apart.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
