package latch

import (
	"context"
	"sync/atomic"
	"time"
)

// Gate is opened at most once. Any number of goroutines may wait on it
// with a bounded timeout.
type Gate struct {
	opened atomic.Bool
	ch     chan struct{}
}

// NewGate returns a closed gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Open opens the gate. Only the first call has an effect; it reports
// whether this call opened it.
func (g *Gate) Open() bool {
	if !g.opened.CompareAndSwap(false, true) {
		return false
	}
	close(g.ch)
	return true
}

// IsOpen reports whether the gate has been opened.
func (g *Gate) IsOpen() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Opened is closed when the gate opens.
func (g *Gate) Opened() <-chan struct{} {
	return g.ch
}

// Wait blocks until the gate opens, timeout elapses or ctx is done. It
// reports whether the gate is open. A non-positive timeout waits on ctx
// alone.
func (g *Gate) Wait(ctx context.Context, timeout time.Duration) bool {
	select {
	case <-g.ch:
		return true
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-g.ch:
		return true
	case <-expired:
		return g.IsOpen()
	case <-ctx.Done():
		return g.IsOpen()
	}
}
