// Package align implements the per-cycle rendezvous between the sync,
// camera, and phase-controller goroutines (TimestampAligner) and the
// bounded feedback law that keeps the camera's frame-duration register
// locked to the shared clock cadence (PhaseController).
package align

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBarrierBroken is returned to every other party of a generation once
// any one of them times out or its context is cancelled while waiting;
// the party whose context was cancelled gets ctx.Err() instead.
var ErrBarrierBroken = errors.New("align: barrier broken")

// Barrier is a fixed-party rendezvous that runs a release action
// exactly once, when the last party arrives, before waking anyone.
// Unlike sync.Cond, Wait honors a per-call timeout and context, and a
// broken generation propagates to every other party still waiting on
// it rather than leaving them to time out independently.
type Barrier struct {
	mu      sync.Mutex
	parties int
	waiting int
	broken  bool
	action  func()
	release chan struct{}
}

// NewBarrier creates a Barrier for the given number of parties. action
// runs synchronously, inside the lock, on whichever goroutine happens
// to be the last to arrive each generation — it must not call back
// into the Barrier.
func NewBarrier(parties int, action func()) *Barrier {
	return &Barrier{
		parties: parties,
		action:  action,
		release: make(chan struct{}),
	}
}

// Wait blocks until every party has called Wait for the current
// generation, or timeout elapses, or ctx is done, or the barrier is
// already broken. A timeout <= 0 means wait indefinitely.
func (b *Barrier) Wait(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	if b.broken {
		b.mu.Unlock()
		return ErrBarrierBroken
	}

	myRelease := b.release
	b.waiting++
	if b.waiting == b.parties {
		if b.action != nil {
			b.action()
		}
		b.waiting = 0
		close(b.release)
		b.release = make(chan struct{})
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	var timerCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timerCh = t.C
	}

	select {
	case <-myRelease:
		b.mu.Lock()
		broken := b.broken
		b.mu.Unlock()
		if broken {
			return ErrBarrierBroken
		}
		return nil
	case <-timerCh:
		b.Break()
		return ErrBarrierBroken
	case <-ctx.Done():
		b.Break()
		return ctx.Err()
	}
}

// Break marks the barrier broken and wakes every party currently
// waiting on the current generation with ErrBarrierBroken. Idempotent.
func (b *Barrier) Break() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken {
		return
	}
	b.broken = true
	close(b.release)
}

// Reset clears a broken barrier so a new generation can begin. Called
// by the supervisor when it restarts the engine.
func (b *Barrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broken = false
	b.waiting = 0
	b.release = make(chan struct{})
}
