package iobackend

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultVirtualFPS = 10.0

// virtualBackend simulates the clock/trigger wires in memory so the
// whole engine is testable without real GPIO hardware. It loops its
// own trigger-out back onto trigger-in after a short delay, modeling a
// directly-wired trigger line on a single simulated node.
type virtualBackend struct {
	fps         float64
	validWindow time.Duration

	mu          sync.Mutex
	rise        chan ClockEdge
	fall        chan ClockEdge
	triggerIn   chan struct{}
	lastEdge    time.Time
	started     bool
	stopped     atomic.Bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

func newVirtualBackend(cfg Config) (Backend, error) {
	fps := cfg.FPSNominalOverride
	if fps <= 0 {
		fps = defaultVirtualFPS
	}
	validWindow := time.Duration(cfg.ValidWindow * float64(time.Second))
	if validWindow <= 0 {
		validWindow = 500 * time.Millisecond
	}
	return &virtualBackend{
		fps:         fps,
		validWindow: validWindow,
		rise:        make(chan ClockEdge, 1),
		fall:        make(chan ClockEdge, 1),
		triggerIn:   make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

func (v *virtualBackend) Start(ctx context.Context) error {
	v.mu.Lock()
	if v.started {
		v.mu.Unlock()
		return nil
	}
	v.started = true
	v.mu.Unlock()

	go v.run()
	return nil
}

func (v *virtualBackend) run() {
	defer close(v.doneCh)
	period := time.Duration(float64(time.Second) / v.fps)
	half := period / 2
	ticker := time.NewTicker(half)
	defer ticker.Stop()

	rising := true
	for {
		select {
		case <-v.stopCh:
			return
		case now := <-ticker.C:
			edge := ClockEdge{At: now, Rise: rising}
			v.mu.Lock()
			v.lastEdge = now
			v.mu.Unlock()
			ch := v.fall
			if rising {
				ch = v.rise
			}
			drainEdge(ch)
			ch <- edge
			rising = !rising
		}
	}
}

func drainEdge(ch chan ClockEdge) {
	select {
	case <-ch:
	default:
	}
}

func (v *virtualBackend) Stop() error {
	if v.stopped.CompareAndSwap(false, true) {
		close(v.stopCh)
		<-v.doneCh
	}
	return nil
}

func (v *virtualBackend) DeriveNominalFramerate(ctx context.Context) (float64, error) {
	return v.fps, nil
}

func (v *virtualBackend) WaitForClockRise(ctx context.Context, timeout time.Duration) (ClockEdge, error) {
	return waitEdge(ctx, v.rise, timeout)
}

func (v *virtualBackend) WaitForClockFall(ctx context.Context, timeout time.Duration) (ClockEdge, error) {
	return waitEdge(ctx, v.fall, timeout)
}

func waitEdge(ctx context.Context, ch chan ClockEdge, timeout time.Duration) (ClockEdge, error) {
	var timerCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timerCh = t.C
	}
	select {
	case e := <-ch:
		return e, nil
	case <-timerCh:
		return ClockEdge{}, ErrTimeout
	case <-ctx.Done():
		return ClockEdge{}, ctx.Err()
	}
}

func (v *virtualBackend) WaitForTrigger(ctx context.Context, timeout time.Duration) error {
	var timerCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timerCh = t.C
	}
	select {
	case <-v.triggerIn:
		return nil
	case <-timerCh:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetTriggerOut loops the pulse back onto trigger-in after a short
// propagation delay, simulating a directly-wired trigger line.
func (v *virtualBackend) SetTriggerOut(ctx context.Context, active bool) error {
	if !active {
		return nil
	}
	go func() {
		time.Sleep(time.Millisecond)
		select {
		case v.triggerIn <- struct{}{}:
		default:
		}
	}()
	return nil
}

func (v *virtualBackend) ClockSignalValid() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.lastEdge.IsZero() {
		return false
	}
	return time.Since(v.lastEdge) < v.validWindow
}
