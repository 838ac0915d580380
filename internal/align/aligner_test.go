package align

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wigglecam/node/internal/camerabackend"
)

func TestBarrierReleaseRunsOnceAndWakesAll(t *testing.T) {
	var calls int
	var mu sync.Mutex
	b := NewBarrier(3, func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = b.Wait(ctx, time.Second)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("party %d: Wait() = %v, want nil", i, err)
		}
	}
	if calls != 1 {
		t.Errorf("release action called %d times, want 1", calls)
	}
}

func TestBarrierTimeoutBreaksForAllParties(t *testing.T) {
	b := NewBarrier(3, func() {})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = b.Wait(ctx, 20*time.Millisecond)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != ErrBarrierBroken {
			t.Errorf("party %d: Wait() = %v, want ErrBarrierBroken", i, err)
		}
	}

	// A late-arriving third party must also observe the break rather
	// than hang waiting for a generation that will never complete.
	if err := b.Wait(ctx, 20*time.Millisecond); err != ErrBarrierBroken {
		t.Errorf("late party: Wait() = %v, want ErrBarrierBroken", err)
	}
}

func TestAlignerAdjustsOnlyEveryTenthCycle(t *testing.T) {
	const nominalUs = 100000.0 // T = 100000us at 10fps
	dur := camerabackend.NewFrameDurationRegister(10)
	a := NewAligner(dur, 10, nil)

	ctx := context.Background()
	const deltaNs = 2000 * 1000 // 2ms, well under the half-period drop threshold

	for cycle := 1; cycle <= 20; cycle++ {
		runCycle(t, a, ctx, int64(cycle)*1000, int64(cycle)*1000+deltaNs)
		got := dur.Get()
		if cycle%10 == 0 {
			if got == nominalUs {
				t.Errorf("cycle %d: expected register to move off T_nominal on an adjust cycle", cycle)
			}
		} else {
			if got != nominalUs {
				t.Errorf("cycle %d: expected register quiescent at T_nominal=%v, got %v", cycle, nominalUs, got)
			}
		}
	}
}

func TestAlignerAdjustmentNeverCompoundsAcrossCycles(t *testing.T) {
	const nominalUs = 100000.0 // T = 100000us at 10fps
	dur := camerabackend.NewFrameDurationRegister(10)
	a := NewAligner(dur, 10, nil)
	ctx := context.Background()

	// A delta just under the half-period drop threshold (49ms, vs the
	// 50ms drop gate) is well inside the controller's +-0.9*T clamp
	// (90ms), so the register should land at exactly T_nominal plus
	// that single unclamped adjustment, not an accumulation of it
	// across the repeated adjust cycles below.
	const deltaNs = 49000 * 1000
	for cycle := 1; cycle <= 30; cycle++ {
		runCycle(t, a, ctx, 0, deltaNs)
	}

	want := nominalUs - 49000.0
	if got := dur.Get(); got != want {
		t.Errorf("register after repeated adjust cycles = %v, want %v (T_nominal - 49000us, unclamped and non-compounding)", got, want)
	}
}

func TestAlignerDropsFrameOnLargeDelta(t *testing.T) {
	dur := camerabackend.NewFrameDurationRegister(10)
	a := NewAligner(dur, 10, nil)
	ctx := context.Background()

	runCycle(t, a, ctx, 0, 60_000_000) // 60ms, over 0.5*T = 50ms

	if !a.ShouldDropLastFrame() {
		t.Errorf("ShouldDropLastFrame() = false, want true after a > half-period delta")
	}
}

// runCycle drives all three barrier parties through one cycle.
func runCycle(t *testing.T, a *Aligner, ctx context.Context, refNs, camNs int64) {
	t.Helper()
	var wg sync.WaitGroup
	errs := make([]error, 3)
	wg.Add(3)
	go func() { defer wg.Done(); errs[0] = a.WaitSync(ctx, refNs, time.Second) }()
	go func() { defer wg.Done(); errs[1] = a.WaitCamera(ctx, camNs, time.Second) }()
	go func() { defer wg.Done(); errs[2] = a.WaitController(ctx, time.Second) }()
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("party %d: %v", i, err)
		}
	}
}
