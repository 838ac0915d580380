package align

import (
	"context"
	"sync"
	"time"

	"github.com/wigglecam/node/internal/camerabackend"
)

// adjustEveryCycle is how often the phase-controller law is applied;
// it is quiescent on the other cycles so the register only moves in
// a bounded, predictable cadence.
const adjustEveryCycle = 10

// halfPeriodDropFraction is the phase-error magnitude, relative to the
// nominal period, above which a cycle is treated as too far gone to
// correct incrementally: the adjust counter resets instead of applying
// a clamped nudge, so the next correction waits a full adjustEveryCycle
// cycles.
const halfPeriodDropFraction = 0.5

// maxAdjustFraction bounds a single adjust-cycle nudge to 0.9 of the
// nominal period in either direction.
const maxAdjustFraction = 0.9

// Logger is the minimal logging surface Aligner needs.
type Logger interface {
	Warn(msg string, kv ...any)
	Debug(msg string, kv ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// Aligner is the three-party rendezvous (sync, camera, phase
// controller) for one generation of the acquisition engine. Exactly
// one Aligner exists per engine generation; the supervisor discards it
// and builds a fresh one on restart.
type Aligner struct {
	barrier   *Barrier
	nominalUs float64

	mu         sync.Mutex
	pendingRef int64
	pendingCam int64
	cycle      uint64
	lastDelta  int64
	dropLast   bool
	dur        *camerabackend.FrameDurationRegister
	log        Logger
}

// NewAligner builds an Aligner for a node running at nominalFPS with
// the camera backend's frame-duration register dur as the controller's
// actuator.
func NewAligner(dur *camerabackend.FrameDurationRegister, nominalFPS float64, log Logger) *Aligner {
	if log == nil {
		log = noopLogger{}
	}
	a := &Aligner{
		nominalUs: 1e6 / nominalFPS,
		dur:       dur,
		log:       log,
	}
	a.barrier = NewBarrier(3, a.release)
	return a
}

// WaitSync is called once per cycle by the sync goroutine, carrying
// the wall-clock reference timestamp for this cycle.
func (a *Aligner) WaitSync(ctx context.Context, referenceNs int64, timeout time.Duration) error {
	a.mu.Lock()
	a.pendingRef = referenceNs
	a.mu.Unlock()
	return a.barrier.Wait(ctx, timeout)
}

// WaitCamera is called once per cycle by the camera goroutine, carrying
// the camera-reported exposure timestamp for this cycle.
func (a *Aligner) WaitCamera(ctx context.Context, cameraNs int64, timeout time.Duration) error {
	a.mu.Lock()
	a.pendingCam = cameraNs
	a.mu.Unlock()
	return a.barrier.Wait(ctx, timeout)
}

// WaitController is called once per cycle by the phase-controller
// goroutine; it contributes no data, only participates in the
// rendezvous so the release action (the controller law) runs after
// all three parties have arrived.
func (a *Aligner) WaitController(ctx context.Context, timeout time.Duration) error {
	return a.barrier.Wait(ctx, timeout)
}

// Break propagates BarrierBroken to any party still waiting in the
// current generation.
func (a *Aligner) Break() {
	a.barrier.Break()
}

// Reset clears a broken barrier and zeroes the adjust-cycle counter,
// used when the supervisor starts a fresh generation.
func (a *Aligner) Reset() {
	a.barrier.Reset()
	a.mu.Lock()
	a.cycle = 0
	a.mu.Unlock()
}

// LastDelta returns the most recently computed phase error in
// nanoseconds (cameraNs - referenceNs), for status reporting and tests.
func (a *Aligner) LastDelta() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastDelta
}

// ShouldDropLastFrame reports whether the cycle just completed by the
// barrier exceeded the half-period deviation threshold. The engine's
// camera goroutine does not act on it: no camera frame is discarded and
// no reference timestamp is drained; such a cycle only resets the
// adjust counter and writes T_nominal to the register.
func (a *Aligner) ShouldDropLastFrame() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropLast
}

// release runs synchronously on whichever goroutine is last to arrive
// at the barrier each cycle. It computes the phase error from the
// cycle's submitted reference/camera timestamps and writes the
// frame-duration register every cycle: T_nominal plus a clamped
// proportional term on every adjustEveryCycle-th cycle, T_nominal alone
// (adjust == 0) otherwise. The register is always an absolute function
// of T_nominal, never the previous register value, so a disturbance
// never compounds across adjust cycles.
func (a *Aligner) release() {
	a.mu.Lock()
	ref, cam := a.pendingRef, a.pendingCam
	a.cycle++
	cyc := a.cycle
	delta := cam - ref
	a.lastDelta = delta
	a.mu.Unlock()

	halfPeriodNs := int64(halfPeriodDropFraction * a.nominalUs * 1000)
	if abs64(delta) > halfPeriodNs {
		a.log.Warn("phase delta exceeds half period, resetting adjust cycle",
			"delta_ns", delta, "half_period_ns", halfPeriodNs)
		a.mu.Lock()
		a.cycle = 0
		a.dropLast = true
		a.mu.Unlock()
		a.dur.SetAbsolute(0)
		return
	}
	a.mu.Lock()
	a.dropLast = false
	a.mu.Unlock()

	if cyc%adjustEveryCycle != 0 {
		a.dur.SetAbsolute(0)
		return
	}

	adjustUs := -float64(delta) / 1000.0
	bound := maxAdjustFraction * a.nominalUs
	if adjustUs > bound {
		adjustUs = bound
	}
	if adjustUs < -bound {
		adjustUs = -bound
	}

	newUs := a.dur.SetAbsolute(adjustUs)
	a.log.Debug("phase controller adjust cycle",
		"cycle", cyc, "delta_ns", delta, "adjust_us", adjustUs, "register_us", newUs)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
