package engine

import (
	"sync/atomic"
)

// EngineState is the acquisition engine's lifecycle state. Exactly one
// goroutine, the supervisor, ever writes it; every other goroutine
// only reads it.
type EngineState int32

const (
	StateStopped EngineState = iota
	StateWaitingForClock
	StateDerivingFramerate
	StateRunning
	StateDegraded
)

func (s EngineState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateWaitingForClock:
		return "waiting_for_clock"
	case StateDerivingFramerate:
		return "deriving_framerate"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// stateHolder is an atomic single-writer/multi-reader box for EngineState.
type stateHolder struct {
	v atomic.Int32
}

func (h *stateHolder) set(s EngineState) {
	h.v.Store(int32(s))
}

func (h *stateHolder) get() EngineState {
	return EngineState(h.v.Load())
}

// Status is a point-in-time snapshot of the engine for health checks
// and the HTTP status route.
type Status struct {
	State            EngineState
	Generation       uint64
	NominalFPS       float64
	FrameDurationUs  float64
	LastPhaseDeltaNs int64
	ClockValid       bool
	CameraAlive      bool
}
