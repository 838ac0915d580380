// Package iobackend drives the shared clock and trigger GPIO lines:
// deriving the nominal frame rate from the external cadence, detecting
// clock/trigger edges, and, on a primary node, emitting the cadence
// itself via a hardware PWM generator.
package iobackend

import (
	"context"
	"errors"
	"time"
)

// ClockEdge is a single rising or falling transition observed on the
// shared clock line.
type ClockEdge struct {
	At   time.Time
	Rise bool
}

// Errors returned by Backend methods. Every one of these is caught at
// its caller's loop boundary and logged; none of them panics.
var (
	// ErrClockAbsent means no usable clock cadence was observed: no
	// edge arrived in time, or the clock signal was lost.
	ErrClockAbsent = errors.New("iobackend: clock absent")

	// ErrFramerateOutOfRange means the derived nominal framerate fell
	// outside the backend's sane bounds (too slow or implausibly fast).
	ErrFramerateOutOfRange = errors.New("iobackend: framerate out of range")

	// ErrTimeout means a wait call's deadline elapsed with no edge.
	ErrTimeout = errors.New("iobackend: timeout")

	// ErrHardwareUnavailable means the underlying GPIO/PWM device could
	// not be opened; this is fatal and should exit the process.
	ErrHardwareUnavailable = errors.New("iobackend: hardware unavailable")
)

// Backend is the hardware- or simulation-facing clock/trigger driver
// for one node. A secondary node only watches the clock line; a
// primary node also drives it.
type Backend interface {
	// Start opens the underlying device(s) and, on a primary node,
	// begins emitting the clock cadence. It must be called before any
	// other method.
	Start(ctx context.Context) error

	// Stop releases the underlying device(s). Safe to call once,
	// idempotent after that.
	Stop() error

	// DeriveNominalFramerate blocks until enough clock edges have been
	// observed to compute a stable nominal frame rate, or ctx is done.
	DeriveNominalFramerate(ctx context.Context) (float64, error)

	// WaitForClockRise blocks for the next rising clock edge, up to
	// timeout. Returns ErrTimeout if none arrives.
	WaitForClockRise(ctx context.Context, timeout time.Duration) (ClockEdge, error)

	// WaitForClockFall blocks for the next falling clock edge, up to
	// timeout. Returns ErrTimeout if none arrives.
	WaitForClockFall(ctx context.Context, timeout time.Duration) (ClockEdge, error)

	// WaitForTrigger blocks for the next trigger-in edge, up to
	// timeout. A zero timeout means wait indefinitely.
	WaitForTrigger(ctx context.Context, timeout time.Duration) error

	// SetTriggerOut drives the trigger-out line high (active) or low.
	SetTriggerOut(ctx context.Context, active bool) error

	// ClockSignalValid reports whether a clock edge has been observed
	// recently enough to trust the cadence.
	ClockSignalValid() bool
}

// New constructs a Backend by name from the compile-time registry.
// Unknown names return an *UnknownBackendError carrying the name.
func New(name string, cfg Config) (Backend, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, &UnknownBackendError{Name: name}
	}
	return ctor(cfg)
}

// UnknownBackendError is returned by New for an unregistered backend name.
type UnknownBackendError struct {
	Name string
}

func (e *UnknownBackendError) Error() string {
	return "iobackend: unknown backend " + e.Name
}
