// Package camerabackend drives the attached image sensor: producing a
// continuous low-res preview stream, full-resolution frames on demand,
// and the frame-duration register the phase controller adjusts to keep
// exposure boundaries locked to the shared clock cadence.
package camerabackend

import (
	"context"
	"errors"
	"sync"
	"time"
)

// minDurationFactor and maxDurationFactor bound the frame-duration
// register relative to the nominal period T, per the phase-controller
// contract: the sensor must never be pushed to a duration so far from
// nominal that it can no longer re-lock.
const (
	minDurationFactor = 0.1
	maxDurationFactor = 1.9
)

// FrameDurationRegister is the sensor's frame-duration setting in
// microseconds, clamped to [0.1*T, 1.9*T] at every write.
type FrameDurationRegister struct {
	mu    sync.Mutex
	us    float64
	tUs   float64 // nominal period in microseconds
}

// NewFrameDurationRegister creates a register initialized to the
// nominal period for the given framerate.
func NewFrameDurationRegister(fps float64) *FrameDurationRegister {
	t := 1e6 / fps
	return &FrameDurationRegister{us: t, tUs: t}
}

// Get returns the current register value in microseconds.
func (r *FrameDurationRegister) Get() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.us
}

// SetAbsolute writes deltaUs on top of the nominal period T (not the
// current register value) and clamps the result to [0.1*T, 1.9*T],
// returning the new value. The controller calls this every cycle with
// deltaUs == 0 off-cadence so the register always reflects T_nominal
// plus at most the single most recent adjustment, never a compounding
// sum of past ones.
func (r *FrameDurationRegister) SetAbsolute(deltaUs float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.tUs + deltaUs
	lo := minDurationFactor * r.tUs
	hi := maxDurationFactor * r.tUs
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	r.us = v
	return v
}

// BackendItem is a full-resolution frame handed from the camera
// goroutine to whoever called WaitForHiresFrame, pending a DoneHiresFrame
// acknowledgement before the backend may reuse its buffer.
type BackendItem struct {
	Frame      []byte
	CapturedAt time.Time
}

// Errors returned by Backend methods.
var (
	ErrTimeout           = errors.New("camerabackend: timeout")
	ErrNotAlive          = errors.New("camerabackend: backend not alive")
	ErrHardwareUnavailable = errors.New("camerabackend: hardware unavailable")
)

// Backend is the sensor driver for one node. The AcquisitionEngine's
// camera goroutine calls SyncTick; WaitForHiresFrame/DoneHiresFrame are
// called through Engine.CaptureNext by the job processor, and
// WaitForLoresImage by the HTTP preview routes. A goroutine inside the
// backend produces frames.
type Backend interface {
	Start(ctx context.Context) error
	Stop() error

	// Alive reports whether the backend's internal capture goroutine
	// is still running.
	Alive() bool

	// SyncTick is called once per cycle by the camera goroutine before
	// it arrives at the barrier, carrying the engine's camera timestamp
	// for this cycle; the backend stamps it on any hi-res frame it
	// produces in that cycle.
	SyncTick(ctx context.Context, referenceNs int64) error

	// WaitForLoresImage blocks for the next low-resolution preview
	// frame, already JPEG-encoded, up to timeout.
	WaitForLoresImage(ctx context.Context, timeout time.Duration) ([]byte, error)

	// WaitForHiresFrame blocks for the next full-resolution frame
	// buffer, up to timeout. The caller must call DoneHiresFrame when
	// finished with it so the backend can reuse the buffer.
	WaitForHiresFrame(ctx context.Context, timeout time.Duration) (*BackendItem, error)

	// DoneHiresFrame acknowledges a frame returned by WaitForHiresFrame.
	DoneHiresFrame(item *BackendItem)

	// EncodeFrameToImage JPEG-encodes a hi-res frame buffer.
	EncodeFrameToImage(item *BackendItem) ([]byte, error)

	// WaitForHiresImage is a convenience combining WaitForHiresFrame,
	// EncodeFrameToImage and DoneHiresFrame into one call.
	WaitForHiresImage(ctx context.Context, timeout time.Duration) ([]byte, error)

	// FrameDuration returns the backend's frame-duration register for
	// the phase controller to adjust.
	FrameDuration() *FrameDurationRegister
}

// Config carries the parameters any registered backend needs to start.
type Config struct {
	NominalFPS  float64
	FrameWidth  int
	FrameHeight int

	// CaptureBin is used by the picam backend only. Device is carried
	// in the config but not read by any backend.
	Device     string
	CaptureBin string
}

type constructor func(Config) (Backend, error)

var registry = map[string]constructor{
	"virtual": newVirtualCamera,
	"picam":   newPicamBackend,
}

// New constructs a Backend by name from the compile-time registry.
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
	return "camerabackend: unknown backend " + e.Name
}
