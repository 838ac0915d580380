package engine

import (
	"context"
	"testing"
	"time"

	"github.com/wigglecam/node/internal/camerabackend"
	"github.com/wigglecam/node/internal/iobackend"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	io, err := iobackend.New("virtual", iobackend.Config{FPSNominalOverride: 20})
	if err != nil {
		t.Fatalf("iobackend.New: %v", err)
	}
	cam, err := camerabackend.New("virtual", camerabackend.Config{NominalFPS: 20, FrameWidth: 16, FrameHeight: 12})
	if err != nil {
		t.Fatalf("camerabackend.New: %v", err)
	}
	cfg := DefaultConfig()
	cfg.BarrierTimeout = 500 * time.Millisecond
	return New(io, cam, cfg, nil)
}

func TestEngineReachesRunningState(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if e.Status().State == StateRunning {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("engine never reached StateRunning, last status: %+v", e.Status())
}

func TestEngineCapturesAlignedFrames(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	frame, err := e.CaptureNext(ctx, 3*time.Second)
	if err != nil {
		t.Fatalf("CaptureNext: %v", err)
	}
	if len(frame.JPEG) == 0 {
		t.Errorf("captured frame has no JPEG data")
	}
}

func TestEngineTriggerRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	// Wait for running so trigger-in/out goroutines are live.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && e.Status().State != StateRunning {
		time.Sleep(20 * time.Millisecond)
	}

	e.AssertTrigger()

	select {
	case <-e.TriggerEvents():
	case <-time.After(2 * time.Second):
		t.Fatalf("trigger event never observed after AssertTrigger")
	}
}

func TestEngineStopIsClean(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := e.Status().State; got != StateStopped {
		t.Errorf("State after Stop = %v, want StateStopped", got)
	}
}
