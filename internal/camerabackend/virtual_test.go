package camerabackend

import (
	"context"
	"testing"
	"time"
)

func TestFrameDurationRegisterClamping(t *testing.T) {
	r := NewFrameDurationRegister(10) // T = 100000us
	tests := []struct {
		name  string
		delta float64
		want  float64
	}{
		{"small adjust within bounds", -1000, 99000},
		{"huge negative clamps to 0.1*T", -1e9, 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewFrameDurationRegister(10)
			got := r.SetAbsolute(tt.delta)
			if got != tt.want {
				t.Errorf("SetAbsolute(%v) = %v, want %v", tt.delta, got, tt.want)
			}
		})
	}

	got := r.SetAbsolute(1e9)
	if want := 190000.0; got != want {
		t.Errorf("SetAbsolute(huge positive) = %v, want %v (1.9*T)", got, want)
	}
}

func TestVirtualCameraSyncTickHandoff(t *testing.T) {
	b, err := New("virtual", Config{NominalFPS: 10, FrameWidth: 16, FrameHeight: 12})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	if !b.Alive() {
		t.Fatalf("Alive() = false after Start")
	}

	// A plain cycle with no pending hi-res request must not block on
	// the hires channel; SyncTick should complete on metadata alone.
	if err := b.SyncTick(ctx, 1); err != nil {
		t.Fatalf("SyncTick (metadata-only): %v", err)
	}

	// WaitForHiresFrame sets the request bit; the backend services it
	// on its *next* cycle, per the request-bit handshake.
	resultCh := make(chan *BackendItem, 1)
	errCh := make(chan error, 1)
	go func() {
		item, err := b.WaitForHiresFrame(ctx, time.Second)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- item
	}()
	time.Sleep(20 * time.Millisecond) // let the request bit land before the cycle fires
	if err := b.SyncTick(ctx, 12345); err != nil {
		t.Fatalf("SyncTick: %v", err)
	}

	var item *BackendItem
	select {
	case item = <-resultCh:
	case err := <-errCh:
		t.Fatalf("WaitForHiresFrame: %v", err)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for hi-res frame")
	}
	if item.CapturedAt.UnixNano() != 12345 {
		t.Errorf("CapturedAt = %v, want 12345ns", item.CapturedAt.UnixNano())
	}

	img, err := b.EncodeFrameToImage(item)
	if err != nil {
		t.Fatalf("EncodeFrameToImage: %v", err)
	}
	if len(img) == 0 {
		t.Errorf("encoded image is empty")
	}
	b.DoneHiresFrame(item)
}

func TestVirtualCameraLoresPreview(t *testing.T) {
	b, err := New("virtual", Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	img, err := b.WaitForLoresImage(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForLoresImage: %v", err)
	}
	if len(img) == 0 {
		t.Errorf("lores image is empty")
	}
}
