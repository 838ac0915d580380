package camerabackend

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPreviewInterval = 200 * time.Millisecond

// virtualCamera simulates a sensor: it produces a small synthetic
// image for every hi-res request and a cheap solid-color JPEG for the
// low-res preview stream, so the rest of the engine is fully testable
// without real camera hardware.
type virtualCamera struct {
	cfg Config
	dur *FrameDurationRegister

	alive      atomic.Bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	syncCh     chan int64
	tickDoneCh chan struct{}
	hiresReq   atomic.Bool
	hiresCh    chan *BackendItem

	loresMu sync.Mutex
	lores   []byte

	seq atomic.Uint64
}

func newVirtualCamera(cfg Config) (Backend, error) {
	fps := cfg.NominalFPS
	if fps <= 0 {
		fps = 10
	}
	if cfg.FrameWidth <= 0 {
		cfg.FrameWidth = 64
	}
	if cfg.FrameHeight <= 0 {
		cfg.FrameHeight = 48
	}
	return &virtualCamera{
		cfg:        cfg,
		dur:        NewFrameDurationRegister(fps),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		syncCh:     make(chan int64, 1),
		tickDoneCh: make(chan struct{}),
		hiresCh:    make(chan *BackendItem, 1),
	}, nil
}

func (v *virtualCamera) Start(ctx context.Context) error {
	v.alive.Store(true)
	go v.captureLoop()
	go v.previewLoop()
	return nil
}

func (v *virtualCamera) Stop() error {
	if !v.alive.CompareAndSwap(true, false) {
		return nil
	}
	close(v.stopCh)
	<-v.doneCh
	return nil
}

func (v *virtualCamera) Alive() bool {
	return v.alive.Load()
}

// captureLoop is the camera goroutine's one iteration per cycle: it
// either services a pending hi-res request (render a full frame,
// publish it, and let the waiter acknowledge independently) or just
// marks the cycle's metadata as captured. Either way it always signals
// tickDoneCh so SyncTick's caller (the engine's camera goroutine) can
// proceed to the barrier; hi-res delivery never blocks the cycle.
func (v *virtualCamera) captureLoop() {
	defer close(v.doneCh)
	for {
		select {
		case <-v.stopCh:
			return
		case refNs := <-v.syncCh:
			if v.hiresReq.Load() {
				frame := v.renderFrame()
				item := &BackendItem{Frame: frame, CapturedAt: time.Unix(0, refNs)}
				select {
				case v.hiresCh <- item:
				default:
				}
			}
			select {
			case v.tickDoneCh <- struct{}{}:
			case <-v.stopCh:
				return
			}
		}
	}
}

func (v *virtualCamera) previewLoop() {
	ticker := time.NewTicker(defaultPreviewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-v.stopCh:
			return
		case <-ticker.C:
			img := v.renderImage(v.cfg.FrameWidth/2, v.cfg.FrameHeight/2)
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
				continue
			}
			v.loresMu.Lock()
			v.lores = buf.Bytes()
			v.loresMu.Unlock()
		}
	}
}

// renderFrame produces a raw (undecoded) pixel buffer standing in for
// a sensor readout: the RGBA bytes of a solid color keyed to the
// capture sequence number, so successive frames are distinguishable.
func (v *virtualCamera) renderFrame() []byte {
	img := v.renderImage(v.cfg.FrameWidth, v.cfg.FrameHeight)
	return img.Pix
}

func (v *virtualCamera) renderImage(w, h int) *image.RGBA {
	if w <= 0 {
		w = 64
	}
	if h <= 0 {
		h = 48
	}
	n := v.seq.Add(1)
	shade := uint8(n % 256)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := color.RGBA{R: shade, G: 128, B: 255 - shade, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func (v *virtualCamera) SyncTick(ctx context.Context, referenceNs int64) error {
	if !v.Alive() {
		return ErrNotAlive
	}
	select {
	case v.syncCh <- referenceNs:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-v.tickDoneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *virtualCamera) WaitForLoresImage(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.After(timeout)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		v.loresMu.Lock()
		b := v.lores
		v.loresMu.Unlock()
		if b != nil {
			return b, nil
		}
		select {
		case <-tick.C:
		case <-deadline:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WaitForHiresFrame sets the hi-res request bit and blocks for the
// camera goroutine's next cycle to service it. The request bit stays
// set until DoneHiresFrame acknowledges delivery, so a caller that
// times out and retries does not need to re-arm it.
func (v *virtualCamera) WaitForHiresFrame(ctx context.Context, timeout time.Duration) (*BackendItem, error) {
	v.hiresReq.Store(true)
	var timerCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timerCh = t.C
	}
	select {
	case item := <-v.hiresCh:
		return item, nil
	case <-timerCh:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (v *virtualCamera) DoneHiresFrame(item *BackendItem) {
	v.hiresReq.Store(false)
}

func (v *virtualCamera) EncodeFrameToImage(item *BackendItem) ([]byte, error) {
	w, h := v.cfg.FrameWidth, v.cfg.FrameHeight
	if w <= 0 {
		w = 64
	}
	if h <= 0 {
		h = 48
	}
	img := &image.RGBA{
		Pix:    item.Frame,
		Stride: w * 4,
		Rect:   image.Rect(0, 0, w, h),
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *virtualCamera) WaitForHiresImage(ctx context.Context, timeout time.Duration) ([]byte, error) {
	item, err := v.WaitForHiresFrame(ctx, timeout)
	if err != nil {
		return nil, err
	}
	defer v.DoneHiresFrame(item)
	return v.EncodeFrameToImage(item)
}

func (v *virtualCamera) FrameDuration() *FrameDurationRegister {
	return v.dur
}
