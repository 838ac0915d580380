// Package engine implements the AcquisitionEngine: the six
// cooperating goroutines (supervisor, sync, camera, phase controller,
// trigger-in, trigger-out) that drive one node's clock-locked capture loop and
// supervise it for clean restart on clock loss, camera stall, or a
// broken alignment barrier.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wigglecam/node/internal/align"
	"github.com/wigglecam/node/internal/camerabackend"
	"github.com/wigglecam/node/internal/iobackend"
)

// Logger is the minimal logging surface the engine needs.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config configures one AcquisitionEngine instance.
type Config struct {
	// InitialPhaseBiasNs seeds the simulated camera oscillator this
	// many nanoseconds away from the first reference tick, so a
	// systematic-bias convergence test has something to converge from.
	InitialPhaseBiasNs int64

	ClockWaitTimeout    time.Duration // default 2s
	BarrierTimeout      time.Duration // default 1s
	HealthTickInterval  time.Duration // default 1s
	StopJoinTimeout     time.Duration // default 5s

	Backoff  BackoffConfig
	Degraded DegradedConfig
}

// DefaultConfig returns the documented default timeouts.
func DefaultConfig() Config {
	return Config{
		ClockWaitTimeout:   2 * time.Second,
		BarrierTimeout:     time.Second,
		HealthTickInterval: time.Second,
		StopJoinTimeout:    5 * time.Second,
		Backoff:            DefaultBackoffConfig(),
		Degraded:           DefaultDegradedConfig(),
	}
}

// CapturedFrame is one full-resolution JPEG pulled off the camera
// backend, stamped with the simulated exposure instant it was aligned
// to.
type CapturedFrame struct {
	JPEG []byte
	At   time.Time
}

// Engine is the AcquisitionEngine for one node.
type Engine struct {
	io     iobackend.Backend
	camera camerabackend.Backend
	cfg    Config
	log    Logger

	state    stateHolder
	backoff  *restartBackoff
	degraded *degradedTracker
	encode   *encodeLimiter

	generationMu sync.Mutex
	generation   uint64
	aligner      *align.Aligner
	nominalFPS   float64

	triggerOutCh chan struct{}
	triggerInCh  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	doneCh chan struct{}
}

// New builds an Engine over the given IoBackend and CameraBackend.
func New(io iobackend.Backend, camera camerabackend.Backend, cfg Config, log Logger) *Engine {
	if log == nil {
		log = noopLogger{}
	}
	return &Engine{
		io:           io,
		camera:       camera,
		cfg:          cfg,
		log:          log,
		backoff:      newRestartBackoff(cfg.Backoff),
		degraded:     newDegradedTracker(cfg.Degraded),
		encode:       defaultEncodeLimiter(),
		triggerOutCh: make(chan struct{}, 1),
		triggerInCh:  make(chan struct{}, 1),
		doneCh:       make(chan struct{}),
	}
}

// Start starts the IoBackend and launches the supervisor goroutine.
// Start returns immediately; the engine keeps running until Stop is
// called. An IoBackend start failure is returned.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.io.Start(ctx); err != nil {
		return fmt.Errorf("start io backend: %w", err)
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.supervisorLoop()
	return nil
}

// Stop requests shutdown, waits up to StopJoinTimeout for the
// supervisor and its generation goroutines to exit (the camera backend
// is stopped as its generation unwinds), then stops the IoBackend.
func (e *Engine) Stop() error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.cfg.StopJoinTimeout):
		e.log.Warn("engine stop: join timeout exceeded")
	}
	return e.io.Stop()
}

// TriggerEvents returns the channel trigger-in edges are posted to.
// Consumers (JobQueue) should drain it promptly; sends never block.
func (e *Engine) TriggerEvents() <-chan struct{} {
	return e.triggerInCh
}

// AssertTrigger asks the trigger-out goroutine to pulse the trigger
// line, used by JobQueue.Trigger on a primary node.
func (e *Engine) AssertTrigger() {
	select {
	case e.triggerOutCh <- struct{}{}:
	default:
	}
}

// CaptureNext waits for and returns the next aligned full-resolution
// frame, JPEG-encoded.
func (e *Engine) CaptureNext(ctx context.Context, timeout time.Duration) (*CapturedFrame, error) {
	item, err := e.camera.WaitForHiresFrame(ctx, timeout)
	if err != nil {
		return nil, err
	}
	defer e.camera.DoneHiresFrame(item)

	if delay := e.encode.throttleDelay(); delay > 0 {
		e.log.Warn("encode throttled under memory pressure", "delay", delay)
		time.Sleep(delay)
	}
	if err := e.encode.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.encode.release()

	jpeg, err := e.camera.EncodeFrameToImage(item)
	if err != nil {
		return nil, err
	}
	return &CapturedFrame{JPEG: jpeg, At: item.CapturedAt}, nil
}

// PreviewFrame returns the current low-res preview JPEG, for the MJPEG
// stream and still-image HTTP routes.
func (e *Engine) PreviewFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return e.camera.WaitForLoresImage(ctx, timeout)
}

// Status returns a point-in-time snapshot.
func (e *Engine) Status() Status {
	e.generationMu.Lock()
	gen := e.generation
	aligner := e.aligner
	fps := e.nominalFPS
	e.generationMu.Unlock()

	st := Status{
		State:       e.state.get(),
		Generation:  gen,
		NominalFPS:  fps,
		ClockValid:  e.io.ClockSignalValid(),
		CameraAlive: e.camera.Alive(),
	}
	if aligner != nil {
		st.LastPhaseDeltaNs = aligner.LastDelta()
	}
	if e.camera != nil {
		st.FrameDurationUs = e.camera.FrameDuration().Get()
	}
	return st
}

// supervisorLoop owns EngineState and restarts a failed generation with
// backoff. It is the only goroutine that ever writes EngineState.
func (e *Engine) supervisorLoop() {
	defer e.wg.Done()
	defer e.state.set(StateStopped)
	for {
		if e.ctx.Err() != nil {
			return
		}

		err := e.runGeneration()
		if e.ctx.Err() != nil {
			return
		}
		if err == nil {
			e.backoff.Reset()
			e.degraded.Clear()
			e.state.set(StateWaitingForClock)
			continue
		}

		e.log.Error("generation failed, restarting", "error", err)
		delay := e.backoff.Next()
		degraded := e.degraded.Evaluate(e.backoff.FailureCount())
		if degraded {
			e.state.set(StateDegraded)
		}
		select {
		case <-time.After(delay):
		case <-e.ctx.Done():
			return
		}
	}
}

// runGeneration runs one full generation: wait for clock, derive
// framerate, start the camera, and run sync/camera/trigger-in/
// trigger-out until one of them fails or the context is cancelled.
func (e *Engine) runGeneration() error {
	ctx := e.ctx

	e.state.set(StateWaitingForClock)
	if err := e.waitForValidClock(ctx); err != nil {
		return err
	}

	e.state.set(StateDerivingFramerate)
	fps, err := e.io.DeriveNominalFramerate(ctx)
	if err != nil {
		return fmt.Errorf("derive nominal framerate: %w", err)
	}

	if err := e.camera.Start(ctx); err != nil {
		return fmt.Errorf("start camera backend: %w", err)
	}
	defer e.camera.Stop()

	aligner := align.NewAligner(e.camera.FrameDuration(), fps, alignerLoggerAdapter{e.log})

	e.generationMu.Lock()
	e.generation++
	e.aligner = aligner
	e.nominalFPS = fps
	e.generationMu.Unlock()

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 5)
	var wg sync.WaitGroup
	wg.Add(5)
	go func() { defer wg.Done(); errCh <- e.syncLoop(genCtx, aligner) }()
	go func() { defer wg.Done(); errCh <- e.cameraLoop(genCtx, aligner, fps) }()
	go func() { defer wg.Done(); errCh <- e.controllerLoop(genCtx, aligner) }()
	go func() { defer wg.Done(); errCh <- e.triggerInLoop(genCtx) }()
	go func() { defer wg.Done(); errCh <- e.triggerOutLoop(genCtx, fps) }()

	e.state.set(StateRunning)

	healthTicker := time.NewTicker(e.cfg.HealthTickInterval)
	defer healthTicker.Stop()

	var genErr error
loop:
	for {
		select {
		case err := <-errCh:
			if err != nil {
				genErr = err
				cancel()
			}
		case <-healthTicker.C:
			if !e.camera.Alive() {
				genErr = camerabackend.ErrNotAlive
				cancel()
			}
			if !e.io.ClockSignalValid() {
				genErr = iobackend.ErrClockAbsent
				cancel()
			}
		case <-ctx.Done():
			cancel()
			break loop
		}
		if genCtx.Err() != nil {
			break loop
		}
	}

	cancel()
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil && genErr == nil && ctx.Err() == nil {
			genErr = err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return genErr
}

func (e *Engine) waitForValidClock(ctx context.Context) error {
	deadline := time.Now().Add(e.cfg.ClockWaitTimeout)
	for time.Now().Before(deadline) {
		if _, err := e.io.WaitForClockRise(ctx, e.cfg.ClockWaitTimeout); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return iobackend.ErrClockAbsent
}

// syncLoop watches the external clock rise edge and rendezvouses at
// the barrier once per cycle with the wall-clock reference timestamp.
func (e *Engine) syncLoop(ctx context.Context, aligner *align.Aligner) error {
	for {
		edge, err := e.io.WaitForClockRise(ctx, e.cfg.BarrierTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sync: %w", err)
		}
		if err := aligner.WaitSync(ctx, edge.At.UnixNano(), e.cfg.BarrierTimeout); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sync: %w", err)
		}
	}
}

// cameraLoop drives the sensor's free-running exposure schedule: each
// cycle it advances by the current frame-duration register value
// (which the phase controller's release action nudges), calls
// SyncTick to let the backend service its cycle (metadata-only unless
// a hi-res request is pending, per camerabackend's request-bit
// handshake), and rendezvouses at the barrier so the controller can
// measure this cycle's phase error. A dropped cycle (ShouldDropLastFrame)
// needs no buffer handling here: nothing is held across SyncTick/
// WaitCamera, so dropping simply means this cycle's sample did not
// feed the controller.
func (e *Engine) cameraLoop(ctx context.Context, aligner *align.Aligner, fps float64) error {
	dur := e.camera.FrameDuration()
	cameraClockNs := time.Now().UnixNano() + e.cfg.InitialPhaseBiasNs

	for {
		cameraClockNs += int64(dur.Get() * 1000)

		if err := e.camera.SyncTick(ctx, cameraClockNs); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("camera: sync tick: %w", err)
		}

		if err := aligner.WaitCamera(ctx, cameraClockNs, e.cfg.BarrierTimeout); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("camera: %w", err)
		}
	}
}

// controllerLoop is the third barrier party: it contributes no
// timestamp of its own, only rendezvouses once per cycle so the
// PhaseController's clamped-adjustment law (run as the barrier's
// release action, see align.Aligner.release) executes inside the same
// three-party rendezvous that produced this cycle's phase sample,
// rather than as a bolt-on step after the fact.
func (e *Engine) controllerLoop(ctx context.Context, aligner *align.Aligner) error {
	for {
		if err := aligner.WaitController(ctx, e.cfg.BarrierTimeout); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("controller: %w", err)
		}
	}
}

func (e *Engine) triggerInLoop(ctx context.Context) error {
	for {
		err := e.io.WaitForTrigger(ctx, e.cfg.BarrierTimeout)
		if err != nil {
			if err == iobackend.ErrTimeout {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("trigger-in: %w", err)
		}
		select {
		case e.triggerInCh <- struct{}{}:
		default:
		}
	}
}

// triggerOutLoop waits for a job-execute request, then arms the
// outbound trigger line at the next clock falling edge (the phase
// midpoint) and lowers it at the following falling edge. Driving from
// falling edges rather than a timed sleep gives every secondary node
// half a cycle of head-room to arm before the next rising edge, and
// keeps the pulse width locked to the real clock rather than a nominal
// estimate of it.
func (e *Engine) triggerOutLoop(ctx context.Context, fps float64) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.triggerOutCh:
			if _, err := e.io.WaitForClockFall(ctx, e.cfg.BarrierTimeout); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("trigger-out: wait fall: %w", err)
			}
			if err := e.io.SetTriggerOut(ctx, true); err != nil {
				return fmt.Errorf("trigger-out: %w", err)
			}
			if _, err := e.io.WaitForClockFall(ctx, e.cfg.BarrierTimeout); err != nil {
				e.io.SetTriggerOut(ctx, false)
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("trigger-out: wait fall: %w", err)
			}
			if err := e.io.SetTriggerOut(ctx, false); err != nil {
				return fmt.Errorf("trigger-out: %w", err)
			}
		}
	}
}

// alignerLoggerAdapter adapts Engine's Logger to align.Logger.
type alignerLoggerAdapter struct {
	l Logger
}

func (a alignerLoggerAdapter) Warn(msg string, kv ...any)  { a.l.Warn(msg, kv...) }
func (a alignerLoggerAdapter) Debug(msg string, kv ...any) { a.l.Debug(msg, kv...) }
