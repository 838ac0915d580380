package iobackend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/gpiod"
)

// gpioBackend drives the clock/trigger lines through the Linux GPIO
// character device (via gpiod) and, on a primary node, emits the clock
// cadence itself through a sysfs PWM channel at 50% duty cycle. A
// near-symmetric duty cycle gives the edge detector equal dwell time
// on both sides of the rising edge it cares about, which tolerates
// more GPIO interrupt-latency jitter than a narrow pulse would.
type gpioBackend struct {
	cfg Config

	chip           *gpiod.Chip
	clockLine      *gpiod.Line
	triggerInLine  *gpiod.Line
	triggerOutLine *gpiod.Line

	mu       sync.Mutex
	rise     chan ClockEdge
	fall     chan ClockEdge
	trigger  chan struct{}
	lastEdge time.Time

	// monoEpoch/monoEpochOffset anchor the kernel's CLOCK_MONOTONIC
	// event timestamps to a wall-clock time.Time, set once from the
	// first clock edge observed. Every later rising edge is derived
	// from this anchor plus the kernel-reported offset rather than a
	// fresh time.Now() read, so user-space scheduling delay between
	// the interrupt firing and the handler running never enters the
	// timestamp.
	monoEpoch       time.Time
	monoEpochOffset time.Duration

	pwmPath string
	stopped atomic.Bool
}

func newGPIOBackend(cfg Config) (Backend, error) {
	if cfg.GPIOChip == "" {
		return nil, fmt.Errorf("%w: gpio chip name required", ErrHardwareUnavailable)
	}
	return &gpioBackend{
		cfg:     cfg,
		rise:    make(chan ClockEdge, 1),
		fall:    make(chan ClockEdge, 1),
		trigger: make(chan struct{}, 1),
	}, nil
}

func (g *gpioBackend) Start(ctx context.Context) error {
	chip, err := gpiod.NewChip(g.cfg.GPIOChip, gpiod.WithConsumer("wigglecam-node"))
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrHardwareUnavailable, g.cfg.GPIOChip, err)
	}
	g.chip = chip

	clockLine, err := chip.RequestLine(g.cfg.ClockLine, gpiod.WithBothEdges, gpiod.WithEventHandler(g.onClockEdge))
	if err != nil {
		chip.Close()
		return fmt.Errorf("%w: request clock line %d: %v", ErrHardwareUnavailable, g.cfg.ClockLine, err)
	}
	g.clockLine = clockLine

	triggerInLine, err := chip.RequestLine(g.cfg.TriggerInLine, gpiod.WithRisingEdge, gpiod.WithEventHandler(g.onTriggerEdge))
	if err != nil {
		clockLine.Close()
		chip.Close()
		return fmt.Errorf("%w: request trigger-in line %d: %v", ErrHardwareUnavailable, g.cfg.TriggerInLine, err)
	}
	g.triggerInLine = triggerInLine

	triggerOutLine, err := chip.RequestLine(g.cfg.TriggerOutLine, gpiod.AsOutput(0))
	if err != nil {
		triggerInLine.Close()
		clockLine.Close()
		chip.Close()
		return fmt.Errorf("%w: request trigger-out line %d: %v", ErrHardwareUnavailable, g.cfg.TriggerOutLine, err)
	}
	g.triggerOutLine = triggerOutLine

	if g.cfg.IsPrimary {
		if err := g.startHardwareClock(); err != nil {
			g.closeLines()
			return err
		}
	}

	return nil
}

// startHardwareClock programs a sysfs PWM channel to emit the shared
// clock cadence: period derived from the configured nominal framerate,
// 50% duty cycle.
func (g *gpioBackend) startHardwareClock() error {
	fps := g.cfg.FPSNominalOverride
	if fps <= 0 {
		return fmt.Errorf("%w: primary node requires backend.gpio.fps_nominal", ErrFramerateOutOfRange)
	}

	chipPath := filepath.Join("/sys/class/pwm", fmt.Sprintf("pwmchip%d", g.cfg.PWMChip))
	channelPath := filepath.Join(chipPath, fmt.Sprintf("pwm%d", g.cfg.PWMChannel))

	if _, err := os.Stat(channelPath); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(chipPath, "export"), []byte(strconv.Itoa(g.cfg.PWMChannel)), 0200); err != nil {
			return fmt.Errorf("%w: export pwm channel: %v", ErrHardwareUnavailable, err)
		}
	}

	periodNs := int64(1e9 / fps)
	dutyNs := periodNs / 2 // 50% duty cycle

	if err := os.WriteFile(filepath.Join(channelPath, "period"), []byte(strconv.FormatInt(periodNs, 10)), 0200); err != nil {
		return fmt.Errorf("%w: set pwm period: %v", ErrHardwareUnavailable, err)
	}
	if err := os.WriteFile(filepath.Join(channelPath, "duty_cycle"), []byte(strconv.FormatInt(dutyNs, 10)), 0200); err != nil {
		return fmt.Errorf("%w: set pwm duty_cycle: %v", ErrHardwareUnavailable, err)
	}
	if err := os.WriteFile(filepath.Join(channelPath, "enable"), []byte("1"), 0200); err != nil {
		return fmt.Errorf("%w: enable pwm: %v", ErrHardwareUnavailable, err)
	}

	g.pwmPath = channelPath
	return nil
}

func (g *gpioBackend) onClockEdge(evt gpiod.LineEvent) {
	g.mu.Lock()
	if g.monoEpoch.IsZero() {
		g.monoEpoch = time.Now()
		g.monoEpochOffset = evt.Timestamp
	}
	epoch, offset := g.monoEpoch, g.monoEpochOffset
	g.lastEdge = time.Now()
	g.mu.Unlock()

	rise := evt.Type == gpiod.LineEventRisingEdge
	at := time.Now()
	if rise {
		// Kernel-provided monotonic timestamp, not a user-space read:
		// the phase controller's reference half comes from this edge,
		// and scheduling jitter here would leak straight into the
		// phase-error computation.
		at = epoch.Add(evt.Timestamp - offset)
	}

	edge := ClockEdge{At: at, Rise: rise}
	ch := g.fall
	if edge.Rise {
		ch = g.rise
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- edge:
	default:
	}
}

func (g *gpioBackend) onTriggerEdge(evt gpiod.LineEvent) {
	select {
	case g.trigger <- struct{}{}:
	default:
	}
}

func (g *gpioBackend) closeLines() {
	if g.triggerOutLine != nil {
		g.triggerOutLine.Close()
	}
	if g.triggerInLine != nil {
		g.triggerInLine.Close()
	}
	if g.clockLine != nil {
		g.clockLine.Close()
	}
	if g.chip != nil {
		g.chip.Close()
	}
}

func (g *gpioBackend) Stop() error {
	if !g.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if g.pwmPath != "" {
		_ = os.WriteFile(filepath.Join(g.pwmPath, "enable"), []byte("0"), 0200)
	}
	g.closeLines()
	return nil
}

// DeriveNominalFramerate averages 5 inter-edge intervals across the
// next 6 rising edges observed on the clock line.
func (g *gpioBackend) DeriveNominalFramerate(ctx context.Context) (float64, error) {
	if g.cfg.FPSNominalOverride > 0 {
		return g.cfg.FPSNominalOverride, nil
	}

	const edgesNeeded = 6
	var prev time.Time
	var sum time.Duration
	var count int

	for i := 0; i < edgesNeeded; i++ {
		edge, err := g.WaitForClockRise(ctx, 2*time.Second)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrClockAbsent, err)
		}
		if !prev.IsZero() {
			sum += edge.At.Sub(prev)
			count++
		}
		prev = edge.At
	}

	if count == 0 {
		return 0, ErrClockAbsent
	}

	avgInterval := sum / time.Duration(count)
	fps := float64(time.Second) / float64(avgInterval)
	if fps < 1 || fps > 120 {
		return 0, ErrFramerateOutOfRange
	}
	return fps, nil
}

func (g *gpioBackend) WaitForClockRise(ctx context.Context, timeout time.Duration) (ClockEdge, error) {
	return waitEdge(ctx, g.rise, timeout)
}

func (g *gpioBackend) WaitForClockFall(ctx context.Context, timeout time.Duration) (ClockEdge, error) {
	return waitEdge(ctx, g.fall, timeout)
}

func (g *gpioBackend) WaitForTrigger(ctx context.Context, timeout time.Duration) error {
	var timerCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timerCh = t.C
	}
	select {
	case <-g.trigger:
		return nil
	case <-timerCh:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gpioBackend) SetTriggerOut(ctx context.Context, active bool) error {
	v := 0
	if active {
		v = 1
	}
	return g.triggerOutLine.SetValue(v)
}

func (g *gpioBackend) ClockSignalValid() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastEdge.IsZero() {
		return false
	}
	window := time.Duration(g.cfg.ValidWindow * float64(time.Second))
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return time.Since(g.lastEdge) < window
}
