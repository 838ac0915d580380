// Package netclock periodically checks the host wall clock against
// NTP, so the acquisition node can trust the timestamps it stamps onto
// persisted media filenames and the reference-timestamp barrier input.
// This is a simpler relative of the teacher lineage's EXIF-vs-NTP time
// authority: there is no per-photo EXIF here, only the host clock
// itself, since camera backends emit raw sensor buffers.
package netclock

import (
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// Confidence describes how much the node should trust its own
// wall clock right now.
type Confidence int

const (
	// ConfidenceUnknown means no successful NTP query has completed yet.
	ConfidenceUnknown Confidence = iota
	// ConfidenceGood means the last query's offset was within MaxOffset.
	ConfidenceGood
	// ConfidenceDegraded means the last query's offset exceeded MaxOffset.
	ConfidenceDegraded
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceGood:
		return "good"
	case ConfidenceDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Config configures the periodic check.
type Config struct {
	Servers       []string
	CheckInterval time.Duration
	MaxOffset     time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Servers:       []string{"pool.ntp.org"},
		CheckInterval: 5 * time.Minute,
		MaxOffset:     5 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Logger is the minimal logging surface Checker needs.
type Logger interface {
	Warn(msg string, kv ...any)
	Info(msg string, kv ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}
func (noopLogger) Info(string, ...any) {}

// Checker periodically queries NTP and tracks whether the host clock
// is trustworthy.
type Checker struct {
	cfg Config
	log Logger

	mu         sync.RWMutex
	confidence Confidence
	lastOffset time.Duration
	lastCheck  time.Time
	lastErr    error

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Checker. Queries don't run until Start is called.
func New(cfg Config, log Logger) *Checker {
	if log == nil {
		log = noopLogger{}
	}
	if len(cfg.Servers) == 0 {
		cfg.Servers = DefaultConfig().Servers
	}
	return &Checker{cfg: cfg, log: log, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// Start runs an immediate check and then repeats on CheckInterval.
func (c *Checker) Start() {
	go c.run()
}

// Stop ends the periodic check goroutine.
func (c *Checker) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Checker) run() {
	defer close(c.doneCh)
	c.check()
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.check()
		}
	}
}

func (c *Checker) check() {
	var lastErr error
	for _, server := range c.cfg.Servers {
		resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: c.cfg.Timeout})
		if err != nil {
			lastErr = fmt.Errorf("ntp query %s: %w", server, err)
			continue
		}

		offset := resp.ClockOffset
		confidence := ConfidenceGood
		if abs(offset) > c.cfg.MaxOffset {
			confidence = ConfidenceDegraded
			c.log.Warn("host clock offset exceeds max allowed", "server", server, "offset", offset)
		}

		c.mu.Lock()
		c.confidence = confidence
		c.lastOffset = offset
		c.lastCheck = time.Now()
		c.lastErr = nil
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.lastErr = lastErr
	c.lastCheck = time.Now()
	c.mu.Unlock()
	c.log.Warn("all ntp servers unreachable", "error", lastErr)
}

// Healthy reports whether the host clock is currently trustworthy.
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.confidence == ConfidenceGood
}

// Status returns the checker's current view of the host clock.
type Status struct {
	Confidence Confidence
	Offset     time.Duration
	LastCheck  time.Time
	LastError  error
}

// Status returns a point-in-time snapshot.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Confidence: c.confidence,
		Offset:     c.lastOffset,
		LastCheck:  c.lastCheck,
		LastError:  c.lastErr,
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
