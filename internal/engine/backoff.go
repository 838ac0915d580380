package engine

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig configures the delay the supervisor waits between
// restarting a failed generation.
type BackoffConfig struct {
	InitialSeconds int     // default: 2
	MaxSeconds     int     // default: 60
	Multiplier     float64 // default: 2.0
	Jitter         bool    // default: true
}

// DefaultBackoffConfig returns the default restart backoff.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialSeconds: 2,
		MaxSeconds:     60,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// restartBackoff tracks consecutive generation failures and the delay
// before the next restart attempt.
type restartBackoff struct {
	cfg          BackoffConfig
	failureCount int
}

func newRestartBackoff(cfg BackoffConfig) *restartBackoff {
	return &restartBackoff{cfg: cfg}
}

// Next returns the delay before the next restart and increments the
// failure count.
func (b *restartBackoff) Next() time.Duration {
	b.failureCount++
	seconds := float64(b.cfg.InitialSeconds) * math.Pow(b.cfg.Multiplier, float64(b.failureCount-1))
	if seconds > float64(b.cfg.MaxSeconds) {
		seconds = float64(b.cfg.MaxSeconds)
	}
	if b.cfg.Jitter {
		seconds += seconds * 0.2 * rand.Float64()
	}
	return time.Duration(seconds * float64(time.Second))
}

// Reset clears the failure count after a generation runs cleanly.
func (b *restartBackoff) Reset() {
	b.failureCount = 0
}

// FailureCount returns the current consecutive-failure count.
func (b *restartBackoff) FailureCount() int {
	return b.failureCount
}
