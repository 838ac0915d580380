// Package jobqueue implements the single-current-job capture queue:
// a job is set up with a target capture count, triggered, and its
// results collected, with at most one non-finished job in flight at a
// time across the whole node. In standalone mode there is no HTTP
// client driving job setup; every trigger-in edge synthesizes its own
// one-capture job instead.
package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wigglecam/node/internal/engine"
	"github.com/wigglecam/node/internal/media"
)

// ErrJobAlreadyActive is returned by SetupJobRequest when a
// non-finished job already occupies the current slot. The HTTP layer
// maps this to 429.
var ErrJobAlreadyActive = errors.New("jobqueue: job already active")

// ErrJobNotFound is returned by Get for an unknown job ID.
var ErrJobNotFound = errors.New("jobqueue: job not found")

// JobRequest is the caller-supplied shape of a job: how many aligned
// captures to collect. No maximum is imposed; a request exceeding the
// sustainable frame rate simply takes longer to fill.
type JobRequest struct {
	NumberCaptures int
}

// CaptureResult is one fulfilled capture within a job.
type CaptureResult struct {
	Index   int
	MediaID string
	At      time.Time
}

// JobItem is the current state of one job.
type JobItem struct {
	ID        string
	Request   JobRequest
	Captures  []CaptureResult
	CreatedAt time.Time
	Finished  bool
}

// Logger is the minimal logging surface Queue needs.
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

// Engine is the subset of engine.Engine the queue depends on, so tests
// can substitute a fake.
type Engine interface {
	AssertTrigger()
	TriggerEvents() <-chan struct{}
	CaptureNext(ctx context.Context, timeout time.Duration) (*engine.CapturedFrame, error)
}

// MediaStore is the subset of media.Store the queue depends on.
type MediaStore interface {
	Save(data []byte, at time.Time, standalone bool, index int) (string, error)
}

var _ MediaStore = (*media.Store)(nil)

// Queue is the JobQueue component.
type Queue struct {
	eng        Engine
	store      MediaStore
	standalone bool
	captureTimeout time.Duration
	idSeq      uint64
	log        Logger

	mu      sync.Mutex
	current *JobItem
	history []JobItem

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// Config configures a Queue.
type Config struct {
	Standalone     bool
	CaptureTimeout time.Duration // default 2s, per the hi-res handshake timeout
}

// New builds a Queue over eng and store.
func New(eng Engine, store MediaStore, cfg Config, log Logger) *Queue {
	if log == nil {
		log = noopLogger{}
	}
	timeout := cfg.CaptureTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Queue{
		eng:            eng,
		store:          store,
		standalone:     cfg.Standalone,
		captureTimeout: timeout,
		log:            log,
		doneCh:         make(chan struct{}),
	}
}
