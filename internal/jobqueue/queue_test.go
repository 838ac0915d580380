package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/wigglecam/node/internal/engine"
)

type fakeEngine struct {
	mu       sync.Mutex
	triggers chan struct{}
	captures int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{triggers: make(chan struct{}, 8)}
}

func (f *fakeEngine) AssertTrigger() {
	select {
	case f.triggers <- struct{}{}:
	default:
	}
}

func (f *fakeEngine) TriggerEvents() <-chan struct{} { return f.triggers }

func (f *fakeEngine) CaptureNext(ctx context.Context, timeout time.Duration) (*engine.CapturedFrame, error) {
	f.mu.Lock()
	f.captures++
	f.mu.Unlock()
	return &engine.CapturedFrame{JPEG: []byte("jpeg"), At: time.Now()}, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved int
}

func (f *fakeStore) Save(data []byte, at time.Time, standalone bool, index int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved++
	return "media-id", nil
}

func TestSetupJobRequestSingleCurrentInvariant(t *testing.T) {
	eng := newFakeEngine()
	store := &fakeStore{}
	q := New(eng, store, Config{}, nil)

	if _, err := q.SetupJobRequest(JobRequest{NumberCaptures: 5}); err != nil {
		t.Fatalf("first SetupJobRequest: %v", err)
	}
	if _, err := q.SetupJobRequest(JobRequest{NumberCaptures: 1}); err != ErrJobAlreadyActive {
		t.Errorf("second SetupJobRequest error = %v, want ErrJobAlreadyActive", err)
	}
}

func TestTriggerAdvancesCurrentJobToFinish(t *testing.T) {
	eng := newFakeEngine()
	store := &fakeStore{}
	q := New(eng, store, Config{}, nil)
	q.Start(context.Background())
	defer q.Stop()

	job, err := q.SetupJobRequest(JobRequest{NumberCaptures: 2})
	if err != nil {
		t.Fatalf("SetupJobRequest: %v", err)
	}

	q.Trigger()
	q.Trigger()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := q.Get(job.ID)
		if err == nil && got.Finished && len(got.Captures) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job never finished with 2 captures")
}

func TestResetClearsCurrentJob(t *testing.T) {
	eng := newFakeEngine()
	store := &fakeStore{}
	q := New(eng, store, Config{}, nil)

	job, _ := q.SetupJobRequest(JobRequest{NumberCaptures: 3})
	q.Reset()

	if _, err := q.SetupJobRequest(JobRequest{NumberCaptures: 1}); err != nil {
		t.Errorf("SetupJobRequest after Reset: %v", err)
	}
	got, err := q.Get(job.ID)
	if err != nil {
		t.Fatalf("Get reset job: %v", err)
	}
	if !got.Finished {
		t.Errorf("reset job should be marked finished in history")
	}
}

func TestStandaloneModeSynthesizesJobOnTrigger(t *testing.T) {
	eng := newFakeEngine()
	store := &fakeStore{}
	q := New(eng, store, Config{Standalone: true}, nil)
	q.Start(context.Background())
	defer q.Stop()

	eng.AssertTrigger()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(q.List()) > 0 {
			job := q.List()[0]
			if job.Finished && len(job.Captures) == 1 {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("standalone job never synthesized/finished")
}

func TestGetReflectsFinishedJobShape(t *testing.T) {
	eng := newFakeEngine()
	store := &fakeStore{}
	q := New(eng, store, Config{}, nil)
	q.Start(context.Background())
	defer q.Stop()

	job, err := q.SetupJobRequest(JobRequest{NumberCaptures: 1})
	if err != nil {
		t.Fatalf("SetupJobRequest: %v", err)
	}
	q.Trigger()

	deadline := time.Now().Add(time.Second)
	var finished JobItem
	for time.Now().Before(deadline) {
		got, err := q.Get(job.ID)
		if err == nil && got.Finished {
			finished = got
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !finished.Finished {
		t.Fatalf("job never finished")
	}

	want := JobItem{
		ID:       job.ID,
		Request:  JobRequest{NumberCaptures: 1},
		Finished: true,
		Captures: []CaptureResult{{Index: 0, MediaID: "media-id"}},
	}
	opts := cmpopts.IgnoreFields(JobItem{}, "CreatedAt")
	ignoreAt := cmpopts.IgnoreFields(CaptureResult{}, "At")
	if diff := cmp.Diff(want, finished, opts, ignoreAt); diff != "" {
		t.Errorf("finished job mismatch (-want +got):\n%s", diff)
	}
}

func TestGetUnknownJobReturnsNotFound(t *testing.T) {
	eng := newFakeEngine()
	store := &fakeStore{}
	q := New(eng, store, Config{}, nil)
	if _, err := q.Get("nope"); err != ErrJobNotFound {
		t.Errorf("Get(unknown) error = %v, want ErrJobNotFound", err)
	}
}
