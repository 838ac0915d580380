package jobqueue

import (
	"context"
	"fmt"
	"time"
)

// Start launches the job-processor goroutine, which consumes trigger
// events from the engine and advances whichever job is current.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
	go q.processorLoop()
}

// Stop requests the job-processor goroutine to exit and waits for it.
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	<-q.doneCh
}

// SetupJobRequest installs req as the current job if, and only if, no
// non-finished job currently occupies the slot.
func (q *Queue) SetupJobRequest(req JobRequest) (JobItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil && !q.current.Finished {
		return JobItem{}, ErrJobAlreadyActive
	}

	q.idSeq++
	item := JobItem{
		ID:        fmt.Sprintf("job-%06d", q.idSeq),
		Request:   req,
		CreatedAt: time.Now(),
	}
	q.current = &item
	return item, nil
}

// Trigger asserts the shared trigger-out pulse. It does not itself
// advance the current job: captures are driven by trigger-in edges
// observed by the job-processor goroutine, which is how a secondary
// node fulfills its own job from the same physical pulse a primary
// node emits.
func (q *Queue) Trigger() {
	q.eng.AssertTrigger()
}

// Reset clears the current job slot without waiting for it to finish.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil {
		q.current.Finished = true
		q.history = append(q.history, *q.current)
		q.current = nil
	}
}

// List returns every job, finished or not, oldest first.
func (q *Queue) List() []JobItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]JobItem, 0, len(q.history)+1)
	items = append(items, q.history...)
	if q.current != nil {
		items = append(items, *q.current)
	}
	return items
}

// Get returns the job matching id.
func (q *Queue) Get(id string) (JobItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil && q.current.ID == id {
		return *q.current, nil
	}
	for _, item := range q.history {
		if item.ID == id {
			return item, nil
		}
	}
	return JobItem{}, ErrJobNotFound
}

// processorLoop advances the current job (or, in standalone mode,
// synthesizes a one-capture job) on every trigger-in edge. A capture or
// save error is logged and the current job is closed out as finished
// with the captures it already has, so a broken capture never leaves
// the current job slot stuck; the loop then continues.
func (q *Queue) processorLoop() {
	defer close(q.doneCh)
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.eng.TriggerEvents():
			q.handleTrigger()
		}
	}
}

// handleTrigger services exactly one trigger-in edge: per §4.6, a
// single trigger captures the job's entire number_captures run in
// sequence before the current slot is cleared, rather than requiring
// one trigger edge per capture.
func (q *Queue) handleTrigger() {
	q.mu.Lock()
	if q.current == nil || q.current.Finished {
		if !q.standalone {
			q.mu.Unlock()
			return
		}
		q.idSeq++
		q.current = &JobItem{
			ID:        fmt.Sprintf("standalone-%06d", q.idSeq),
			Request:   JobRequest{NumberCaptures: 1},
			CreatedAt: time.Now(),
		}
	}
	job := q.current
	q.mu.Unlock()

	for {
		q.mu.Lock()
		if q.current == nil || q.current.ID != job.ID {
			q.mu.Unlock()
			return
		}
		index := len(q.current.Captures)
		done := index >= q.current.Request.NumberCaptures
		q.mu.Unlock()
		if done {
			break
		}

		frame, err := q.eng.CaptureNext(q.ctx, q.captureTimeout)
		if err != nil {
			q.log.Error("job-processor: capture failed", "job", job.ID, "error", err)
			break
		}

		mediaID, err := q.store.Save(frame.JPEG, frame.At, q.standalone, index)
		if err != nil {
			q.log.Error("job-processor: save failed", "job", job.ID, "error", err)
			break
		}

		q.mu.Lock()
		if q.current == nil || q.current.ID != job.ID {
			q.mu.Unlock()
			return
		}
		q.current.Captures = append(q.current.Captures, CaptureResult{
			Index:   index,
			MediaID: mediaID,
			At:      frame.At,
		})
		q.mu.Unlock()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil && q.current.ID == job.ID {
		q.current.Finished = true
		q.history = append(q.history, *q.current)
		q.current = nil
	}
}
