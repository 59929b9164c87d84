package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pitch-shifter/internal/domain"
)

// ErrJobNotFound is returned for operations on unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrJobFinished is returned when cancelling a job in a terminal state.
var ErrJobFinished = errors.New("job already finished")

// ErrOutputPathInUse is returned when a submission targets an output
// path already claimed by an active job.
var ErrOutputPathInUse = errors.New("output path already claimed by an active job")

const defaultRetention = 10 * time.Minute

// Executor runs one job request to completion.
type Executor interface {
	Execute(ctx context.Context, req domain.JobRequest, onProgress func(float64)) (string, *domain.JobError)
}

// trackedJob pairs a job snapshot with its cancellation handle.
type trackedJob struct {
	job             domain.Job
	cancel          context.CancelFunc
	cancelRequested bool
	outputKey       string
}

// Scheduler accepts job submissions, dispatches them FIFO into a
// bounded number of running slots, and retains terminal jobs for a
// bounded window.
type Scheduler struct {
	executor  Executor
	events    *EventBus
	retention time.Duration

	mu          sync.Mutex
	maxParallel int
	running     int
	queue       []string
	jobs        map[string]*trackedJob
	onEvent     func(Event)
	now         func() time.Time
	newID       func() string
}

// NewScheduler builds a scheduler. maxParallel below 1 derives the slot
// count from available CPU parallelism.
func NewScheduler(executor Executor, events *EventBus, maxParallel int) *Scheduler {
	if maxParallel < 1 {
		maxParallel = goruntime.NumCPU()
		if maxParallel < 1 {
			maxParallel = 1
		}
	}

	return &Scheduler{
		executor:    executor,
		events:      events,
		retention:   defaultRetention,
		maxParallel: maxParallel,
		jobs:        make(map[string]*trackedJob),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// SetEventSink registers a callback invoked for every published event,
// after it is stored in the event buffer.
func (s *Scheduler) SetEventSink(sink func(Event)) {
	s.mu.Lock()
	s.onEvent = sink
	s.mu.Unlock()
}

// Submit enqueues one immutable request and returns its job ID. A
// request targeting the output path of an active job is rejected.
func (s *Scheduler) Submit(req domain.JobRequest) (string, error) {
	key := outputKey(req)

	s.mu.Lock()
	s.sweepLocked()

	if key != "" {
		for _, tracked := range s.jobs {
			if !tracked.job.State.IsTerminal() && tracked.outputKey == key {
				s.mu.Unlock()
				return "", fmt.Errorf("%s: %w", req.OutputPath, ErrOutputPathInUse)
			}
		}
	}

	if req.ID == "" {
		req.ID = s.newID()
	}
	if _, exists := s.jobs[req.ID]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("duplicate job id: %s", req.ID)
	}

	s.jobs[req.ID] = &trackedJob{
		job: domain.Job{
			Request:  req,
			State:    domain.JobStateQueued,
			Progress: domain.ProgressIndeterminate,
			QueuedAt: s.now(),
		},
		outputKey: key,
	}
	s.queue = append(s.queue, req.ID)

	pending := []Event{{
		JobID:   req.ID,
		Type:    EventTypeStatus,
		State:   domain.JobStateQueued,
		Message: "Job queued",
	}}
	pending = append(pending, s.dispatchLocked()...)
	s.mu.Unlock()

	s.publishAll(pending)
	return req.ID, nil
}

// Cancel stops a job. Queued jobs transition to cancelled without ever
// spawning a process; running jobs get their context cancelled and
// reach the cancelled state once the process tree is down.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	tracked, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}

	switch tracked.job.State {
	case domain.JobStateQueued:
		s.dropFromQueueLocked(id)
		tracked.job.State = domain.JobStateCancelled
		tracked.job.Error = domain.NewJobError(domain.ErrKindCancelled, "cancelled before start")
		tracked.job.FinishedAt = s.now()
		event := completionEvent(tracked.job)
		s.mu.Unlock()
		s.publish(event)
		return nil
	case domain.JobStateRunning:
		tracked.cancelRequested = true
		cancel := tracked.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	default:
		s.mu.Unlock()
		return ErrJobFinished
	}
}

// Status returns a snapshot of one job.
func (s *Scheduler) Status(id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracked, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return tracked.job, nil
}

// List returns snapshots of all tracked jobs in submission order.
func (s *Scheduler) List() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	out := make([]domain.Job, 0, len(s.jobs))
	for _, tracked := range s.jobs {
		out = append(out, tracked.job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out
}

// Acknowledge evicts one terminal job from the tracked set.
func (s *Scheduler) Acknowledge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracked, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !tracked.job.State.IsTerminal() {
		return fmt.Errorf("job %s is still active", id)
	}
	delete(s.jobs, id)
	return nil
}

// dispatchLocked promotes queued jobs into free slots and returns the
// status events to publish once the lock is released.
func (s *Scheduler) dispatchLocked() []Event {
	var pending []Event
	for s.running < s.maxParallel && len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]

		tracked, ok := s.jobs[id]
		if !ok || tracked.job.State != domain.JobStateQueued {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		tracked.cancel = cancel
		tracked.job.State = domain.JobStateRunning
		tracked.job.StartedAt = s.now()
		s.running++

		pending = append(pending, Event{
			JobID:   id,
			Type:    EventTypeStatus,
			State:   domain.JobStateRunning,
			Message: "Job started",
		})
		go s.runJob(ctx, id, tracked.job.Request)
	}
	return pending
}

// runJob drives the executor and finalizes the terminal state.
func (s *Scheduler) runJob(ctx context.Context, id string, req domain.JobRequest) {
	resultPath, jobErr := s.executor.Execute(ctx, req, func(fraction float64) {
		s.recordProgress(id, fraction)
	})

	s.mu.Lock()
	s.running--
	tracked, ok := s.jobs[id]
	if !ok {
		pending := s.dispatchLocked()
		s.mu.Unlock()
		s.publishAll(pending)
		return
	}

	switch {
	case tracked.cancelRequested || (jobErr != nil && jobErr.Kind == domain.ErrKindCancelled):
		tracked.job.State = domain.JobStateCancelled
		if jobErr == nil {
			jobErr = domain.NewJobError(domain.ErrKindCancelled, "job cancelled")
		}
		tracked.job.Error = jobErr
	case jobErr != nil:
		tracked.job.State = domain.JobStateFailed
		tracked.job.Error = jobErr
	default:
		tracked.job.State = domain.JobStateSucceeded
		tracked.job.ResultPath = resultPath
		tracked.job.Progress = 1
	}
	tracked.job.FinishedAt = s.now()
	tracked.cancel = nil

	pending := []Event{completionEvent(tracked.job)}
	pending = append(pending, s.dispatchLocked()...)
	s.mu.Unlock()

	s.publishAll(pending)
}

// recordProgress applies a monotonic progress update to a running job.
func (s *Scheduler) recordProgress(id string, fraction float64) {
	s.mu.Lock()
	tracked, ok := s.jobs[id]
	if !ok || tracked.job.State != domain.JobStateRunning || fraction <= tracked.job.Progress {
		s.mu.Unlock()
		return
	}
	tracked.job.Progress = fraction
	event := Event{
		JobID:    id,
		Type:     EventTypeProgress,
		State:    domain.JobStateRunning,
		Progress: fraction,
	}
	s.mu.Unlock()

	s.publish(event)
}

// dropFromQueueLocked removes one job ID from the FIFO queue.
func (s *Scheduler) dropFromQueueLocked(id string) {
	for i, queued := range s.queue {
		if queued == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// sweepLocked evicts terminal jobs older than the retention window.
func (s *Scheduler) sweepLocked() {
	cutoff := s.now().Add(-s.retention)
	for id, tracked := range s.jobs {
		if tracked.job.State.IsTerminal() && tracked.job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

// publish stores one event and forwards it to the registered sink.
func (s *Scheduler) publish(event Event) {
	published := s.events.Publish(event)

	s.mu.Lock()
	sink := s.onEvent
	s.mu.Unlock()
	if sink != nil {
		sink(published)
	}
}

// publishAll publishes events preserving their order.
func (s *Scheduler) publishAll(events []Event) {
	for _, event := range events {
		s.publish(event)
	}
}

// completionEvent builds the terminal event for one job snapshot.
func completionEvent(job domain.Job) Event {
	message := "Job completed"
	switch job.State {
	case domain.JobStateFailed:
		message = "Job failed"
	case domain.JobStateCancelled:
		message = "Job cancelled"
	}

	return Event{
		JobID:      job.Request.ID,
		Type:       EventTypeCompleted,
		State:      job.State,
		Message:    message,
		ResultPath: job.ResultPath,
		Error:      job.Error,
	}
}

// outputKey normalizes the exclusive output path of a request. Download
// destinations are unknown until runtime and carry no key.
func outputKey(req domain.JobRequest) string {
	if req.Kind != domain.JobKindPitchShift || req.OutputPath == "" {
		return ""
	}
	return filepath.Clean(req.OutputPath)
}

// NewSchedulerForTests builds a scheduler with injectable clock and
// retention window.
func NewSchedulerForTests(
	executor Executor,
	events *EventBus,
	maxParallel int,
	retention time.Duration,
	now func() time.Time,
) *Scheduler {
	s := NewScheduler(executor, events, maxParallel)
	if retention > 0 {
		s.retention = retention
	}
	if now != nil {
		s.now = now
	}
	return s
}
