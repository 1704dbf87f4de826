// Package jobs is the durable background-job runtime. Jobs are queued in
// SQLite and survive process restarts; a worker claims one job at a time per
// goroutine up to a concurrency ceiling. A job runs exactly one unit of work
// (one pipeline advance or one full build) and exits; it never loops waiting
// on external input.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calder/foundry/internal/logger"
	"github.com/calder/foundry/internal/models"
)

// Advancer runs one pipeline stage.
type Advancer interface {
	Advance(ctx context.Context, executionID string) (*models.Execution, error)
}

// Builder runs one full phased build.
type Builder interface {
	ExecuteBuild(ctx context.Context, executionID string) error
}

// Store is the slice of persistence the worker needs.
type Store interface {
	EnqueueJob(ctx context.Context, job *models.Job) error
	ClaimNextJob(ctx context.Context) (*models.Job, error)
	FinishJob(ctx context.Context, jobID string, status models.JobStatus, note string) error
	ListInFlightJobs(ctx context.Context) ([]models.Job, error)
	AbortStaleJobs(ctx context.Context, note string) (int, error)
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	UpdateExecution(ctx context.Context, exec *models.Execution) error
}

// DefaultConcurrency is the worker's job concurrency ceiling.
const DefaultConcurrency = 2

// DefaultPollInterval is how long the worker sleeps on an empty queue.
const DefaultPollInterval = 500 * time.Millisecond

// Worker claims and runs queued jobs.
type Worker struct {
	store        Store
	advancer     Advancer
	builder      Builder
	log          logger.Logger
	concurrency  int
	pollInterval time.Duration
}

// NewWorker wires a worker with default concurrency and polling.
func NewWorker(store Store, advancer Advancer, builder Builder, log logger.Logger) *Worker {
	if log == nil {
		log = logger.Nop{}
	}
	return &Worker{
		store:        store,
		advancer:     advancer,
		builder:      builder,
		log:          log,
		concurrency:  DefaultConcurrency,
		pollInterval: DefaultPollInterval,
	}
}

// SetConcurrency overrides the job concurrency ceiling.
func (w *Worker) SetConcurrency(n int) {
	if n > 0 {
		w.concurrency = n
	}
}

// SetPollInterval overrides the empty-queue polling interval.
func (w *Worker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// EnqueueAdvance queues one pipeline advance for an execution.
func (w *Worker) EnqueueAdvance(ctx context.Context, executionID string) (*models.Job, error) {
	return w.enqueue(ctx, executionID, models.JobAdvance)
}

// EnqueueBuild queues one phased build for an execution.
func (w *Worker) EnqueueBuild(ctx context.Context, executionID string) (*models.Job, error) {
	return w.enqueue(ctx, executionID, models.JobBuild)
}

func (w *Worker) enqueue(ctx context.Context, executionID string, kind models.JobKind) (*models.Job, error) {
	job := &models.Job{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		Kind:        kind,
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := w.store.EnqueueJob(ctx, job); err != nil {
		return nil, err
	}
	w.log.Debugf("enqueued %s job %s for execution %s", kind, job.ID, executionID)
	return job, nil
}

// Recover settles leftovers from a previous worker incarnation. Jobs that
// were queued or running are aborted, and the execution behind each running
// job is force-failed with a recovery note. Nothing is re-dispatched
// automatically; an operator re-queues explicitly after inspecting.
func (w *Worker) Recover(ctx context.Context) error {
	stale, err := w.store.ListInFlightJobs(ctx)
	if err != nil {
		return fmt.Errorf("inspect stale jobs: %w", err)
	}

	for _, job := range stale {
		if job.Status != models.JobRunning {
			continue
		}
		exec, err := w.store.GetExecution(ctx, job.ExecutionID)
		if err != nil {
			w.log.Errorf("recovery: load execution %s: %v", job.ExecutionID, err)
			continue
		}
		if exec.Stage.IsTerminal() {
			continue
		}
		exec.Stage = models.StageFailed
		exec.ActiveAgent = ""
		now := time.Now().UTC()
		exec.CompletedAt = &now
		exec.AppendLog("interrupted by worker restart while %s job %s was running", job.Kind, job.ID)
		if err := w.store.UpdateExecution(ctx, exec); err != nil {
			return fmt.Errorf("recovery: force-fail execution %s: %w", exec.ID, err)
		}
		w.log.Warnf("recovery: execution %s force-failed (orphaned %s job)", exec.ID, job.Kind)
	}

	n, err := w.store.AbortStaleJobs(ctx, "aborted by worker restart")
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Infof("recovery: aborted %d stale jobs", n)
	}
	return nil
}

// Run claims and executes jobs until the context is cancelled. Claimed jobs
// run concurrently up to the configured ceiling; Run returns after in-flight
// jobs finish.
func (w *Worker) Run(ctx context.Context) error {
	semaphore := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case semaphore <- struct{}{}:
		}

		job, err := w.store.ClaimNextJob(ctx)
		if err != nil {
			<-semaphore
			w.log.Errorf("claim job: %v", err)
			if !sleepCtx(ctx, w.pollInterval) {
				wg.Wait()
				return ctx.Err()
			}
			continue
		}
		if job == nil {
			<-semaphore
			if !sleepCtx(ctx, w.pollInterval) {
				wg.Wait()
				return ctx.Err()
			}
			continue
		}

		wg.Add(1)
		go func(job *models.Job) {
			defer wg.Done()
			defer func() { <-semaphore }()
			w.runJob(ctx, job)
		}(job)
	}
}

// RunOnce claims and runs at most one job synchronously. Returns false when
// the queue was empty.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.runJob(ctx, job)
	return true, nil
}

func (w *Worker) runJob(ctx context.Context, job *models.Job) {
	w.log.Infof("job %s: running %s for execution %s", job.ID, job.Kind, job.ExecutionID)

	var err error
	switch job.Kind {
	case models.JobAdvance:
		_, err = w.advancer.Advance(ctx, job.ExecutionID)
	case models.JobBuild:
		err = w.builder.ExecuteBuild(ctx, job.ExecutionID)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	status := models.JobCompleted
	note := ""
	if err != nil {
		status = models.JobFailed
		note = err.Error()
		w.log.Errorf("job %s: %v", job.ID, err)
	}
	if ferr := w.store.FinishJob(ctx, job.ID, status, note); ferr != nil {
		w.log.Errorf("job %s: persist outcome: %v", job.ID, ferr)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
