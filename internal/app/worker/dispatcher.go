package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
	"github.com/teacurran/village-calendar-sub007/internal/platform/queue"
)

// Dispatcher claims jobs and runs their handlers. The claim is a single
// conditional update keyed on the lock flags; whoever flips the row owns
// the attempt, so wake-up listeners and the sweep can race freely.
type Dispatcher struct {
	jobs        repository.JobRepository
	registry    Registry
	backoff     Strategy
	maxAttempts int
	logger      *slog.Logger
}

func NewDispatcher(jobs repository.JobRepository, registry Registry, backoff Strategy, maxAttempts int, logger *slog.Logger) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff == nil {
		backoff = DefaultStrategy()
	}
	return &Dispatcher{
		jobs:        jobs,
		registry:    registry,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Dispatch claims and executes one job. It returns false when the claim was
// lost, which happens when another worker got there first or the job is not
// runnable; neither is an error.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID string) (bool, error) {
	claimed, err := d.jobs.TryClaim(ctx, jobID, time.Now())
	if err != nil {
		return false, fmt.Errorf("claiming job %s: %w", jobID, err)
	}
	if !claimed {
		d.logger.Debug("job claim lost", "job_id", jobID)
		return false, nil
	}

	job, err := d.jobs.GetByID(ctx, jobID)
	if err != nil {
		// Claimed but unreadable; the stale-lock sweep reclaims it.
		return false, fmt.Errorf("loading claimed job %s: %w", jobID, err)
	}
	d.execute(ctx, *job)
	return true, nil
}

// RunListener blocks on the notifier and dispatches woken jobs until ctx is
// done. One goroutine per worker slot.
func (d *Dispatcher) RunListener(ctx context.Context, notifier queue.Notifier) {
	for {
		jobID, err := notifier.Listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("wake-up listener error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if _, err := d.Dispatch(ctx, jobID); err != nil {
			d.logger.Error("dispatching woken job", "job_id", jobID, "error", err)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, job model.Job) {
	attempts := job.Attempts + 1

	handler, ok := d.registry.Handler(job.QueueName)
	if !ok {
		d.terminal(ctx, job, attempts, "unknown queue", fmt.Errorf("no handler registered for queue %q", job.QueueName))
		return
	}

	start := time.Now()
	err := d.runHandler(ctx, handler, job)
	if err == nil {
		if mErr := d.jobs.MarkComplete(ctx, job.ID, time.Now()); mErr != nil {
			d.logger.Error("marking job complete", "job_id", job.ID, "error", mErr)
			return
		}
		d.logger.Info("job completed",
			"job_id", job.ID, "queue", job.QueueName, "attempt", attempts, "duration", time.Since(start))
		return
	}

	switch {
	case IsFatal(err):
		d.terminal(ctx, job, attempts, "non-retryable error", err)
	case attempts >= d.maxAttempts:
		d.terminal(ctx, job, attempts, "max attempts exhausted", err)
	default:
		delay := d.backoff.Delay(attempts)
		runAt := time.Now().Add(delay)
		if rErr := d.jobs.Reschedule(ctx, job.ID, attempts, err.Error(), runAt); rErr != nil {
			d.logger.Error("rescheduling job", "job_id", job.ID, "error", rErr)
			return
		}
		d.logger.Warn("job attempt failed",
			"job_id", job.ID, "queue", job.QueueName, "attempt", attempts, "retry_in", delay, "error", err)
	}
}

func (d *Dispatcher) terminal(ctx context.Context, job model.Job, attempts int, reason string, cause error) {
	if err := d.jobs.MarkTerminal(ctx, job.ID, attempts, reason, cause.Error(), time.Now()); err != nil {
		d.logger.Error("marking job failed", "job_id", job.ID, "error", err)
		return
	}
	d.logger.Error("job completed with failure",
		"job_id", job.ID, "queue", job.QueueName, "attempts", attempts, "reason", reason, "error", cause)
}

// runHandler converts handler panics into ordinary attempt failures so one
// bad job cannot take a worker down.
func (d *Dispatcher) runHandler(ctx context.Context, handler HandlerFunc, job model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}
