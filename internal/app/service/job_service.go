package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
	"github.com/teacurran/village-calendar-sub007/internal/platform/queue"
)

// JobService creates durable job rows. It performs no deduplication: the
// webhook ingress only asks for a job after a state transition actually
// applied, which caps enqueues at one per transition.
type JobService struct {
	jobRepo  repository.JobRepository
	notifier queue.Notifier
	logger   *slog.Logger
}

func NewJobService(jobRepo repository.JobRepository, notifier queue.Notifier, logger *slog.Logger) *JobService {
	return &JobService{jobRepo: jobRepo, notifier: notifier, logger: logger}
}

type EnqueueParams struct {
	QueueName string
	ActorID   string
	RunAt     time.Time // zero value means runnable immediately
}

// Enqueue inserts the job row, inside the caller's transaction when one is
// given. It never signals the dispatcher itself; callers invoke Wake after
// their transaction commits so a woken worker can actually see the row.
func (s *JobService) Enqueue(ctx context.Context, tx *sql.Tx, p EnqueueParams) (*model.Job, error) {
	if !model.KnownQueue(p.QueueName) {
		return nil, fmt.Errorf("unknown queue %q: %w", p.QueueName, common.ErrBadRequest)
	}
	if p.ActorID == "" {
		return nil, fmt.Errorf("actor id is required: %w", common.ErrBadRequest)
	}
	runAt := p.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}

	job := &model.Job{
		ID:        uuid.NewString(),
		QueueName: p.QueueName,
		ActorID:   p.ActorID,
		Priority:  model.QueuePriority(p.QueueName),
		RunAt:     runAt,
	}
	if err := s.jobRepo.Create(ctx, tx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	s.logger.Info("job enqueued", "job_id", job.ID, "queue", job.QueueName, "actor_id", job.ActorID)
	return job, nil
}

// Wake nudges the dispatcher about a claimable job. Failures are logged and
// dropped; the scheduled sweep finds the job either way.
func (s *JobService) Wake(ctx context.Context, jobID string) {
	if err := s.notifier.Notify(ctx, jobID); err != nil {
		s.logger.Warn("job wake-up dropped", "job_id", jobID, "error", err)
	}
}
