package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
)

// JobFilter narrows ops listings over the job table.
type JobFilter struct {
	QueueName string
	Status    string // pending | running | completed | failed
	Limit     int
	Offset    int
}

type JobRepository interface {
	Create(ctx context.Context, tx *sql.Tx, job *model.Job) error
	GetByID(ctx context.Context, id string) (*model.Job, error)

	// TryClaim flips the lock with a single conditional UPDATE and reports
	// whether this caller won. Losing the race is not an error.
	TryClaim(ctx context.Context, id string, now time.Time) (bool, error)
	MarkComplete(ctx context.Context, id string, now time.Time) error
	// Reschedule releases the lock and moves the job's next run into the
	// future after a retryable failure.
	Reschedule(ctx context.Context, id string, attempts int, lastError string, runAt time.Time) error
	// MarkTerminal completes the job with failure after exhausted attempts
	// or a non-retryable error.
	MarkTerminal(ctx context.Context, id string, attempts int, failureReason, lastError string, now time.Time) error

	// ListDue returns claimable jobs ordered by priority DESC, run_at ASC.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.Job, error)
	// ReleaseStaleLocks unlocks jobs whose lock predates cutoff and returns
	// how many were released.
	ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int, error)

	List(ctx context.Context, filter JobFilter) ([]model.Job, int, error)
	// ResetForRetry requeues a terminally failed job. Returns false when the
	// job is not in the failed state.
	ResetForRetry(ctx context.Context, id string, runAt time.Time) (bool, error)
}

const jobColumns = `id, queue_name, actor_id, priority, attempts, run_at, locked, locked_at,
	       complete, completed_at, completed_with_failure, failure_reason, last_error, failed_at,
	       created_at, updated_at`

type pgJobRepository struct {
	db *sql.DB
}

func NewPgJobRepository(db *sql.DB) JobRepository {
	return &pgJobRepository{db: db}
}

func (r *pgJobRepository) Create(ctx context.Context, tx *sql.Tx, job *model.Job) error {
	query := `INSERT INTO jobs (id, queue_name, actor_id, priority, attempts, run_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, job.ID, job.QueueName, job.ActorID, job.Priority, job.Attempts, job.RunAt)
	} else {
		_, err = r.db.ExecContext(ctx, query, job.ID, job.QueueName, job.ActorID, job.Priority, job.Attempts, job.RunAt)
	}
	if err != nil {
		return fmt.Errorf("pgJobRepository.Create: %w", err)
	}
	return nil
}

func (r *pgJobRepository) GetByID(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job := &model.Job{}
	err := scanJob(r.db.QueryRowContext(ctx, query, id), job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgJobRepository.GetByID: %w", err)
	}
	return job, nil
}

func (r *pgJobRepository) TryClaim(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `UPDATE jobs SET locked = TRUE, locked_at = $2, updated_at = $2
	          WHERE id = $1 AND locked = FALSE AND complete = FALSE AND run_at <= $2`
	res, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("pgJobRepository.TryClaim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgJobRepository.TryClaim rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *pgJobRepository) MarkComplete(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE jobs SET complete = TRUE, completed_at = $2, locked = FALSE, locked_at = NULL, updated_at = $2
	          WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, now); err != nil {
		return fmt.Errorf("pgJobRepository.MarkComplete: %w", err)
	}
	return nil
}

func (r *pgJobRepository) Reschedule(ctx context.Context, id string, attempts int, lastError string, runAt time.Time) error {
	query := `UPDATE jobs SET attempts = $2, last_error = $3, run_at = $4, locked = FALSE, locked_at = NULL, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, attempts, lastError, runAt); err != nil {
		return fmt.Errorf("pgJobRepository.Reschedule: %w", err)
	}
	return nil
}

func (r *pgJobRepository) MarkTerminal(ctx context.Context, id string, attempts int, failureReason, lastError string, now time.Time) error {
	query := `UPDATE jobs SET attempts = $2, complete = TRUE, completed_with_failure = TRUE,
	              failure_reason = $3, last_error = $4, failed_at = $5, completed_at = $5,
	              locked = FALSE, locked_at = NULL, updated_at = $5
	          WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, attempts, failureReason, lastError, now); err != nil {
		return fmt.Errorf("pgJobRepository.MarkTerminal: %w", err)
	}
	return nil
}

func (r *pgJobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
	          WHERE complete = FALSE AND locked = FALSE AND run_at <= $1
	          ORDER BY priority DESC, run_at ASC
	          LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("pgJobRepository.ListDue query: %w", err)
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		var j model.Job
		if err := scanJob(rows, &j); err != nil {
			return nil, fmt.Errorf("pgJobRepository.ListDue scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgJobRepository.ListDue rows.Err: %w", err)
	}
	return jobs, nil
}

func (r *pgJobRepository) ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int, error) {
	query := `UPDATE jobs SET locked = FALSE, locked_at = NULL, updated_at = CURRENT_TIMESTAMP
	          WHERE locked = TRUE AND complete = FALSE AND locked_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pgJobRepository.ReleaseStaleLocks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pgJobRepository.ReleaseStaleLocks rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *pgJobRepository) List(ctx context.Context, filter JobFilter) ([]model.Job, int, error) {
	var conditions []string
	var args []interface{}
	argID := 1

	if filter.QueueName != "" {
		conditions = append(conditions, fmt.Sprintf("queue_name = $%d", argID))
		args = append(args, filter.QueueName)
		argID++
	}
	switch filter.Status {
	case "":
	case model.JobStatusPending:
		conditions = append(conditions, "complete = FALSE AND locked = FALSE")
	case model.JobStatusRunning:
		conditions = append(conditions, "locked = TRUE AND complete = FALSE")
	case model.JobStatusCompleted:
		conditions = append(conditions, "complete = TRUE AND completed_with_failure = FALSE")
	case model.JobStatusFailed:
		conditions = append(conditions, "completed_with_failure = TRUE")
	default:
		return nil, 0, fmt.Errorf("unknown job status filter %q: %w", filter.Status, common.ErrBadRequest)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs"+whereClause, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("pgJobRepository.List count: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		jobColumns, whereClause, argID, argID+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgJobRepository.List query: %w", err)
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		var j model.Job
		if err := scanJob(rows, &j); err != nil {
			return nil, 0, fmt.Errorf("pgJobRepository.List scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgJobRepository.List rows.Err: %w", err)
	}
	return jobs, total, nil
}

func (r *pgJobRepository) ResetForRetry(ctx context.Context, id string, runAt time.Time) (bool, error) {
	query := `UPDATE jobs SET attempts = 0, complete = FALSE, completed_with_failure = FALSE,
	              failure_reason = NULL, last_error = NULL, failed_at = NULL, completed_at = NULL,
	              locked = FALSE, locked_at = NULL, run_at = $2, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $1 AND completed_with_failure = TRUE`
	res, err := r.db.ExecContext(ctx, query, id, runAt)
	if err != nil {
		return false, fmt.Errorf("pgJobRepository.ResetForRetry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgJobRepository.ResetForRetry rows affected: %w", err)
	}
	return affected == 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner, j *model.Job) error {
	return row.Scan(
		&j.ID, &j.QueueName, &j.ActorID, &j.Priority, &j.Attempts, &j.RunAt, &j.Locked, &j.LockedAt,
		&j.Complete, &j.CompletedAt, &j.CompletedWithFailure, &j.FailureReason, &j.LastError, &j.FailedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
}
