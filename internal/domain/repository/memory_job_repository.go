package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
)

// memoryJobRepository mirrors the pg implementation's semantics over a
// mutex-guarded map. It backs tests and the database-less dev mode; the tx
// argument is accepted and ignored.
type memoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]model.Job
}

func NewMemoryJobRepository() JobRepository {
	return &memoryJobRepository{jobs: make(map[string]model.Job)}
}

func (s *memoryJobRepository) Create(ctx context.Context, _ *sql.Tx, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists: %w", job.ID, common.ErrConflict)
	}
	stored := *job
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.jobs[stored.ID] = stored
	return nil
}

func (s *memoryJobRepository) GetByID(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := job
	return &copied, nil
}

func (s *memoryJobRepository) TryClaim(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Locked || job.Complete || job.RunAt.After(now) {
		return false, nil
	}
	job.Locked = true
	lockedAt := now
	job.LockedAt = &lockedAt
	job.UpdatedAt = now
	s.jobs[id] = job
	return true, nil
}

func (s *memoryJobRepository) MarkComplete(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	job.Complete = true
	completedAt := now
	job.CompletedAt = &completedAt
	job.Locked = false
	job.LockedAt = nil
	job.UpdatedAt = now
	s.jobs[id] = job
	return nil
}

func (s *memoryJobRepository) Reschedule(ctx context.Context, id string, attempts int, lastError string, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	job.Attempts = attempts
	job.LastError = &lastError
	job.RunAt = runAt
	job.Locked = false
	job.LockedAt = nil
	job.UpdatedAt = time.Now()
	s.jobs[id] = job
	return nil
}

func (s *memoryJobRepository) MarkTerminal(ctx context.Context, id string, attempts int, failureReason, lastError string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	job.Attempts = attempts
	job.Complete = true
	job.CompletedWithFailure = true
	job.FailureReason = &failureReason
	job.LastError = &lastError
	failedAt := now
	job.FailedAt = &failedAt
	job.CompletedAt = &failedAt
	job.Locked = false
	job.LockedAt = nil
	job.UpdatedAt = now
	s.jobs[id] = job
	return nil
}

func (s *memoryJobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := []model.Job{}
	for _, job := range s.jobs {
		if job.Eligible(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].RunAt.Before(due[j].RunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memoryJobRepository) ReleaseStaleLocks(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for id, job := range s.jobs {
		if job.Locked && !job.Complete && job.LockedAt != nil && job.LockedAt.Before(cutoff) {
			job.Locked = false
			job.LockedAt = nil
			job.UpdatedAt = time.Now()
			s.jobs[id] = job
			released++
		}
	}
	return released, nil
}

func (s *memoryJobRepository) List(ctx context.Context, filter JobFilter) ([]model.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []model.Job{}
	for _, job := range s.jobs {
		if filter.QueueName != "" && job.QueueName != filter.QueueName {
			continue
		}
		if filter.Status != "" && job.StatusLabel() != filter.Status {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (s *memoryJobRepository) ResetForRetry(ctx context.Context, id string, runAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || !job.CompletedWithFailure {
		return false, nil
	}
	job.Attempts = 0
	job.Complete = false
	job.CompletedWithFailure = false
	job.FailureReason = nil
	job.LastError = nil
	job.FailedAt = nil
	job.CompletedAt = nil
	job.Locked = false
	job.LockedAt = nil
	job.RunAt = runAt
	job.UpdatedAt = time.Now()
	s.jobs[id] = job
	return true, nil
}
