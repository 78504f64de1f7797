package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
)

// Sweeper periodically releases stale locks and runs any due jobs the
// wake-up channel missed. It is the sole crash-recovery mechanism and the
// correctness backstop for dropped notifications.
type Sweeper struct {
	jobRepo    repository.JobRepository
	dispatcher *Dispatcher
	interval   time.Duration
	batchLimit int
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewSweeper(jobRepo repository.JobRepository, dispatcher *Dispatcher, interval time.Duration, batchLimit int, staleAfter time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &Sweeper{
		jobRepo:    jobRepo,
		dispatcher: dispatcher,
		interval:   interval,
		batchLimit: batchLimit,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper shutting down")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep pass failed", "error", err)
			}
		}
	}
}

// Sweep performs one pass and returns how many due jobs it executed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now()

	released, err := s.jobRepo.ReleaseStaleLocks(ctx, now.Add(-s.staleAfter))
	if err != nil {
		return 0, err
	}
	if released > 0 {
		s.logger.Warn("released stale job locks", "count", released)
	}

	due, err := s.jobRepo.ListDue(ctx, now, s.batchLimit)
	if err != nil {
		return 0, err
	}

	executed := 0
	for _, job := range due {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}
		claimed, err := s.dispatcher.Dispatch(ctx, job.ID)
		if err != nil {
			s.logger.Error("sweep dispatch failed", "job_id", job.ID, "error", err)
			continue
		}
		if claimed {
			executed++
		}
	}
	return executed, nil
}
