package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/teacurran/village-calendar-sub007/internal/app/service"
	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
	"github.com/teacurran/village-calendar-sub007/internal/platform/queue"
)

func newJobFixture(t *testing.T) (repository.JobRepository, *queue.ChanNotifier, *service.JobService) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobRepo := repository.NewMemoryJobRepository()
	notifier := queue.NewChanNotifier(4)
	return jobRepo, notifier, service.NewJobService(jobRepo, notifier, logger)
}

func TestEnqueue_CreatesPrioritizedJob(t *testing.T) {
	jobRepo, _, svc := newJobFixture(t)

	job, err := svc.Enqueue(context.Background(), nil, service.EnqueueParams{
		QueueName: model.QueueOrderConfirmations,
		ActorID:   "ord_1",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Priority != model.QueuePriority(model.QueueOrderConfirmations) {
		t.Errorf("priority = %d, want the queue's fixed priority", job.Priority)
	}
	if job.RunAt.After(time.Now()) {
		t.Errorf("RunAt = %v, want immediately runnable", job.RunAt)
	}

	stored, err := jobRepo.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("job row not persisted: %v", err)
	}
	if stored.ActorID != "ord_1" {
		t.Errorf("stored actor = %q, want ord_1", stored.ActorID)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	_, _, svc := newJobFixture(t)
	tests := []struct {
		name   string
		params service.EnqueueParams
	}{
		{"unknown queue", service.EnqueueParams{QueueName: "telegrams", ActorID: "ord_1"}},
		{"missing actor", service.EnqueueParams{QueueName: model.QueueRefundAlerts}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Enqueue(context.Background(), nil, tt.params); !errors.Is(err, common.ErrBadRequest) {
				t.Errorf("err = %v, want bad request", err)
			}
		})
	}
}

func TestEnqueue_DeferredRunAt(t *testing.T) {
	_, _, svc := newJobFixture(t)
	runAt := time.Now().Add(2 * time.Hour)

	job, err := svc.Enqueue(context.Background(), nil, service.EnqueueParams{
		QueueName: model.QueueRefundAlerts,
		ActorID:   "ord_1",
		RunAt:     runAt,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !job.RunAt.Equal(runAt) {
		t.Errorf("RunAt = %v, want %v", job.RunAt, runAt)
	}
}

func TestWake_SignalsListener(t *testing.T) {
	_, notifier, svc := newJobFixture(t)

	svc.Wake(context.Background(), "job_1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	jobID, err := notifier.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if jobID != "job_1" {
		t.Errorf("woken with %q, want job_1", jobID)
	}
}
