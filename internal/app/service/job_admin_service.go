package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
)

// JobAdminService backs the ops dashboard: browsing the jobs table,
// requeueing terminal failures, and exporting the table for audits.
type JobAdminService struct {
	jobRepo repository.JobRepository
	jobs    *JobService
	logger  *slog.Logger
}

func NewJobAdminService(jobRepo repository.JobRepository, jobs *JobService, logger *slog.Logger) *JobAdminService {
	return &JobAdminService{jobRepo: jobRepo, jobs: jobs, logger: logger}
}

func (s *JobAdminService) List(ctx context.Context, filter repository.JobFilter) ([]model.Job, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.jobRepo.List(ctx, filter)
}

func (s *JobAdminService) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.jobRepo.GetByID(ctx, id)
}

// Retry requeues a terminally failed job with a fresh attempt budget. Jobs in
// any other state are rejected so an operator cannot double-run live work.
func (s *JobAdminService) Retry(ctx context.Context, id string) (*model.Job, error) {
	ok, err := s.jobRepo.ResetForRetry(ctx, id, time.Now())
	if err != nil {
		return nil, fmt.Errorf("JobAdminService.Retry: %w", err)
	}
	if !ok {
		job, err := s.jobRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("job %s is %s, only failed jobs can be retried: %w", id, job.StatusLabel(), common.ErrBadRequest)
	}

	s.jobs.Wake(ctx, id)
	s.logger.Info("job requeued by operator", "job_id", id)
	return s.jobRepo.GetByID(ctx, id)
}

// ExportXLSX returns the filtered job list as an XLSX workbook for offline
// review. The filter's paging fields are ignored; exports walk the whole
// result set in pages.
func (s *JobAdminService) ExportXLSX(ctx context.Context, filter repository.JobFilter) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	const sheet = "Jobs"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("JobAdminService.ExportXLSX sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("JobAdminService.ExportXLSX sheet: %w", err)
	}

	headers := []string{
		"ID", "Queue", "Order ID", "Status", "Priority", "Attempts",
		"Run At", "Completed At", "Failure Reason", "Last Error", "Created At",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	write := func(col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
	formatTime := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.UTC().Format("2006-01-02 15:04:05")
	}
	stringOr := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}

	filter.Offset = 0
	filter.Limit = 500
	row := 2
	total := 0
	for {
		jobs, _, err := s.jobRepo.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("JobAdminService.ExportXLSX list: %w", err)
		}
		for _, j := range jobs {
			write(1, row, j.ID)
			write(2, row, j.QueueName)
			write(3, row, j.ActorID)
			write(4, row, j.StatusLabel())
			write(5, row, j.Priority)
			write(6, row, j.Attempts)
			write(7, row, j.RunAt.UTC().Format("2006-01-02 15:04:05"))
			write(8, row, formatTime(j.CompletedAt))
			write(9, row, stringOr(j.FailureReason))
			write(10, row, stringOr(j.LastError))
			write(11, row, j.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
			row++
		}
		total += len(jobs)
		if len(jobs) < filter.Limit {
			break
		}
		filter.Offset += filter.Limit
	}

	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "C", 24)
	_ = f.SetColWidth(sheet, "G", "H", 20)
	_ = f.SetColWidth(sheet, "I", "J", 40)
	_ = f.SetColWidth(sheet, "K", "K", 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("JobAdminService.ExportXLSX write: %w", err)
	}

	s.logger.Info("jobs exported", "rows", total, "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}
