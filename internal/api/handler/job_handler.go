package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teacurran/village-calendar-sub007/internal/api/middleware"
	"github.com/teacurran/village-calendar-sub007/internal/app/service"
	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
)

type JobHandler struct {
	jobAdminService *service.JobAdminService
}

func NewJobHandler(jas *service.JobAdminService) *JobHandler {
	return &JobHandler{jobAdminService: jas}
}

func (h *JobHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.listJobs)
	r.Get("/export", h.exportJobs)
	r.Get("/{jobID}", h.getJob)

	r.Group(func(adminRouter chi.Router) {
		adminRouter.Use(middleware.AdminOnly)
		adminRouter.Post("/{jobID}/retry", h.retryJob)
	})
}

func jobFilterFromQuery(r *http.Request) repository.JobFilter {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return repository.JobFilter{
		QueueName: r.URL.Query().Get("queue"),
		Status:    r.URL.Query().Get("status"),
		Limit:     limit,
		Offset:    offset,
	}
}

func (h *JobHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := jobFilterFromQuery(r)
	jobs, total, err := h.jobAdminService.List(r.Context(), filter)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	type PaginatedJobsResponse struct {
		Jobs  []model.Job `json:"jobs"`
		Total int         `json:"total"`
	}
	common.RespondWithJSON(w, http.StatusOK, PaginatedJobsResponse{Jobs: jobs, Total: total})
}

func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := h.jobAdminService.Get(r.Context(), jobID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, job)
}

func (h *JobHandler) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := h.jobAdminService.Retry(r.Context(), jobID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, job)
}

func (h *JobHandler) exportJobs(w http.ResponseWriter, r *http.Request) {
	filter := jobFilterFromQuery(r)
	workbook, err := h.jobAdminService.ExportXLSX(r.Context(), filter)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	filename := fmt.Sprintf("jobs-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(workbook)
}
