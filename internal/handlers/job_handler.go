// -----------------------------------------------------------------------
// Job Handler - Job listing, inspection and lifecycle endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/services/jobs"
	"github.com/ternarybob/visum/internal/storage/badger"
)

type JobHandler struct {
	jobService *jobs.Service
	logger     arbor.ILogger
}

func NewJobHandler(jobService *jobs.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// JobIDFromPath extracts the job ID from paths like /api/jobs/{id}[/action]
func JobIDFromPath(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

// GetJobStatsHandler returns job counts by status
func (h *JobHandler) GetJobStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	stats, err := h.jobService.GetStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get job stats")
		WriteError(w, http.StatusInternalServerError, "failed to get job stats")
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}

// ListJobsHandler returns jobs, optionally filtered by status and type
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit, offset := GetLimitOffset(r, 50, 500)
	opts := &interfaces.JobListOptions{
		Status: r.URL.Query().Get("status"),
		Type:   r.URL.Query().Get("type"),
		Limit:  limit,
		Offset: offset,
	}

	list, err := h.jobService.ListJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   list,
		"count":  len(list),
		"limit":  limit,
		"offset": offset,
	})
}

// GetJobHandler returns a single job by ID
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	job, err := h.jobService.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, badger.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// CancelJobHandler cancels a pending or running job
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := h.jobService.CancelJob(r.Context(), jobID); err != nil {
		if errors.Is(err, badger.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "job not found")
			return
		}
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteSuccess(w, "job cancelled")
}

// RerunJobHandler enqueues a fresh job for a terminal video job's source
func (h *JobHandler) RerunJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	newID, err := h.jobService.RerunJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, badger.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "job not found")
			return
		}
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"job_id": newID,
	})
}

// DeleteJobHandler removes a terminal job
func (h *JobHandler) DeleteJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	if err := h.jobService.DeleteJob(r.Context(), jobID); err != nil {
		if errors.Is(err, badger.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "job not found")
			return
		}
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteSuccess(w, "job deleted")
}
