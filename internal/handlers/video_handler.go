// -----------------------------------------------------------------------
// Video Handler - Submit individual videos for processing
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/services/jobs"
)

type VideoHandler struct {
	jobService *jobs.Service
	logger     arbor.ILogger
}

func NewVideoHandler(jobService *jobs.Service, logger arbor.ILogger) *VideoHandler {
	return &VideoHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// submitVideoRequest is the POST /api/videos body
type submitVideoRequest struct {
	Path  string `json:"path"`
	Force bool   `json:"force"` // Re-process even if the path was seen before
}

// SubmitVideoHandler enqueues a processing job for a specific video file
func (h *VideoHandler) SubmitVideoHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req submitVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		WriteError(w, http.StatusBadRequest, "path is required")
		return
	}

	info, err := os.Stat(req.Path)
	if err != nil {
		WriteError(w, http.StatusNotFound, "video file not found")
		return
	}
	if info.IsDir() {
		WriteError(w, http.StatusBadRequest, "path is a directory")
		return
	}

	jobID, err := h.jobService.CreateVideoJob(r.Context(), req.Path, "api", req.Force)
	if err != nil {
		h.logger.Error().Err(err).Str("path", req.Path).Msg("Failed to create video job")
		WriteError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	if jobID == "" {
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "skipped",
			"message": "video already enqueued",
		})
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"job_id": jobID,
	})
}
