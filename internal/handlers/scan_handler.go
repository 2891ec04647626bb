// -----------------------------------------------------------------------
// Scan Handler - Manual directory scan trigger
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/services/jobs"
)

type ScanHandler struct {
	jobService *jobs.Service
	logger     arbor.ILogger
}

func NewScanHandler(jobService *jobs.Service, logger arbor.ILogger) *ScanHandler {
	return &ScanHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// TriggerScanHandler enqueues an input directory scan
func (h *ScanHandler) TriggerScanHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	jobID, err := h.jobService.CreateScanJob(r.Context(), "api")
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to enqueue scan")
		WriteError(w, http.StatusInternalServerError, "failed to enqueue scan")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"job_id": jobID,
	})
}
