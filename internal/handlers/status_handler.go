// -----------------------------------------------------------------------
// Status Handler - Application state and queue overview
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/services/jobs"
	"github.com/ternarybob/visum/internal/services/status"
)

type StatusHandler struct {
	statusService *status.Service
	jobService    *jobs.Service
	logger        arbor.ILogger
}

func NewStatusHandler(statusService *status.Service, jobService *jobs.Service, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		statusService: statusService,
		jobService:    jobService,
		logger:        logger,
	}
}

// GetStatusHandler returns application state plus job counts
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	body := h.statusService.GetStatus()

	if stats, err := h.jobService.GetStats(r.Context()); err == nil {
		body["jobs"] = stats
	} else {
		h.logger.Warn().Err(err).Msg("Failed to get job stats for status")
	}

	WriteJSON(w, http.StatusOK, body)
}
