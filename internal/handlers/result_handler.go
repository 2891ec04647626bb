// -----------------------------------------------------------------------
// Result Handler - Processed video outcomes
// -----------------------------------------------------------------------

package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/storage/badger"
)

type ResultHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

func NewResultHandler(storage interfaces.StorageManager, logger arbor.ILogger) *ResultHandler {
	return &ResultHandler{
		storage: storage,
		logger:  logger,
	}
}

// ListResultsHandler returns processed video results, newest first
func (h *ResultHandler) ListResultsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit, offset := GetLimitOffset(r, 50, 500)
	results, err := h.storage.ResultStorage().ListResults(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list results")
		WriteError(w, http.StatusInternalServerError, "failed to list results")
		return
	}

	total, err := h.storage.ResultStorage().CountResults(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count results")
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetResultByJobHandler returns the result for a specific job
func (h *ResultHandler) GetResultByJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	result, err := h.storage.ResultStorage().GetResultByJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, badger.ErrResultNotFound) {
			WriteError(w, http.StatusNotFound, "result not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get result")
		WriteError(w, http.StatusInternalServerError, "failed to get result")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
