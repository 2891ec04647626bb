// -----------------------------------------------------------------------
// Scan Worker - Executes dir_scan jobs
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/models"
	"github.com/ternarybob/visum/internal/services/scanner"
)

// ScanWorker walks the input directory and enqueues video jobs for
// unseen files.
type ScanWorker struct {
	scanner *scanner.Service
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

var _ interfaces.JobWorker = (*ScanWorker)(nil)

// NewScanWorker creates a scan worker
func NewScanWorker(scanner *scanner.Service, storage interfaces.StorageManager, logger arbor.ILogger) *ScanWorker {
	return &ScanWorker{
		scanner: scanner,
		storage: storage,
		logger:  logger,
	}
}

// GetWorkerType returns the job type this worker handles
func (w *ScanWorker) GetWorkerType() string {
	return string(models.WorkerTypeDirScan)
}

// Validate checks job compatibility
func (w *ScanWorker) Validate(job *models.VideoJob) error {
	if job.Type != string(models.WorkerTypeDirScan) {
		return fmt.Errorf("unexpected job type %q", job.Type)
	}
	return nil
}

// Execute runs a single scan pass
func (w *ScanWorker) Execute(ctx context.Context, state *models.VideoJobState, messageID string) error {
	trigger, _ := state.ToVideoJob().GetConfigString(models.ConfigKeyTrigger)
	if trigger == "" {
		trigger = "manual"
	}

	result, err := w.scanner.Scan(ctx, trigger)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	state.SpawnedJobs = result.Enqueued
	state.MarkCompleted()
	if err := w.storage.JobStorage().SaveJob(ctx, state); err != nil {
		return fmt.Errorf("failed to save scan result: %w", err)
	}

	return nil
}
