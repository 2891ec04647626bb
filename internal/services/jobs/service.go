// -----------------------------------------------------------------------
// Job Service - High-level service for creating and managing video jobs
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/models"
)

// Service provides high-level job management operations
type Service struct {
	storage  interfaces.StorageManager
	queueMgr interfaces.QueueManager
	events   interfaces.EventService
	registry *CancelRegistry
	logger   arbor.ILogger
}

// NewService creates a new job service
func NewService(storage interfaces.StorageManager, queueMgr interfaces.QueueManager, events interfaces.EventService, registry *CancelRegistry, logger arbor.ILogger) *Service {
	return &Service{
		storage:  storage,
		queueMgr: queueMgr,
		events:   events,
		registry: registry,
		logger:   logger,
	}
}

// Registry exposes the cancel registry for workers
func (s *Service) Registry() *CancelRegistry {
	return s.registry
}

// CreateVideoJob creates and enqueues a video processing job for a source
// path. Each path is enqueued at most once; re-submitting a seen path
// returns the empty string without error unless force is set.
func (s *Service) CreateVideoJob(ctx context.Context, sourcePath, trigger string, force bool) (string, error) {
	if sourcePath == "" {
		return "", fmt.Errorf("source path is required")
	}

	if force {
		if err := s.storage.JobStorage().ForgetVideoSeen(ctx, sourcePath); err != nil {
			return "", fmt.Errorf("failed to clear seen mark: %w", err)
		}
	}

	first, err := s.storage.JobStorage().MarkVideoSeen(ctx, sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to mark video seen: %w", err)
	}
	if !first {
		s.logger.Debug().Str("source", sourcePath).Msg("Video already enqueued, skipping")
		return "", nil
	}

	job := models.NewVideoProcessJob(sourcePath, filepath.Base(sourcePath), trigger)
	if err := s.createAndEnqueue(ctx, job); err != nil {
		// Roll back the seen mark so the video can be retried
		if ferr := s.storage.JobStorage().ForgetVideoSeen(ctx, sourcePath); ferr != nil {
			s.logger.Warn().Err(ferr).Str("source", sourcePath).Msg("Failed to roll back seen mark")
		}
		return "", err
	}

	return job.ID, nil
}

// CreateScanJob creates and enqueues an input directory scan job
func (s *Service) CreateScanJob(ctx context.Context, trigger string) (string, error) {
	job := models.NewDirScanJob(trigger)
	if err := s.createAndEnqueue(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// createAndEnqueue persists the job state and pushes a queue message
func (s *Service) createAndEnqueue(ctx context.Context, job *models.VideoJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("job_type", job.Type).
		Str("job_name", job.Name).
		Msg("Creating and enqueueing job")

	state := models.NewVideoJobState(job)
	if err := s.storage.JobStorage().SaveJob(ctx, state); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	payload, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}

	msg := models.QueueMessage{
		JobID:   job.ID,
		Type:    job.Type,
		Payload: json.RawMessage(payload),
	}

	if err := s.queueMgr.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	if s.events != nil {
		if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCreated, Payload: state}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job created event")
		}
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.VideoJobState, error) {
	return s.storage.JobStorage().GetJob(ctx, jobID)
}

// ListJobs lists jobs matching the given options
func (s *Service) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.VideoJobState, error) {
	return s.storage.JobStorage().ListJobs(ctx, opts)
}

// JobStats summarizes job counts by status
type JobStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// GetStats returns job counts by status
func (s *Service) GetStats(ctx context.Context) (*JobStats, error) {
	total, err := s.storage.JobStorage().CountJobs(ctx)
	if err != nil {
		return nil, err
	}

	stats := &JobStats{Total: total}
	counts := []struct {
		status models.JobStatus
		dest   *int
	}{
		{models.JobStatusPending, &stats.Pending},
		{models.JobStatusRunning, &stats.Running},
		{models.JobStatusCompleted, &stats.Completed},
		{models.JobStatusFailed, &stats.Failed},
		{models.JobStatusCancelled, &stats.Cancelled},
	}

	for _, c := range counts {
		n, err := s.storage.JobStorage().CountJobsByStatus(ctx, c.status)
		if err != nil {
			return nil, err
		}
		*c.dest = n
	}

	return stats, nil
}

// CancelJob cancels a pending or running job. Running jobs are aborted
// via their registered cancel function; the worker observes the
// cancellation and marks the job accordingly.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	state, err := s.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if state.IsTerminal() {
		return fmt.Errorf("job %s is already %s", jobID, state.Status)
	}

	wasRunning := s.registry.Cancel(jobID)

	state.MarkCancelled()
	if err := s.storage.JobStorage().SaveJob(ctx, state); err != nil {
		return fmt.Errorf("failed to persist cancellation: %w", err)
	}

	s.logger.Info().
		Str("job_id", jobID).
		Bool("was_running", wasRunning).
		Msg("Job cancelled")

	if s.events != nil {
		if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCancelled, Payload: state}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to publish cancellation event")
		}
	}

	return nil
}

// RerunJob clears a completed or failed video job's seen mark and
// enqueues a fresh job for the same source path.
func (s *Service) RerunJob(ctx context.Context, jobID string) (string, error) {
	state, err := s.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}

	if !state.IsTerminal() {
		return "", fmt.Errorf("job %s is still %s", jobID, state.Status)
	}

	if state.Type != string(models.WorkerTypeVideoProcess) {
		return "", fmt.Errorf("only video jobs can be rerun")
	}

	sourcePath := state.SourcePath()
	if sourcePath == "" {
		return "", fmt.Errorf("job %s has no source path", jobID)
	}

	return s.CreateVideoJob(ctx, sourcePath, "rerun", true)
}

// DeleteJob removes a terminal job from storage
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	state, err := s.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !state.IsTerminal() {
		return fmt.Errorf("cannot delete %s job %s", state.Status, jobID)
	}
	return s.storage.JobStorage().DeleteJob(ctx, jobID)
}
