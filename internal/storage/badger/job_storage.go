package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/models"
)

// ErrJobNotFound is returned when a job ID has no stored state
var ErrJobNotFound = errors.New("job not found")

// ErrResultNotFound is returned when a job has no stored result
var ErrResultNotFound = errors.New("result not found")

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// seenVideo records that a source path was already enqueued once.
// Keyed by path so a sweep and a watch event never double-enqueue.
type seenVideo struct {
	Path   string
	SeenAt time.Time
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.VideoJobState) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.VideoJobState, error) {
	var job models.VideoJobState
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.VideoJobState, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(models.JobStatus(opts.Status))
		}
		if opts.Type != "" {
			query = query.And("Type").Eq(opts.Type)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		if opts.OrderBy != "" {
			if opts.OrderDir == "DESC" {
				query = query.SortBy(opts.OrderBy).Reverse()
			} else {
				query = query.SortBy(opts.OrderBy)
			}
		} else {
			query = query.SortBy("CreatedAt").Reverse()
		}
	} else {
		query = query.SortBy("CreatedAt").Reverse()
	}

	var jobs []models.VideoJobState
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.VideoJobState, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errorMsg string) error {
	var job models.VideoJobState
	if err := s.db.Store().Get(jobID, &job); err != nil {
		return err
	}

	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}

	now := time.Now()
	if status == models.JobStatusRunning {
		job.StartedAt = &now
		job.LastHeartbeat = &now
	} else if status.IsTerminal() {
		job.CompletedAt = &now
	}

	return s.SaveJob(ctx, &job)
}

func (s *JobStorage) UpdateJobProgress(ctx context.Context, jobID string, progress models.JobProgress) error {
	var job models.VideoJobState
	if err := s.db.Store().Get(jobID, &job); err != nil {
		return err
	}

	job.Progress = progress
	return s.SaveJob(ctx, &job)
}

func (s *JobStorage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	var job models.VideoJobState
	if err := s.db.Store().Get(jobID, &job); err != nil {
		return err
	}
	now := time.Now()
	job.LastHeartbeat = &now
	return s.SaveJob(ctx, &job)
}

func (s *JobStorage) GetStaleJobs(ctx context.Context, staleThresholdMinutes int) ([]*models.VideoJobState, error) {
	threshold := time.Now().Add(-time.Duration(staleThresholdMinutes) * time.Minute)
	var jobs []models.VideoJobState
	// Find running jobs with heartbeat older than threshold
	err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusRunning).And("LastHeartbeat").Lt(threshold))
	if err != nil {
		return nil, err
	}

	result := make([]*models.VideoJobState, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) MarkRunningJobsAsPending(ctx context.Context, reason string) (int, error) {
	var jobs []models.VideoJobState
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusRunning)); err != nil {
		return 0, err
	}

	count := 0
	for i := range jobs {
		jobs[i].Status = models.JobStatusPending
		jobs[i].StartedAt = nil
		jobs[i].LastHeartbeat = nil
		if err := s.SaveJob(ctx, &jobs[i]); err == nil {
			count++
		} else {
			s.logger.Warn().Err(err).Str("job_id", jobs[i].ID).Msg("Failed to reset interrupted job")
		}
	}

	if count > 0 {
		s.logger.Info().Int("count", count).Str("reason", reason).Msg("Reset interrupted jobs to pending")
	}
	return count, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.VideoJobState{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return err
	}
	return nil
}

func (s *JobStorage) CountJobs(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.VideoJobState{}, nil)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(&models.VideoJobState{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *JobStorage) MarkVideoSeen(ctx context.Context, sourcePath string) (bool, error) {
	var existing seenVideo
	err := s.db.Store().Get(sourcePath, &existing)
	if err == nil {
		return false, nil // Already seen
	}
	if err != badgerhold.ErrNotFound {
		return false, err
	}

	seen := seenVideo{
		Path:   sourcePath,
		SeenAt: time.Now(),
	}
	if err := s.db.Store().Insert(sourcePath, &seen); err != nil {
		return false, err
	}

	return true, nil
}

func (s *JobStorage) ForgetVideoSeen(ctx context.Context, sourcePath string) error {
	if err := s.db.Store().Delete(sourcePath, &seenVideo{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return err
	}
	return nil
}
