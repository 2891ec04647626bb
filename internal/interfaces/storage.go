package interfaces

import (
	"context"

	"github.com/ternarybob/visum/internal/models"
)

// JobListOptions controls job listing queries
type JobListOptions struct {
	Status   string
	Type     string
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string // "ASC" or "DESC"
}

// JobStorage persists video job state
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.VideoJobState) error
	GetJob(ctx context.Context, jobID string) (*models.VideoJobState, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.VideoJobState, error)
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, errorMsg string) error
	UpdateJobProgress(ctx context.Context, jobID string, progress models.JobProgress) error
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
	GetStaleJobs(ctx context.Context, staleThresholdMinutes int) ([]*models.VideoJobState, error)
	// MarkRunningJobsAsPending resets jobs interrupted by a shutdown so they
	// are picked up again on restart. Returns the number of jobs reset.
	MarkRunningJobsAsPending(ctx context.Context, reason string) (int, error)
	DeleteJob(ctx context.Context, jobID string) error
	CountJobs(ctx context.Context) (int, error)
	CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error)
	// MarkVideoSeen records that a source path has been enqueued.
	// Returns true if this is the first time the path was seen.
	MarkVideoSeen(ctx context.Context, sourcePath string) (bool, error)
	// ForgetVideoSeen clears a seen mark so the video can be enqueued again.
	ForgetVideoSeen(ctx context.Context, sourcePath string) error
}

// ResultStorage persists per-video processing outcomes
type ResultStorage interface {
	SaveResult(ctx context.Context, result *models.VideoResult) error
	GetResultByJob(ctx context.Context, jobID string) (*models.VideoResult, error)
	ListResults(ctx context.Context, limit, offset int) ([]*models.VideoResult, error)
	CountResults(ctx context.Context) (int, error)
}

// StorageManager provides access to all storage backends
type StorageManager interface {
	JobStorage() JobStorage
	ResultStorage() ResultStorage
	Close() error
}
