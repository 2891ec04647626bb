// -----------------------------------------------------------------------
// Video Job - Immutable job structure for queue persistence
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VideoJob represents the immutable job sent to the queue and stored in the
// database. Once created and enqueued, this job should not be modified.
// Both job types (dir_scan and video_process) use this common structure.
//
// Job State Lifecycle:
//  1. VideoJob (this struct) - Immutable job sent to queue for execution
//  2. VideoJobState - Runtime state during execution (Status, Progress)
//  3. VideoResult - Persisted outcome of a completed video_process job
type VideoJob struct {
	// Core identification
	ID string `json:"id"` // Unique job ID (UUID)

	// Job classification
	Type string `json:"type"` // Worker type: "dir_scan" or "video_process"
	Name string `json:"name"` // Human-readable job name (usually the video filename)

	// Configuration (immutable snapshot at creation time)
	Config map[string]interface{} `json:"config"` // Job-specific configuration

	// Timestamps
	CreatedAt time.Time `json:"created_at"` // Job creation timestamp
}

// Config keys recognized by the workers
const (
	ConfigKeySourcePath = "source_path" // Absolute path of the video to process
	ConfigKeyTrigger    = "trigger"     // What enqueued the job: "scan", "watch", "api", "rerun"
)

// NewVideoJob creates a new queued job
func NewVideoJob(jobType WorkerType, name string, config map[string]interface{}) *VideoJob {
	if config == nil {
		config = make(map[string]interface{})
	}
	return &VideoJob{
		ID:        uuid.New().String(),
		Type:      string(jobType),
		Name:      name,
		Config:    config,
		CreatedAt: time.Now(),
	}
}

// NewVideoProcessJob creates a video_process job for a single source file
func NewVideoProcessJob(sourcePath, name, trigger string) *VideoJob {
	return NewVideoJob(WorkerTypeVideoProcess, name, map[string]interface{}{
		ConfigKeySourcePath: sourcePath,
		ConfigKeyTrigger:    trigger,
	})
}

// NewDirScanJob creates a dir_scan job
func NewDirScanJob(trigger string) *VideoJob {
	return NewVideoJob(WorkerTypeDirScan, "input directory scan", map[string]interface{}{
		ConfigKeyTrigger: trigger,
	})
}

// ToJSON serializes the queued job to JSON for queue storage
func (j *VideoJob) ToJSON() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal video job: %w", err)
	}
	return data, nil
}

// VideoJobFromJSON deserializes a queued job from JSON
func VideoJobFromJSON(data []byte) (*VideoJob, error) {
	var job VideoJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video job: %w", err)
	}
	return &job, nil
}

// Validate validates the queued job
func (j *VideoJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.Type == "" {
		return fmt.Errorf("job type is required")
	}
	if !WorkerType(j.Type).IsValid() {
		return fmt.Errorf("unknown job type: %s", j.Type)
	}
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if j.Config == nil {
		return fmt.Errorf("job config cannot be nil")
	}
	if j.Type == string(WorkerTypeVideoProcess) {
		if path, ok := j.GetConfigString(ConfigKeySourcePath); !ok || path == "" {
			return fmt.Errorf("video_process job requires %s", ConfigKeySourcePath)
		}
	}
	return nil
}

// Clone creates a deep copy of the queued job (used by rerun)
func (j *VideoJob) Clone() *VideoJob {
	configCopy := make(map[string]interface{})
	for k, v := range j.Config {
		configCopy[k] = v
	}

	return &VideoJob{
		ID:        j.ID,
		Type:      j.Type,
		Name:      j.Name,
		Config:    configCopy,
		CreatedAt: j.CreatedAt,
	}
}

// GetConfigString retrieves a string value from config
func (j *VideoJob) GetConfigString(key string) (string, bool) {
	val, ok := j.Config[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetConfigInt retrieves an int value from config
func (j *VideoJob) GetConfigInt(key string) (int, bool) {
	val, ok := j.Config[key]
	if !ok {
		return 0, false
	}

	// Handle both int and float64 (JSON unmarshaling converts numbers to float64)
	switch v := val.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// -----------------------------------------------------------------------
// Video Job State - Runtime job state (combines VideoJob with execution state)
// -----------------------------------------------------------------------

// JobProgress tracks per-frame job execution progress
type JobProgress struct {
	TotalFrames     int     `json:"total_frames"`
	CompletedFrames int     `json:"completed_frames"`
	FailedFrames    int     `json:"failed_frames"`
	CurrentFrame    int     `json:"current_frame"`
	Percentage      float64 `json:"percentage"`
}

// VideoJobState represents a job with runtime execution state.
// This combines the immutable VideoJob fields with mutable runtime state.
type VideoJobState struct {
	// Core identification (from VideoJob)
	ID string `json:"id"`

	// Job classification (from VideoJob)
	Type string `json:"type"`
	Name string `json:"name"`

	// Configuration (from VideoJob)
	Config map[string]interface{} `json:"config"`

	// Timestamps (from VideoJob)
	CreatedAt time.Time `json:"created_at"`

	// Mutable runtime state
	Status        JobStatus   `json:"status"`
	Progress      JobProgress `json:"progress"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	LastHeartbeat *time.Time  `json:"last_heartbeat,omitempty"`
	Error         string      `json:"error,omitempty"`
	OutputPath    string      `json:"output_path,omitempty"` // Annotated video written by the worker
	SpawnedJobs   int         `json:"spawned_jobs"`          // Jobs enqueued by a dir_scan run
}

// NewVideoJobState creates a new job execution state from a VideoJob
func NewVideoJobState(queued *VideoJob) *VideoJobState {
	config := queued.Config
	if config == nil {
		config = make(map[string]interface{})
	}

	return &VideoJobState{
		ID:        queued.ID,
		Type:      queued.Type,
		Name:      queued.Name,
		Config:    config,
		CreatedAt: queued.CreatedAt,
		Status:    JobStatusPending,
		Progress:  JobProgress{},
	}
}

// ToVideoJob extracts the immutable VideoJob from a VideoJobState
func (j *VideoJobState) ToVideoJob() *VideoJob {
	return &VideoJob{
		ID:        j.ID,
		Type:      j.Type,
		Name:      j.Name,
		Config:    j.Config,
		CreatedAt: j.CreatedAt,
	}
}

// UpdateProgress updates the job progress and percentage
func (j *VideoJobState) UpdateProgress(completed, failed, total, current int) {
	j.Progress.CompletedFrames = completed
	j.Progress.FailedFrames = failed
	j.Progress.TotalFrames = total
	j.Progress.CurrentFrame = current

	if total > 0 {
		j.Progress.Percentage = float64(completed+failed) / float64(total) * 100
	}
}

// MarkStarted marks the job as started
func (j *VideoJobState) MarkStarted() {
	j.Status = JobStatusRunning
	now := time.Now()
	j.StartedAt = &now
	j.LastHeartbeat = &now
}

// MarkCompleted marks the job as completed
func (j *VideoJobState) MarkCompleted() {
	j.Status = JobStatusCompleted
	now := time.Now()
	j.CompletedAt = &now
}

// MarkFailed marks the job as failed with an error message
func (j *VideoJobState) MarkFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.Error = errorMsg
	now := time.Now()
	j.CompletedAt = &now
}

// MarkCancelled marks the job as cancelled
func (j *VideoJobState) MarkCancelled() {
	j.Status = JobStatusCancelled
	now := time.Now()
	j.CompletedAt = &now
}

// UpdateHeartbeat updates the last heartbeat timestamp
func (j *VideoJobState) UpdateHeartbeat() {
	now := time.Now()
	j.LastHeartbeat = &now
}

// IsTerminal returns true if the job is in a terminal state
func (j *VideoJobState) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// SourcePath returns the configured source video path, if any
func (j *VideoJobState) SourcePath() string {
	if val, ok := j.Config[ConfigKeySourcePath]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}
