package models

// WorkerType represents the type of worker that handles a queued job.
// This provides explicit type-safety for routing jobs to the appropriate worker.
type WorkerType string

// WorkerType constants define all supported worker types for job execution
const (
	WorkerTypeDirScan      WorkerType = "dir_scan"      // Sweep the input directory and enqueue video jobs
	WorkerTypeVideoProcess WorkerType = "video_process" // Decode, detect, annotate and encode a single video
)

// IsValid checks if the WorkerType is a known, valid type
func (w WorkerType) IsValid() bool {
	switch w {
	case WorkerTypeDirScan, WorkerTypeVideoProcess:
		return true
	}
	return false
}

// String returns the string representation of the WorkerType
func (w WorkerType) String() string {
	return string(w)
}

// AllWorkerTypes returns a slice of all valid WorkerType values
func AllWorkerTypes() []WorkerType {
	return []WorkerType{
		WorkerTypeDirScan,
		WorkerTypeVideoProcess,
	}
}
