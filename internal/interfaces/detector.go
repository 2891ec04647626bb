package interfaces

import (
	"context"

	"github.com/ternarybob/visum/internal/media"
	"github.com/ternarybob/visum/internal/models"
)

// Detector runs object detection on a single decoded frame.
// Implementations must be safe for concurrent use - the video worker pool
// shares one detector across jobs.
type Detector interface {
	// Detect returns the detections for a frame, already filtered by the
	// configured confidence threshold and carrying resolved labels.
	Detect(ctx context.Context, frame *media.Frame) ([]models.Detection, error)

	// Close releases detector resources
	Close() error
}

// SchedulerService drives periodic work (directory sweeps, stale job cleanup)
type SchedulerService interface {
	Start() error
	Stop() error
	IsRunning() bool
}
