package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/visum/internal/models"
)

// QueueManager provides persistent FIFO-ish message queueing with
// visibility timeouts and at-least-once delivery.
type QueueManager interface {
	// Enqueue adds a message to the queue
	Enqueue(ctx context.Context, msg models.QueueMessage) error

	// Receive pulls the next visible message from the queue.
	// Returns models.ErrNoMessage when the queue is empty, otherwise the
	// message, its internal ID, and a delete function to call after
	// successful processing.
	Receive(ctx context.Context) (*models.QueueMessage, string, func() error, error)

	// Extend pushes out the visibility timeout for a long-running job
	Extend(ctx context.Context, messageID string, duration time.Duration) error

	// SetDropHandler registers a callback invoked when a message is
	// dropped for exceeding the max receive count
	SetDropHandler(fn func(models.QueueMessage))

	// Close closes the queue manager
	Close() error
}

// JobWorker executes queued jobs of a single worker type
type JobWorker interface {
	// Execute executes a job. messageID identifies the queue message so
	// long-running workers can extend its visibility timeout.
	Execute(ctx context.Context, state *models.VideoJobState, messageID string) error

	// GetWorkerType returns the job type this worker handles
	GetWorkerType() string

	// Validate validates that the job is compatible with this worker
	Validate(job *models.VideoJob) error
}
