// -----------------------------------------------------------------------
// Cancel Registry - Tracks cancel functions for in-flight jobs
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"sync"
)

// CancelRegistry tracks per-job cancel functions so a running video job
// can be aborted from the API. Workers register on start and deregister
// on completion.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewCancelRegistry creates an empty registry
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{
		cancels: make(map[string]context.CancelFunc),
	}
}

// Register associates a cancel function with a job ID.
// Returns a deregister function for the worker to defer.
func (r *CancelRegistry) Register(jobID string, cancel context.CancelFunc) func() {
	r.mu.Lock()
	r.cancels[jobID] = cancel
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.cancels, jobID)
		r.mu.Unlock()
	}
}

// Cancel invokes the cancel function for a job if one is registered.
// Returns true if the job was actively running.
func (r *CancelRegistry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	if ok {
		delete(r.cancels, jobID)
	}
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// ActiveCount returns the number of jobs with registered cancel functions
func (r *CancelRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
