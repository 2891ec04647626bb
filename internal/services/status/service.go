package status

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/common"
	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/models"
)

// AppState represents the application state
type AppState string

const (
	StateIdle       AppState = "idle"
	StateProcessing AppState = "processing"
	StateScanning   AppState = "scanning"
)

// Service tracks coarse application state for the status endpoint.
// State follows job lifecycle events automatically.
type Service struct {
	state        AppState
	startedAt    time.Time
	mu           sync.RWMutex
	eventService interfaces.EventService
	logger       arbor.ILogger
	activeJobs   map[string]bool
}

// NewService creates a new status service
func NewService(eventService interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		state:        StateIdle,
		startedAt:    time.Now(),
		eventService: eventService,
		logger:       logger,
		activeJobs:   make(map[string]bool),
	}
}

// GetState returns the current application state
func (s *Service) GetState() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// GetStatus returns the full status snapshot
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"state":       string(s.state),
		"active_jobs": len(s.activeJobs),
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"goroutines":  common.GetGoroutineCount(),
		"timestamp":   time.Now(),
	}
}

// SubscribeToJobEvents wires the status service to the event bus so
// state follows the job lifecycle.
func (s *Service) SubscribeToJobEvents() {
	started := func(ctx context.Context, event interfaces.Event) error {
		s.trackJob(event, true)
		return nil
	}
	finished := func(ctx context.Context, event interfaces.Event) error {
		s.trackJob(event, false)
		return nil
	}

	if err := s.eventService.Subscribe(interfaces.EventJobStarted, started); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to subscribe to job started events")
	}
	for _, t := range []interfaces.EventType{
		interfaces.EventJobCompleted,
		interfaces.EventJobFailed,
		interfaces.EventJobCancelled,
	} {
		if err := s.eventService.Subscribe(t, finished); err != nil {
			s.logger.Warn().Err(err).Str("event_type", string(t)).Msg("Failed to subscribe to job events")
		}
	}
}

func (s *Service) trackJob(event interfaces.Event, active bool) {
	jobID := jobIDFromPayload(event.Payload)
	if jobID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if active {
		s.activeJobs[jobID] = true
	} else {
		delete(s.activeJobs, jobID)
	}

	oldState := s.state
	if len(s.activeJobs) > 0 {
		s.state = StateProcessing
	} else {
		s.state = StateIdle
	}

	if oldState != s.state {
		s.logger.Debug().
			Str("old_state", string(oldState)).
			Str("new_state", string(s.state)).
			Msg("Application state changed")
	}
}

// jobIDFromPayload extracts a job ID from common event payload shapes
func jobIDFromPayload(payload interface{}) string {
	switch p := payload.(type) {
	case *models.VideoJobState:
		return p.ID
	case map[string]interface{}:
		if id, ok := p["job_id"].(string); ok {
			return id
		}
	}
	return ""
}
