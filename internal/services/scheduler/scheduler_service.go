// -----------------------------------------------------------------------
// Scheduler Service - Cron-driven scans and stale job cleanup
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/common"
	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/models"
	"github.com/ternarybob/visum/internal/services/jobs"
)

const staleCheckInterval = 5 * time.Minute

// Service enqueues periodic directory scans on a cron schedule and
// fails jobs whose heartbeat has gone stale.
type Service struct {
	jobService     *jobs.Service
	jobStorage     interfaces.JobStorage
	eventService   interfaces.EventService
	cron           *cron.Cron
	scanSchedule   string
	staleThreshold time.Duration
	logger         arbor.ILogger

	mu             sync.Mutex
	running        bool
	staleJobTicker *time.Ticker
	staleDone      chan struct{}
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates a scheduler service. scanSchedule is a standard
// 5-field cron expression; empty disables scheduled scans.
func NewService(jobService *jobs.Service, jobStorage interfaces.JobStorage, eventService interfaces.EventService, scanSchedule string, staleThreshold time.Duration, logger arbor.ILogger) *Service {
	if staleThreshold <= 0 {
		staleThreshold = 10 * time.Minute
	}
	return &Service{
		jobService:     jobService,
		jobStorage:     jobStorage,
		eventService:   eventService,
		cron:           cron.New(),
		scanSchedule:   scanSchedule,
		staleThreshold: staleThreshold,
		logger:         logger,
	}
}

// Start begins the cron scheduler and the stale job detector
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if s.scanSchedule != "" {
		if _, err := s.cron.AddFunc(s.scanSchedule, s.runScheduledScan); err != nil {
			return fmt.Errorf("invalid scan schedule %q: %w", s.scanSchedule, err)
		}
		s.logger.Info().Str("schedule", s.scanSchedule).Msg("Scheduled scans enabled")
	} else {
		s.logger.Info().Msg("Scheduled scans disabled")
	}

	s.cron.Start()

	s.staleJobTicker = time.NewTicker(staleCheckInterval)
	s.staleDone = make(chan struct{})
	ticker := s.staleJobTicker
	done := s.staleDone
	common.SafeGo(s.logger, "stale-job-detector", func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := s.DetectStaleJobs(); err != nil {
					s.logger.Warn().Err(err).Msg("Stale job detection failed")
				}
			}
		}
	})

	s.running = true
	s.logger.Info().Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	if s.staleJobTicker != nil {
		s.staleJobTicker.Stop()
		close(s.staleDone)
	}

	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// runScheduledScan enqueues a dir_scan job
func (s *Service) runScheduledScan() {
	ctx := context.Background()
	jobID, err := s.jobService.CreateScanJob(ctx, "schedule")
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to enqueue scheduled scan")
		return
	}
	s.logger.Info().Str("job_id", jobID).Msg("Scheduled scan enqueued")
}

// DetectStaleJobs fails running jobs whose heartbeat is older than the
// stale threshold. Heartbeats stop when a worker dies mid-video.
func (s *Service) DetectStaleJobs() error {
	ctx := context.Background()

	thresholdMinutes := int(s.staleThreshold.Minutes())
	if thresholdMinutes < 1 {
		thresholdMinutes = 1
	}

	staleJobs, err := s.jobStorage.GetStaleJobs(ctx, thresholdMinutes)
	if err != nil {
		return fmt.Errorf("failed to get stale jobs: %w", err)
	}

	if len(staleJobs) == 0 {
		return nil
	}

	s.logger.Warn().
		Int("count", len(staleJobs)).
		Int("threshold_minutes", thresholdMinutes).
		Msg("Detected stale jobs")

	reason := fmt.Sprintf("job stale (no heartbeat for %d+ minutes)", thresholdMinutes)
	for _, job := range staleJobs {
		if err := s.jobStorage.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, reason); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to fail stale job")
			continue
		}
		s.logger.Info().Str("job_id", job.ID).Msg("Marked stale job as failed")

		if s.eventService != nil {
			job.MarkFailed(reason)
			_ = s.eventService.Publish(ctx, interfaces.Event{
				Type:    interfaces.EventJobFailed,
				Payload: job,
			})
		}
	}

	return nil
}
