// -----------------------------------------------------------------------
// Scanner Service - Finds unprocessed videos in the input directory
// -----------------------------------------------------------------------

package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/services/jobs"
)

// suffix appended to processed output files so scans never re-enqueue them
const processedSuffix = "_processed"

// ScanResult summarizes a single scan pass
type ScanResult struct {
	Scanned  int           `json:"scanned"`
	Enqueued int           `json:"enqueued"`
	Skipped  int           `json:"skipped"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Service scans the input directory for video files and enqueues
// processing jobs for ones not seen before.
type Service struct {
	inputDir   string
	extensions map[string]bool
	jobService *jobs.Service
	events     interfaces.EventService
	logger     arbor.ILogger
}

// NewService creates a scanner service
func NewService(inputDir string, extensions []string, jobService *jobs.Service, events interfaces.EventService, logger arbor.ILogger) *Service {
	extMap := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extMap[strings.ToLower(ext)] = true
	}

	return &Service{
		inputDir:   inputDir,
		extensions: extMap,
		jobService: jobService,
		events:     events,
		logger:     logger,
	}
}

// IsVideoFile reports whether the path has a configured video extension
// and is not itself a processed output.
func (s *Service) IsVideoFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if !s.extensions[ext] {
		return false
	}
	base := strings.TrimSuffix(filepath.Base(path), ext)
	return !strings.HasSuffix(base, processedSuffix)
}

// Scan walks the input directory and enqueues a video job for every
// matching file not already seen. Subdirectories are included.
func (s *Service) Scan(ctx context.Context, trigger string) (*ScanResult, error) {
	start := time.Now()
	result := &ScanResult{}

	info, err := os.Stat(s.inputDir)
	if err != nil {
		return nil, fmt.Errorf("input directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", s.inputDir)
	}

	err = filepath.WalkDir(s.inputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("Scan skipping unreadable entry")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !s.IsVideoFile(path) {
			return nil
		}

		result.Scanned++

		jobID, err := s.jobService.CreateVideoJob(ctx, path, trigger, false)
		if err != nil {
			s.logger.Warn().Err(err).Str("source", path).Msg("Failed to enqueue video")
			return nil
		}
		if jobID == "" {
			result.Skipped++
			return nil
		}

		result.Enqueued++
		s.logger.Info().
			Str("job_id", jobID).
			Str("source", path).
			Str("trigger", trigger).
			Msg("Video enqueued")
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Elapsed = time.Since(start)

	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("enqueued", result.Enqueued).
		Int("skipped", result.Skipped).
		Dur("elapsed", result.Elapsed).
		Str("trigger", trigger).
		Msg("Scan completed")

	if s.events != nil {
		if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventScanCompleted, Payload: result}); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish scan event")
		}
	}

	return result, nil
}
