// -----------------------------------------------------------------------
// Video Worker - Decode, detect, annotate, encode pipeline
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/detect"
	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/media"
	"github.com/ternarybob/visum/internal/models"
	"github.com/ternarybob/visum/internal/services/jobs"
)

// outputSuffix is appended to the source base name for the annotated file
const outputSuffix = "_processed"

// VideoWorker processes a single video: probe, then per frame decode,
// detect, annotate, encode. Progress and heartbeats are persisted as it
// goes so the API and the stale job detector can observe it.
type VideoWorker struct {
	storage  interfaces.StorageManager
	queueMgr interfaces.QueueManager
	detector interfaces.Detector
	events   interfaces.EventService
	registry *jobs.CancelRegistry
	logger   arbor.ILogger

	annotator           *detect.Annotator
	inputDir            string
	outputDir           string
	deleteSourceOnDone  bool
	heartbeatInterval   time.Duration
	progressLogInterval int
	visibilityTimeout   time.Duration

	// Replaced in tests to run the pipeline without ffmpeg/ffprobe
	openPipeline pipelineFactory
	probe        func(ctx context.Context, path string) (*models.VideoMeta, error)
}

// frameSource yields decoded frames until io.EOF
type frameSource interface {
	ReadFrame() (*media.Frame, error)
	Close() error
}

// frameSink consumes annotated frames
type frameSink interface {
	WriteFrame(*media.Frame) error
	Close() error
	Abort()
}

type pipelineFactory func(ctx context.Context, sourcePath, outputPath string, meta *models.VideoMeta) (frameSource, frameSink, error)

func ffmpegPipeline(ctx context.Context, sourcePath, outputPath string, meta *models.VideoMeta) (frameSource, frameSink, error) {
	decoder, err := media.NewDecoder(ctx, sourcePath, meta.Width, meta.Height)
	if err != nil {
		return nil, nil, fmt.Errorf("decoder start failed: %w", err)
	}
	encoder, err := media.NewEncoder(ctx, outputPath, meta.Width, meta.Height, meta.FPS)
	if err != nil {
		decoder.Close()
		return nil, nil, fmt.Errorf("encoder start failed: %w", err)
	}
	return decoder, encoder, nil
}

var _ interfaces.JobWorker = (*VideoWorker)(nil)

// VideoWorkerOptions bundles construction parameters
type VideoWorkerOptions struct {
	Storage             interfaces.StorageManager
	QueueManager        interfaces.QueueManager
	Detector            interfaces.Detector
	Events              interfaces.EventService
	Registry            *jobs.CancelRegistry
	Annotator           *detect.Annotator
	InputDir            string
	OutputDir           string
	DeleteSourceOnDone  bool
	HeartbeatInterval   time.Duration
	ProgressLogInterval int
	VisibilityTimeout   time.Duration
	Logger              arbor.ILogger
}

// NewVideoWorker creates a video processing worker
func NewVideoWorker(opts VideoWorkerOptions) *VideoWorker {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.ProgressLogInterval <= 0 {
		opts.ProgressLogInterval = 100
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 10 * time.Minute
	}

	return &VideoWorker{
		storage:             opts.Storage,
		queueMgr:            opts.QueueManager,
		detector:            opts.Detector,
		events:              opts.Events,
		registry:            opts.Registry,
		annotator:           opts.Annotator,
		inputDir:            opts.InputDir,
		outputDir:           opts.OutputDir,
		openPipeline:        ffmpegPipeline,
		probe:               media.Probe,
		deleteSourceOnDone:  opts.DeleteSourceOnDone,
		heartbeatInterval:   opts.HeartbeatInterval,
		progressLogInterval: opts.ProgressLogInterval,
		visibilityTimeout:   opts.VisibilityTimeout,
		logger:              opts.Logger,
	}
}

// GetWorkerType returns the job type this worker handles
func (w *VideoWorker) GetWorkerType() string {
	return string(models.WorkerTypeVideoProcess)
}

// Validate checks job compatibility
func (w *VideoWorker) Validate(job *models.VideoJob) error {
	if job.Type != string(models.WorkerTypeVideoProcess) {
		return fmt.Errorf("unexpected job type %q", job.Type)
	}
	if source, ok := job.GetConfigString(models.ConfigKeySourcePath); !ok || source == "" {
		return fmt.Errorf("job has no source path")
	}
	return nil
}

// OutputPath returns the destination path for a source video. Videos in
// input subdirectories keep their relative directory under output_dir so
// same-named files in different subdirectories never collide.
func (w *VideoWorker) OutputPath(sourcePath string) string {
	base := filepath.Base(sourcePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext) + outputSuffix + ".mp4"

	subdir := ""
	if w.inputDir != "" {
		rel, err := filepath.Rel(w.inputDir, filepath.Dir(sourcePath))
		if err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			subdir = rel
		}
	}
	return filepath.Join(w.outputDir, subdir, name)
}

// Execute processes one video end to end
func (w *VideoWorker) Execute(ctx context.Context, state *models.VideoJobState, messageID string) error {
	sourcePath := state.SourcePath()
	if _, err := os.Stat(sourcePath); err != nil {
		return fmt.Errorf("source video unavailable: %w", err)
	}

	// Register for API-driven cancellation
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if w.registry != nil {
		deregister := w.registry.Register(state.ID, cancel)
		defer deregister()
	}

	meta, err := w.probe(jobCtx, sourcePath)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	w.logger.Info().
		Str("job_id", state.ID).
		Str("source", sourcePath).
		Int("width", meta.Width).
		Int("height", meta.Height).
		Int("frames", meta.FrameCount).
		Msgf("Processing video at %.2f fps", meta.FPS)

	outputPath := w.OutputPath(sourcePath)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	result, err := w.processFrames(jobCtx, state, messageID, sourcePath, outputPath, meta)
	if err != nil {
		// Remove the partial output so scans never pick it up
		if rmErr := os.Remove(outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			w.logger.Warn().Err(rmErr).Str("path", outputPath).Msg("Failed to remove partial output")
		}
		return err
	}

	if err := w.storage.ResultStorage().SaveResult(ctx, result); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	state.OutputPath = outputPath
	state.MarkCompleted()
	if err := w.storage.JobStorage().SaveJob(ctx, state); err != nil {
		return fmt.Errorf("failed to save job completion: %w", err)
	}

	w.logger.Info().
		Str("job_id", state.ID).
		Str("output", outputPath).
		Int("frames", result.FramesProcessed).
		Int("detections", result.DetectionsTotal).
		Dur("elapsed", result.Elapsed).
		Msg("Video processed")

	if w.deleteSourceOnDone {
		if err := os.Remove(sourcePath); err != nil {
			w.logger.Warn().Err(err).Str("source", sourcePath).Msg("Failed to delete source video")
		}
	}

	return nil
}

// processFrames runs the decode/detect/annotate/encode loop
func (w *VideoWorker) processFrames(ctx context.Context, state *models.VideoJobState, messageID, sourcePath, outputPath string, meta *models.VideoMeta) (*models.VideoResult, error) {
	start := time.Now()

	decoder, encoder, err := w.openPipeline(ctx, sourcePath, outputPath, meta)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	result := &models.VideoResult{
		JobID:       state.ID,
		SourcePath:  sourcePath,
		OutputPath:  outputPath,
		Meta:        *meta,
		ClassCounts: make(map[string]int),
		CreatedAt:   time.Now(),
	}

	completed := 0
	failed := 0
	lastBeat := time.Now()

	for frameIdx := 0; ; frameIdx++ {
		if ctx.Err() != nil {
			encoder.Abort()
			return nil, ctx.Err()
		}

		frame, err := decoder.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			encoder.Abort()
			return nil, fmt.Errorf("decode failed at frame %d: %w", frameIdx, err)
		}

		detections, err := w.detector.Detect(ctx, frame)
		if err != nil {
			// Frame still goes out unannotated - the output keeps every
			// source frame so audio/video timing holds up
			failed++
			w.logger.Warn().
				Err(err).
				Str("job_id", state.ID).
				Int("frame", frameIdx).
				Msg("Inference failed for frame")
		} else {
			w.annotator.Annotate(frame, detections)
			result.AddDetections(detections)
			completed++
		}

		if err := encoder.WriteFrame(frame); err != nil {
			encoder.Abort()
			return nil, fmt.Errorf("encode failed at frame %d: %w", frameIdx, err)
		}

		result.FramesProcessed++
		state.UpdateProgress(completed, failed, meta.FrameCount, frameIdx)

		if w.progressLogInterval > 0 && (frameIdx+1)%w.progressLogInterval == 0 {
			w.reportProgress(ctx, state, frameIdx)
		}

		if time.Since(lastBeat) >= w.heartbeatInterval {
			w.heartbeat(ctx, state.ID, messageID)
			lastBeat = time.Now()
		}
	}

	if err := decoder.Close(); err != nil {
		encoder.Abort()
		return nil, fmt.Errorf("decoder failed: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encoder failed: %w", err)
	}

	result.Elapsed = time.Since(start)
	state.UpdateProgress(completed, failed, result.FramesProcessed, result.FramesProcessed)
	return result, nil
}

// reportProgress persists progress and publishes a video_progress event
func (w *VideoWorker) reportProgress(ctx context.Context, state *models.VideoJobState, frameIdx int) {
	if err := w.storage.JobStorage().UpdateJobProgress(ctx, state.ID, state.Progress); err != nil {
		w.logger.Warn().Err(err).Str("job_id", state.ID).Msg("Failed to persist progress")
	}

	w.logger.Info().
		Str("job_id", state.ID).
		Int("frame", frameIdx+1).
		Int("total", state.Progress.TotalFrames).
		Msgf("Progress %.1f%%", state.Progress.Percentage)

	if w.events != nil {
		_ = w.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventVideoProgress,
			Payload: map[string]interface{}{
				"job_id":           state.ID,
				"current_frame":    state.Progress.CurrentFrame,
				"completed_frames": state.Progress.CompletedFrames,
				"failed_frames":    state.Progress.FailedFrames,
				"total_frames":     state.Progress.TotalFrames,
				"percentage":       state.Progress.Percentage,
			},
		})
	}
}

// heartbeat updates the stored heartbeat and extends the queue message
// visibility so long videos are not redelivered mid-run
func (w *VideoWorker) heartbeat(ctx context.Context, jobID, messageID string) {
	if err := w.storage.JobStorage().UpdateJobHeartbeat(ctx, jobID); err != nil {
		w.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to update heartbeat")
	}
	if err := w.queueMgr.Extend(ctx, messageID, w.visibilityTimeout); err != nil {
		w.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to extend message visibility")
	}
}
