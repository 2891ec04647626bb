package workers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/common"
	"github.com/ternarybob/visum/internal/detect"
	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/media"
	"github.com/ternarybob/visum/internal/models"
	"github.com/ternarybob/visum/internal/queue"
	"github.com/ternarybob/visum/internal/services/jobs"
	badgerstore "github.com/ternarybob/visum/internal/storage/badger"
)

// fakeSource yields a fixed number of frames, then io.EOF
type fakeSource struct {
	width, height int
	total         int
	served        int
}

func (s *fakeSource) ReadFrame() (*media.Frame, error) {
	if s.served >= s.total {
		return nil, io.EOF
	}
	s.served++
	return media.NewFrame(s.width, s.height), nil
}

func (s *fakeSource) Close() error { return nil }

// fakeSink records written frames and touches the output file so the
// partial-output cleanup path has something to remove
type fakeSink struct {
	mu          sync.Mutex
	path        string
	written     int
	closed      bool
	aborted     bool
	failAtWrite int // 1-based; 0 disables
}

func (s *fakeSink) WriteFrame(frame *media.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.written == 0 && s.path != "" {
		if err := os.WriteFile(s.path, []byte("partial"), 0o644); err != nil {
			return err
		}
	}
	s.written++
	if s.failAtWrite > 0 && s.written >= s.failAtWrite {
		return fmt.Errorf("muxer rejected frame %d", s.written)
	}
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
}

// fakeDetector delegates to a per-test function
type fakeDetector struct {
	detect func(frameNum int) ([]models.Detection, error)
	calls  int
}

func (d *fakeDetector) Detect(ctx context.Context, frame *media.Frame) ([]models.Detection, error) {
	d.calls++
	return d.detect(d.calls)
}

func (d *fakeDetector) Close() error { return nil }

var _ interfaces.Detector = (*fakeDetector)(nil)

type videoWorkerFixture struct {
	worker   *VideoWorker
	storage  *badgerstore.Manager
	detector *fakeDetector
	sink     *fakeSink
	inputDir string
	outDir   string
}

func newVideoWorkerFixture(t *testing.T, frames int, detectFn func(int) ([]models.Detection, error)) *videoWorkerFixture {
	t.Helper()

	logger := arbor.NewLogger()
	storage, err := badgerstore.NewManager(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "badger"),
	})
	if err != nil {
		t.Fatalf("Failed to create storage manager: %v", err)
	}
	t.Cleanup(func() {
		storage.Close()
	})

	queueMgr, err := queue.NewManager(storage.Badger(), "test-jobs", time.Minute, 3)
	if err != nil {
		t.Fatalf("Failed to create queue manager: %v", err)
	}

	detector := &fakeDetector{detect: detectFn}
	inputDir := t.TempDir()
	outDir := t.TempDir()

	worker := NewVideoWorker(VideoWorkerOptions{
		Storage:           storage,
		QueueManager:      queueMgr,
		Detector:          detector,
		Registry:          jobs.NewCancelRegistry(),
		Annotator:         detect.NewAnnotator(&common.AnnotateConfig{BoxColor: []int{0, 255, 0}, LabelColor: []int{0, 255, 255}, Thickness: 1}),
		InputDir:          inputDir,
		OutputDir:         outDir,
		HeartbeatInterval: time.Hour,
		Logger:            logger,
	})

	sink := &fakeSink{}
	worker.probe = func(ctx context.Context, path string) (*models.VideoMeta, error) {
		return &models.VideoMeta{FPS: 25, Width: 32, Height: 24, FrameCount: frames}, nil
	}
	worker.openPipeline = func(ctx context.Context, sourcePath, outputPath string, meta *models.VideoMeta) (frameSource, frameSink, error) {
		sink.path = outputPath
		return &fakeSource{width: meta.Width, height: meta.Height, total: frames}, sink, nil
	}

	return &videoWorkerFixture{
		worker:   worker,
		storage:  storage,
		detector: detector,
		sink:     sink,
		inputDir: inputDir,
		outDir:   outDir,
	}
}

func (f *videoWorkerFixture) newJob(t *testing.T, name string) *models.VideoJobState {
	t.Helper()

	sourcePath := filepath.Join(f.inputDir, name)
	if err := os.WriteFile(sourcePath, []byte("video"), 0o644); err != nil {
		t.Fatalf("Failed to write source file: %v", err)
	}

	state := models.NewVideoJobState(models.NewVideoProcessJob(sourcePath, name, "test"))
	if err := f.storage.JobStorage().SaveJob(context.Background(), state); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}
	return state
}

func TestVideoWorker_ProcessesVideoEndToEnd(t *testing.T) {
	f := newVideoWorkerFixture(t, 3, func(int) ([]models.Detection, error) {
		return []models.Detection{{X1: 2, Y1: 2, X2: 10, Y2: 10, ClassID: 0, Confidence: 0.9, Label: "person"}}, nil
	})
	ctx := context.Background()
	state := f.newJob(t, "clip.mp4")

	if err := f.worker.Execute(ctx, state, "msg-1"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if state.Status != models.JobStatusCompleted {
		t.Errorf("Expected completed job, got %s", state.Status)
	}
	if f.sink.written != 3 {
		t.Errorf("Expected 3 encoded frames, got %d", f.sink.written)
	}
	if !f.sink.closed {
		t.Error("Expected sink closed after successful run")
	}

	result, err := f.storage.ResultStorage().GetResultByJob(ctx, state.ID)
	if err != nil {
		t.Fatalf("Failed to load result: %v", err)
	}
	if result.FramesProcessed != 3 {
		t.Errorf("Expected 3 frames processed, got %d", result.FramesProcessed)
	}
	if result.DetectionsTotal != 3 {
		t.Errorf("Expected 3 detections, got %d", result.DetectionsTotal)
	}
	if result.ClassCounts["person"] != 3 {
		t.Errorf("Expected 3 person detections, got %d", result.ClassCounts["person"])
	}
	if state.OutputPath != filepath.Join(f.outDir, "clip_processed.mp4") {
		t.Errorf("Unexpected output path %s", state.OutputPath)
	}
}

func TestVideoWorker_DetectorFailurePassesFrameThrough(t *testing.T) {
	f := newVideoWorkerFixture(t, 3, func(frameNum int) ([]models.Detection, error) {
		if frameNum == 2 {
			return nil, errors.New("inference timeout")
		}
		return nil, nil
	})
	ctx := context.Background()
	state := f.newJob(t, "clip.mp4")

	if err := f.worker.Execute(ctx, state, "msg-1"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// The failed frame is still encoded so the output keeps every source frame
	if f.sink.written != 3 {
		t.Errorf("Expected all 3 frames encoded, got %d", f.sink.written)
	}
	if state.Progress.FailedFrames != 1 {
		t.Errorf("Expected 1 failed frame, got %d", state.Progress.FailedFrames)
	}
	if state.Progress.CompletedFrames != 2 {
		t.Errorf("Expected 2 completed frames, got %d", state.Progress.CompletedFrames)
	}
	if state.Status != models.JobStatusCompleted {
		t.Errorf("Expected completed job despite frame failure, got %s", state.Status)
	}
}

func TestVideoWorker_RemovesPartialOutputOnError(t *testing.T) {
	f := newVideoWorkerFixture(t, 5, func(int) ([]models.Detection, error) {
		return nil, nil
	})
	f.sink.failAtWrite = 2
	ctx := context.Background()
	state := f.newJob(t, "clip.mp4")

	err := f.worker.Execute(ctx, state, "msg-1")
	if err == nil {
		t.Fatal("Expected encode failure to surface")
	}
	if !f.sink.aborted {
		t.Error("Expected sink aborted on encode failure")
	}

	if _, statErr := os.Stat(filepath.Join(f.outDir, "clip_processed.mp4")); !os.IsNotExist(statErr) {
		t.Errorf("Expected partial output removed, stat err: %v", statErr)
	}
}

func TestVideoWorker_CancelBetweenFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newVideoWorkerFixture(t, 10, func(frameNum int) ([]models.Detection, error) {
		if frameNum == 2 {
			cancel()
		}
		return nil, nil
	})
	state := f.newJob(t, "clip.mp4")

	err := f.worker.Execute(ctx, state, "msg-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if !f.sink.aborted {
		t.Error("Expected sink aborted on cancellation")
	}
	if f.sink.written >= 10 {
		t.Errorf("Expected processing to stop early, wrote %d frames", f.sink.written)
	}
}

func TestVideoWorker_OutputPath(t *testing.T) {
	f := newVideoWorkerFixture(t, 1, func(int) ([]models.Detection, error) { return nil, nil })

	flat := f.worker.OutputPath(filepath.Join(f.inputDir, "video.mp4"))
	if flat != filepath.Join(f.outDir, "video_processed.mp4") {
		t.Errorf("Unexpected top-level output path %s", flat)
	}

	// Same base name in different subdirectories must not collide
	cam1 := f.worker.OutputPath(filepath.Join(f.inputDir, "cam1", "video.mp4"))
	cam2 := f.worker.OutputPath(filepath.Join(f.inputDir, "cam2", "video.mp4"))
	if cam1 == cam2 {
		t.Fatalf("Output paths collide: %s", cam1)
	}
	if cam1 != filepath.Join(f.outDir, "cam1", "video_processed.mp4") {
		t.Errorf("Expected mirrored subdirectory, got %s", cam1)
	}

	// Sources outside the input dir fall back to a flat name
	outside := f.worker.OutputPath("/somewhere/else/video.avi")
	if outside != filepath.Join(f.outDir, "video_processed.mp4") {
		t.Errorf("Unexpected outside-input output path %s", outside)
	}
}

func TestVideoWorker_Validate(t *testing.T) {
	f := newVideoWorkerFixture(t, 1, func(int) ([]models.Detection, error) { return nil, nil })

	video := models.NewVideoProcessJob("/videos/a.mp4", "a", "test")
	if err := f.worker.Validate(video); err != nil {
		t.Errorf("Expected video job to validate, got %v", err)
	}

	scan := models.NewDirScanJob("test")
	if err := f.worker.Validate(scan); err == nil {
		t.Error("Expected dir_scan job to be rejected")
	}
}
