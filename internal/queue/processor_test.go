package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/common"
	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/models"
	badgerstore "github.com/ternarybob/visum/internal/storage/badger"
)

// stubWorker executes jobs with a configurable function
type stubWorker struct {
	workerType string
	execute    func(ctx context.Context, state *models.VideoJobState, messageID string) error
}

func (w *stubWorker) Execute(ctx context.Context, state *models.VideoJobState, messageID string) error {
	return w.execute(ctx, state, messageID)
}

func (w *stubWorker) GetWorkerType() string { return w.workerType }

func (w *stubWorker) Validate(job *models.VideoJob) error { return job.Validate() }

type processorFixture struct {
	storage *badgerstore.Manager
	queue   *Manager
	proc    *Processor
}

func newProcessorFixture(t *testing.T) *processorFixture {
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

	queueMgr, err := NewManager(storage.Badger(), "test-jobs", time.Minute, 3)
	if err != nil {
		t.Fatalf("Failed to create queue manager: %v", err)
	}

	proc := NewProcessor(queueMgr, storage, nil, logger, 1)
	return &processorFixture{storage: storage, queue: queueMgr, proc: proc}
}

// enqueueJob persists a pending job state and its queue message
func (f *processorFixture) enqueueJob(t *testing.T, job *models.VideoJob) *models.VideoJobState {
	t.Helper()
	ctx := context.Background()

	state := models.NewVideoJobState(job)
	if err := f.storage.JobStorage().SaveJob(ctx, state); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	payload, err := job.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	if err := f.queue.Enqueue(ctx, models.QueueMessage{
		JobID:   job.ID,
		Type:    job.Type,
		Payload: payload,
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return state
}

// waitForStatus polls storage until the job reaches the wanted status
func (f *processorFixture) waitForStatus(t *testing.T, jobID string, want models.JobStatus) *models.VideoJobState {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		state, err := f.storage.JobStorage().GetJob(context.Background(), jobID)
		if err == nil && state.Status == want {
			return state
		}
		time.Sleep(10 * time.Millisecond)
	}
	state, err := f.storage.JobStorage().GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Job disappeared while waiting for %s: %v", want, err)
	}
	t.Fatalf("Timed out waiting for status %s, job stuck at %s", want, state.Status)
	return nil
}

func TestProcessor_ExecutesJobToCompletion(t *testing.T) {
	f := newProcessorFixture(t)

	f.proc.RegisterWorker(&stubWorker{
		workerType: string(models.WorkerTypeVideoProcess),
		execute: func(ctx context.Context, state *models.VideoJobState, messageID string) error {
			state.MarkCompleted()
			return f.storage.JobStorage().SaveJob(ctx, state)
		},
	})

	state := f.enqueueJob(t, models.NewVideoProcessJob("/videos/a.mp4", "a.mp4", "scan"))

	if err := f.proc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.proc.Stop()

	final := f.waitForStatus(t, state.ID, models.JobStatusCompleted)
	if final.StartedAt == nil {
		t.Error("Expected StartedAt set by processor")
	}

	// Message must be gone once the job completed
	time.Sleep(50 * time.Millisecond)
	if _, _, _, err := f.queue.Receive(context.Background()); !errors.Is(err, ErrNoMessage) {
		t.Errorf("Expected message deleted after completion, got %v", err)
	}
}

func TestProcessor_MarksFailedOnWorkerError(t *testing.T) {
	f := newProcessorFixture(t)

	f.proc.RegisterWorker(&stubWorker{
		workerType: string(models.WorkerTypeVideoProcess),
		execute: func(ctx context.Context, state *models.VideoJobState, messageID string) error {
			return errors.New("detector unreachable")
		},
	})

	state := f.enqueueJob(t, models.NewVideoProcessJob("/videos/b.mp4", "b.mp4", "scan"))

	if err := f.proc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.proc.Stop()

	final := f.waitForStatus(t, state.ID, models.JobStatusFailed)
	if final.Error != "detector unreachable" {
		t.Errorf("Expected worker error recorded, got %q", final.Error)
	}
}

func TestProcessor_RecoversFromWorkerPanic(t *testing.T) {
	f := newProcessorFixture(t)

	f.proc.RegisterWorker(&stubWorker{
		workerType: string(models.WorkerTypeVideoProcess),
		execute: func(ctx context.Context, state *models.VideoJobState, messageID string) error {
			panic("frame buffer overrun")
		},
	})

	state := f.enqueueJob(t, models.NewVideoProcessJob("/videos/c.mp4", "c.mp4", "scan"))

	if err := f.proc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.proc.Stop()

	final := f.waitForStatus(t, state.ID, models.JobStatusFailed)
	if final.Error == "" {
		t.Error("Expected panic recorded as failure reason")
	}
}

func TestProcessor_DropsCancelledJob(t *testing.T) {
	f := newProcessorFixture(t)

	executed := make(chan struct{}, 1)
	f.proc.RegisterWorker(&stubWorker{
		workerType: string(models.WorkerTypeVideoProcess),
		execute: func(ctx context.Context, state *models.VideoJobState, messageID string) error {
			executed <- struct{}{}
			return nil
		},
	})

	state := f.enqueueJob(t, models.NewVideoProcessJob("/videos/d.mp4", "d.mp4", "scan"))
	state.MarkCancelled()
	if err := f.storage.JobStorage().SaveJob(context.Background(), state); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	if err := f.proc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.proc.Stop()

	// Give the processor time to claim and drop the message
	time.Sleep(300 * time.Millisecond)

	select {
	case <-executed:
		t.Error("Worker must not run for a cancelled job")
	default:
	}
	if _, _, _, err := f.queue.Receive(context.Background()); !errors.Is(err, ErrNoMessage) {
		t.Errorf("Expected cancelled message deleted, got %v", err)
	}
}

func TestProcessor_DropsMessageWithoutWorker(t *testing.T) {
	f := newProcessorFixture(t)

	// Only the scan worker is registered; the video message has no route
	f.proc.RegisterWorker(&stubWorker{
		workerType: string(models.WorkerTypeDirScan),
		execute: func(ctx context.Context, state *models.VideoJobState, messageID string) error {
			return nil
		},
	})

	f.enqueueJob(t, models.NewVideoProcessJob("/videos/e.mp4", "e.mp4", "scan"))

	if err := f.proc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.proc.Stop()

	time.Sleep(300 * time.Millisecond)
	if _, _, _, err := f.queue.Receive(context.Background()); !errors.Is(err, ErrNoMessage) {
		t.Errorf("Expected unroutable message dropped, got %v", err)
	}
}

func TestProcessor_StartTwiceFails(t *testing.T) {
	f := newProcessorFixture(t)

	if err := f.proc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.proc.Stop()

	if err := f.proc.Start(context.Background()); err == nil {
		t.Error("Expected second Start to fail")
	}
	if !f.proc.IsRunning() {
		t.Error("Expected processor running")
	}
}

func TestProcessor_StopIsIdempotent(t *testing.T) {
	f := newProcessorFixture(t)

	if err := f.proc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.proc.Stop()
	f.proc.Stop()

	if f.proc.IsRunning() {
		t.Error("Expected processor stopped")
	}
}

func TestProcessor_FailsJobWhenMessageDropped(t *testing.T) {
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

	queueMgr, err := NewManager(storage.Badger(), "test-jobs", 30*time.Millisecond, 1)
	if err != nil {
		t.Fatalf("Failed to create queue manager: %v", err)
	}
	proc := NewProcessor(queueMgr, storage, nil, logger, 1)
	f := &processorFixture{storage: storage, queue: queueMgr, proc: proc}

	state := f.enqueueJob(t, models.NewVideoProcessJob("/videos/poison.mp4", "poison", "test"))

	// Claim the message once without completing it so the receive count
	// is already exhausted when the processor polls
	if _, _, _, err := queueMgr.Receive(context.Background()); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := proc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(proc.Stop)

	// Dropping the message must fail the job rather than strand it pending
	final := f.waitForStatus(t, state.ID, models.JobStatusFailed)
	if final.Error == "" {
		t.Error("Expected a failure reason on the dropped job")
	}
}

var _ interfaces.JobWorker = (*stubWorker)(nil)
