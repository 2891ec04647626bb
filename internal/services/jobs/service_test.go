package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/common"
	"github.com/ternarybob/visum/internal/models"
	"github.com/ternarybob/visum/internal/queue"
	badgerstore "github.com/ternarybob/visum/internal/storage/badger"
)

type jobServiceFixture struct {
	storage *badgerstore.Manager
	queue   *queue.Manager
	service *Service
}

func newJobServiceFixture(t *testing.T) *jobServiceFixture {
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

	svc := NewService(storage, queueMgr, nil, NewCancelRegistry(), logger)
	return &jobServiceFixture{storage: storage, queue: queueMgr, service: svc}
}

func TestCreateVideoJob(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()

	jobID, err := f.service.CreateVideoJob(ctx, "/videos/cam1.mp4", "scan", false)
	if err != nil {
		t.Fatalf("CreateVideoJob failed: %v", err)
	}
	if jobID == "" {
		t.Fatal("Expected a job ID")
	}

	state, err := f.service.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if state.Status != models.JobStatusPending {
		t.Errorf("Expected pending, got %s", state.Status)
	}
	if state.Name != "cam1.mp4" {
		t.Errorf("Expected name cam1.mp4, got %s", state.Name)
	}

	// A matching message must be in the queue
	msg, _, deleteFn, err := f.queue.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	defer deleteFn()
	if msg.JobID != jobID {
		t.Errorf("Expected queued message for %s, got %s", jobID, msg.JobID)
	}
}

func TestCreateVideoJob_DedupesSeenPaths(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()

	first, err := f.service.CreateVideoJob(ctx, "/videos/cam2.mp4", "scan", false)
	if err != nil {
		t.Fatalf("CreateVideoJob failed: %v", err)
	}
	if first == "" {
		t.Fatal("Expected first submission to enqueue")
	}

	second, err := f.service.CreateVideoJob(ctx, "/videos/cam2.mp4", "watch", false)
	if err != nil {
		t.Fatalf("CreateVideoJob failed: %v", err)
	}
	if second != "" {
		t.Errorf("Expected repeat submission skipped, got job %s", second)
	}
}

func TestCreateVideoJob_ForceBypassesDedup(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()

	if _, err := f.service.CreateVideoJob(ctx, "/videos/cam3.mp4", "scan", false); err != nil {
		t.Fatalf("CreateVideoJob failed: %v", err)
	}

	forced, err := f.service.CreateVideoJob(ctx, "/videos/cam3.mp4", "api", true)
	if err != nil {
		t.Fatalf("CreateVideoJob failed: %v", err)
	}
	if forced == "" {
		t.Error("Expected forced submission to enqueue")
	}
}

func TestCreateVideoJob_RequiresSourcePath(t *testing.T) {
	f := newJobServiceFixture(t)

	if _, err := f.service.CreateVideoJob(context.Background(), "", "api", false); err == nil {
		t.Error("Expected error for empty source path")
	}
}

func TestCreateScanJob(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()

	jobID, err := f.service.CreateScanJob(ctx, "startup")
	if err != nil {
		t.Fatalf("CreateScanJob failed: %v", err)
	}

	state, err := f.service.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if state.Type != string(models.WorkerTypeDirScan) {
		t.Errorf("Expected dir_scan, got %s", state.Type)
	}

	trigger, _ := state.ToVideoJob().GetConfigString(models.ConfigKeyTrigger)
	if trigger != "startup" {
		t.Errorf("Expected trigger startup, got %s", trigger)
	}
}

func TestGetStats(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()

	id1, err := f.service.CreateVideoJob(ctx, "/videos/s1.mp4", "scan", false)
	if err != nil {
		t.Fatalf("CreateVideoJob failed: %v", err)
	}
	if _, err := f.service.CreateVideoJob(ctx, "/videos/s2.mp4", "scan", false); err != nil {
		t.Fatalf("CreateVideoJob failed: %v", err)
	}

	if err := f.storage.JobStorage().UpdateJobStatus(ctx, id1, models.JobStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateJobStatus failed: %v", err)
	}

	stats, err := f.service.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Expected 2 total, got %d", stats.Total)
	}
	if stats.Pending != 1 {
		t.Errorf("Expected 1 pending, got %d", stats.Pending)
	}
	if stats.Completed != 1 {
		t.Errorf("Expected 1 completed, got %d", stats.Completed)
	}
}

func TestCancelJob(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()

	jobID, err := f.service.CreateVideoJob(ctx, "/videos/c1.mp4", "api", false)
	if err != nil {
		t.Fatalf("CreateVideoJob failed: %v", err)
	}

	if err := f.service.CancelJob(ctx, jobID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}

	state, err := f.service.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if state.Status != models.JobStatusCancelled {
		t.Errorf("Expected cancelled, got %s", state.Status)
	}

	// Cancelling a terminal job is rejected
	if err := f.service.CancelJob(ctx, jobID); err == nil {
		t.Error("Expected error cancelling an already cancelled job")
	}
}

func TestCancelJob_AbortsRunningJob(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()

	jobID, err := f.service.CreateVideoJob(ctx, "/videos/c2.mp4", "api", false)
	if err != nil {
		t.Fatalf("CreateVideoJob failed: %v", err)
	}

	// Simulate a running worker holding a job context
	jobCtx, cancel := context.WithCancel(context.Background())
	deregister := f.service.Registry().Register(jobID, cancel)
	defer deregister()

	if err := f.storage.JobStorage().UpdateJobStatus(ctx, jobID, models.JobStatusRunning, ""); err != nil {
		t.Fatalf("UpdateJobStatus failed: %v", err)
	}

	if err := f.service.CancelJob(ctx, jobID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}

	select {
	case <-jobCtx.Done():
	default:
		t.Error("Expected the job context to be cancelled")
	}
}

func TestRerunJob(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()

	jobID, err := f.service.CreateVideoJob(ctx, "/videos/r1.mp4", "scan", false)
	if err != nil {
		t.Fatalf("CreateVideoJob failed: %v", err)
	}

	// Rerunning a non-terminal job is rejected
	if _, err := f.service.RerunJob(ctx, jobID); err == nil {
		t.Error("Expected error rerunning a pending job")
	}

	if err := f.storage.JobStorage().UpdateJobStatus(ctx, jobID, models.JobStatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateJobStatus failed: %v", err)
	}

	newID, err := f.service.RerunJob(ctx, jobID)
	if err != nil {
		t.Fatalf("RerunJob failed: %v", err)
	}
	if newID == "" || newID == jobID {
		t.Errorf("Expected a fresh job ID, got %q", newID)
	}

	state, err := f.service.GetJob(ctx, newID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if state.SourcePath() != "/videos/r1.mp4" {
		t.Errorf("Expected same source path, got %s", state.SourcePath())
	}
	trigger, _ := state.ToVideoJob().GetConfigString(models.ConfigKeyTrigger)
	if trigger != "rerun" {
		t.Errorf("Expected trigger rerun, got %s", trigger)
	}
}

func TestRerunJob_OnlyVideoJobs(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()

	jobID, err := f.service.CreateScanJob(ctx, "api")
	if err != nil {
		t.Fatalf("CreateScanJob failed: %v", err)
	}
	if err := f.storage.JobStorage().UpdateJobStatus(ctx, jobID, models.JobStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateJobStatus failed: %v", err)
	}

	if _, err := f.service.RerunJob(ctx, jobID); err == nil {
		t.Error("Expected error rerunning a scan job")
	}
}

func TestDeleteJob(t *testing.T) {
	f := newJobServiceFixture(t)
	ctx := context.Background()

	jobID, err := f.service.CreateVideoJob(ctx, "/videos/d1.mp4", "api", false)
	if err != nil {
		t.Fatalf("CreateVideoJob failed: %v", err)
	}

	// Pending jobs cannot be deleted
	if err := f.service.DeleteJob(ctx, jobID); err == nil {
		t.Error("Expected error deleting a pending job")
	}

	if err := f.storage.JobStorage().UpdateJobStatus(ctx, jobID, models.JobStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateJobStatus failed: %v", err)
	}
	if err := f.service.DeleteJob(ctx, jobID); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}

	if _, err := f.service.GetJob(ctx, jobID); !errors.Is(err, badgerstore.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound after delete, got %v", err)
	}
}

func TestCancelRegistry(t *testing.T) {
	r := NewCancelRegistry()

	if r.ActiveCount() != 0 {
		t.Errorf("Expected empty registry, got %d", r.ActiveCount())
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	deregister := r.Register("job-1", cancel1)

	if r.ActiveCount() != 1 {
		t.Errorf("Expected 1 registered job, got %d", r.ActiveCount())
	}

	if !r.Cancel("job-1") {
		t.Error("Expected Cancel to report the job as running")
	}
	select {
	case <-ctx1.Done():
	default:
		t.Error("Expected cancel function invoked")
	}

	// Cancel on an unknown job is a no-op
	if r.Cancel("job-1") {
		t.Error("Expected repeated Cancel to return false")
	}
	deregister()

	// Deregister removes without cancelling
	_, cancel2 := context.WithCancel(context.Background())
	dereg2 := r.Register("job-2", cancel2)
	dereg2()
	if r.Cancel("job-2") {
		t.Error("Expected deregistered job not to be cancellable")
	}
}
