// -----------------------------------------------------------------------
// App wiring tests
// -----------------------------------------------------------------------

package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/common"
	"github.com/ternarybob/visum/internal/models"
)

func newTestConfig(t *testing.T) *common.Config {
	t.Helper()

	base := t.TempDir()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = filepath.Join(base, "badger")
	cfg.Pipeline.InputDir = filepath.Join(base, "input")
	cfg.Pipeline.OutputDir = filepath.Join(base, "output")
	cfg.Pipeline.Watch = false
	cfg.Detector.ClassesFile = filepath.Join(base, "classes.toml")
	return cfg
}

func TestNewApp_WiresAllComponents(t *testing.T) {
	cfg := newTestConfig(t)

	a, err := NewApp(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	require.NotNil(t, a.StorageManager)
	require.NotNil(t, a.QueueManager)
	require.NotNil(t, a.EventService)
	require.NotNil(t, a.Detector)
	require.NotNil(t, a.Processor)
	require.NotNil(t, a.JobService)
	require.NotNil(t, a.ScannerService)
	require.NotNil(t, a.SchedulerService)
	require.NotNil(t, a.StatusService)

	assert.Nil(t, a.Watcher, "watcher should not be created when watch is disabled")

	require.NotNil(t, a.JobHandler)
	require.NotNil(t, a.VideoHandler)
	require.NotNil(t, a.ResultHandler)
	require.NotNil(t, a.StatusHandler)
	require.NotNil(t, a.ScanHandler)
	require.NotNil(t, a.WSHandler)
}

func TestNewApp_CreatesWatcherWhenEnabled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Pipeline.Watch = true

	a, err := NewApp(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.NotNil(t, a.Watcher)
}

func TestApp_StartRecoversInterruptedJobs(t *testing.T) {
	cfg := newTestConfig(t)

	a, err := NewApp(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	// Simulate a job left running by a crashed process. Start must reset
	// it to pending before the processor begins polling.
	state := models.NewVideoJobState(models.NewVideoProcessJob("/videos/crashed.mp4", "crashed", "test"))
	state.MarkStarted()
	require.NoError(t, a.StorageManager.JobStorage().SaveJob(a.ctx, state))

	require.NoError(t, a.Start())

	recovered, err := a.StorageManager.JobStorage().GetJob(a.ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, recovered.Status)
	assert.Nil(t, recovered.StartedAt)
}

func TestApp_StartEnqueuesStartupScan(t *testing.T) {
	cfg := newTestConfig(t)

	a, err := NewApp(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	require.NoError(t, a.Start())

	stats, err := a.JobService.GetStats(a.ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Total, 1, "startup scan job should be recorded")
}

func TestApp_RequestShutdownSignalsOnce(t *testing.T) {
	cfg := newTestConfig(t)

	a, err := NewApp(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	a.RequestShutdown()
	a.RequestShutdown() // second call must not block

	select {
	case <-a.ShutdownChan():
	default:
		t.Fatal("expected shutdown signal")
	}
}

func TestApp_CloseIsSafeAfterStart(t *testing.T) {
	cfg := newTestConfig(t)

	a, err := NewApp(cfg, arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, a.Start())
	require.NoError(t, a.Close())
}
