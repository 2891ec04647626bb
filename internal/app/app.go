// -----------------------------------------------------------------------
// App - Application wiring and lifecycle
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/common"
	"github.com/ternarybob/visum/internal/detect"
	"github.com/ternarybob/visum/internal/handlers"
	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/queue"
	"github.com/ternarybob/visum/internal/services/events"
	jobsvc "github.com/ternarybob/visum/internal/services/jobs"
	"github.com/ternarybob/visum/internal/services/scanner"
	schedulersvc "github.com/ternarybob/visum/internal/services/scheduler"
	"github.com/ternarybob/visum/internal/services/status"
	"github.com/ternarybob/visum/internal/storage"
	"github.com/ternarybob/visum/internal/workers"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager interfaces.StorageManager
	QueueManager   interfaces.QueueManager
	EventService   interfaces.EventService
	Detector       interfaces.Detector
	Classes        *common.ClassMap

	Processor        *queue.Processor
	JobService       *jobsvc.Service
	ScannerService   *scanner.Service
	Watcher          *scanner.Watcher
	SchedulerService *schedulersvc.Service
	StatusService    *status.Service

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	JobHandler    *handlers.JobHandler
	VideoHandler  *handlers.VideoHandler
	ResultHandler *handlers.ResultHandler
	StatusHandler *handlers.StatusHandler
	ScanHandler   *handlers.ScanHandler
	WSHandler     *handlers.WebSocketHandler

	shutdownChan chan struct{}
}

// NewApp creates and wires the application
func NewApp(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		Config:       cfg,
		Logger:       logger,
		ctx:          ctx,
		cancelCtx:    cancel,
		shutdownChan: make(chan struct{}, 1),
	}

	if err := app.initStorage(); err != nil {
		cancel()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		cancel()
		app.StorageManager.Close()
		return nil, err
	}
	if err := app.initHandlers(); err != nil {
		cancel()
		app.StorageManager.Close()
		return nil, err
	}

	logger.Info().Msg("Application initialization complete")
	return app, nil
}

// ShutdownChan returns the channel signalled when a shutdown is requested
func (a *App) ShutdownChan() <-chan struct{} {
	return a.shutdownChan
}

// RequestShutdown signals the main loop to shut down
func (a *App) RequestShutdown() {
	select {
	case a.shutdownChan <- struct{}{}:
	default:
	}
}

// initStorage initializes the storage layer and queue manager
func (a *App) initStorage() error {
	manager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = manager

	queueMgr, err := queue.NewManager(
		manager.Badger(),
		a.Config.Queue.QueueName,
		a.Config.Queue.ParseVisibilityTimeout(),
		a.Config.Queue.MaxReceive,
	)
	if err != nil {
		return fmt.Errorf("failed to create queue manager: %w", err)
	}
	a.QueueManager = queueMgr

	return nil
}

// initServices initializes detection, events, jobs, scanning and scheduling
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)

	classes, err := common.LoadClassMap(a.Config.Detector.ClassesFile)
	if err != nil {
		return fmt.Errorf("failed to load class map: %w", err)
	}
	a.Classes = classes

	detector, err := detect.NewHTTPDetector(&a.Config.Detector, classes, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}
	a.Detector = detector

	registry := jobsvc.NewCancelRegistry()
	a.JobService = jobsvc.NewService(a.StorageManager, a.QueueManager, a.EventService, registry, a.Logger)

	a.ScannerService = scanner.NewService(
		a.Config.Pipeline.InputDir,
		a.Config.Pipeline.Extensions,
		a.JobService,
		a.EventService,
		a.Logger,
	)

	if a.Config.Pipeline.Watch {
		a.Watcher = scanner.NewWatcher(
			a.Config.Pipeline.InputDir,
			a.Config.Pipeline.ParseWatchSettleDelay(),
			a.ScannerService,
			a.Logger,
		)
	}

	a.SchedulerService = schedulersvc.NewService(
		a.JobService,
		a.StorageManager.JobStorage(),
		a.EventService,
		a.Config.Pipeline.ScanSchedule,
		a.Config.Pipeline.ParseStaleJobThreshold(),
		a.Logger,
	)

	a.StatusService = status.NewService(a.EventService, a.Logger)
	a.StatusService.SubscribeToJobEvents()

	annotator := detect.NewAnnotator(&a.Config.Annotate)

	a.Processor = queue.NewProcessor(a.QueueManager, a.StorageManager, a.EventService, a.Logger, a.Config.Queue.Concurrency)
	a.Processor.RegisterWorker(workers.NewScanWorker(a.ScannerService, a.StorageManager, a.Logger))
	a.Processor.RegisterWorker(workers.NewVideoWorker(workers.VideoWorkerOptions{
		Storage:             a.StorageManager,
		QueueManager:        a.QueueManager,
		Detector:            a.Detector,
		Events:              a.EventService,
		Registry:            registry,
		Annotator:           annotator,
		InputDir:            a.Config.Pipeline.InputDir,
		OutputDir:           a.Config.Pipeline.OutputDir,
		DeleteSourceOnDone:  a.Config.Pipeline.DeleteSourceOnDone,
		HeartbeatInterval:   a.Config.Pipeline.ParseHeartbeatInterval(),
		ProgressLogInterval: a.Config.Pipeline.ProgressLogInterval,
		VisibilityTimeout:   a.Config.Queue.ParseVisibilityTimeout(),
		Logger:              a.Logger,
	}))

	return nil
}

// initHandlers initializes the HTTP handlers
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler()
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.Logger)
	a.VideoHandler = handlers.NewVideoHandler(a.JobService, a.Logger)
	a.ResultHandler = handlers.NewResultHandler(a.StorageManager, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StatusService, a.JobService, a.Logger)
	a.ScanHandler = handlers.NewScanHandler(a.JobService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger, &a.Config.WebSocket)
	return nil
}

// Start recovers interrupted jobs and launches background processing
func (a *App) Start() error {
	// Jobs left running by a previous process go back to pending; their
	// queue messages were never deleted and will be redelivered once the
	// old visibility timeout lapses
	reset, err := a.StorageManager.JobStorage().MarkRunningJobsAsPending(a.ctx, "service restarted")
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Startup job recovery failed")
	} else if reset > 0 {
		a.Logger.Info().Int("count", reset).Msg("Reset interrupted jobs to pending")
	}

	if err := a.Processor.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start job processor: %w", err)
	}

	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if a.Watcher != nil {
		if err := a.Watcher.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
	}

	// Initial sweep so videos already in the input directory get picked up
	if _, err := a.JobService.CreateScanJob(a.ctx, "startup"); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to enqueue startup scan")
	}

	return nil
}

// Close shuts down all components in reverse dependency order
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.Logger.Info().Msg("Cancelling background goroutines")
		a.cancelCtx()
		time.Sleep(100 * time.Millisecond)
	}

	if a.Watcher != nil {
		a.Watcher.Stop()
		a.Logger.Info().Msg("Watcher stopped")
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.Processor != nil {
		a.Processor.Stop()
	}

	if a.Detector != nil {
		if err := a.Detector.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close detector")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close queue manager")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		} else {
			a.Logger.Info().Msg("Storage closed")
		}
	}

	return nil
}
