// -----------------------------------------------------------------------
// Job Processor - Polls the queue and dispatches jobs to workers
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/common"
	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/models"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// Processor pulls messages off the queue and routes them to registered
// workers by job type. Each concurrency slot runs its own poll loop.
type Processor struct {
	queue       interfaces.QueueManager
	storage     interfaces.StorageManager
	events      interfaces.EventService
	logger      arbor.ILogger
	concurrency int

	mu      sync.RWMutex
	workers map[string]interfaces.JobWorker
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewProcessor creates a job processor
func NewProcessor(queue interfaces.QueueManager, storage interfaces.StorageManager, events interfaces.EventService, logger arbor.ILogger, concurrency int) *Processor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Processor{
		queue:       queue,
		storage:     storage,
		events:      events,
		logger:      logger,
		concurrency: concurrency,
		workers:     make(map[string]interfaces.JobWorker),
	}
}

// RegisterWorker registers a worker for its job type
func (p *Processor) RegisterWorker(worker interfaces.JobWorker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers[worker.GetWorkerType()] = worker
	p.logger.Info().Str("worker_type", worker.GetWorkerType()).Msg("Worker registered")
}

// Start launches the poll loops
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("processor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.logger.Info().Int("concurrency", p.concurrency).Msg("Starting job processor")

	// A dropped poison message would otherwise leave its job pending forever
	p.queue.SetDropHandler(func(msg models.QueueMessage) {
		p.logger.Warn().
			Str("job_id", msg.JobID).
			Str("job_type", msg.Type).
			Msg("Message dropped after max delivery attempts")
		p.failJob(context.Background(), msg.JobID, "message exceeded max delivery attempts")
	})

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		slot := i
		common.SafeGo(p.logger, fmt.Sprintf("queue-poll-%d", slot), func() {
			defer p.wg.Done()
			p.pollLoop(runCtx, slot)
		})
	}

	return nil
}

// Stop signals the poll loops and waits for in-flight jobs to finish
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("Job processor stopped")
}

// IsRunning returns whether the processor is active
func (p *Processor) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Processor) pollLoop(ctx context.Context, slot int) {
	log := p.logger
	backoff := minBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, msgID, deleteFn, err := p.queue.Receive(ctx)
		if err != nil {
			if err == ErrNoMessage {
				// Back off exponentially while the queue is idle
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			log.Warn().Err(err).Msg("Queue receive failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(maxBackoff):
			}
			continue
		}

		backoff = minBackoff
		p.process(ctx, log, msg, msgID, deleteFn)
	}
}

// process executes a single message. The message is deleted on success
// or permanent failure; transient failures leave it for redelivery
// after the visibility timeout.
func (p *Processor) process(ctx context.Context, log arbor.ILogger, msg *models.QueueMessage, msgID string, deleteFn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job_id", msg.JobID).Msgf("Panic processing job: %v", r)
			p.failJob(ctx, msg.JobID, fmt.Sprintf("panic: %v", r))
			if err := deleteFn(); err != nil {
				log.Warn().Err(err).Msg("Failed to delete panicked message")
			}
		}
	}()

	p.mu.RLock()
	worker, ok := p.workers[msg.Type]
	p.mu.RUnlock()
	if !ok {
		log.Warn().Str("job_type", msg.Type).Str("job_id", msg.JobID).Msg("No worker for job type, dropping message")
		if err := deleteFn(); err != nil {
			log.Warn().Err(err).Msg("Failed to delete unroutable message")
		}
		return
	}

	state, err := p.storage.JobStorage().GetJob(ctx, msg.JobID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", msg.JobID).Msg("Job not found in storage, dropping message")
		if err := deleteFn(); err != nil {
			log.Warn().Err(err).Msg("Failed to delete orphaned message")
		}
		return
	}

	if state.Status == models.JobStatusCancelled {
		log.Info().Str("job_id", msg.JobID).Msg("Skipping cancelled job")
		if err := deleteFn(); err != nil {
			log.Warn().Err(err).Msg("Failed to delete cancelled message")
		}
		return
	}

	if err := worker.Validate(state.ToVideoJob()); err != nil {
		log.Warn().Err(err).Str("job_id", msg.JobID).Msg("Job failed validation")
		p.failJob(ctx, msg.JobID, fmt.Sprintf("validation: %v", err))
		if err := deleteFn(); err != nil {
			log.Warn().Err(err).Msg("Failed to delete invalid message")
		}
		return
	}

	log.Info().
		Str("job_id", msg.JobID).
		Str("job_type", msg.Type).
		Str("job_name", state.Name).
		Msg("Processing job")

	state.MarkStarted()
	if err := p.storage.JobStorage().SaveJob(ctx, state); err != nil {
		log.Warn().Err(err).Str("job_id", msg.JobID).Msg("Failed to mark job running")
	}
	p.publishEvent(ctx, interfaces.EventJobStarted, state)

	start := time.Now()
	execErr := worker.Execute(ctx, state, msgID)
	elapsed := time.Since(start)

	if execErr != nil {
		if ctx.Err() != nil {
			// Shutdown mid-job: leave message for redelivery, reset status
			log.Info().Str("job_id", msg.JobID).Msg("Job interrupted by shutdown, will retry")
			state.Status = models.JobStatusPending
			state.StartedAt = nil
			_ = p.storage.JobStorage().SaveJob(context.Background(), state)
			return
		}

		// An API cancellation aborts the worker via its job context; the
		// job service already marked the state, so just drop the message
		if current, err := p.storage.JobStorage().GetJob(ctx, msg.JobID); err == nil && current.Status == models.JobStatusCancelled {
			log.Info().Str("job_id", msg.JobID).Msg("Job cancelled during execution")
			if err := deleteFn(); err != nil {
				log.Warn().Err(err).Msg("Failed to delete cancelled message")
			}
			return
		}

		log.Warn().Err(execErr).Str("job_id", msg.JobID).Dur("elapsed", elapsed).Msg("Job failed")
		p.failJob(ctx, msg.JobID, execErr.Error())
		if err := deleteFn(); err != nil {
			log.Warn().Err(err).Msg("Failed to delete failed message")
		}
		return
	}

	log.Info().
		Str("job_id", msg.JobID).
		Dur("elapsed", elapsed).
		Msg("Job completed")

	// Worker marked the job completed; refresh state for the event
	if final, err := p.storage.JobStorage().GetJob(ctx, msg.JobID); err == nil {
		p.publishEvent(ctx, interfaces.EventJobCompleted, final)
	}

	if err := deleteFn(); err != nil {
		log.Warn().Err(err).Str("job_id", msg.JobID).Msg("Failed to delete completed message")
	}
}

func (p *Processor) failJob(ctx context.Context, jobID, reason string) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	state, err := p.storage.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return
	}
	if state.Status.IsTerminal() {
		return
	}
	state.MarkFailed(reason)
	if err := p.storage.JobStorage().SaveJob(ctx, state); err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist failure")
	}
	p.publishEvent(ctx, interfaces.EventJobFailed, state)
}

func (p *Processor) publishEvent(ctx context.Context, eventType interfaces.EventType, state *models.VideoJobState) {
	if p.events == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := p.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: state}); err != nil {
		p.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}
