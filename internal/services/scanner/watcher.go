// -----------------------------------------------------------------------
// Directory Watcher - Enqueues videos as they land in the input directory
// -----------------------------------------------------------------------

package scanner

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/visum/internal/common"
)

// Watcher observes the input directory with fsnotify and enqueues a
// video job once a new file has settled. Files are considered settled
// when their size stops changing for the settle delay, which covers
// videos still being copied in.
type Watcher struct {
	inputDir    string
	settleDelay time.Duration
	scanner     *Service
	logger      arbor.ILogger

	mu      sync.Mutex
	pending map[string]*time.Timer
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher creates a directory watcher
func NewWatcher(inputDir string, settleDelay time.Duration, scanner *Service, logger arbor.ILogger) *Watcher {
	if settleDelay <= 0 {
		settleDelay = 2 * time.Second
	}
	return &Watcher{
		inputDir:    inputDir,
		settleDelay: settleDelay,
		scanner:     scanner,
		logger:      logger,
		pending:     make(map[string]*time.Timer),
	}
}

// Start begins watching the input directory
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := fsw.Add(w.inputDir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.inputDir, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.logger.Info().
		Str("dir", w.inputDir).
		Dur("settle_delay", w.settleDelay).
		Msg("Watching input directory")

	common.SafeGo(w.logger, "dir-watcher", func() {
		defer close(w.done)
		defer fsw.Close()
		w.loop(runCtx, fsw)
	})

	return nil
}

// Stop shuts down the watcher and pending settle timers
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done

	w.mu.Lock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.scanner.IsVideoFile(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

// schedule arms (or re-arms on further writes) a settle timer for a path
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.settleDelay)
		return
	}

	w.logger.Debug().Str("path", path).Msg("New video detected, waiting for settle")

	w.pending[path] = time.AfterFunc(w.settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.settle(ctx, path)
	})
}

// settle confirms the file size is stable before enqueueing
func (w *Watcher) settle(ctx context.Context, path string) {
	info1, err := os.Stat(path)
	if err != nil {
		w.logger.Debug().Err(err).Str("path", path).Msg("Settled file vanished")
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(500 * time.Millisecond):
	}

	info2, err := os.Stat(path)
	if err != nil || info1.Size() != info2.Size() {
		// Still growing, give it another settle period
		w.schedule(ctx, path)
		return
	}

	jobID, err := w.scanner.jobService.CreateVideoJob(ctx, path, "watch", false)
	if err != nil {
		w.logger.Warn().Err(err).Str("source", path).Msg("Failed to enqueue watched video")
		return
	}
	if jobID != "" {
		w.logger.Info().Str("job_id", jobID).Str("source", path).Msg("Watched video enqueued")
	}
}
