// Package jobs schedules index tasks. Tasks run either on an in-process
// worker pool or through a Redis-backed queue, and a periodic sweeper hands
// forgotten pending resources back to whichever scheduler is in use.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// JobProcessor is one unit of periodic work.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker runs a JobProcessor once at start and then on every tick until
// stopped.
type Worker struct {
	processor JobProcessor
	interval  time.Duration
	logger    logrus.FieldLogger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopped  bool
	stopOnce sync.Once
}

func NewWorker(processor JobProcessor, interval time.Duration, logger logrus.FieldLogger) *Worker {
	return &Worker{
		processor: processor,
		interval:  interval,
		logger:    logger,
	}
}

// Start blocks until ctx is cancelled or Stop is called. A Worker starts at
// most once.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.stopped || w.done != nil {
		w.mu.Unlock()
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()
	defer close(done)

	log := w.logger.WithField("interval", w.interval.String())
	log.Info("worker started")

	w.run(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

func (w *Worker) run(ctx context.Context) {
	if err := w.processor.ProcessJobs(ctx); err != nil && ctx.Err() == nil {
		w.logger.WithError(err).Error("periodic job failed")
	}
}

// Stop ends the loop and waits for an in-flight pass to return. It is safe
// to call more than once, and before Start.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		cancel, done := w.cancel, w.done
		w.mu.Unlock()

		if cancel == nil {
			return
		}
		cancel()
		<-done
		w.logger.Info("worker shutdown complete")
	})
}
