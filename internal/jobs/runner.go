package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloo-solutions/taisearch/internal/backend"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// Task is a scheduled unit of indexing work.
type Task interface {
	ResourceID() string
	Run(ctx context.Context)
}

// Resumer rebuilds the task of a stored resource.
type Resumer interface {
	Resume(ctx context.Context, resourceID string) (Task, error)
}

type backendResumer struct {
	backend *backend.Backend
}

// FromBackend adapts a backend to Resumer.
func FromBackend(b *backend.Backend) Resumer {
	return backendResumer{backend: b}
}

func (r backendResumer) Resume(ctx context.Context, resourceID string) (Task, error) {
	task, err := r.backend.Resume(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Runner executes tasks on a bounded in-process goroutine pool.
type Runner struct {
	pool   *ants.Pool
	wg     sync.WaitGroup
	logger logrus.FieldLogger
}

func NewRunner(size int, logger logrus.FieldLogger) (*Runner, error) {
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p any) {
		logger.WithField("panic", p).Error("index task panicked")
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create runner pool: %w", err)
	}
	return &Runner{pool: pool, logger: logger}, nil
}

// Submit schedules task. It blocks while every worker is busy.
func (r *Runner) Submit(task Task) error {
	r.wg.Add(1)
	err := r.pool.Submit(func() {
		defer r.wg.Done()
		task.Run(context.Background())
	})
	if err != nil {
		r.wg.Done()
		return fmt.Errorf("failed to schedule resource %s: %w", task.ResourceID(), err)
	}
	r.logger.WithField("resource_id", task.ResourceID()).Debug("index task scheduled")
	return nil
}

// Close waits for running tasks, up to ctx, and releases the pool.
func (r *Runner) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	defer r.pool.Release()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LocalEnqueuer schedules stored resources on a Runner.
type LocalEnqueuer struct {
	Runner  *Runner
	Resumer Resumer
}

// Enqueue implements Enqueuer.
func (l LocalEnqueuer) Enqueue(ctx context.Context, resourceID string) error {
	task, err := l.Resumer.Resume(ctx, resourceID)
	if err != nil {
		return err
	}
	return l.Runner.Submit(task)
}
