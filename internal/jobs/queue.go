package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// TypeIndexResource is the asynq task type that indexes one resource.
const TypeIndexResource = "resource:index"

const defaultTaskTimeout = time.Hour

// IndexPayload is the body of a TypeIndexResource task.
type IndexPayload struct {
	ResourceID string `json:"resource_id"`
}

// TaskEnqueuer is the part of *asynq.Client the queue uses.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type QueueConfig struct {
	Name     string
	MaxRetry int
	Timeout  time.Duration
}

// Queue schedules index tasks on Redis through asynq.
type Queue struct {
	client TaskEnqueuer
	cfg    QueueConfig
	logger logrus.FieldLogger
}

func NewQueue(client TaskEnqueuer, cfg QueueConfig, logger logrus.FieldLogger) *Queue {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTaskTimeout
	}
	return &Queue{client: client, cfg: cfg, logger: logger}
}

// Enqueue implements Enqueuer. A task already queued for the resource is
// left in place.
func (q *Queue) Enqueue(ctx context.Context, resourceID string) error {
	data, err := json.Marshal(IndexPayload{ResourceID: resourceID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(TypeIndexResource, data)
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.cfg.Name),
		asynq.MaxRetry(q.cfg.MaxRetry),
		asynq.Timeout(q.cfg.Timeout),
		asynq.TaskID(indexTaskID(resourceID)),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.logger.WithField("resource_id", resourceID).Debug("index task already queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeIndexResource, err)
	}
	q.logger.WithFields(logrus.Fields{
		"resource_id": resourceID,
		"task_id":     info.ID,
		"queue":       info.Queue,
	}).Debug("index task enqueued")
	return nil
}

func indexTaskID(resourceID string) string {
	return TypeIndexResource + ":" + resourceID
}

// IndexHandler processes TypeIndexResource tasks.
type IndexHandler struct {
	resumer Resumer
	logger  logrus.FieldLogger
}

func NewIndexHandler(resumer Resumer, logger logrus.FieldLogger) *IndexHandler {
	return &IndexHandler{resumer: resumer, logger: logger}
}

// ProcessTask implements asynq.Handler. Resources that are gone or no
// longer pending are skipped; transient resume failures are retried by the
// queue.
func (h *IndexHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload IndexPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ResourceID == "" {
		return fmt.Errorf("payload has no resource_id: %w", asynq.SkipRetry)
	}
	log := h.logger.WithField("resource_id", payload.ResourceID)

	task, err := h.resumer.Resume(ctx, payload.ResourceID)
	if err != nil {
		if domain.IsPermanent(err) {
			log.WithError(err).Warn("skipping index task")
			return nil
		}
		return fmt.Errorf("resume resource %s: %w", payload.ResourceID, err)
	}

	log.Info("processing index task")
	task.Run(ctx)
	return nil
}

type ServerConfig struct {
	Queue       string
	Concurrency int
}

// NewServer builds an asynq server that serves index tasks from the given
// queue.
func NewServer(redis asynq.RedisConnOpt, cfg ServerConfig, logger logrus.FieldLogger) *asynq.Server {
	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}
	return asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      logger,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.WithError(err).WithField("type", task.Type()).Error("task failed")
		}),
	})
}

// NewMux routes index tasks to handler.
func NewMux(handler *IndexHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeIndexResource, handler)
	return mux
}
