package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/telemetry"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTaskEnqueuer struct {
	mock.Mock
}

func (m *MockTaskEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

func indexTask(t *testing.T, resourceID string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(IndexPayload{ResourceID: resourceID})
	require.NoError(t, err)
	return asynq.NewTask(TypeIndexResource, data)
}

func TestQueue_Enqueue(t *testing.T) {
	client := new(MockTaskEnqueuer)
	client.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		var p IndexPayload
		return task.Type() == TypeIndexResource && json.Unmarshal(task.Payload(), &p) == nil && p.ResourceID == "r1"
	}), mock.Anything).Return(&asynq.TaskInfo{ID: "resource:index:r1", Queue: "indexing"}, nil)

	q := NewQueue(client, QueueConfig{Name: "indexing", MaxRetry: 3}, telemetry.Discard())
	require.NoError(t, q.Enqueue(context.Background(), "r1"))
	client.AssertExpectations(t)
}

func TestQueue_Enqueue_AlreadyQueued(t *testing.T) {
	client := new(MockTaskEnqueuer)
	client.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, asynq.ErrTaskIDConflict)

	q := NewQueue(client, QueueConfig{}, telemetry.Discard())
	assert.NoError(t, q.Enqueue(context.Background(), "r1"))
}

func TestQueue_Enqueue_Error(t *testing.T) {
	client := new(MockTaskEnqueuer)
	client.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: connection refused"))

	q := NewQueue(client, QueueConfig{}, telemetry.Discard())
	err := q.Enqueue(context.Background(), "r1")
	assert.ErrorContains(t, err, "enqueue resource:index")
}

func TestIndexHandler_ProcessTask(t *testing.T) {
	resumer := new(MockResumer)
	task := &countingTask{id: "r1"}
	resumer.On("Resume", mock.Anything, "r1").Return(task, nil)

	h := NewIndexHandler(resumer, telemetry.Discard())
	require.NoError(t, h.ProcessTask(context.Background(), indexTask(t, "r1")))
	assert.Equal(t, int32(1), task.runs.Load())
}

func TestIndexHandler_SkipsSettledResources(t *testing.T) {
	for _, err := range []error{domain.ErrResourceNotFound, domain.ErrValidation} {
		resumer := new(MockResumer)
		resumer.On("Resume", mock.Anything, "r1").Return(nil, err)

		h := NewIndexHandler(resumer, telemetry.Discard())
		assert.NoError(t, h.ProcessTask(context.Background(), indexTask(t, "r1")))
	}
}

func TestIndexHandler_TransientFailureIsRetried(t *testing.T) {
	resumer := new(MockResumer)
	resumer.On("Resume", mock.Anything, "r1").Return(nil, domain.ErrExternalService)

	h := NewIndexHandler(resumer, telemetry.Discard())
	err := h.ProcessTask(context.Background(), indexTask(t, "r1"))

	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestIndexHandler_BadPayload(t *testing.T) {
	h := NewIndexHandler(new(MockResumer), telemetry.Discard())

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeIndexResource, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = h.ProcessTask(context.Background(), asynq.NewTask(TypeIndexResource, []byte(`{}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
