package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloo-solutions/taisearch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockPendingLister struct {
	mock.Mock
}

func (m *MockPendingLister) PendingResourceIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) Enqueue(ctx context.Context, resourceID string) error {
	return m.Called(ctx, resourceID).Error(0)
}

func TestWorker_RunsImmediatelyThenOnTick(t *testing.T) {
	var calls atomic.Int32
	processor := new(MockJobProcessor)
	processor.On("ProcessJobs", mock.Anything).Run(func(mock.Arguments) { calls.Add(1) }).Return(nil)

	worker := NewWorker(processor, 50*time.Millisecond, telemetry.Discard())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(context.Background())
	}()

	assert.Eventually(t, func() bool {
		return calls.Load() >= 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(130 * time.Millisecond)

	worker.Stop()
	wg.Wait()

	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestWorker_ContextCancellation(t *testing.T) {
	var calls atomic.Int32
	processor := new(MockJobProcessor)
	processor.On("ProcessJobs", mock.Anything).Run(func(mock.Arguments) { calls.Add(1) }).Return(errors.New("database error"))

	worker := NewWorker(processor, time.Hour, telemetry.Discard())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return calls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after cancellation")
	}

	worker.Stop()
}

func TestWorker_StopBeforeStart(t *testing.T) {
	processor := new(MockJobProcessor)
	worker := NewWorker(processor, time.Millisecond, telemetry.Discard())

	worker.Stop()
	worker.Stop()
	worker.Start(context.Background())

	processor.AssertNotCalled(t, "ProcessJobs", mock.Anything)
}

func TestSweeper_ProcessJobs_NoPendingResources(t *testing.T) {
	lister := new(MockPendingLister)
	enqueuer := new(MockEnqueuer)
	lister.On("PendingResourceIDs", mock.Anything, mock.Anything, defaultSweepBatch).Return([]string{}, nil)

	sweeper := NewSweeper(lister, enqueuer, 5*time.Minute, telemetry.Discard())
	err := sweeper.ProcessJobs(context.Background())

	assert.NoError(t, err)
	lister.AssertExpectations(t)
	enqueuer.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestSweeper_ProcessJobs_UsesGraceCutoff(t *testing.T) {
	lister := new(MockPendingLister)
	enqueuer := new(MockEnqueuer)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	lister.On("PendingResourceIDs", mock.Anything, now.Add(-5*time.Minute), defaultSweepBatch).Return([]string{"r1", "r2"}, nil)
	enqueuer.On("Enqueue", mock.Anything, "r1").Return(nil)
	enqueuer.On("Enqueue", mock.Anything, "r2").Return(nil)

	sweeper := NewSweeper(lister, enqueuer, 5*time.Minute, telemetry.Discard())
	sweeper.now = func() time.Time { return now }
	err := sweeper.ProcessJobs(context.Background())

	assert.NoError(t, err)
	lister.AssertExpectations(t)
	enqueuer.AssertExpectations(t)
}

func TestSweeper_ProcessJobs_EnqueueFailureContinues(t *testing.T) {
	lister := new(MockPendingLister)
	enqueuer := new(MockEnqueuer)
	lister.On("PendingResourceIDs", mock.Anything, mock.Anything, mock.Anything).Return([]string{"r1", "r2"}, nil)
	enqueuer.On("Enqueue", mock.Anything, "r1").Return(errors.New("redis down"))
	enqueuer.On("Enqueue", mock.Anything, "r2").Return(nil)

	sweeper := NewSweeper(lister, enqueuer, time.Minute, telemetry.Discard())
	err := sweeper.ProcessJobs(context.Background())

	assert.NoError(t, err)
	enqueuer.AssertNumberOfCalls(t, "Enqueue", 2)
}

func TestSweeper_ProcessJobs_ListError(t *testing.T) {
	lister := new(MockPendingLister)
	enqueuer := new(MockEnqueuer)
	lister.On("PendingResourceIDs", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("database error"))

	sweeper := NewSweeper(lister, enqueuer, time.Minute, telemetry.Discard())
	err := sweeper.ProcessJobs(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list pending resources")
}
