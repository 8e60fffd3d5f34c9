package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultSweepBatch = 50

// PendingLister finds resources that were accepted but never indexed.
type PendingLister interface {
	PendingResourceIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// Enqueuer schedules indexing of a stored resource by id.
type Enqueuer interface {
	Enqueue(ctx context.Context, resourceID string) error
}

// Sweeper re-schedules resources left PENDING for longer than a grace
// period, which happens when a process dies between accepting a resource and
// running its task.
type Sweeper struct {
	lister   PendingLister
	enqueuer Enqueuer
	grace    time.Duration
	batch    int
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewSweeper(lister PendingLister, enqueuer Enqueuer, grace time.Duration, logger logrus.FieldLogger) *Sweeper {
	return &Sweeper{
		lister:   lister,
		enqueuer: enqueuer,
		grace:    grace,
		batch:    defaultSweepBatch,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessJobs implements JobProcessor.
func (s *Sweeper) ProcessJobs(ctx context.Context) error {
	ids, err := s.lister.PendingResourceIDs(ctx, s.now().Add(-s.grace), s.batch)
	if err != nil {
		return fmt.Errorf("failed to list pending resources: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	s.logger.WithField("count", len(ids)).Info("rescheduling pending resources")
	for _, id := range ids {
		if err := s.enqueuer.Enqueue(ctx, id); err != nil {
			s.logger.WithError(err).WithField("resource_id", id).Error("failed to reschedule resource")
		}
	}
	return nil
}
