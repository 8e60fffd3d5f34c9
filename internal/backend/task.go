package backend

import (
	"context"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// IndexTask is the deferred half of Create. Run it exactly once.
type IndexTask struct {
	backend    *Backend
	doc        *domain.IngestedDocument
	superseded []*domain.Resource
}

// ResourceID is the id of the resource the task indexes.
func (t *IndexTask) ResourceID() string {
	return t.doc.ID
}

// ClassID is the class of the resource the task indexes.
func (t *IndexTask) ClassID() string {
	return t.doc.ClassID
}

// Release drops the task's scratch files without running it. The resource
// stays PENDING until something resumes it.
func (t *IndexTask) Release() {
	t.backend.cleanup(t.doc)
}

// Run purges superseded records, then indexes the resource and completes
// it. Failures leave the resource FAILED and are reported, not returned.
func (t *IndexTask) Run(ctx context.Context) {
	b := t.backend
	defer b.cleanup(t.doc)

	ctx, span := telemetry.StartSpan(ctx, "backend.index_task", telemetry.SpanAttributes{
		ClassID:    t.doc.ClassID,
		ResourceID: t.doc.ID,
		Operation:  "index",
	})
	defer span.End()

	log := b.logger.WithFields(logrus.Fields{
		"class_id":    t.doc.ClassID,
		"resource_id": t.doc.ID,
	})

	if err := t.run(ctx, log); err != nil {
		span.SetError(err)
		t.doc.MarkStatus(domain.ResourceStatusFailed, b.now())
		if ferr := b.setStatus(ctx, t.doc.ID, domain.ResourceStatusFailed, t.doc.ModifiedAt); ferr != nil {
			log.WithError(ferr).Error("failed to mark resource failed")
		}
		log.WithError(err).Error("resource indexing failed")
		telemetry.CaptureError(ctx, err)
	}
}

func (t *IndexTask) run(ctx context.Context, log logrus.FieldLogger) error {
	b := t.backend
	for _, old := range t.superseded {
		if err := b.removeArtifacts(ctx, old, old.ID != t.doc.ID); err != nil {
			return err
		}
		log.WithField("superseded_id", old.ID).Info("superseded resource purged")
	}

	t.doc.MarkStatus(domain.ResourceStatusProcessing, b.now())
	if err := b.setStatus(ctx, t.doc.ID, domain.ResourceStatusProcessing, t.doc.ModifiedAt); err != nil {
		return err
	}

	result, err := b.indexer.Index(ctx, t.doc)
	if err != nil {
		return err
	}

	now := b.now()
	if err := b.policy.Do(ctx, "complete_resource", func(ctx context.Context) error {
		return b.store.CompleteResource(ctx, t.doc.ID, result.ChunkIDs, now)
	}); err != nil {
		return domain.External(err)
	}
	return t.doc.Complete(result.ChunkIDs, now)
}
