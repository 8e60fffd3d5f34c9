// Package backend is the entry point for resource lifecycle operations. It
// owns the status state machine, duplicate detection, stale-record recovery
// and deletion, and delegates the indexing work itself to the indexer.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/indexer"
	"github.com/cloo-solutions/taisearch/internal/ingest"
	"github.com/cloo-solutions/taisearch/internal/retry"
	"github.com/cloo-solutions/taisearch/internal/telemetry"
	"github.com/sirupsen/logrus"
)

const (
	DefaultProcessingTimeout = 30 * time.Minute
	DefaultFrequencyWindow   = 7 * 24 * time.Hour
)

// Admission rejects work while the host is overloaded.
type Admission interface {
	Admit(ctx context.Context) error
}

// Indexer ingests, indexes and searches resources.
type Indexer interface {
	Ingest(ctx context.Context, req ingest.Request) (*domain.IngestedDocument, error)
	Index(ctx context.Context, doc *domain.IngestedDocument) (*indexer.IndexResult, error)
	Search(ctx context.Context, req indexer.SearchRequest) (*indexer.SearchResult, error)
}

// Store is the document store as seen by the backend.
type Store interface {
	UpsertResource(ctx context.Context, r *domain.Resource) error
	GetResources(ctx context.Context, ids []string) ([]*domain.Resource, error)
	GetResourcesByClass(ctx context.Context, classID string) ([]*domain.Resource, error)
	FindDuplicates(ctx context.Context, classID, contentHash, id string) ([]*domain.Resource, error)
	UpdateStatus(ctx context.Context, id string, status domain.ResourceStatus, now time.Time) error
	CompleteResource(ctx context.Context, id string, chunkIDs []string, now time.Time) error
	DeleteResources(ctx context.Context, ids []string) error
	MostFrequentlyAccessed(ctx context.Context, classID string, from, to time.Time) ([]domain.ResourceUsage, error)
	GetChunks(ctx context.Context, ids []string) ([]*domain.Chunk, error)
	ChunkIDsByResources(ctx context.Context, resourceIDs []string) ([]string, error)
	DeleteChunks(ctx context.Context, ids []string) error
}

// VectorDeleter removes vector records from a class namespace.
type VectorDeleter interface {
	Delete(ctx context.Context, classID string, ids []string) error
}

type Config struct {
	// ProcessingTimeout is how long a resource may sit in a non-terminal
	// status before it counts as stuck.
	ProcessingTimeout time.Duration
}

// CreateRequest is a resource submission.
type CreateRequest struct {
	ID          string
	ClassID     string
	URL         string
	Title       string
	Description string
	Tags        []string
	Strategy    domain.IngestStrategy
}

type Backend struct {
	cfg       Config
	admission Admission
	indexer   Indexer
	store     Store
	vectors   VectorDeleter
	policy    retry.Policy
	logger    logrus.FieldLogger
	now       func() time.Time
}

func New(cfg Config, admission Admission, ix Indexer, store Store, vectors VectorDeleter, policy retry.Policy, logger logrus.FieldLogger) *Backend {
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = DefaultProcessingTimeout
	}
	return &Backend{
		cfg:       cfg,
		admission: admission,
		indexer:   ix,
		store:     store,
		vectors:   vectors,
		policy:    policy,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create admits, ingests and registers a resource at PENDING. The returned
// task performs the indexing and must be scheduled by the caller.
func (b *Backend) Create(ctx context.Context, req CreateRequest) (*IndexTask, error) {
	if req.ClassID == "" || req.URL == "" {
		return nil, domain.ErrMissingRequiredField
	}
	if req.ID != "" {
		if _, err := domain.ParseResourceID(req.ID); err != nil {
			return nil, err
		}
	}
	if err := b.admission.Admit(ctx); err != nil {
		return nil, err
	}

	doc, err := b.indexer.Ingest(ctx, ingest.Request{
		ID:          req.ID,
		ClassID:     req.ClassID,
		URL:         req.URL,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		Strategy:    req.Strategy,
	})
	if err != nil {
		return nil, err
	}

	superseded, err := b.checkDuplicates(ctx, doc)
	if err != nil {
		b.cleanup(doc)
		return nil, err
	}
	if err := b.register(ctx, doc, time.Time{}); err != nil {
		b.cleanup(doc)
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"class_id":    doc.ClassID,
		"resource_id": doc.ID,
		"format":      doc.InputFormat,
		"superseded":  len(superseded),
	}).Info("resource accepted")
	return &IndexTask{backend: b, doc: doc, superseded: superseded}, nil
}

// checkDuplicates returns the records doc replaces, or ErrDuplicateResource
// when a live record already holds the same content or id. An id held in
// another class, or by a child, is never replaced.
func (b *Backend) checkDuplicates(ctx context.Context, doc *domain.IngestedDocument) ([]*domain.Resource, error) {
	matches, err := retry.DoValue(ctx, b.policy, "find_duplicates", func(ctx context.Context) ([]*domain.Resource, error) {
		return b.store.FindDuplicates(ctx, doc.ClassID, doc.ContentHash, doc.ID)
	})
	if err != nil {
		return nil, domain.External(err)
	}

	now := b.now()
	var superseded []*domain.Resource
	for _, m := range matches {
		if m.ClassID != doc.ClassID || m.Kind != domain.ResourceKindRoot {
			return nil, domain.ErrDuplicateResource.WithCause(
				fmt.Errorf("resource id %s is taken by a %s resource in class %s", m.ID, m.Kind, m.ClassID))
		}
		if m.Status == domain.ResourceStatusFailed || m.IsStuck(now, b.cfg.ProcessingTimeout) {
			superseded = append(superseded, m)
			continue
		}
		return nil, domain.ErrDuplicateResource.WithCause(fmt.Errorf("resource %s is %s", m.ID, m.Status))
	}
	return superseded, nil
}

// register persists doc as a PENDING root. A zero createdAt means now.
func (b *Backend) register(ctx context.Context, doc *domain.IngestedDocument, createdAt time.Time) error {
	now := b.now()
	if createdAt.IsZero() {
		createdAt = now
	}
	doc.Kind = domain.ResourceKindRoot
	doc.CreatedAt = createdAt
	doc.MarkStatus(domain.ResourceStatusPending, now)
	if err := b.policy.Do(ctx, "upsert_resource", func(ctx context.Context) error {
		return b.store.UpsertResource(ctx, &doc.Resource)
	}); err != nil {
		return domain.External(err)
	}
	return nil
}

// Resume rebuilds the index task of a resource left PENDING or stuck, by
// fetching its source again.
func (b *Backend) Resume(ctx context.Context, id string) (*IndexTask, error) {
	existing, err := b.getOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != domain.ResourceStatusPending && !existing.IsStuck(b.now(), b.cfg.ProcessingTimeout) {
		return nil, domain.ErrValidation.WithCause(fmt.Errorf("resource %s is %s", id, existing.Status))
	}

	doc, err := b.indexer.Ingest(ctx, ingest.Request{
		ID:          existing.ID,
		ClassID:     existing.ClassID,
		URL:         existing.SourceURL,
		Title:       existing.Metadata.Title,
		Description: existing.Metadata.Description,
		Tags:        existing.Metadata.Tags,
		Strategy:    existing.IngestStrategy,
	})
	if err != nil {
		// Leave nothing PENDING that can never be fetched.
		if ferr := b.setStatus(ctx, existing.ID, domain.ResourceStatusFailed, b.now()); ferr != nil {
			b.logger.WithError(ferr).WithField("resource_id", existing.ID).Error("failed to mark resource failed")
		}
		telemetry.CaptureError(ctx, err)
		return nil, err
	}
	if err := b.register(ctx, doc, existing.CreatedAt); err != nil {
		b.cleanup(doc)
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"class_id":    doc.ClassID,
		"resource_id": doc.ID,
	}).Info("resource resumed")
	// The previous attempt may have left chunks and vectors behind.
	return &IndexTask{backend: b, doc: doc, superseded: []*domain.Resource{existing}}, nil
}

func (b *Backend) getOne(ctx context.Context, id string) (*domain.Resource, error) {
	found, err := retry.DoValue(ctx, b.policy, "get_resources", func(ctx context.Context) ([]*domain.Resource, error) {
		return b.store.GetResources(ctx, []string{id})
	})
	if err != nil {
		return nil, domain.External(err)
	}
	if len(found) == 0 {
		return nil, domain.ErrResourceNotFound
	}
	return found[0], nil
}

// Get returns the resources with the given ids, restricted to classID when
// it is set. Stuck records are failed on read.
func (b *Backend) Get(ctx context.Context, ids []string, classID string) ([]*domain.Resource, error) {
	found, err := retry.DoValue(ctx, b.policy, "get_resources", func(ctx context.Context) ([]*domain.Resource, error) {
		return b.store.GetResources(ctx, ids)
	})
	if err != nil {
		return nil, domain.External(err)
	}

	out := make([]*domain.Resource, 0, len(found))
	for _, r := range found {
		if classID != "" && r.ClassID != classID {
			continue
		}
		out = append(out, r)
	}
	return b.failStuck(ctx, out)
}

// GetByClass returns every root resource of a class.
func (b *Backend) GetByClass(ctx context.Context, classID string) ([]*domain.Resource, error) {
	if classID == "" {
		return nil, domain.ErrMissingRequiredField
	}
	found, err := retry.DoValue(ctx, b.policy, "get_resources_by_class", func(ctx context.Context) ([]*domain.Resource, error) {
		return b.store.GetResourcesByClass(ctx, classID)
	})
	if err != nil {
		return nil, domain.External(err)
	}
	return b.failStuck(ctx, found)
}

func (b *Backend) failStuck(ctx context.Context, resources []*domain.Resource) ([]*domain.Resource, error) {
	now := b.now()
	for _, r := range resources {
		if !r.IsStuck(now, b.cfg.ProcessingTimeout) {
			continue
		}
		if err := b.setStatus(ctx, r.ID, domain.ResourceStatusFailed, now); err != nil {
			return nil, err
		}
		b.logger.WithFields(logrus.Fields{
			"resource_id": r.ID,
			"status":      r.Status,
			"modified_at": r.ModifiedAt,
		}).Warn("resource stuck, marked failed")
		r.MarkStatus(domain.ResourceStatusFailed, now)
	}
	return resources, nil
}

func (b *Backend) setStatus(ctx context.Context, id string, status domain.ResourceStatus, now time.Time) error {
	if err := b.policy.Do(ctx, "update_status", func(ctx context.Context) error {
		return b.store.UpdateStatus(ctx, id, status, now)
	}); err != nil {
		return domain.External(err)
	}
	return nil
}

// Delete removes each resource with its children, chunks and vectors.
// Unknown ids are skipped. The first failing resource is left FAILED and its
// error returned.
func (b *Backend) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		res, err := b.getOne(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrResourceNotFound) {
				b.logger.WithField("resource_id", id).Debug("resource to delete not found")
				continue
			}
			return err
		}
		if err := b.delete(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) delete(ctx context.Context, res *domain.Resource) error {
	ctx, span := telemetry.StartSpan(ctx, "backend.delete", telemetry.SpanAttributes{
		ClassID:    res.ClassID,
		ResourceID: res.ID,
		Operation:  "delete",
	})
	defer span.End()

	log := b.logger.WithFields(logrus.Fields{
		"class_id":    res.ClassID,
		"resource_id": res.ID,
	})

	err := b.setStatus(ctx, res.ID, domain.ResourceStatusDeleting, b.now())
	if err == nil {
		err = b.removeArtifacts(ctx, res, true)
	}
	if err != nil {
		span.SetError(err)
		if ferr := b.setStatus(ctx, res.ID, domain.ResourceStatusFailed, b.now()); ferr != nil {
			log.WithError(ferr).Error("failed to mark resource failed after delete error")
		}
		log.WithError(err).Error("resource delete failed")
		telemetry.CaptureError(ctx, err)
		return err
	}
	log.Info("resource deleted")
	return nil
}

// removeArtifacts deletes the vectors, chunks and children of res, in that
// order, and then res itself when withRecord is set.
func (b *Backend) removeArtifacts(ctx context.Context, res *domain.Resource, withRecord bool) error {
	children, err := b.children(ctx, res)
	if err != nil {
		return err
	}

	chunkIDs := append([]string(nil), res.ChunkIDs...)
	owners := []string{res.ID}
	childIDs := make([]string, 0, len(children))
	for _, c := range children {
		chunkIDs = append(chunkIDs, c.ChunkIDs...)
		owners = append(owners, c.ID)
		childIDs = append(childIDs, c.ID)
	}
	linked, err := retry.DoValue(ctx, b.policy, "chunk_ids_by_resources", func(ctx context.Context) ([]string, error) {
		return b.store.ChunkIDsByResources(ctx, owners)
	})
	if err != nil {
		return domain.External(err)
	}
	chunkIDs = dedupe(append(chunkIDs, linked...))

	if len(chunkIDs) > 0 {
		chunks, err := retry.DoValue(ctx, b.policy, "get_chunks", func(ctx context.Context) ([]*domain.Chunk, error) {
			return b.store.GetChunks(ctx, chunkIDs)
		})
		if err != nil {
			return domain.External(err)
		}
		vectorIDs := make([]string, 0, len(chunks))
		for _, c := range chunks {
			vectorIDs = append(vectorIDs, c.Metadata.VectorID)
		}
		if err := b.policy.Do(ctx, "vector_delete", func(ctx context.Context) error {
			return b.vectors.Delete(ctx, res.ClassID, vectorIDs)
		}); err != nil {
			return domain.External(err)
		}
		if err := b.policy.Do(ctx, "delete_chunks", func(ctx context.Context) error {
			return b.store.DeleteChunks(ctx, chunkIDs)
		}); err != nil {
			return domain.External(err)
		}
	}

	if len(childIDs) > 0 {
		if err := b.policy.Do(ctx, "delete_children", func(ctx context.Context) error {
			return b.store.DeleteResources(ctx, childIDs)
		}); err != nil {
			return domain.External(err)
		}
	}
	if !withRecord {
		return nil
	}
	if err := b.policy.Do(ctx, "delete_resource", func(ctx context.Context) error {
		return b.store.DeleteResources(ctx, []string{res.ID})
	}); err != nil {
		return domain.External(err)
	}
	return nil
}

func (b *Backend) children(ctx context.Context, res *domain.Resource) ([]*domain.Resource, error) {
	if len(res.ChildResourceIDs) == 0 {
		return nil, nil
	}
	children, err := retry.DoValue(ctx, b.policy, "get_children", func(ctx context.Context) ([]*domain.Resource, error) {
		return b.store.GetResources(ctx, res.ChildResourceIDs)
	})
	if err != nil {
		return nil, domain.External(err)
	}
	return children, nil
}

// Search runs a hybrid query in one class.
func (b *Backend) Search(ctx context.Context, req indexer.SearchRequest) (*indexer.SearchResult, error) {
	return b.indexer.Search(ctx, req)
}

// MostFrequentlyAccessed ranks the resources of a class by usage events in
// [from, to]. A zero to means now and a zero from means seven days before to.
func (b *Backend) MostFrequentlyAccessed(ctx context.Context, classID string, from, to time.Time) ([]domain.ResourceUsage, error) {
	if classID == "" {
		return nil, domain.ErrMissingRequiredField
	}
	if to.IsZero() {
		to = b.now()
	}
	if from.IsZero() {
		from = to.Add(-DefaultFrequencyWindow)
	}
	if from.After(to) {
		return nil, domain.ErrValidation.WithCause(fmt.Errorf("window start %s is after end %s", from, to))
	}
	usage, err := retry.DoValue(ctx, b.policy, "most_frequently_accessed", func(ctx context.Context) ([]domain.ResourceUsage, error) {
		return b.store.MostFrequentlyAccessed(ctx, classID, from, to)
	})
	if err != nil {
		return nil, domain.External(err)
	}
	return usage, nil
}

func (b *Backend) cleanup(doc *domain.IngestedDocument) {
	if err := ingest.Cleanup(doc); err != nil {
		b.logger.WithError(err).WithField("resource_id", doc.ID).Warn("failed to remove scratch files")
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
