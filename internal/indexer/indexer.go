// Package indexer turns ingested documents into persisted chunks and vector
// records, and serves hybrid retrieval over them.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/taisearch/internal/archive"
	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/embedding"
	"github.com/cloo-solutions/taisearch/internal/ingest"
	"github.com/cloo-solutions/taisearch/internal/loader"
	"github.com/cloo-solutions/taisearch/internal/resource"
	"github.com/cloo-solutions/taisearch/internal/retry"
	"github.com/cloo-solutions/taisearch/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// Ingestor fetches and classifies a submitted resource.
type Ingestor interface {
	Ingest(ctx context.Context, req ingest.Request) (*domain.IngestedDocument, error)
}

// Chunker loads and splits a document in every size class.
type Chunker interface {
	Chunks(ctx context.Context, doc *domain.IngestedDocument) ([]*domain.Chunk, error)
}

// Utilities resolves the per-format resource utility.
type Utilities interface {
	For(format domain.InputFormat) (resource.Utility, error)
}

// Embedder turns chunks into vector records.
type Embedder interface {
	Embed(ctx context.Context, chunks []*domain.Chunk, mode embedding.Mode) ([]domain.VectorRecord, error)
}

// DocumentStore is the part of the document store the indexer writes and
// reads.
type DocumentStore interface {
	SaveIndexed(ctx context.Context, root *domain.Resource, children []*domain.Resource, chunks []*domain.Chunk) error
	GetChunksByVectorIDs(ctx context.Context, vectorIDs []string) ([]*domain.Chunk, error)
	GetResources(ctx context.Context, ids []string) ([]*domain.Resource, error)
	AppendChunkUsage(ctx context.Context, ids []string, event domain.UsageEvent) error
	AppendResourceUsage(ctx context.Context, ids []string, event domain.UsageEvent) error
}

// VectorIndex stores and queries vector records.
type VectorIndex interface {
	Upsert(ctx context.Context, records []domain.VectorRecord) error
	Query(ctx context.Context, classID string, dense []float32, sparse map[int32]float32, topK int, filter domain.VectorFilter) ([]domain.ScoredVector, error)
}

type Config struct {
	// Serverless publishes archive events inline instead of on a detached
	// goroutine.
	Serverless bool
}

// Indexer orchestrates ingestion, indexing and search.
type Indexer struct {
	cfg       Config
	ingestor  Ingestor
	crawler   resource.Crawler
	utilities Utilities
	chunker   Chunker
	embedder  Embedder
	docs      DocumentStore
	vectors   VectorIndex
	archive   archive.Publisher
	policy    retry.Policy
	logger    logrus.FieldLogger
	now       func() time.Time
}

// Deps are the collaborators of an Indexer.
type Deps struct {
	Ingestor  Ingestor
	Crawler   resource.Crawler
	Utilities Utilities
	Chunker   Chunker
	Embedder  Embedder
	Documents DocumentStore
	Vectors   VectorIndex
	Archive   archive.Publisher
}

func New(cfg Config, deps Deps, policy retry.Policy, logger logrus.FieldLogger) *Indexer {
	crawler := deps.Crawler
	if crawler == nil {
		crawler = resource.SelfCrawler{}
	}
	pub := deps.Archive
	if pub == nil {
		pub = archive.NoopPublisher{}
	}
	return &Indexer{
		cfg:       cfg,
		ingestor:  deps.Ingestor,
		crawler:   crawler,
		utilities: deps.Utilities,
		chunker:   deps.Chunker,
		embedder:  deps.Embedder,
		docs:      deps.Documents,
		vectors:   deps.Vectors,
		archive:   pub,
		policy:    policy,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest fetches and classifies a resource without splitting it.
func (ix *Indexer) Ingest(ctx context.Context, req ingest.Request) (*domain.IngestedDocument, error) {
	return ix.ingestor.Ingest(ctx, req)
}

// IndexResult lists every chunk written for a root resource, its crawled
// children's included.
type IndexResult struct {
	ChunkIDs []string
	Children []*domain.Resource
}

// Index crawls, uploads, splits, embeds and persists doc. The root record
// is written with its current status; completing it is the caller's job.
func (ix *Indexer) Index(ctx context.Context, doc *domain.IngestedDocument) (*IndexResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "indexer.index", telemetry.SpanAttributes{
		ClassID:    doc.ClassID,
		ResourceID: doc.ID,
		Operation:  "index",
	})
	defer span.End()

	log := ix.logger.WithFields(logrus.Fields{
		"class_id":    doc.ClassID,
		"resource_id": doc.ID,
		"format":      doc.InputFormat,
	})

	result, err := ix.index(ctx, doc, log)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"chunks":   len(result.ChunkIDs),
		"children": len(result.Children),
	}).Info("resource indexed")
	return result, nil
}

func (ix *Indexer) index(ctx context.Context, doc *domain.IngestedDocument, log logrus.FieldLogger) (*IndexResult, error) {
	util, err := ix.utilities.For(doc.InputFormat)
	if err != nil {
		return nil, err
	}

	crawled, err := ix.crawler.Crawl(ctx, doc)
	if err != nil {
		return nil, err
	}

	if err := util.CreateThumbnail(ctx, doc); err != nil {
		if !errors.Is(err, domain.ErrNotSupported) {
			return nil, fmt.Errorf("failed to create thumbnail: %w", err)
		}
		log.Warn("thumbnail not supported for format")
	}
	if err := util.UploadResource(ctx, doc); err != nil {
		if !errors.Is(err, domain.ErrNotSupported) {
			return nil, fmt.Errorf("failed to upload resource: %w", err)
		}
		log.Warn("resource upload not supported, keeping source url")
	}

	var (
		chunks   []*domain.Chunk
		children []*domain.Resource
		kept     []string
	)
	for _, child := range crawled {
		isRoot := child.ID == doc.ID
		if !isRoot {
			child.PreviewImageURL = doc.PreviewImageURL
			if err := util.UploadResource(ctx, child); err != nil && !errors.Is(err, domain.ErrNotSupported) {
				return nil, fmt.Errorf("failed to upload child %s: %w", child.ID, err)
			}
		}

		childChunks, err := ix.chunker.Chunks(ctx, child)
		if err != nil {
			if !isRoot && errors.Is(err, loader.ErrNoText) {
				log.WithField("child_id", child.ID).Warn("crawled child has no text, dropping it")
				continue
			}
			return nil, err
		}
		if err := util.AugmentChunks(ctx, child, childChunks); err != nil {
			if !errors.Is(err, domain.ErrNotSupported) {
				return nil, fmt.Errorf("failed to augment chunks: %w", err)
			}
			log.Debug("chunk augmentation not supported")
		}
		chunks = append(chunks, childChunks...)

		if !isRoot {
			res := child.Resource
			if err := res.Complete(chunkIDs(childChunks), ix.now()); err != nil {
				return nil, err
			}
			children = append(children, &res)
			kept = append(kept, child.ID)
		}
	}
	if crawledPages(doc, crawled) {
		doc.ChildResourceIDs = kept
	}
	if len(chunks) == 0 {
		return nil, loader.ErrNoText
	}

	records, err := ix.embedder.Embed(ctx, chunks, embedding.ModeIndex)
	if err != nil {
		return nil, err
	}

	doc.ModifiedAt = ix.now()
	if err := ix.policy.Do(ctx, "save_indexed", func(ctx context.Context) error {
		return ix.docs.SaveIndexed(ctx, &doc.Resource, children, chunks)
	}); err != nil {
		return nil, domain.External(err)
	}
	if err := ix.policy.Do(ctx, "vector_upsert", func(ctx context.Context) error {
		return ix.vectors.Upsert(ctx, records)
	}); err != nil {
		return nil, domain.External(err)
	}

	return &IndexResult{ChunkIDs: chunkIDs(chunks), Children: children}, nil
}

// crawledPages reports whether the crawler produced children rather than
// handing back the document itself.
func crawledPages(doc *domain.IngestedDocument, crawled []*domain.IngestedDocument) bool {
	return !(len(crawled) == 1 && crawled[0].ID == doc.ID)
}

func chunkIDs(chunks []*domain.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}
