package indexer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/cloo-solutions/taisearch/internal/archive"
	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/embedding"
	"github.com/cloo-solutions/taisearch/internal/loader"
	"github.com/cloo-solutions/taisearch/internal/repository"
	"github.com/cloo-solutions/taisearch/internal/retry"
	"github.com/cloo-solutions/taisearch/internal/telemetry"
	"github.com/sirupsen/logrus"
)

const (
	// Queries shorter than this are keyword-like and lean on the sparse
	// vector.
	shortQueryTokens = 10

	shortQueryAlpha = 0.4
	shortQueryTopK  = 5
	longQueryAlpha  = 0.7
	longQueryTopK   = 3

	archiveTimeout = 5 * time.Second
)

// SearchRequest is a query against one class.
type SearchRequest struct {
	Query    string
	ClassID  string
	ForTutor bool
	// ResourceType restricts hits to one resource type when set.
	ResourceType domain.ResourceType
}

// SearchHit is one ranked chunk. Resource is the root resource the chunk
// belongs to; it is nil for tutor searches.
type SearchHit struct {
	Chunk    *domain.Chunk
	Score    float64
	Resource *domain.Resource
}

// SearchResult holds hits grouped by chunk size class, small before large,
// each group best first.
type SearchResult struct {
	Hits  []SearchHit
	Alpha float64
	TopK  int
}

// BySize returns the hits cut with size.
func (r *SearchResult) BySize(size domain.ChunkSize) []SearchHit {
	var out []SearchHit
	for _, h := range r.Hits {
		if h.Chunk.Metadata.ChunkSize == size {
			out = append(out, h)
		}
	}
	return out
}

// QueryWeights picks the hybrid weight and result count from the number of
// whitespace-separated tokens in query.
func QueryWeights(query string) (alpha float64, topK int) {
	if len(strings.Fields(query)) < shortQueryTokens {
		return shortQueryAlpha, shortQueryTopK
	}
	return longQueryAlpha, longQueryTopK
}

// QueryFilter derives chapter and section filters from the query text.
func QueryFilter(query string, resourceType domain.ResourceType) domain.VectorFilter {
	return domain.VectorFilter{
		Chapters:     loader.QueryChapters(query),
		Sections:     loader.Sections(query),
		ResourceType: resourceType,
	}
}

// Search runs a hybrid query and returns the matching chunks best first.
func (ix *Indexer) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" || req.ClassID == "" {
		return nil, domain.ErrMissingRequiredField
	}

	ctx, span := telemetry.StartSpan(ctx, "indexer.search", telemetry.SpanAttributes{
		ClassID:   req.ClassID,
		Operation: "search",
	})
	defer span.End()

	result, err := ix.search(ctx, req)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return result, nil
}

func (ix *Indexer) search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	log := ix.logger.WithFields(logrus.Fields{
		"class_id":  req.ClassID,
		"for_tutor": req.ForTutor,
	})
	alpha, topK := QueryWeights(req.Query)

	query := domain.NewChunk(&domain.Resource{ID: "query", ClassID: req.ClassID}, req.Query, domain.ChunkSizeSmall)
	records, err := ix.embedder.Embed(ctx, []*domain.Chunk{query}, embedding.ModeInference)
	if err != nil {
		return nil, err
	}
	if len(records) != 1 {
		return nil, domain.ErrExternalService.WithCause(errors.New("query embedding returned no record"))
	}
	dense, sparse, err := repository.HybridScale(records[0].DenseValues, records[0].SparseValues, alpha)
	if err != nil {
		return nil, err
	}

	filter := QueryFilter(req.Query, req.ResourceType)
	scored, err := ix.queryVectors(ctx, req.ClassID, dense, sparse, topK, filter)
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 && (len(filter.Chapters) > 0 || len(filter.Sections) > 0) {
		// A number in the query is not always a chapter or section.
		log.WithFields(logrus.Fields{
			"chapters": filter.Chapters,
			"sections": filter.Sections,
		}).Debug("no hits under query filter, searching the whole class")
		scored, err = ix.queryVectors(ctx, req.ClassID, dense, sparse, topK, domain.VectorFilter{ResourceType: req.ResourceType})
		if err != nil {
			return nil, err
		}
	}

	vectorIDs := make([]string, len(scored))
	for i, sv := range scored {
		vectorIDs[i] = sv.ID
	}
	chunks, err := retry.DoValue(ctx, ix.policy, "get_chunks", func(ctx context.Context) ([]*domain.Chunk, error) {
		return ix.docs.GetChunksByVectorIDs(ctx, vectorIDs)
	})
	if err != nil {
		return nil, domain.External(err)
	}
	byVector := make(map[string]*domain.Chunk, len(chunks))
	for _, c := range chunks {
		byVector[c.Metadata.VectorID] = c
	}

	result := &SearchResult{Alpha: alpha, TopK: topK}
	for _, sv := range scored {
		c, ok := byVector[sv.ID]
		if !ok {
			log.WithField("vector_id", sv.ID).Warn("vector has no chunk, skipping")
			continue
		}
		result.Hits = append(result.Hits, SearchHit{Chunk: c, Score: sv.Score})
	}
	groupBySize(result.Hits)

	roots, err := ix.recordUsage(ctx, result.Hits)
	if err != nil {
		log.WithError(err).Warn("failed to record usage")
	}
	if !req.ForTutor {
		for i := range result.Hits {
			result.Hits[i].Resource = roots[result.Hits[i].Chunk.ResourceID]
		}
	}

	ix.publish(ctx, req, result)

	log.WithFields(logrus.Fields{
		"alpha": alpha,
		"top_k": topK,
		"hits":  len(result.Hits),
	}).Debug("search served")
	return result, nil
}

func (ix *Indexer) queryVectors(ctx context.Context, classID string, dense []float32, sparse map[int32]float32, topK int, filter domain.VectorFilter) ([]domain.ScoredVector, error) {
	scored, err := retry.DoValue(ctx, ix.policy, "vector_query", func(ctx context.Context) ([]domain.ScoredVector, error) {
		return ix.vectors.Query(ctx, classID, dense, sparse, topK, filter)
	})
	if err != nil {
		return nil, domain.External(err)
	}
	return scored, nil
}

// groupBySize moves small chunks ahead of large ones. Order within a size
// class is kept.
func groupBySize(hits []SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return sizeRank(hits[i].Chunk.Metadata.ChunkSize) < sizeRank(hits[j].Chunk.Metadata.ChunkSize)
	})
}

func sizeRank(size domain.ChunkSize) int {
	if size == domain.ChunkSizeSmall {
		return 0
	}
	return 1
}

// recordUsage appends one usage event to each hit chunk and to each distinct
// resource they belong to, crediting the root of crawled children too. It
// returns the root resource for each owning resource id.
func (ix *Indexer) recordUsage(ctx context.Context, hits []SearchHit) (map[string]*domain.Resource, error) {
	roots := map[string]*domain.Resource{}
	if len(hits) == 0 {
		return roots, nil
	}
	event := domain.UsageEvent{Timestamp: ix.now()}

	chunkIDs := make([]string, len(hits))
	var owners []string
	seen := map[string]bool{}
	for i, h := range hits {
		chunkIDs[i] = h.Chunk.ID
		if !seen[h.Chunk.ResourceID] {
			seen[h.Chunk.ResourceID] = true
			owners = append(owners, h.Chunk.ResourceID)
		}
	}

	resources, err := retry.DoValue(ctx, ix.policy, "get_resources", func(ctx context.Context) ([]*domain.Resource, error) {
		return ix.docs.GetResources(ctx, owners)
	})
	if err != nil {
		return roots, err
	}
	byID := make(map[string]*domain.Resource, len(resources))
	for _, r := range resources {
		byID[r.ID] = r
	}

	var parents []string
	for _, r := range resources {
		for _, p := range r.ParentResourceIDs {
			if !seen[p] {
				seen[p] = true
				parents = append(parents, p)
			}
		}
	}
	if len(parents) > 0 {
		parentRecords, err := retry.DoValue(ctx, ix.policy, "get_resources", func(ctx context.Context) ([]*domain.Resource, error) {
			return ix.docs.GetResources(ctx, parents)
		})
		if err != nil {
			return roots, err
		}
		for _, r := range parentRecords {
			byID[r.ID] = r
		}
	}
	for _, owner := range owners {
		r, ok := byID[owner]
		if !ok {
			continue
		}
		if !r.IsRoot() {
			if parent, ok := byID[r.ParentResourceIDs[0]]; ok {
				r = parent
			}
		}
		roots[owner] = r
	}

	if err := ix.policy.Do(ctx, "append_chunk_usage", func(ctx context.Context) error {
		return ix.docs.AppendChunkUsage(ctx, chunkIDs, event)
	}); err != nil {
		return roots, err
	}
	credited := append(owners, parents...)
	if err := ix.policy.Do(ctx, "append_resource_usage", func(ctx context.Context) error {
		return ix.docs.AppendResourceUsage(ctx, credited, event)
	}); err != nil {
		return roots, err
	}
	return roots, nil
}

// publish emits the archive event without ever failing the search.
func (ix *Indexer) publish(ctx context.Context, req SearchRequest, result *SearchResult) {
	event := archive.QueryEvent{
		ClassID:     req.ClassID,
		Query:       req.Query,
		ForTutor:    req.ForTutor,
		ResultCount: len(result.Hits),
		IssuedAt:    ix.now(),
	}
	for _, h := range result.Hits {
		event.ChunkIDs = append(event.ChunkIDs, h.Chunk.ID)
	}

	send := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
		defer cancel()
		if err := ix.archive.Publish(ctx, event); err != nil {
			ix.logger.WithError(err).WithField("class_id", req.ClassID).Warn("failed to archive query")
		}
	}
	if ix.cfg.Serverless {
		send(ctx)
		return
	}
	go send(context.WithoutCancel(ctx))
}
