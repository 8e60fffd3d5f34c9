package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	maxVectorBatch           = 100
	defaultVectorConcurrency = 50
)

type VectorConfig struct {
	// BatchSize is capped at 100 records per call.
	BatchSize   int
	Concurrency int
	// Serverless runs batches one after another.
	Serverless bool
}

// VectorRepository stores one vector record per chunk, namespaced by class.
type VectorRepository struct {
	db     dbtx
	cfg    VectorConfig
	logger logrus.FieldLogger
}

func NewVectorRepository(pool *pgxpool.Pool, cfg VectorConfig, logger logrus.FieldLogger) *VectorRepository {
	if cfg.BatchSize <= 0 || cfg.BatchSize > maxVectorBatch {
		cfg.BatchSize = maxVectorBatch
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultVectorConcurrency
	}
	if cfg.Serverless {
		cfg.Concurrency = 1
	}
	return &VectorRepository{db: pool, cfg: cfg, logger: logger}
}

// Upsert writes records in batches. Every record must be in the same class
// namespace; otherwise nothing is written.
func (r *VectorRepository) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	classID := records[0].ClassID
	for _, rec := range records {
		if rec.ClassID != classID || rec.Metadata.ClassID != classID {
			return domain.ErrNamespaceMismatch.WithCause(
				fmt.Errorf("vector %s is in class %q, expected %q", rec.ID, rec.ClassID, classID),
			)
		}
	}

	return r.forEachBatch(ctx, len(records), func(ctx context.Context, start, end int) error {
		batch := &pgx.Batch{}
		for _, rec := range records[start:end] {
			metadata, err := json.Marshal(rec.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode vector metadata: %w", err)
			}
			batch.Queue(
				`INSERT INTO vectors (id, class_id, dense, sparse, metadata, chapters, sections, resource_type)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 ON CONFLICT (id) DO UPDATE SET
					class_id = EXCLUDED.class_id,
					dense = EXCLUDED.dense,
					sparse = EXCLUDED.sparse,
					metadata = EXCLUDED.metadata,
					chapters = EXCLUDED.chapters,
					sections = EXCLUDED.sections,
					resource_type = EXCLUDED.resource_type`,
				rec.ID, rec.ClassID, pgvector.NewVector(rec.DenseValues), sparseParam(rec.SparseValues), metadata,
				nonNil(rec.Metadata.Chapters), nonNil(rec.Metadata.Sections), string(rec.Metadata.ResourceType),
			)
		}
		return sendBatch(ctx, r.db, batch)
	})
}

// Delete removes the records with ids from the class namespace.
func (r *VectorRepository) Delete(ctx context.Context, classID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.forEachBatch(ctx, len(ids), func(ctx context.Context, start, end int) error {
		_, err := r.db.Exec(ctx,
			`DELETE FROM vectors WHERE class_id = $1 AND id = ANY($2)`,
			classID, ids[start:end],
		)
		return err
	})
}

func (r *VectorRepository) forEachBatch(ctx context.Context, n int, fn func(ctx context.Context, start, end int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	batches := 0
	for start := 0; start < n; start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, n)
		batches++
		g.Go(func() error {
			return fn(gctx, start, end)
		})
	}
	err := g.Wait()
	r.logger.WithFields(logrus.Fields{
		"records": n,
		"batches": batches,
	}).Debug("vector batches written")
	return err
}

// Query returns the topK records of the class closest to the query vectors
// under the inner product, best first. Pass vectors already scaled with
// HybridScale.
func (r *VectorRepository) Query(ctx context.Context, classID string, dense []float32, sparse map[int32]float32, topK int, filter domain.VectorFilter) ([]domain.ScoredVector, error) {
	if topK <= 0 {
		return nil, nil
	}
	args := []any{classID, pgvector.NewVector(dense), sparseParam(sparse)}
	where := []string{"class_id = $1"}

	var anyOf []string
	if len(filter.Chapters) > 0 {
		args = append(args, filter.Chapters)
		anyOf = append(anyOf, fmt.Sprintf("chapters && $%d", len(args)))
	}
	if len(filter.Sections) > 0 {
		args = append(args, filter.Sections)
		anyOf = append(anyOf, fmt.Sprintf("sections && $%d", len(args)))
	}
	if len(anyOf) > 0 {
		where = append(where, "("+strings.Join(anyOf, " OR ")+")")
	}
	if filter.ResourceType != "" {
		args = append(args, string(filter.ResourceType))
		where = append(where, fmt.Sprintf("resource_type = $%d", len(args)))
	}
	args = append(args, topK)

	rows, err := r.db.Query(ctx,
		`SELECT id, metadata, (-(dense <#> $2::vector) - COALESCE(sparse <#> $3::sparsevec, 0)) AS score
		 FROM vectors
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY score DESC
		 LIMIT $`+fmt.Sprint(len(args)),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ScoredVector
	for rows.Next() {
		var sv domain.ScoredVector
		var metadata []byte
		if err := rows.Scan(&sv.ID, &metadata, &sv.Score); err != nil {
			return nil, err
		}
		if err := decodeStrict(metadata, &sv.Metadata); err != nil {
			return nil, err
		}
		results = append(results, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// HybridScale weights the dense query by alpha and the sparse query by
// 1-alpha so that the inner product becomes a convex combination.
func HybridScale(dense []float32, sparse map[int32]float32, alpha float64) ([]float32, map[int32]float32, error) {
	if alpha < 0 || alpha > 1 {
		return nil, nil, domain.ErrValidation.WithCause(fmt.Errorf("alpha %v is outside [0, 1]", alpha))
	}
	scaledDense := make([]float32, len(dense))
	for i, v := range dense {
		scaledDense[i] = v * float32(alpha)
	}
	var scaledSparse map[int32]float32
	if sparse != nil {
		scaledSparse = make(map[int32]float32, len(sparse))
		for k, v := range sparse {
			scaledSparse[k] = v * float32(1-alpha)
		}
	}
	return scaledDense, scaledSparse, nil
}

func sparseParam(values map[int32]float32) any {
	if len(values) == 0 {
		return nil
	}
	return pgvector.NewSparseVectorFromMap(values, domain.SparseDimensions)
}
