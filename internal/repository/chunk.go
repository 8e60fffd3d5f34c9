package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const chunkColumns = `id, class_id, resource_id, vector_id, text, raw_chunk_url, metadata, usage_log`

type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// UpsertChunks writes all chunks in a single round trip.
func (r *ChunkRepository) UpsertChunks(ctx context.Context, chunks []*domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		if err := domain.ValidateChunk(c); err != nil {
			return domain.ErrValidation.WithCause(err)
		}
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode chunk metadata: %w", err)
		}
		usage := c.UsageLog
		if usage == nil {
			usage = []domain.UsageEvent{}
		}
		usageLog, err := json.Marshal(usage)
		if err != nil {
			return fmt.Errorf("failed to encode usage log: %w", err)
		}
		batch.Queue(
			`INSERT INTO chunks (`+chunkColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE SET
				class_id = EXCLUDED.class_id,
				resource_id = EXCLUDED.resource_id,
				vector_id = EXCLUDED.vector_id,
				text = EXCLUDED.text,
				raw_chunk_url = EXCLUDED.raw_chunk_url,
				metadata = EXCLUDED.metadata,
				usage_log = EXCLUDED.usage_log`,
			c.ID, c.ClassID, c.ResourceID, c.Metadata.VectorID, c.Text, c.RawChunkURL, metadata, usageLog,
		)
	}
	return sendBatch(ctx, r.db, batch)
}

// GetChunks returns the chunks for ids in the order given.
func (r *ChunkRepository) GetChunks(ctx context.Context, ids []string) ([]*domain.Chunk, error) {
	return r.getOrdered(ctx, "id", ids, func(c *domain.Chunk) string { return c.ID })
}

// GetChunksByVectorIDs resolves vector record ids to their chunks, in the
// order given.
func (r *ChunkRepository) GetChunksByVectorIDs(ctx context.Context, vectorIDs []string) ([]*domain.Chunk, error) {
	return r.getOrdered(ctx, "vector_id", vectorIDs, func(c *domain.Chunk) string { return c.Metadata.VectorID })
}

func (r *ChunkRepository) getOrdered(ctx context.Context, column string, keys []string, key func(*domain.Chunk) string) ([]*domain.Chunk, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE `+column+` = ANY($1)`,
		keys,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byKey := map[string]*domain.Chunk{}
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byKey[key(c)] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*domain.Chunk, 0, len(byKey))
	for _, k := range keys {
		if c, ok := byKey[k]; ok {
			out = append(out, c)
			delete(byKey, k)
		}
	}
	return out, nil
}

// ChunkIDsByResources returns the ids of every chunk owned by the given
// resources, linked or not.
func (r *ChunkRepository) ChunkIDsByResources(ctx context.Context, resourceIDs []string) ([]string, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id FROM chunks WHERE resource_id = ANY($1) ORDER BY created_at, id`,
		resourceIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ChunkRepository) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE id = ANY($1)`, ids)
	return err
}

// AppendChunkUsage adds event to the usage log of every chunk in ids.
func (r *ChunkRepository) AppendChunkUsage(ctx context.Context, ids []string, event domain.UsageEvent) error {
	if len(ids) == 0 {
		return nil
	}
	payload, err := usageJSON(event)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`UPDATE chunks SET usage_log = usage_log || $2::jsonb WHERE id = ANY($1)`,
		ids, payload,
	)
	return err
}

func scanChunk(row pgx.Row) (*domain.Chunk, error) {
	var c domain.Chunk
	var vectorID string
	var metadata, usageLog []byte
	if err := row.Scan(&c.ID, &c.ClassID, &c.ResourceID, &vectorID, &c.Text, &c.RawChunkURL, &metadata, &usageLog); err != nil {
		return nil, err
	}
	if err := decodeStrict(metadata, &c.Metadata); err != nil {
		return nil, err
	}
	if err := decodeStrict(usageLog, &c.UsageLog); err != nil {
		return nil, err
	}
	if c.Metadata.VectorID != vectorID {
		return nil, domain.ErrDataCorruption.WithCause(
			fmt.Errorf("chunk %s stores vector id %s but metadata says %s", c.ID, vectorID, c.Metadata.VectorID),
		)
	}
	if err := domain.ValidateChunk(&c); err != nil {
		return nil, domain.ErrDataCorruption.WithCause(err)
	}
	return &c, nil
}
