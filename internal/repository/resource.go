package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const resourceColumns = `id, class_id, kind, full_resource_url, source_url, ingest_strategy, input_format,
	preview_image_url, metadata, status, content_hash, chunk_ids, child_resource_ids,
	parent_resource_ids, usage_log, created_at, modified_at`

type ResourceRepository struct {
	db dbtx
}

func NewResourceRepository(pool *pgxpool.Pool) *ResourceRepository {
	return &ResourceRepository{db: pool}
}

func NewResourceRepositoryWithTx(tx pgx.Tx) *ResourceRepository {
	return &ResourceRepository{db: tx}
}

// UpsertResource writes the full record. The last write for an id wins, but
// an id never changes class or kind: such a write is ErrDuplicateResource.
func (r *ResourceRepository) UpsertResource(ctx context.Context, res *domain.Resource) error {
	if err := domain.ValidateResource(res); err != nil {
		return domain.ErrValidation.WithCause(err)
	}
	metadata, err := json.Marshal(res.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode resource metadata: %w", err)
	}
	usage := res.UsageLog
	if usage == nil {
		usage = []domain.UsageEvent{}
	}
	usageLog, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("failed to encode usage log: %w", err)
	}

	now := time.Now().UTC()
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	modifiedAt := res.ModifiedAt
	if modifiedAt.IsZero() {
		modifiedAt = now
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO resources (`+resourceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (id) DO UPDATE SET
			full_resource_url = EXCLUDED.full_resource_url,
			source_url = EXCLUDED.source_url,
			ingest_strategy = EXCLUDED.ingest_strategy,
			input_format = EXCLUDED.input_format,
			preview_image_url = EXCLUDED.preview_image_url,
			metadata = EXCLUDED.metadata,
			status = EXCLUDED.status,
			content_hash = EXCLUDED.content_hash,
			chunk_ids = EXCLUDED.chunk_ids,
			child_resource_ids = EXCLUDED.child_resource_ids,
			parent_resource_ids = EXCLUDED.parent_resource_ids,
			usage_log = EXCLUDED.usage_log,
			created_at = EXCLUDED.created_at,
			modified_at = EXCLUDED.modified_at
		 WHERE resources.class_id = EXCLUDED.class_id AND resources.kind = EXCLUDED.kind`,
		res.ID, res.ClassID, res.Kind, res.FullResourceURL, res.SourceURL, res.IngestStrategy, res.InputFormat,
		nullableString(res.PreviewImageURL), metadata, res.Status, res.ContentHash,
		nonNil(res.ChunkIDs), nonNil(res.ChildResourceIDs), nonNil(res.ParentResourceIDs),
		usageLog, createdAt, modifiedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateResource.WithCause(
			fmt.Errorf("resource %s already exists in another class or as another kind", res.ID))
	}
	return nil
}

// GetResources returns the records for ids in the order given. Unknown ids
// are skipped.
func (r *ResourceRepository) GetResources(ctx context.Context, ids []string) ([]*domain.Resource, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found, err := scanResourceRows(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Resource, len(found))
	for _, res := range found {
		byID[res.ID] = res
	}
	out := make([]*domain.Resource, 0, len(found))
	for _, id := range ids {
		if res, ok := byID[id]; ok {
			out = append(out, res)
			delete(byID, id)
		}
	}
	return out, nil
}

// GetResource returns one record or domain.ErrResourceNotFound.
func (r *ResourceRepository) GetResource(ctx context.Context, id string) (*domain.Resource, error) {
	res, err := scanResource(r.db.QueryRow(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrResourceNotFound
		}
		return nil, err
	}
	return res, nil
}

// GetResourcesByClass returns the root resources of a class, oldest first.
func (r *ResourceRepository) GetResourcesByClass(ctx context.Context, classID string) ([]*domain.Resource, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+resourceColumns+` FROM resources
		 WHERE class_id = $1 AND kind = 'root'
		 ORDER BY created_at, id`,
		classID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResourceRows(rows)
}

// PendingResourceIDs returns up to limit root resources still PENDING whose
// last change is before cutoff, oldest first.
func (r *ResourceRepository) PendingResourceIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM resources
		 WHERE kind = 'root' AND status = $1 AND modified_at < $2
		 ORDER BY modified_at, id
		 LIMIT $3`,
		string(domain.ResourceStatusPending), cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// FindDuplicates returns every root resource in the class that shares the
// content hash, plus the record holding id in any class and of any kind,
// whatever their status.
func (r *ResourceRepository) FindDuplicates(ctx context.Context, classID, contentHash, id string) ([]*domain.Resource, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+resourceColumns+` FROM resources
		 WHERE (class_id = $1 AND kind = 'root' AND content_hash = $2) OR id = $3
		 ORDER BY created_at, id`,
		classID, contentHash, nullableString(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResourceRows(rows)
}

// UpdateStatus moves a resource to any status but COMPLETED, which only
// CompleteResource may set. Chunk ids are cleared with it.
func (r *ResourceRepository) UpdateStatus(ctx context.Context, id string, status domain.ResourceStatus, now time.Time) error {
	if err := domain.ValidateResourceStatus(status); err != nil {
		return err
	}
	if status == domain.ResourceStatusCompleted {
		return domain.ErrValidation.WithCause(errors.New("COMPLETED is set by CompleteResource"))
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE resources SET status = $2, chunk_ids = '{}', modified_at = $3 WHERE id = $1`,
		id, status, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrResourceNotFound
	}
	return nil
}

// CompleteResource links chunkIDs and sets COMPLETED in one statement.
func (r *ResourceRepository) CompleteResource(ctx context.Context, id string, chunkIDs []string, now time.Time) error {
	if len(chunkIDs) == 0 {
		return domain.ErrValidation.WithCause(errors.New("completed resource requires at least one chunk"))
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE resources SET status = 'COMPLETED', chunk_ids = $2, modified_at = $3 WHERE id = $1`,
		id, chunkIDs, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrResourceNotFound
	}
	return nil
}

func (r *ResourceRepository) DeleteResources(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `DELETE FROM resources WHERE id = ANY($1)`, ids)
	return err
}

// AppendResourceUsage adds event to the usage log of every resource in ids.
func (r *ResourceRepository) AppendResourceUsage(ctx context.Context, ids []string, event domain.UsageEvent) error {
	if len(ids) == 0 {
		return nil
	}
	payload, err := usageJSON(event)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`UPDATE resources SET usage_log = usage_log || $2::jsonb WHERE id = ANY($1)`,
		ids, payload,
	)
	return err
}

// MostFrequentlyAccessed ranks the root resources of a class by the number
// of usage events inside [from, to], most used first.
func (r *ResourceRepository) MostFrequentlyAccessed(ctx context.Context, classID string, from, to time.Time) ([]domain.ResourceUsage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT r.id, count(*) AS hits
		 FROM resources r, jsonb_array_elements(r.usage_log) AS e
		 WHERE r.class_id = $1 AND r.kind = 'root'
		   AND (e->>'timestamp')::timestamptz BETWEEN $2 AND $3
		 GROUP BY r.id
		 ORDER BY hits DESC, r.id`,
		classID, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranking []domain.ResourceUsage
	for rows.Next() {
		var u domain.ResourceUsage
		if err := rows.Scan(&u.ResourceID, &u.Count); err != nil {
			return nil, err
		}
		ranking = append(ranking, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ranking) == 0 {
		return nil, nil
	}

	ids := make([]string, len(ranking))
	for i, u := range ranking {
		ids[i] = u.ResourceID
	}
	resources, err := r.GetResources(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Resource, len(resources))
	for _, res := range resources {
		byID[res.ID] = res
	}
	for i := range ranking {
		ranking[i].Resource = byID[ranking[i].ResourceID]
	}
	return ranking, nil
}

func scanResource(row pgx.Row) (*domain.Resource, error) {
	var res domain.Resource
	var preview *string
	var metadata, usageLog []byte
	err := row.Scan(
		&res.ID, &res.ClassID, &res.Kind, &res.FullResourceURL, &res.SourceURL, &res.IngestStrategy, &res.InputFormat,
		&preview, &metadata, &res.Status, &res.ContentHash, &res.ChunkIDs, &res.ChildResourceIDs,
		&res.ParentResourceIDs, &usageLog, &res.CreatedAt, &res.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	if preview != nil {
		res.PreviewImageURL = *preview
	}
	if err := decodeStrict(metadata, &res.Metadata); err != nil {
		return nil, err
	}
	if err := decodeStrict(usageLog, &res.UsageLog); err != nil {
		return nil, err
	}
	if len(res.ChunkIDs) == 0 {
		res.ChunkIDs = nil
	}
	if len(res.ChildResourceIDs) == 0 {
		res.ChildResourceIDs = nil
	}
	if len(res.ParentResourceIDs) == 0 {
		res.ParentResourceIDs = nil
	}
	if err := domain.ValidateResource(&res); err != nil {
		return nil, domain.ErrDataCorruption.WithCause(err)
	}
	return &res, nil
}

func scanResourceRows(rows pgx.Rows) ([]*domain.Resource, error) {
	var results []*domain.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
