package repository

import (
	"context"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRepositories exposes repositories bound to one transaction.
type TxRepositories interface {
	Resources() *ResourceRepository
	Chunks() *ChunkRepository
}

// TxRunner provides transactional repositories using a pgx pool.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

func (r *TxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}

	repos := &txRepos{tx: tx}
	if err := fn(repos); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

// SaveIndexed writes the chunks, then the crawled children, then the root
// resource, all in one transaction.
func (r *TxRunner) SaveIndexed(ctx context.Context, root *domain.Resource, children []*domain.Resource, chunks []*domain.Chunk) error {
	return r.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Chunks().UpsertChunks(ctx, chunks); err != nil {
			return err
		}
		for _, child := range children {
			if err := repos.Resources().UpsertResource(ctx, child); err != nil {
				return err
			}
		}
		return repos.Resources().UpsertResource(ctx, root)
	})
}

type txRepos struct {
	tx pgx.Tx
}

func (r *txRepos) Resources() *ResourceRepository {
	return NewResourceRepositoryWithTx(r.tx)
}

func (r *txRepos) Chunks() *ChunkRepository {
	return NewChunkRepositoryWithTx(r.tx)
}

// DocumentStore groups the resource and chunk repositories with the
// transaction runner behind one value.
type DocumentStore struct {
	*ResourceRepository
	*ChunkRepository
	*TxRunner
}

func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{
		ResourceRepository: NewResourceRepository(pool),
		ChunkRepository:    NewChunkRepository(pool),
		TxRunner:           NewTxRunner(pool),
	}
}
