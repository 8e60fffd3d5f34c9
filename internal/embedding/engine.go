// Package embedding produces the dense and sparse vectors of chunks.
package embedding

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/retry"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Mode selects how sparse vectors are computed.
type Mode int

const (
	// ModeIndex encodes many chunks on a worker pool under backpressure.
	ModeIndex Mode = iota
	// ModeInference encodes a single query inline.
	ModeInference
)

const (
	maxBatchSize              = 100
	defaultMaxWorkers         = 10
	defaultSparseSubBatchSize = 50
)

// DenseEmbedder embeds a batch of texts in input order.
type DenseEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Gate blocks until the host has headroom for more work.
type Gate interface {
	Wait(ctx context.Context) error
}

type Config struct {
	BatchSize          int
	MaxWorkers         int
	SparseSubBatchSize int
	// SparseWorkers defaults to the number of CPUs.
	SparseWorkers int
}

// Engine embeds chunks into vector records.
type Engine struct {
	cfg    Config
	dense  DenseEmbedder
	sparse *SparseEncoder
	gate   Gate
	policy retry.Policy
	logger logrus.FieldLogger
}

// NewEngine builds an engine. gate may be nil to disable backpressure.
func NewEngine(cfg Config, dense DenseEmbedder, gate Gate, policy retry.Policy, logger logrus.FieldLogger) *Engine {
	cfg.BatchSize = clamp(cfg.BatchSize, 1, maxBatchSize)
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.SparseSubBatchSize <= 0 {
		cfg.SparseSubBatchSize = defaultSparseSubBatchSize
	}
	if cfg.SparseWorkers <= 0 {
		cfg.SparseWorkers = runtime.NumCPU()
	}
	return &Engine{
		cfg:    cfg,
		dense:  dense,
		sparse: NewSparseEncoder(),
		gate:   gate,
		policy: policy,
		logger: logger,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Embed returns one record per chunk, in order. All chunks must belong to
// the same class; otherwise domain.ErrNamespaceMismatch is returned before
// any external call is made.
func (e *Engine) Embed(ctx context.Context, chunks []*domain.Chunk, mode Mode) ([]domain.VectorRecord, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	classID, err := namespace(chunks)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	dense, err := e.embedDense(ctx, texts)
	if err != nil {
		return nil, err
	}

	var sparse []map[int32]float32
	if mode == ModeInference {
		sparse = make([]map[int32]float32, len(texts))
		for i, t := range texts {
			sparse[i] = e.sparse.Encode(t)
		}
	} else {
		sparse, err = e.encodeSparse(ctx, texts)
		if err != nil {
			return nil, err
		}
	}

	records := make([]domain.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = domain.VectorRecord{
			ID:           c.Metadata.VectorID,
			ClassID:      classID,
			DenseValues:  dense[i],
			SparseValues: sparse[i],
			Metadata:     c.Metadata,
		}
	}

	e.logger.WithFields(logrus.Fields{
		"class_id": classID,
		"count":    len(records),
	}).Debug("chunks embedded")
	return records, nil
}

func namespace(chunks []*domain.Chunk) (string, error) {
	classID := chunks[0].ClassID
	for _, c := range chunks {
		if c.ClassID != classID || c.Metadata.ClassID != classID {
			return "", domain.ErrNamespaceMismatch.WithCause(
				fmt.Errorf("chunk %s is in class %q, expected %q", c.ID, c.ClassID, classID),
			)
		}
	}
	return classID, nil
}

func (e *Engine) embedDense(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxWorkers)
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := retry.DoValue(gctx, e.policy, "embed_dense", func(ctx context.Context) ([][]float32, error) {
				return e.dense.EmbedTexts(ctx, texts[start:end])
			})
			if err != nil {
				return domain.External(err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) encodeSparse(ctx context.Context, texts []string) ([]map[int32]float32, error) {
	pool, err := ants.NewPool(e.cfg.SparseWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to create sparse worker pool: %w", err)
	}
	defer pool.Release()

	out := make([]map[int32]float32, len(texts))
	var wg sync.WaitGroup
	for start := 0; start < len(texts); start += e.cfg.SparseSubBatchSize {
		if e.gate != nil {
			if err := e.gate.Wait(ctx); err != nil {
				wg.Wait()
				return nil, err
			}
		}
		end := min(start+e.cfg.SparseSubBatchSize, len(texts))
		wg.Add(1)
		task := func() {
			defer wg.Done()
			for i := start; i < end; i++ {
				out[i] = e.sparse.Encode(texts[i])
			}
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("failed to submit sparse batch: %w", err)
		}
	}
	wg.Wait()
	return out, nil
}
