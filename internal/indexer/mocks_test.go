package indexer

import (
	"context"
	"sync"

	"github.com/cloo-solutions/taisearch/internal/archive"
	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/embedding"
	"github.com/cloo-solutions/taisearch/internal/ingest"
	"github.com/cloo-solutions/taisearch/internal/resource"
	"github.com/stretchr/testify/mock"
)

type MockIngestor struct {
	mock.Mock
}

func (m *MockIngestor) Ingest(ctx context.Context, req ingest.Request) (*domain.IngestedDocument, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestedDocument), args.Error(1)
}

type MockChunker struct {
	mock.Mock
}

func (m *MockChunker) Chunks(ctx context.Context, doc *domain.IngestedDocument) ([]*domain.Chunk, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chunk), args.Error(1)
}

type MockUtility struct {
	mock.Mock
}

func (m *MockUtility) CreateThumbnail(ctx context.Context, doc *domain.IngestedDocument) error {
	return m.Called(ctx, doc).Error(0)
}

func (m *MockUtility) UploadResource(ctx context.Context, doc *domain.IngestedDocument) error {
	return m.Called(ctx, doc).Error(0)
}

func (m *MockUtility) AugmentChunks(ctx context.Context, doc *domain.IngestedDocument, chunks []*domain.Chunk) error {
	return m.Called(ctx, doc, chunks).Error(0)
}

// staticUtilities serves one utility for every format.
type staticUtilities struct {
	util resource.Utility
}

func (s staticUtilities) For(domain.InputFormat) (resource.Utility, error) {
	return s.util, nil
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, chunks []*domain.Chunk, mode embedding.Mode) ([]domain.VectorRecord, error) {
	args := m.Called(ctx, chunks, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VectorRecord), args.Error(1)
}

type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) SaveIndexed(ctx context.Context, root *domain.Resource, children []*domain.Resource, chunks []*domain.Chunk) error {
	return m.Called(ctx, root, children, chunks).Error(0)
}

func (m *MockDocumentStore) GetChunksByVectorIDs(ctx context.Context, vectorIDs []string) ([]*domain.Chunk, error) {
	args := m.Called(ctx, vectorIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chunk), args.Error(1)
}

func (m *MockDocumentStore) GetResources(ctx context.Context, ids []string) ([]*domain.Resource, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Resource), args.Error(1)
}

func (m *MockDocumentStore) AppendChunkUsage(ctx context.Context, ids []string, event domain.UsageEvent) error {
	return m.Called(ctx, ids, event).Error(0)
}

func (m *MockDocumentStore) AppendResourceUsage(ctx context.Context, ids []string, event domain.UsageEvent) error {
	return m.Called(ctx, ids, event).Error(0)
}

type MockVectorIndex struct {
	mock.Mock
}

func (m *MockVectorIndex) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	return m.Called(ctx, records).Error(0)
}

func (m *MockVectorIndex) Query(ctx context.Context, classID string, dense []float32, sparse map[int32]float32, topK int, filter domain.VectorFilter) ([]domain.ScoredVector, error) {
	args := m.Called(ctx, classID, dense, sparse, topK, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScoredVector), args.Error(1)
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []archive.QueryEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event archive.QueryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Events() []archive.QueryEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]archive.QueryEvent(nil), p.events...)
}
