package backend

import (
	"context"
	"time"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/indexer"
	"github.com/cloo-solutions/taisearch/internal/ingest"
	"github.com/stretchr/testify/mock"
)

type MockAdmission struct {
	mock.Mock
}

func (m *MockAdmission) Admit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockIndexer struct {
	mock.Mock
}

func (m *MockIndexer) Ingest(ctx context.Context, req ingest.Request) (*domain.IngestedDocument, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IngestedDocument), args.Error(1)
}

func (m *MockIndexer) Index(ctx context.Context, doc *domain.IngestedDocument) (*indexer.IndexResult, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*indexer.IndexResult), args.Error(1)
}

func (m *MockIndexer) Search(ctx context.Context, req indexer.SearchRequest) (*indexer.SearchResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*indexer.SearchResult), args.Error(1)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) UpsertResource(ctx context.Context, r *domain.Resource) error {
	return m.Called(ctx, r).Error(0)
}

func (m *MockStore) GetResources(ctx context.Context, ids []string) ([]*domain.Resource, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Resource), args.Error(1)
}

func (m *MockStore) GetResourcesByClass(ctx context.Context, classID string) ([]*domain.Resource, error) {
	args := m.Called(ctx, classID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Resource), args.Error(1)
}

func (m *MockStore) FindDuplicates(ctx context.Context, classID, contentHash, id string) ([]*domain.Resource, error) {
	args := m.Called(ctx, classID, contentHash, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Resource), args.Error(1)
}

func (m *MockStore) UpdateStatus(ctx context.Context, id string, status domain.ResourceStatus, now time.Time) error {
	return m.Called(ctx, id, status, now).Error(0)
}

func (m *MockStore) CompleteResource(ctx context.Context, id string, chunkIDs []string, now time.Time) error {
	return m.Called(ctx, id, chunkIDs, now).Error(0)
}

func (m *MockStore) DeleteResources(ctx context.Context, ids []string) error {
	return m.Called(ctx, ids).Error(0)
}

func (m *MockStore) MostFrequentlyAccessed(ctx context.Context, classID string, from, to time.Time) ([]domain.ResourceUsage, error) {
	args := m.Called(ctx, classID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ResourceUsage), args.Error(1)
}

func (m *MockStore) GetChunks(ctx context.Context, ids []string) ([]*domain.Chunk, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chunk), args.Error(1)
}

func (m *MockStore) ChunkIDsByResources(ctx context.Context, resourceIDs []string) ([]string, error) {
	args := m.Called(ctx, resourceIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) DeleteChunks(ctx context.Context, ids []string) error {
	return m.Called(ctx, ids).Error(0)
}

type MockVectorDeleter struct {
	mock.Mock
}

func (m *MockVectorDeleter) Delete(ctx context.Context, classID string, ids []string) error {
	return m.Called(ctx, classID, ids).Error(0)
}
