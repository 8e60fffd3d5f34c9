package indexer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestQueryWeights(t *testing.T) {
	alpha, topK := QueryWeights("define a limit")
	assert.Equal(t, 0.4, alpha)
	assert.Equal(t, 5, topK)

	alpha, topK = QueryWeights(strings.Repeat("word ", 20))
	assert.Equal(t, 0.7, alpha)
	assert.Equal(t, 3, topK)

	alpha, _ = QueryWeights("one two three four five six seven eight nine ten")
	assert.Equal(t, 0.7, alpha)
}

func TestQueryFilter(t *testing.T) {
	f := QueryFilter("summarise chapters 1, 2 and 3 focusing on 4.2", domain.ResourceTypePDF)
	assert.Equal(t, []string{"1", "2", "3"}, f.Chapters)
	assert.Equal(t, []string{"4.2"}, f.Sections)
	assert.Equal(t, domain.ResourceTypePDF, f.ResourceType)

	assert.True(t, QueryFilter("what is a derivative", "").IsEmpty())
}

type searchFixture struct {
	*fixture
	root   *domain.Resource
	child  *domain.Resource
	first  *domain.Chunk
	second *domain.Chunk
}

func newSearchFixture() *searchFixture {
	f := newFixture(nil)
	root := &newDoc().Resource
	child := &domain.Resource{ID: "p3", ClassID: "c1", Kind: domain.ResourceKindChild, ParentResourceIDs: []string{root.ID}}
	first := domain.NewChunk(child, "the derivative of x squared", domain.ChunkSizeSmall)
	second := domain.NewChunk(root, "derivatives measure change", domain.ChunkSizeSmall)

	f.embedder.On("Embed", mock.Anything, mock.MatchedBy(func(chunks []*domain.Chunk) bool {
		return len(chunks) == 1 && chunks[0].ClassID == "c1"
	}), embedding.ModeInference).Return([]domain.VectorRecord{{
		ClassID:      "c1",
		DenseValues:  []float32{1, 0},
		SparseValues: map[int32]float32{9: 1},
	}}, nil)
	f.vectors.On("Query", mock.Anything, "c1", []float32{0.4, 0}, mock.Anything, 5, domain.VectorFilter{}).
		Return([]domain.ScoredVector{
			{ID: second.Metadata.VectorID, Score: 0.4},
			{ID: first.Metadata.VectorID, Score: 0.9},
			{ID: "orphan", Score: 0.1},
		}, nil)
	f.docs.On("GetChunksByVectorIDs", mock.Anything, mock.Anything).
		Return([]*domain.Chunk{first, second}, nil)
	f.docs.On("GetResources", mock.Anything, []string{second.ResourceID, first.ResourceID}).
		Return([]*domain.Resource{root, child}, nil)
	f.docs.On("AppendChunkUsage", mock.Anything, []string{second.ID, first.ID}, mock.Anything).Return(nil)
	f.docs.On("AppendResourceUsage", mock.Anything, []string{root.ID, child.ID}, mock.Anything).Return(nil)

	return &searchFixture{fixture: f, root: root, child: child, first: first, second: second}
}

func TestIndexer_Search(t *testing.T) {
	f := newSearchFixture()

	result, err := f.ix.Search(context.Background(), SearchRequest{Query: "what is a derivative", ClassID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, 0.4, result.Alpha)
	assert.Equal(t, 5, result.TopK)
	require.Len(t, result.Hits, 2)
	assert.Equal(t, f.second.ID, result.Hits[0].Chunk.ID, "hits keep the order the index returned")
	assert.Equal(t, f.first.ID, result.Hits[1].Chunk.ID)
	assert.Equal(t, 0.4, result.Hits[0].Score)

	assert.Same(t, f.root, result.Hits[0].Resource)
	assert.Same(t, f.root, result.Hits[1].Resource, "a crawled child resolves to its root")

	f.docs.AssertExpectations(t)

	events := f.archive.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "what is a derivative", events[0].Query)
	assert.Equal(t, 2, events[0].ResultCount)
}

func TestIndexer_Search_ForTutorSkipsResources(t *testing.T) {
	f := newSearchFixture()

	result, err := f.ix.Search(context.Background(), SearchRequest{Query: "what is a derivative", ClassID: "c1", ForTutor: true})
	require.NoError(t, err)

	for _, h := range result.Hits {
		assert.Nil(t, h.Resource)
	}
	f.docs.AssertCalled(t, "AppendResourceUsage", mock.Anything, mock.Anything, mock.Anything)
}

func TestIndexer_Search_ArchiveFailureIsLogged(t *testing.T) {
	f := newSearchFixture()
	f.archive.err = errors.New("redis down")

	result, err := f.ix.Search(context.Background(), SearchRequest{Query: "what is a derivative", ClassID: "c1"})
	require.NoError(t, err)
	assert.Len(t, result.Hits, 2)
}

func TestIndexer_Search_UsageFailureIsLogged(t *testing.T) {
	f := newFixture(nil)
	chunk := domain.NewChunk(&newDoc().Resource, "limits", domain.ChunkSizeSmall)
	f.embedder.On("Embed", mock.Anything, mock.Anything, embedding.ModeInference).
		Return([]domain.VectorRecord{{ClassID: "c1", DenseValues: []float32{1}}}, nil)
	f.vectors.On("Query", mock.Anything, "c1", mock.Anything, mock.Anything, 5, mock.Anything).
		Return([]domain.ScoredVector{{ID: chunk.Metadata.VectorID, Score: 1}}, nil)
	f.docs.On("GetChunksByVectorIDs", mock.Anything, mock.Anything).Return([]*domain.Chunk{chunk}, nil)
	f.docs.On("GetResources", mock.Anything, mock.Anything).Return(nil, domain.ErrDataCorruption)

	result, err := f.ix.Search(context.Background(), SearchRequest{Query: "limits", ClassID: "c1"})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Nil(t, result.Hits[0].Resource)
}

func TestIndexer_Search_QueryFailure(t *testing.T) {
	f := newFixture(nil)
	f.embedder.On("Embed", mock.Anything, mock.Anything, embedding.ModeInference).
		Return([]domain.VectorRecord{{ClassID: "c1", DenseValues: []float32{1}}}, nil)
	f.vectors.On("Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("timeout"))

	_, err := f.ix.Search(context.Background(), SearchRequest{Query: "limits", ClassID: "c1"})
	assert.ErrorIs(t, err, domain.ErrExternalService)
	f.vectors.AssertNumberOfCalls(t, "Query", 3)
}

func TestIndexer_Search_RequiresQuery(t *testing.T) {
	f := newFixture(nil)
	_, err := f.ix.Search(context.Background(), SearchRequest{Query: "  ", ClassID: "c1"})
	assert.ErrorIs(t, err, domain.ErrMissingRequiredField)
}

func TestIndexer_Search_GroupsBySizeClass(t *testing.T) {
	f := newFixture(nil)
	root := &newDoc().Resource
	bigFirst := domain.NewChunk(root, "limits and continuity, the full section", domain.ChunkSizeLarge)
	smallFirst := domain.NewChunk(root, "a limit is approached", domain.ChunkSizeSmall)
	bigSecond := domain.NewChunk(root, "continuity on closed intervals, the full section", domain.ChunkSizeLarge)
	smallSecond := domain.NewChunk(root, "continuity means no jumps", domain.ChunkSizeSmall)

	f.embedder.On("Embed", mock.Anything, mock.Anything, embedding.ModeInference).
		Return([]domain.VectorRecord{{ClassID: "c1", DenseValues: []float32{1}}}, nil)
	f.vectors.On("Query", mock.Anything, "c1", mock.Anything, mock.Anything, 5, domain.VectorFilter{}).
		Return([]domain.ScoredVector{
			{ID: bigFirst.Metadata.VectorID, Score: 0.9},
			{ID: smallFirst.Metadata.VectorID, Score: 0.8},
			{ID: bigSecond.Metadata.VectorID, Score: 0.7},
			{ID: smallSecond.Metadata.VectorID, Score: 0.6},
		}, nil)
	f.docs.On("GetChunksByVectorIDs", mock.Anything, mock.Anything).
		Return([]*domain.Chunk{smallSecond, bigSecond, smallFirst, bigFirst}, nil)
	f.docs.On("GetResources", mock.Anything, mock.Anything).Return([]*domain.Resource{root}, nil)
	f.docs.On("AppendChunkUsage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.docs.On("AppendResourceUsage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.ix.Search(context.Background(), SearchRequest{Query: "what is continuity", ClassID: "c1"})
	require.NoError(t, err)

	var got []string
	for _, h := range result.Hits {
		got = append(got, h.Chunk.ID)
	}
	assert.Equal(t, []string{smallFirst.ID, smallSecond.ID, bigFirst.ID, bigSecond.ID}, got)

	large := result.BySize(domain.ChunkSizeLarge)
	require.Len(t, large, 2)
	assert.Equal(t, bigFirst.ID, large[0].Chunk.ID)
	assert.Equal(t, 0.9, large[0].Score)
	assert.Len(t, result.BySize(domain.ChunkSizeSmall), 2)
}

func TestIndexer_Search_FallsBackWhenQueryFilterMatchesNothing(t *testing.T) {
	f := newFixture(nil)
	chunk := domain.NewChunk(&newDoc().Resource, "pi is roughly 3.14159", domain.ChunkSizeSmall)
	narrowed := mock.MatchedBy(func(filter domain.VectorFilter) bool {
		return len(filter.Sections) > 0
	})

	f.embedder.On("Embed", mock.Anything, mock.Anything, embedding.ModeInference).
		Return([]domain.VectorRecord{{ClassID: "c1", DenseValues: []float32{1}}}, nil)
	f.vectors.On("Query", mock.Anything, "c1", mock.Anything, mock.Anything, 5, narrowed).
		Return([]domain.ScoredVector{}, nil)
	f.vectors.On("Query", mock.Anything, "c1", mock.Anything, mock.Anything, 5, domain.VectorFilter{ResourceType: domain.ResourceTypePDF}).
		Return([]domain.ScoredVector{{ID: chunk.Metadata.VectorID, Score: 0.8}}, nil)
	f.docs.On("GetChunksByVectorIDs", mock.Anything, []string{chunk.Metadata.VectorID}).Return([]*domain.Chunk{chunk}, nil)
	f.docs.On("GetResources", mock.Anything, mock.Anything).Return([]*domain.Resource{}, nil)
	f.docs.On("AppendChunkUsage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.docs.On("AppendResourceUsage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := f.ix.Search(context.Background(), SearchRequest{
		Query:        "why is pi 3.14",
		ClassID:      "c1",
		ResourceType: domain.ResourceTypePDF,
	})
	require.NoError(t, err)

	require.Len(t, result.Hits, 1)
	assert.Equal(t, chunk.ID, result.Hits[0].Chunk.ID)
	f.vectors.AssertNumberOfCalls(t, "Query", 2)
}

func TestIndexer_Search_NoFallbackWithoutQueryFilter(t *testing.T) {
	f := newFixture(nil)
	f.embedder.On("Embed", mock.Anything, mock.Anything, embedding.ModeInference).
		Return([]domain.VectorRecord{{ClassID: "c1", DenseValues: []float32{1}}}, nil)
	f.vectors.On("Query", mock.Anything, "c1", mock.Anything, mock.Anything, 5, domain.VectorFilter{}).
		Return([]domain.ScoredVector{}, nil)
	f.docs.On("GetChunksByVectorIDs", mock.Anything, mock.Anything).Return([]*domain.Chunk{}, nil)

	result, err := f.ix.Search(context.Background(), SearchRequest{Query: "what is a limit", ClassID: "c1"})
	require.NoError(t, err)

	assert.Empty(t, result.Hits)
	f.vectors.AssertNumberOfCalls(t, "Query", 1)
}
