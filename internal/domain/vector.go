package domain

// SparseDimensions is the size of the hashed sparse vocabulary. It stays
// below the sparsevec dimension limit of pgvector.
const SparseDimensions = 1 << 29

// VectorRecord is the index-side representation of exactly one chunk.
type VectorRecord struct {
	ID           string
	ClassID      string
	DenseValues  []float32
	SparseValues map[int32]float32
	Metadata     ChunkMetadata
}

// ScoredVector is a vector id returned by a query with its similarity score.
type ScoredVector struct {
	ID       string
	Score    float64
	Metadata ChunkMetadata
}

// VectorFilter restricts a query. Chapters and Sections are OR-ed with each
// other and the result is AND-ed with ResourceType when it is set.
type VectorFilter struct {
	Chapters     []string
	Sections     []string
	ResourceType ResourceType
}

// IsEmpty reports whether the filter restricts nothing.
func (f VectorFilter) IsEmpty() bool {
	return len(f.Chapters) == 0 && len(f.Sections) == 0 && f.ResourceType == ""
}

// ResourceUsage is one row of the most-frequently-accessed ranking.
type ResourceUsage struct {
	ResourceID string
	Count      int64
	Resource   *Resource
}
