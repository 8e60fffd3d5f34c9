package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ChunkSize is the size class a chunk was split with.
type ChunkSize string

const (
	ChunkSizeSmall ChunkSize = "small"
	ChunkSizeLarge ChunkSize = "large"
)

// ChunkMetadata is stored with the chunk and copied onto its vector record
// for index-side filtering.
type ChunkMetadata struct {
	ResourceMetadata
	ClassID    string    `json:"class_id"`
	ChunkID    string    `json:"chunk_id"`
	VectorID   string    `json:"vector_id"`
	ChunkSize  ChunkSize `json:"chunk_size"`
	PageNumber int       `json:"page_number"`
	StartTime  *float64  `json:"start_time,omitempty"`
	Duration   *float64  `json:"duration,omitempty"`
	Chapters   []string  `json:"chapters"`
	Sections   []string  `json:"sections"`
}

// Chunk is a retrievable slice of a resource's extracted text.
type Chunk struct {
	ID          string
	ClassID     string
	ResourceID  string
	Text        string
	RawChunkURL string
	Metadata    ChunkMetadata
	UsageLog    []UsageEvent
}

// NewChunk creates a chunk owned by resource. The chunk inherits the
// resource's class and metadata and gets fresh chunk and vector ids.
func NewChunk(resource *Resource, text string, size ChunkSize) *Chunk {
	id := uuid.NewString()
	return &Chunk{
		ID:         id,
		ClassID:    resource.ClassID,
		ResourceID: resource.ID,
		Text:       text,
		Metadata: ChunkMetadata{
			ResourceMetadata: resource.Metadata,
			ClassID:          resource.ClassID,
			ChunkID:          id,
			VectorID:         uuid.NewString(),
			ChunkSize:        size,
			PageNumber:       1,
		},
	}
}

// ValidateChunk checks the structural invariants of a chunk record.
func ValidateChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}
	if c.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}
	if c.ResourceID == "" {
		return fmt.Errorf("chunk ResourceID is required")
	}
	if c.ClassID == "" || c.Metadata.ClassID != c.ClassID {
		return fmt.Errorf("chunk %s metadata class %q does not match class %q", c.ID, c.Metadata.ClassID, c.ClassID)
	}
	if c.Metadata.VectorID == "" {
		return fmt.Errorf("chunk %s has no vector id", c.ID)
	}
	switch c.Metadata.ChunkSize {
	case ChunkSizeSmall, ChunkSizeLarge:
	default:
		return fmt.Errorf("chunk %s has invalid size class %q", c.ID, c.Metadata.ChunkSize)
	}
	return nil
}
