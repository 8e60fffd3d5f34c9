package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// ResourceStatus is the lifecycle state of a resource.
type ResourceStatus string

const (
	ResourceStatusPending    ResourceStatus = "PENDING"
	ResourceStatusProcessing ResourceStatus = "PROCESSING"
	ResourceStatusCompleted  ResourceStatus = "COMPLETED"
	ResourceStatusFailed     ResourceStatus = "FAILED"
	ResourceStatusDeleting   ResourceStatus = "DELETING"
)

// ResourceKind discriminates top-level resources from crawled children. It is
// written once at creation and never inferred from the record's shape.
type ResourceKind string

const (
	ResourceKindRoot  ResourceKind = "root"
	ResourceKindChild ResourceKind = "child"
)

var contentHashPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ResourceMetadata is descriptive metadata copied onto every chunk.
type ResourceMetadata struct {
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Tags           []string     `json:"tags"`
	ResourceType   ResourceType `json:"resource_type"`
	TotalPageCount *int         `json:"total_page_count,omitempty"`
}

// UsageEvent records one access of a resource or chunk.
type UsageEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Resource is a top-level indexable unit submitted to a class, or a page
// child produced by a crawler.
type Resource struct {
	ID                string
	ClassID           string
	Kind              ResourceKind
	FullResourceURL   string
	SourceURL         string
	IngestStrategy    IngestStrategy
	InputFormat       InputFormat
	PreviewImageURL   string
	Metadata          ResourceMetadata
	Status            ResourceStatus
	ContentHash       string
	ChunkIDs          []string
	ChildResourceIDs  []string
	ParentResourceIDs []string
	UsageLog          []UsageEvent
	CreatedAt         time.Time
	ModifiedAt        time.Time
}

// IsRoot reports whether the resource was submitted directly rather than
// produced by crawling another resource.
func (r *Resource) IsRoot() bool {
	return len(r.ParentResourceIDs) == 0
}

// IsStuck reports whether the resource sits in a non-terminal status longer
// than timeout.
func (r *Resource) IsStuck(now time.Time, timeout time.Duration) bool {
	switch r.Status {
	case ResourceStatusCompleted, ResourceStatusFailed:
		return false
	}
	return now.Sub(r.ModifiedAt) > timeout
}

// MarkStatus moves the resource to status and stamps modified_at. Chunk ids
// are cleared for every status except COMPLETED.
func (r *Resource) MarkStatus(status ResourceStatus, now time.Time) {
	r.Status = status
	r.ModifiedAt = now
	if status != ResourceStatusCompleted {
		r.ChunkIDs = nil
	}
}

// Complete links chunkIDs and marks the resource COMPLETED.
func (r *Resource) Complete(chunkIDs []string, now time.Time) error {
	if len(chunkIDs) == 0 {
		return NewDomainError(ErrCodeValidation, "completed resource requires at least one chunk")
	}
	r.ChunkIDs = append([]string(nil), chunkIDs...)
	r.Status = ResourceStatusCompleted
	r.ModifiedAt = now
	return nil
}

func isValidResourceStatus(s ResourceStatus) bool {
	switch s {
	case ResourceStatusPending, ResourceStatusProcessing, ResourceStatusCompleted,
		ResourceStatusFailed, ResourceStatusDeleting:
		return true
	}
	return false
}

// ValidateResourceStatus returns ErrInvalidStatus for unknown statuses.
func ValidateResourceStatus(s ResourceStatus) error {
	if !isValidResourceStatus(s) {
		return ErrInvalidStatus
	}
	return nil
}

// ParseResourceID returns the canonical form of a caller-supplied resource
// id. Anything but a UUID is ErrInvalidResourceID.
func ParseResourceID(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", ErrInvalidResourceID.WithCause(err)
	}
	return id.String(), nil
}

// ValidateResource checks the structural invariants of a resource record.
func ValidateResource(r *Resource) error {
	if r == nil {
		return fmt.Errorf("resource cannot be nil")
	}
	if r.ID == "" {
		return fmt.Errorf("resource ID is required")
	}
	if r.ClassID == "" {
		return fmt.Errorf("resource ClassID is required")
	}
	if err := ValidateResourceStatus(r.Status); err != nil {
		return err
	}
	if r.InputFormat != "" {
		if err := ValidateInputFormat(r.InputFormat); err != nil {
			return err
		}
	}
	if r.IngestStrategy != "" && !isValidIngestStrategy(r.IngestStrategy) {
		return fmt.Errorf("resource ingest strategy %q is invalid", r.IngestStrategy)
	}
	if !contentHashPattern.MatchString(r.ContentHash) {
		return fmt.Errorf("resource content hash %q is not a 40 character hex digest", r.ContentHash)
	}
	switch r.Kind {
	case ResourceKindRoot:
		if !r.IsRoot() {
			return fmt.Errorf("root resource %s has parent resources", r.ID)
		}
	case ResourceKindChild:
		if r.IsRoot() {
			return fmt.Errorf("child resource %s has no parent resource", r.ID)
		}
	default:
		return fmt.Errorf("resource kind %q is invalid", r.Kind)
	}
	if (r.Status == ResourceStatusCompleted) != (len(r.ChunkIDs) > 0) {
		return fmt.Errorf("resource %s in status %s has %d chunk ids", r.ID, r.Status, len(r.ChunkIDs))
	}
	return nil
}
