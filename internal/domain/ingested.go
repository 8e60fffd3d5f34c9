package domain

// IngestedDocument is a resource whose bytes have been fetched and
// classified but not yet split or embedded.
type IngestedDocument struct {
	Resource
	// DataPath is the local scratch file holding the fetched bytes. It is
	// empty for raw URLs, which are never downloaded.
	DataPath string
	// ScratchDir is the per-resource directory holding DataPath and every
	// file derived from it. ScratchRoot is the directory it was created in.
	ScratchDir  string
	ScratchRoot string
	// VideoID is set for video-platform resources.
	VideoID string
	// PageNumber is the page of the parent a crawled child was cut from.
	PageNumber int
}

// Child derives a crawled child document from the receiver. The child gets
// its own id and records the receiver as its parent.
func (d *IngestedDocument) Child(id, dataPath string) *IngestedDocument {
	child := *d
	child.ID = id
	child.Kind = ResourceKindChild
	child.ParentResourceIDs = []string{d.ID}
	child.ChildResourceIDs = nil
	child.ChunkIDs = nil
	child.UsageLog = nil
	child.DataPath = dataPath
	child.PageNumber = 0
	return &child
}
