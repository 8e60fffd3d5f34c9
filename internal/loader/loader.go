// Package loader turns ingested documents into text pieces and splits them
// into chunks of the configured size classes.
package loader

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/taisearch/internal/domain"
)

// Document is a piece of loaded text with loader-specific metadata, such as
// page numbers or transcript timing.
type Document struct {
	Text     string
	Metadata map[string]any
}

// Loader extracts the text of an ingested document.
type Loader interface {
	Load(ctx context.Context, doc *domain.IngestedDocument) ([]Document, error)
}

// Splitter breaks loaded documents into pieces no longer than the size
// class allows, keeping each piece's source metadata.
type Splitter interface {
	Split(docs []Document, size SizeClass) []Document
}

// SizeClass is a chunk length and overlap, both counted in characters.
type SizeClass struct {
	Name      domain.ChunkSize
	ChunkSize int
	Overlap   int
}

var (
	Small = SizeClass{Name: domain.ChunkSizeSmall, ChunkSize: 500, Overlap: 100}
	Large = SizeClass{Name: domain.ChunkSizeLarge, ChunkSize: 2000, Overlap: 300}
)

// SizeClasses are the classes every resource is indexed with.
func SizeClasses() []SizeClass {
	return []SizeClass{Large, Small}
}

// Strategy pairs the loader and splitter used for one input format.
type Strategy struct {
	Loader   Loader
	Splitter Splitter
}

// Registry maps input formats to strategies.
type Registry struct {
	strategies map[domain.InputFormat]Strategy
}

// NewRegistry builds the default table. transcripts may be nil, in which
// case video resources cannot be loaded.
func NewRegistry(transcripts TranscriptFetcher) *Registry {
	text := TextLoader{}
	r := &Registry{strategies: map[domain.InputFormat]Strategy{
		domain.InputFormatPDF:         {Loader: PDFLoader{}, Splitter: NewRecursiveSplitter(MarkdownSeparators)},
		domain.InputFormatMarkdown:    {Loader: text, Splitter: NewRecursiveSplitter(MarkdownSeparators)},
		domain.InputFormatLatex:       {Loader: text, Splitter: NewRecursiveSplitter(LatexSeparators)},
		domain.InputFormatHTML:        {Loader: HTMLLoader{Readability: true}, Splitter: NewRecursiveSplitter(HTMLSeparators)},
		domain.InputFormatGenericText: {Loader: text, Splitter: NewRecursiveSplitter(GenericSeparators)},
	}}
	if transcripts != nil {
		r.strategies[domain.InputFormatYouTubeVideo] = Strategy{
			Loader:   NewTranscriptLoader(transcripts),
			Splitter: NewTranscriptSplitter(),
		}
	}
	return r
}

// Register replaces the strategy for format.
func (r *Registry) Register(format domain.InputFormat, s Strategy) {
	r.strategies[format] = s
}

// Lookup returns the strategy for format or domain.ErrUnsupportedFormat.
func (r *Registry) Lookup(format domain.InputFormat) (Strategy, error) {
	s, ok := r.strategies[format]
	if !ok {
		return Strategy{}, domain.ErrUnsupportedFormat.WithCause(fmt.Errorf("no loader for %q", format))
	}
	return s, nil
}

// ErrNoText is returned when a document yields no chunks.
var ErrNoText = domain.NewDomainError(domain.ErrCodeValidation, "resource has no extractable text")

// Chunks loads doc once and splits it with every size class.
func (r *Registry) Chunks(ctx context.Context, doc *domain.IngestedDocument) ([]*domain.Chunk, error) {
	s, err := r.Lookup(doc.InputFormat)
	if err != nil {
		return nil, err
	}

	docs, err := s.Loader.Load(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", doc.ID, err)
	}
	for i := range docs {
		docs[i].Text = CollapseRepeats(docs[i].Text)
	}

	var chunks []*domain.Chunk
	for _, size := range SizeClasses() {
		pieces := s.Splitter.Split(docs, size)
		chunks = append(chunks, BuildChunks(&doc.Resource, pieces, size.Name)...)
	}
	if len(chunks) == 0 {
		return nil, ErrNoText
	}
	return chunks, nil
}
