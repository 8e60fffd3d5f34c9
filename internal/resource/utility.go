// Package resource holds the per-format hooks that run around splitting:
// preview images, durable uploads and per-chunk source links.
package resource

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/ingest"
	"github.com/sirupsen/logrus"
)

// Uploader stores a local file durably and returns its URL.
type Uploader interface {
	UploadFile(ctx context.Context, key, path, contentType string) (string, error)
}

// Utility is implemented once per input format.
type Utility interface {
	// CreateThumbnail sets the preview image of doc. Formats without one
	// return domain.ErrNotSupported.
	CreateThumbnail(ctx context.Context, doc *domain.IngestedDocument) error
	// UploadResource stores a durable copy of doc and points
	// FullResourceURL at it.
	UploadResource(ctx context.Context, doc *domain.IngestedDocument) error
	// AugmentChunks links each chunk to the smallest source artifact that
	// contains it.
	AugmentChunks(ctx context.Context, doc *domain.IngestedDocument, chunks []*domain.Chunk) error
}

// Utilities maps input formats to their utility.
type Utilities struct {
	table map[domain.InputFormat]Utility
}

// NewUtilities builds the default table. The PDF utility needs renderer and
// pages; text formats need uploader.
func NewUtilities(uploader Uploader, renderer Renderer, pages PageSplitter, logger logrus.FieldLogger) *Utilities {
	text := &TextUtility{uploader: uploader}
	return &Utilities{table: map[domain.InputFormat]Utility{
		domain.InputFormatPDF:          NewPDFUtility(uploader, renderer, pages, logger),
		domain.InputFormatHTML:         HTMLUtility{},
		domain.InputFormatYouTubeVideo: VideoUtility{},
		domain.InputFormatGenericText:  text,
		domain.InputFormatMarkdown:     text,
		domain.InputFormatLatex:        text,
	}}
}

// For returns the utility of format.
func (u *Utilities) For(format domain.InputFormat) (Utility, error) {
	util, ok := u.table[format]
	if !ok {
		return nil, domain.ErrUnsupportedFormat.WithCause(fmt.Errorf("no resource utility for %q", format))
	}
	return util, nil
}

// HTMLUtility handles public web pages, which are already durable.
type HTMLUtility struct{}

func (HTMLUtility) CreateThumbnail(context.Context, *domain.IngestedDocument) error {
	return domain.ErrNotSupported
}

func (HTMLUtility) UploadResource(context.Context, *domain.IngestedDocument) error { return nil }

func (HTMLUtility) AugmentChunks(context.Context, *domain.IngestedDocument, []*domain.Chunk) error {
	return nil
}

// VideoUtility handles raw video links.
type VideoUtility struct{}

func (VideoUtility) CreateThumbnail(_ context.Context, doc *domain.IngestedDocument) error {
	if doc.VideoID == "" {
		return domain.ErrNotSupported
	}
	doc.PreviewImageURL = ingest.VideoThumbnailURL(doc.VideoID)
	return nil
}

func (VideoUtility) UploadResource(context.Context, *domain.IngestedDocument) error { return nil }

func (VideoUtility) AugmentChunks(context.Context, *domain.IngestedDocument, []*domain.Chunk) error {
	return nil
}

// TextUtility handles plain text, markdown and latex files.
type TextUtility struct {
	uploader Uploader
}

func (u *TextUtility) CreateThumbnail(context.Context, *domain.IngestedDocument) error {
	return domain.ErrNotSupported
}

func (u *TextUtility) UploadResource(ctx context.Context, doc *domain.IngestedDocument) error {
	url, err := upload(ctx, u.uploader, doc, doc.DataPath, "text/plain; charset=utf-8")
	if err != nil {
		return err
	}
	doc.FullResourceURL = url
	return nil
}

func (u *TextUtility) AugmentChunks(context.Context, *domain.IngestedDocument, []*domain.Chunk) error {
	return nil
}
