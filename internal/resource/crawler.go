package resource

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/google/uuid"
)

// Crawler expands a document into the documents that get split and
// embedded.
type Crawler interface {
	Crawl(ctx context.Context, doc *domain.IngestedDocument) ([]*domain.IngestedDocument, error)
}

// NewCrawler returns the page crawler when crawlPDFPages is set and the
// identity crawler otherwise.
func NewCrawler(crawlPDFPages bool, pages PageSplitter) Crawler {
	if crawlPDFPages && pages != nil {
		return &PDFPageCrawler{pages: pages, newID: uuid.NewString}
	}
	return SelfCrawler{}
}

// SelfCrawler returns the document as its only child.
type SelfCrawler struct{}

func (SelfCrawler) Crawl(_ context.Context, doc *domain.IngestedDocument) ([]*domain.IngestedDocument, error) {
	return []*domain.IngestedDocument{doc}, nil
}

// PDFPageCrawler turns each page of a PDF into a child resource. Other
// formats pass through unchanged.
type PDFPageCrawler struct {
	pages PageSplitter
	newID func() string
}

func (c *PDFPageCrawler) Crawl(ctx context.Context, doc *domain.IngestedDocument) ([]*domain.IngestedDocument, error) {
	if doc.InputFormat != domain.InputFormatPDF {
		return []*domain.IngestedDocument{doc}, nil
	}

	paths, err := c.pages.SplitPages(ctx, doc.DataPath, filepath.Join(filepath.Dir(doc.DataPath), "children"))
	if err != nil {
		return nil, fmt.Errorf("failed to crawl pages of %s: %w", doc.ID, err)
	}

	total := len(paths)
	children := make([]*domain.IngestedDocument, 0, total)
	doc.ChildResourceIDs = make([]string, 0, total)
	for i, path := range paths {
		child := doc.Child(c.newID(), path)
		child.PageNumber = i + 1
		n := total
		child.Metadata.TotalPageCount = &n
		children = append(children, child)
		doc.ChildResourceIDs = append(doc.ChildResourceIDs, child.ID)
	}
	return children, nil
}
