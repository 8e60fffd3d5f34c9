package loader

import (
	"context"
	"fmt"
	"os"
	"strings"

	"code.sajari.com/docconv"
	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/ledongthuc/pdf"
)

// PDFLoader returns one document per non-empty page.
type PDFLoader struct{}

func (PDFLoader) Load(ctx context.Context, doc *domain.IngestedDocument) ([]Document, error) {
	f, r, err := pdf.Open(doc.DataPath)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	docs := make([]Document, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, Document{
			Text: text,
			Metadata: map[string]any{
				"page_number": pageOffset(doc) + i,
				"total_pages": total,
			},
		})
	}
	return docs, nil
}

// pageOffset lets a crawled single-page child keep the page number it had in
// its parent.
func pageOffset(doc *domain.IngestedDocument) int {
	if doc.PageNumber > 0 {
		return doc.PageNumber - 1
	}
	return 0
}

// TextLoader reads the scratch file as a single document.
type TextLoader struct{}

func (TextLoader) Load(_ context.Context, doc *domain.IngestedDocument) ([]Document, error) {
	b, err := os.ReadFile(doc.DataPath)
	if err != nil {
		return nil, err
	}
	return []Document{{Text: string(b), Metadata: map[string]any{}}}, nil
}

// HTMLLoader converts markup to plain text. With Readability set only the
// main article content is kept.
type HTMLLoader struct {
	Readability bool
}

func (l HTMLLoader) Load(_ context.Context, doc *domain.IngestedDocument) ([]Document, error) {
	f, err := os.Open(doc.DataPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	text, meta, err := docconv.ConvertHTML(f, l.Readability)
	if err != nil {
		return nil, fmt.Errorf("convert HTML: %w", err)
	}
	md := make(map[string]any, len(meta))
	for k, v := range meta {
		md[k] = v
	}
	return []Document{{Text: text, Metadata: md}}, nil
}
