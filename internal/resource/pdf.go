package resource

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/storage"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	thumbnailName     = "thumbnail"
	pageUploadWorkers = 8
)

// Renderer draws the first page of a PDF as a PNG.
type Renderer interface {
	RenderFirstPage(ctx context.Context, pdfPath, outPrefix string) (string, error)
}

// PageSplitter writes one PDF per page of pdfPath into outDir and returns
// their paths ordered by page.
type PageSplitter interface {
	SplitPages(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// PDFUtility uploads PDFs, renders their first page, and links chunks to
// single-page artifacts.
type PDFUtility struct {
	uploader Uploader
	renderer Renderer
	pages    PageSplitter
	logger   logrus.FieldLogger
}

func NewPDFUtility(uploader Uploader, renderer Renderer, pages PageSplitter, logger logrus.FieldLogger) *PDFUtility {
	return &PDFUtility{uploader: uploader, renderer: renderer, pages: pages, logger: logger}
}

func (u *PDFUtility) CreateThumbnail(ctx context.Context, doc *domain.IngestedDocument) error {
	if u.renderer == nil {
		return domain.ErrNotSupported
	}
	prefix := filepath.Join(filepath.Dir(doc.DataPath), thumbnailName)
	png, err := u.renderer.RenderFirstPage(ctx, doc.DataPath, prefix)
	if err != nil {
		return fmt.Errorf("failed to render thumbnail: %w", err)
	}
	url, err := upload(ctx, u.uploader, doc, png, "image/png")
	if err != nil {
		return err
	}
	doc.PreviewImageURL = url
	return nil
}

func (u *PDFUtility) UploadResource(ctx context.Context, doc *domain.IngestedDocument) error {
	url, err := upload(ctx, u.uploader, doc, doc.DataPath, "application/pdf")
	if err != nil {
		return err
	}
	doc.FullResourceURL = url
	return nil
}

// AugmentChunks sets each chunk's RawChunkURL to the uploaded page it came
// from. A crawled child is already a single page, so its own upload is used.
func (u *PDFUtility) AugmentChunks(ctx context.Context, doc *domain.IngestedDocument, chunks []*domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if doc.PageNumber > 0 {
		for _, c := range chunks {
			c.RawChunkURL = doc.FullResourceURL
		}
		return nil
	}

	if u.uploader == nil || u.pages == nil {
		return domain.ErrNotSupported
	}

	outDir := filepath.Join(filepath.Dir(doc.DataPath), "pages")
	pages, err := u.pages.SplitPages(ctx, doc.DataPath, outDir)
	if err != nil {
		return fmt.Errorf("failed to split pages: %w", err)
	}

	wanted := map[int]bool{}
	for _, c := range chunks {
		wanted[c.Metadata.PageNumber] = true
	}

	urls := make([]string, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pageUploadWorkers)
	for i, path := range pages {
		if !wanted[i+1] {
			continue
		}
		g.Go(func() error {
			key := storage.ResourceKey(doc.ClassID, doc.ID, fmt.Sprintf("pages/%d.pdf", i+1))
			url, err := u.uploader.UploadFile(gctx, key, path, "application/pdf")
			if err != nil {
				return fmt.Errorf("failed to upload page %d: %w", i+1, err)
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, c := range chunks {
		n := c.Metadata.PageNumber
		if n < 1 || n > len(urls) {
			u.logger.WithFields(logrus.Fields{
				"resource_id": doc.ID,
				"page_number": n,
			}).Warn("chunk page out of range, no raw chunk url")
			continue
		}
		c.RawChunkURL = urls[n-1]
	}
	return nil
}

func upload(ctx context.Context, uploader Uploader, doc *domain.IngestedDocument, path, contentType string) (string, error) {
	if uploader == nil {
		return "", domain.ErrNotSupported
	}
	key := storage.ResourceKey(doc.ClassID, doc.ID, filepath.Base(path))
	url, err := uploader.UploadFile(ctx, key, path, contentType)
	if err != nil {
		return "", domain.External(err)
	}
	return url, nil
}

// PDFToPPM renders with the poppler pdftoppm binary.
type PDFToPPM struct {
	Binary string
}

func (r PDFToPPM) RenderFirstPage(ctx context.Context, pdfPath, outPrefix string) (string, error) {
	bin := r.Binary
	if bin == "" {
		bin = "pdftoppm"
	}
	cmd := exec.CommandContext(ctx, bin, "-png", "-singlefile", "-f", "1", "-l", "1", "-r", "72", pdfPath, outPrefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", bin, err, out)
	}
	return outPrefix + ".png", nil
}

var pageFilePattern = regexp.MustCompile(`_(\d+)\.pdf$`)

// PDFCPUSplitter splits with pdfcpu.
type PDFCPUSplitter struct{}

func (PDFCPUSplitter) SplitPages(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	if err := api.SplitFile(pdfPath, outDir, 1, nil); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}
	type page struct {
		n    int
		path string
	}
	var pages []page
	for _, e := range entries {
		m := pageFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		pages = append(pages, page{n: n, path: filepath.Join(outDir, e.Name())})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}
