package resource

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) UploadFile(ctx context.Context, key, path, contentType string) (string, error) {
	args := m.Called(ctx, key, path, contentType)
	return args.String(0), args.Error(1)
}

type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) RenderFirstPage(ctx context.Context, pdfPath, outPrefix string) (string, error) {
	args := m.Called(ctx, pdfPath, outPrefix)
	return args.String(0), args.Error(1)
}

type MockPageSplitter struct {
	mock.Mock
}

func (m *MockPageSplitter) SplitPages(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	args := m.Called(ctx, pdfPath, outDir)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func newPDFDoc() *domain.IngestedDocument {
	doc := &domain.IngestedDocument{DataPath: "/scratch/r1/lecture.pdf"}
	doc.ID = "r1"
	doc.ClassID = "c1"
	doc.InputFormat = domain.InputFormatPDF
	doc.Kind = domain.ResourceKindRoot
	return doc
}

func chunkOnPage(doc *domain.IngestedDocument, page int) *domain.Chunk {
	c := domain.NewChunk(&doc.Resource, "text", domain.ChunkSizeSmall)
	c.Metadata.PageNumber = page
	return c
}

func TestUtilities_For(t *testing.T) {
	u := NewUtilities(nil, nil, nil, telemetry.Discard())

	for _, f := range []domain.InputFormat{
		domain.InputFormatPDF, domain.InputFormatHTML, domain.InputFormatYouTubeVideo,
		domain.InputFormatGenericText, domain.InputFormatMarkdown, domain.InputFormatLatex,
	} {
		_, err := u.For(f)
		assert.NoError(t, err, f)
	}

	_, err := u.For("docx")
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestHTMLUtility(t *testing.T) {
	doc := &domain.IngestedDocument{}
	doc.FullResourceURL = "https://example.edu/page"

	assert.ErrorIs(t, HTMLUtility{}.CreateThumbnail(context.Background(), doc), domain.ErrNotSupported)
	assert.NoError(t, HTMLUtility{}.UploadResource(context.Background(), doc))
	assert.Equal(t, "https://example.edu/page", doc.FullResourceURL)
}

func TestVideoUtility_CreateThumbnail(t *testing.T) {
	doc := &domain.IngestedDocument{VideoID: "dQw4w9WgXcQ"}

	require.NoError(t, VideoUtility{}.CreateThumbnail(context.Background(), doc))
	assert.Equal(t, "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg", doc.PreviewImageURL)

	assert.ErrorIs(t, VideoUtility{}.CreateThumbnail(context.Background(), &domain.IngestedDocument{}), domain.ErrNotSupported)
}

func TestTextUtility_UploadResource(t *testing.T) {
	uploader := new(MockUploader)
	uploader.On("UploadFile", mock.Anything, "class_id=c1/resource_id=r1/notes.md", "/scratch/r1/notes.md", mock.Anything).
		Return("https://tai.s3.amazonaws.com/class_id=c1/resource_id=r1/notes.md", nil)

	doc := &domain.IngestedDocument{DataPath: "/scratch/r1/notes.md"}
	doc.ID = "r1"
	doc.ClassID = "c1"

	u := &TextUtility{uploader: uploader}
	require.NoError(t, u.UploadResource(context.Background(), doc))
	assert.Equal(t, "https://tai.s3.amazonaws.com/class_id=c1/resource_id=r1/notes.md", doc.FullResourceURL)
	assert.ErrorIs(t, u.CreateThumbnail(context.Background(), doc), domain.ErrNotSupported)
	uploader.AssertExpectations(t)
}

func TestTextUtility_UploadResource_Error(t *testing.T) {
	uploader := new(MockUploader)
	uploader.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("access denied"))

	doc := &domain.IngestedDocument{DataPath: "/scratch/r1/notes.md"}
	err := (&TextUtility{uploader: uploader}).UploadResource(context.Background(), doc)

	assert.ErrorIs(t, err, domain.ErrExternalService)
	assert.Empty(t, doc.FullResourceURL)
}

func TestPDFUtility_CreateThumbnail(t *testing.T) {
	renderer := new(MockRenderer)
	renderer.On("RenderFirstPage", mock.Anything, "/scratch/r1/lecture.pdf", "/scratch/r1/thumbnail").
		Return("/scratch/r1/thumbnail.png", nil)
	uploader := new(MockUploader)
	uploader.On("UploadFile", mock.Anything, "class_id=c1/resource_id=r1/thumbnail.png", "/scratch/r1/thumbnail.png", "image/png").
		Return("https://cdn/thumb.png", nil)

	doc := newPDFDoc()
	u := NewPDFUtility(uploader, renderer, nil, telemetry.Discard())

	require.NoError(t, u.CreateThumbnail(context.Background(), doc))
	assert.Equal(t, "https://cdn/thumb.png", doc.PreviewImageURL)
}

func TestPDFUtility_CreateThumbnail_RenderFails(t *testing.T) {
	renderer := new(MockRenderer)
	renderer.On("RenderFirstPage", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("exec: not found"))

	doc := newPDFDoc()
	err := NewPDFUtility(new(MockUploader), renderer, nil, telemetry.Discard()).CreateThumbnail(context.Background(), doc)

	assert.Error(t, err)
	assert.Empty(t, doc.PreviewImageURL)
}

func TestPDFUtility_AugmentChunks(t *testing.T) {
	pages := new(MockPageSplitter)
	pages.On("SplitPages", mock.Anything, "/scratch/r1/lecture.pdf", "/scratch/r1/pages").
		Return([]string{"/p/lecture_1.pdf", "/p/lecture_2.pdf", "/p/lecture_3.pdf"}, nil)
	uploader := new(MockUploader)
	uploader.On("UploadFile", mock.Anything, "class_id=c1/resource_id=r1/pages/1.pdf", "/p/lecture_1.pdf", "application/pdf").
		Return("https://cdn/1.pdf", nil)
	uploader.On("UploadFile", mock.Anything, "class_id=c1/resource_id=r1/pages/3.pdf", "/p/lecture_3.pdf", "application/pdf").
		Return("https://cdn/3.pdf", nil)

	doc := newPDFDoc()
	chunks := []*domain.Chunk{chunkOnPage(doc, 1), chunkOnPage(doc, 3), chunkOnPage(doc, 9)}

	u := NewPDFUtility(uploader, nil, pages, telemetry.Discard())
	require.NoError(t, u.AugmentChunks(context.Background(), doc, chunks))

	assert.Equal(t, "https://cdn/1.pdf", chunks[0].RawChunkURL)
	assert.Equal(t, "https://cdn/3.pdf", chunks[1].RawChunkURL)
	assert.Empty(t, chunks[2].RawChunkURL)
	uploader.AssertNumberOfCalls(t, "UploadFile", 2)
}

func TestPDFUtility_AugmentChunks_UploadFails(t *testing.T) {
	pages := new(MockPageSplitter)
	pages.On("SplitPages", mock.Anything, mock.Anything, mock.Anything).Return([]string{"/p/lecture_1.pdf"}, nil)
	uploader := new(MockUploader)
	uploader.On("UploadFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("timeout"))

	doc := newPDFDoc()
	err := NewPDFUtility(uploader, nil, pages, telemetry.Discard()).
		AugmentChunks(context.Background(), doc, []*domain.Chunk{chunkOnPage(doc, 1)})

	assert.Error(t, err)
}

func TestPDFUtility_AugmentChunks_CrawledPage(t *testing.T) {
	doc := newPDFDoc()
	child := doc.Child("child-1", "/scratch/r1/children/lecture_2.pdf")
	child.PageNumber = 2
	child.FullResourceURL = "https://cdn/child-1.pdf"
	chunks := []*domain.Chunk{chunkOnPage(child, 2)}

	u := NewPDFUtility(nil, nil, nil, telemetry.Discard())
	require.NoError(t, u.AugmentChunks(context.Background(), child, chunks))

	assert.Equal(t, "https://cdn/child-1.pdf", chunks[0].RawChunkURL)
}

func TestSelfCrawler(t *testing.T) {
	doc := newPDFDoc()
	docs, err := NewCrawler(false, nil).Crawl(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, []*domain.IngestedDocument{doc}, docs)
}

func TestPDFPageCrawler_Crawl(t *testing.T) {
	pages := new(MockPageSplitter)
	pages.On("SplitPages", mock.Anything, "/scratch/r1/lecture.pdf", "/scratch/r1/children").
		Return([]string{"/c/lecture_1.pdf", "/c/lecture_2.pdf"}, nil)

	ids := []string{"child-a", "child-b"}
	c := &PDFPageCrawler{pages: pages, newID: func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}}

	doc := newPDFDoc()
	children, err := c.Crawl(context.Background(), doc)
	require.NoError(t, err)

	require.Len(t, children, 2)
	assert.Equal(t, []string{"child-a", "child-b"}, doc.ChildResourceIDs)
	for i, child := range children {
		assert.Equal(t, domain.ResourceKindChild, child.Kind)
		assert.Equal(t, []string{"r1"}, child.ParentResourceIDs)
		assert.Equal(t, i+1, child.PageNumber)
		require.NotNil(t, child.Metadata.TotalPageCount)
		assert.Equal(t, 2, *child.Metadata.TotalPageCount)
	}
	assert.Equal(t, "/c/lecture_2.pdf", children[1].DataPath)
	assert.Nil(t, doc.Metadata.TotalPageCount)
}

func TestPDFPageCrawler_PassesThroughOtherFormats(t *testing.T) {
	doc := newPDFDoc()
	doc.InputFormat = domain.InputFormatMarkdown

	docs, err := NewCrawler(true, new(MockPageSplitter)).Crawl(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, []*domain.IngestedDocument{doc}, docs)
}
