package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTranscriptFetcher struct {
	mock.Mock
}

func (m *MockTranscriptFetcher) Fetch(ctx context.Context, videoID string) ([]Fragment, error) {
	args := m.Called(ctx, videoID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Fragment), args.Error(1)
}

func newDoc(t *testing.T, format domain.InputFormat, name, content string) *domain.IngestedDocument {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	doc := &domain.IngestedDocument{DataPath: path}
	doc.ID = "res-1"
	doc.ClassID = "class-1"
	doc.Kind = domain.ResourceKindRoot
	doc.InputFormat = format
	doc.Metadata.Title = "notes"
	return doc
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(nil)

	s, err := r.Lookup(domain.InputFormatLatex)
	require.NoError(t, err)
	assert.IsType(t, TextLoader{}, s.Loader)

	_, err = r.Lookup(domain.InputFormatYouTubeVideo)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = r.Lookup("docx")
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	r = NewRegistry(new(MockTranscriptFetcher))
	s, err = r.Lookup(domain.InputFormatYouTubeVideo)
	require.NoError(t, err)
	assert.IsType(t, &TranscriptSplitter{}, s.Splitter)
}

func TestRegistry_Chunks_BothSizeClasses(t *testing.T) {
	doc := newDoc(t, domain.InputFormatMarkdown, "notes.md", "# Chapter 1\n\nLimits and continuity in section 1.2.")

	chunks, err := NewRegistry(nil).Chunks(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, domain.ChunkSizeLarge, chunks[0].Metadata.ChunkSize)
	assert.Equal(t, domain.ChunkSizeSmall, chunks[1].Metadata.ChunkSize)
	for _, c := range chunks {
		require.NoError(t, domain.ValidateChunk(c))
		assert.Equal(t, "res-1", c.ResourceID)
		assert.Equal(t, "class-1", c.Metadata.ClassID)
		assert.Equal(t, []string{"1"}, c.Metadata.Chapters)
		assert.Equal(t, []string{"1.2"}, c.Metadata.Sections)
		assert.Equal(t, 1, c.Metadata.PageNumber)
	}
	assert.NotEqual(t, chunks[0].Metadata.VectorID, chunks[1].Metadata.VectorID)
}

func TestRegistry_Chunks_NoText(t *testing.T) {
	doc := newDoc(t, domain.InputFormatGenericText, "empty.txt", " \n\n ")

	_, err := NewRegistry(nil).Chunks(context.Background(), doc)
	assert.ErrorIs(t, err, ErrNoText)
}

func TestRegistry_Chunks_LoaderError(t *testing.T) {
	doc := &domain.IngestedDocument{DataPath: filepath.Join(t.TempDir(), "missing.txt")}
	doc.InputFormat = domain.InputFormatGenericText

	_, err := NewRegistry(nil).Chunks(context.Background(), doc)
	assert.Error(t, err)
}

func TestHTMLLoader_Load(t *testing.T) {
	doc := newDoc(t, domain.InputFormatHTML, "page.html",
		"<html><head><title>Bio</title></head><body><h1>Photosynthesis</h1><p>Plants convert light.</p></body></html>")

	docs, err := HTMLLoader{}.Load(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Text, "Photosynthesis")
	assert.NotContains(t, docs[0].Text, "<h1>")
}

func TestTranscriptLoader_Load(t *testing.T) {
	fetcher := new(MockTranscriptFetcher)
	fetcher.On("Fetch", mock.Anything, "dQw4w9WgXcQ").Return([]Fragment{
		{Text: "hello", Start: 0, Duration: 1.5},
		{Text: "  ", Start: 1.5, Duration: 0.5},
		{Text: "world", Start: 2, Duration: 1},
	}, nil)

	doc := &domain.IngestedDocument{VideoID: "dQw4w9WgXcQ"}
	docs, err := NewTranscriptLoader(fetcher).Load(context.Background(), doc)
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, "world", docs[1].Text)
	assert.Equal(t, 2.0, docs[1].Metadata[MetaStart])
	assert.Equal(t, 1.0, docs[1].Metadata[MetaDuration])
}

func TestTranscriptLoader_Load_Errors(t *testing.T) {
	fetcher := new(MockTranscriptFetcher)
	fetcher.On("Fetch", mock.Anything, "dQw4w9WgXcQ").Return(nil, errors.New("boom"))
	l := NewTranscriptLoader(fetcher)

	_, err := l.Load(context.Background(), &domain.IngestedDocument{})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = l.Load(context.Background(), &domain.IngestedDocument{VideoID: "dQw4w9WgXcQ"})
	assert.ErrorIs(t, err, domain.ErrFetch)
}

func TestTimedTextFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "en", r.URL.Query().Get("lang"))
		if r.URL.Query().Get("v") == "nocaptions01" {
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="utf-8" ?><transcript>` +
			`<text start="0.5" dur="2.25">it&amp;#39;s a limit</text>` +
			`<text start="2.75" dur="1">next</text></transcript>`))
	}))
	defer srv.Close()

	f := NewTimedTextFetcher(srv.URL, time.Second)

	fragments, err := f.Fetch(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	require.Len(t, fragments, 2)
	assert.Equal(t, Fragment{Text: "it's a limit", Start: 0.5, Duration: 2.25}, fragments[0])

	_, err = f.Fetch(context.Background(), "nocaptions01")
	assert.ErrorIs(t, err, ErrNoTranscript)
}

func TestTextLoader_Load(t *testing.T) {
	doc := newDoc(t, domain.InputFormatLatex, "hw.tex", strings.Repeat("x", 10))

	docs, err := TextLoader{}.Load(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "xxxxxxxxxx", docs[0].Text)
}
