package admin

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/indexer"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var modified = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func sampleResource() *domain.Resource {
	return &domain.Resource{
		ID:         "r1",
		ClassID:    "c1",
		Status:     domain.ResourceStatusCompleted,
		SourceURL:  "https://example.com/notes.pdf",
		Metadata:   domain.ResourceMetadata{Title: "Lecture notes", ResourceType: domain.ResourceTypePDF},
		ChunkIDs:   []string{"k1", "k2", "k3"},
		ModifiedAt: modified,
	}
}

func TestWriteResources_Text(t *testing.T) {
	var buf bytes.Buffer
	untitled := &domain.Resource{ID: "r2", SourceURL: "https://example.com/page", Status: domain.ResourceStatusPending, ModifiedAt: modified}

	require.NoError(t, writeResources(&buf, "text", []*domain.Resource{sampleResource(), untitled}))

	out := buf.String()
	assert.Contains(t, out, "r1: Lecture notes [COMPLETED, 3 chunks] (modified: 2026-03-02 10:00:00)")
	assert.Contains(t, out, "r2: https://example.com/page [PENDING, 0 chunks]")
}

func TestWriteResources_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResources(&buf, "text", nil))
	assert.Equal(t, "No resources found\n", buf.String())
}

func TestWriteResources_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResources(&buf, "json", []*domain.Resource{sampleResource()}))

	var out struct {
		Items []resourceView `json:"items"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "r1", out.Items[0].ID)
	assert.Equal(t, 3, out.Items[0].ChunkCount)
	assert.Equal(t, domain.ResourceTypePDF, out.Items[0].Metadata.ResourceType)
}

func TestWriteUsage(t *testing.T) {
	usage := []domain.ResourceUsage{
		{ResourceID: "r1", Count: 7, Resource: sampleResource()},
		{ResourceID: "r9", Count: 2},
	}

	var text bytes.Buffer
	require.NoError(t, writeUsage(&text, "text", usage))
	assert.Equal(t, " 1. r1 Lecture notes (7)\n 2. r9  (2)\n", text.String())

	var js bytes.Buffer
	require.NoError(t, writeUsage(&js, "json", usage))
	assert.JSONEq(t, `{"items":[{"resource_id":"r1","count":7,"title":"Lecture notes"},{"resource_id":"r9","count":2}]}`, js.String())
}

func TestWriteSearch(t *testing.T) {
	res := sampleResource()
	chunk := domain.NewChunk(&domain.Resource{ID: "p3", ClassID: "c1"}, "the derivative\n\nof x squared", domain.ChunkSizeSmall)
	chunk.Metadata.PageNumber = 3
	result := &indexer.SearchResult{
		Alpha: 0.4,
		TopK:  5,
		Hits:  []indexer.SearchHit{{Chunk: chunk, Score: 0.9, Resource: res}},
	}

	var text bytes.Buffer
	require.NoError(t, writeSearch(&text, "text", result))
	assert.Equal(t, "1. [0.900] r1 (small) p.3\n   the derivative of x squared\n", text.String())

	var js bytes.Buffer
	require.NoError(t, writeSearch(&js, "json", result))
	var out struct {
		Alpha float64   `json:"alpha"`
		TopK  int       `json:"top_k"`
		Hits  []hitView `json:"hits"`
	}
	require.NoError(t, json.Unmarshal(js.Bytes(), &out))
	assert.Equal(t, 0.4, out.Alpha)
	require.Len(t, out.Hits, 1)
	assert.Equal(t, "r1", out.Hits[0].ResourceID, "hits report the root resource")
	assert.Equal(t, chunk.ID, out.Hits[0].ChunkID)
	assert.Equal(t, "small", out.Hits[0].ChunkSize)
}

func TestWriteSearch_TutorHitsKeepChunkOwner(t *testing.T) {
	chunk := domain.NewChunk(&domain.Resource{ID: "p3", ClassID: "c1"}, "limits", domain.ChunkSizeSmall)
	var buf bytes.Buffer
	require.NoError(t, writeSearch(&buf, "json", &indexer.SearchResult{Hits: []indexer.SearchHit{{Chunk: chunk, Score: 1}}}))
	assert.Contains(t, buf.String(), `"resource_id": "p3"`)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("a\n b\t c", 10))
	assert.Equal(t, strings.Repeat("x", 4)+"...", snippet(strings.Repeat("x", 9), 4))
}

func TestParseTimeFlag(t *testing.T) {
	tm, err := parseTimeFlag("from", "")
	require.NoError(t, err)
	assert.True(t, tm.IsZero())

	tm, err = parseTimeFlag("from", "2026-03-02T12:00:00+02:00")
	require.NoError(t, err)
	assert.True(t, modified.Equal(tm))

	_, err = parseTimeFlag("to", "yesterday")
	assert.ErrorContains(t, err, "invalid --to")
}

func TestOutputFormat(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	addOutputFlag(cmd)

	format, err := outputFormat(cmd)
	require.NoError(t, err)
	assert.Equal(t, "text", format)

	require.NoError(t, cmd.Flags().Set("output", "yaml"))
	_, err = outputFormat(cmd)
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	res := ResourceCmd()
	names := []string{}
	for _, sub := range res.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"create", "get", "delete", "frequent"}, names)

	for _, cmd := range []*cobra.Command{ResourceCreateCmd(), ResourceFrequentCmd(), SearchCmd()} {
		flag := cmd.Flags().Lookup("class")
		require.NotNil(t, flag, cmd.Name())
		assert.Equal(t, []string{"true"}, flag.Annotations[cobra.BashCompOneRequiredFlag], cmd.Name())
	}

	migrate := MigrateCmd()
	assert.Len(t, migrate.Commands(), 3)
}
