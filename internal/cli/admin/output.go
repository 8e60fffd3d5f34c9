package admin

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/indexer"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05"

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "text", "json":
		return format, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", format)
	}
}

type resourceView struct {
	ID              string                  `json:"id"`
	ClassID         string                  `json:"class_id"`
	Status          domain.ResourceStatus   `json:"status"`
	SourceURL       string                  `json:"source_url"`
	FullResourceURL string                  `json:"full_resource_url,omitempty"`
	PreviewImageURL string                  `json:"preview_image_url,omitempty"`
	InputFormat     domain.InputFormat      `json:"input_format"`
	Metadata        domain.ResourceMetadata `json:"metadata"`
	ChunkCount      int                     `json:"chunk_count"`
	Children        []string                `json:"child_resource_ids,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	ModifiedAt      time.Time               `json:"modified_at"`
}

func viewResource(r *domain.Resource) resourceView {
	return resourceView{
		ID:              r.ID,
		ClassID:         r.ClassID,
		Status:          r.Status,
		SourceURL:       r.SourceURL,
		FullResourceURL: r.FullResourceURL,
		PreviewImageURL: r.PreviewImageURL,
		InputFormat:     r.InputFormat,
		Metadata:        r.Metadata,
		ChunkCount:      len(r.ChunkIDs),
		Children:        r.ChildResourceIDs,
		CreatedAt:       r.CreatedAt,
		ModifiedAt:      r.ModifiedAt,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeResources(w io.Writer, format string, resources []*domain.Resource) error {
	if format == "json" {
		views := make([]resourceView, len(resources))
		for i, r := range resources {
			views[i] = viewResource(r)
		}
		return writeJSON(w, map[string]any{"items": views})
	}

	if len(resources) == 0 {
		fmt.Fprintln(w, "No resources found")
		return nil
	}
	fmt.Fprintln(w, "Resources:")
	for _, r := range resources {
		title := r.Metadata.Title
		if title == "" {
			title = r.SourceURL
		}
		fmt.Fprintf(w, "  %s: %s [%s, %d chunks] (modified: %s)\n",
			r.ID, title, r.Status, len(r.ChunkIDs), r.ModifiedAt.Format(timeLayout))
	}
	return nil
}

type usageView struct {
	ResourceID string `json:"resource_id"`
	Count      int64  `json:"count"`
	Title      string `json:"title,omitempty"`
}

func writeUsage(w io.Writer, format string, usage []domain.ResourceUsage) error {
	views := make([]usageView, len(usage))
	for i, u := range usage {
		views[i] = usageView{ResourceID: u.ResourceID, Count: u.Count}
		if u.Resource != nil {
			views[i].Title = u.Resource.Metadata.Title
		}
	}
	if format == "json" {
		return writeJSON(w, map[string]any{"items": views})
	}

	if len(views) == 0 {
		fmt.Fprintln(w, "No accesses in window")
		return nil
	}
	for i, v := range views {
		fmt.Fprintf(w, "%2d. %s %s (%d)\n", i+1, v.ResourceID, v.Title, v.Count)
	}
	return nil
}

type hitView struct {
	ChunkID     string   `json:"chunk_id"`
	ResourceID  string   `json:"resource_id"`
	Score       float64  `json:"score"`
	ChunkSize   string   `json:"chunk_size"`
	Text        string   `json:"text"`
	RawChunkURL string   `json:"raw_chunk_url,omitempty"`
	PageNumber  int      `json:"page_number,omitempty"`
	Chapters    []string `json:"chapters,omitempty"`
	Title       string   `json:"title,omitempty"`
}

func writeSearch(w io.Writer, format string, result *indexer.SearchResult) error {
	views := make([]hitView, len(result.Hits))
	for i, h := range result.Hits {
		views[i] = hitView{
			ChunkID:     h.Chunk.ID,
			ResourceID:  h.Chunk.ResourceID,
			Score:       h.Score,
			ChunkSize:   string(h.Chunk.Metadata.ChunkSize),
			Text:        h.Chunk.Text,
			RawChunkURL: h.Chunk.RawChunkURL,
			PageNumber:  h.Chunk.Metadata.PageNumber,
			Chapters:    h.Chunk.Metadata.Chapters,
		}
		if h.Resource != nil {
			views[i].ResourceID = h.Resource.ID
			views[i].Title = h.Resource.Metadata.Title
		}
	}
	if format == "json" {
		return writeJSON(w, map[string]any{
			"alpha": result.Alpha,
			"top_k": result.TopK,
			"hits":  views,
		})
	}

	if len(views) == 0 {
		fmt.Fprintln(w, "No matches")
		return nil
	}
	for i, v := range views {
		fmt.Fprintf(w, "%d. [%.3f] %s (%s)", i+1, v.Score, v.ResourceID, v.ChunkSize)
		if v.PageNumber > 0 {
			fmt.Fprintf(w, " p.%d", v.PageNumber)
		}
		fmt.Fprintf(w, "\n   %s\n", snippet(v.Text, 160))
	}
	return nil
}

func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}
