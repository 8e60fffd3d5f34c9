package loader

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/go-resty/resty/v2"
)

const DefaultTimedTextURL = "https://video.google.com/timedtext"

// Fragment is one timed caption line.
type Fragment struct {
	Text     string
	Start    float64
	Duration float64
}

// TranscriptFetcher returns the caption fragments of a video.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string) ([]Fragment, error)
}

// TranscriptLoader returns one document per caption fragment.
type TranscriptLoader struct {
	fetcher TranscriptFetcher
}

func NewTranscriptLoader(fetcher TranscriptFetcher) *TranscriptLoader {
	return &TranscriptLoader{fetcher: fetcher}
}

func (l *TranscriptLoader) Load(ctx context.Context, doc *domain.IngestedDocument) ([]Document, error) {
	if doc.VideoID == "" {
		return nil, domain.ErrUnsupportedFormat.WithCause(fmt.Errorf("resource %s has no video id", doc.ID))
	}
	fragments, err := l.fetcher.Fetch(ctx, doc.VideoID)
	if err != nil {
		return nil, domain.ErrFetch.WithCause(err)
	}

	docs := make([]Document, 0, len(fragments))
	for _, f := range fragments {
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		docs = append(docs, Document{
			Text: f.Text,
			Metadata: map[string]any{
				MetaStart:    f.Start,
				MetaDuration: f.Duration,
			},
		})
	}
	return docs, nil
}

// TimedTextFetcher reads English captions from the timedtext endpoint.
type TimedTextFetcher struct {
	client  *resty.Client
	baseURL string
}

// NewTimedTextFetcher builds a fetcher. An empty baseURL selects
// DefaultTimedTextURL.
func NewTimedTextFetcher(baseURL string, timeout time.Duration) *TimedTextFetcher {
	if baseURL == "" {
		baseURL = DefaultTimedTextURL
	}
	return &TimedTextFetcher{
		client:  resty.New().SetTimeout(timeout),
		baseURL: baseURL,
	}
}

type timedText struct {
	XMLName xml.Name `xml:"transcript"`
	Texts   []struct {
		Start    float64 `xml:"start,attr"`
		Duration float64 `xml:"dur,attr"`
		Body     string  `xml:",chardata"`
	} `xml:"text"`
}

var ErrNoTranscript = errors.New("video has no transcript")

func (f *TimedTextFetcher) Fetch(ctx context.Context, videoID string) ([]Fragment, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"lang": "en", "v": videoID}).
		Get(f.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transcript for %s: %w", videoID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch transcript for %s: status %d", videoID, resp.StatusCode())
	}
	body := resp.Body()
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, ErrNoTranscript
	}

	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return nil, fmt.Errorf("failed to parse transcript for %s: %w", videoID, err)
	}
	if len(tt.Texts) == 0 {
		return nil, ErrNoTranscript
	}

	fragments := make([]Fragment, 0, len(tt.Texts))
	for _, t := range tt.Texts {
		fragments = append(fragments, Fragment{
			Text:     strings.TrimSpace(html.UnescapeString(t.Body)),
			Start:    t.Start,
			Duration: t.Duration,
		})
	}
	return fragments, nil
}
