// Package openai embeds text batches with the OpenAI embeddings endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/cloo-solutions/taisearch/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultEmbeddingModel      = openai.AdaEmbeddingV2
	DefaultEmbeddingDimensions = 1536
)

var (
	ErrEmptyText       = errors.New("text cannot be empty")
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned by callers that could not resolve a key from
	// configuration or the secret store.
	ErrNoAPIKey = errors.New("OpenAI API key not set")
)

// EmbeddingAPI embeds a batch of texts in input order.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
}

// Client checks every batch it gets back against the configured embedding
// length.
type Client struct {
	api        EmbeddingAPI
	dimensions int
}

// New builds a client backed by go-openai.
func New(cfg Config) *Client {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	return &Client{
		api:        newSDKEmbedder(cfg),
		dimensions: cfg.EmbeddingDimensions,
	}
}

// Dimensions is the embedding length every result is checked against.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// EmbedTexts embeds texts with one API call and returns the vectors in
// input order.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyText
		}
	}

	embeddings, err := c.api.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to create embeddings: %w", err))
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("failed to create embeddings: expected %d, got %d", len(texts), len(embeddings))
	}
	for i, e := range embeddings {
		if len(e) != c.dimensions {
			return nil, fmt.Errorf("%w: text %d: expected %d, got %d", ErrWrongDimensions, i, c.dimensions, len(e))
		}
	}
	return embeddings, nil
}

// classify marks client errors that another attempt cannot fix (bad key,
// bad request, unknown model) as validation failures so they are not
// retried. Rate limits and server errors stay retryable.
func classify(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	status := apiErr.HTTPStatusCode
	if status >= http.StatusBadRequest && status < http.StatusInternalServerError && status != http.StatusTooManyRequests {
		return domain.ErrValidation.WithCause(err)
	}
	return err
}

type sdkEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

func newSDKEmbedder(cfg Config) *sdkEmbedder {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	e := &sdkEmbedder{client: openai.NewClientWithConfig(conf), model: cfg.EmbeddingModel}
	// ada-002 rejects the dimensions parameter; the text-embedding-3 family
	// truncates to it.
	if cfg.EmbeddingModel != openai.AdaEmbeddingV2 {
		e.dimensions = cfg.EmbeddingDimensions
	}
	return e
}

func (e *sdkEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      e.model,
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
