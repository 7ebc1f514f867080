package vector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fridayops/friday/pkg/config"
	"github.com/ollama/ollama/api"
)

// Embedder computes vector embeddings for text chunks.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Compile-time interface check.
var _ Embedder = (*ollamaEmbedder)(nil)

type ollamaEmbedder struct {
	client  *api.Client
	model   string
	timeout time.Duration
}

// NewOllamaEmbedder creates an Embedder backed by an Ollama runtime.
func NewOllamaEmbedder(cfg *config.EmbeddingConfig) (Embedder, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing embedding base url: %w", err)
	}

	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		timeout = 30 * time.Second
	}

	return &ollamaEmbedder{
		client:  api.NewClient(base, http.DefaultClient),
		model:   cfg.Model,
		timeout: timeout,
	}, nil
}

// Embed computes an embedding for the given text.
func (e *ollamaEmbedder) Embed(
	ctx context.Context, text string,
) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embedding response contained no vectors")
	}

	return resp.Embeddings[0], nil
}
