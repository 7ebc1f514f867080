package rag

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/fridayops/friday/pkg/config"
	"github.com/ollama/ollama/api"
)

// Compile-time interface check.
var _ LLM = (*ollamaLLM)(nil)

type ollamaLLM struct {
	client *api.Client
	model  string
}

// NewOllamaLLM creates an LLM backed by an Ollama runtime.
func NewOllamaLLM(cfg *config.LLMConfig) (LLM, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing llm base url: %w", err)
	}

	return &ollamaLLM{
		client: api.NewClient(base, http.DefaultClient),
		model:  cfg.Model,
	}, nil
}

// Generate runs a non-streaming completion. The caller supplies the
// timeout through ctx.
func (o *ollamaLLM) Generate(
	ctx context.Context, prompt string,
) (string, error) {
	var sb strings.Builder

	stream := false

	err := o.client.Generate(ctx, &api.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: &stream,
	}, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}

	return sb.String(), nil
}
