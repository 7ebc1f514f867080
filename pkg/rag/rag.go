package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fridayops/friday/pkg/vector"
	"github.com/sirupsen/logrus"
)

// LLM generates a completion for a prompt.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Retriever performs similarity search; satisfied by vector.Store.
type Retriever interface {
	Query(ctx context.Context, text string, f vector.Filter, limit int) ([]vector.Hit, error)
}

// Source attributes part of an answer to a retrieved chunk.
type Source struct {
	Title      string  `json:"title"`
	Confidence float64 `json:"confidence"`
}

// Answer is the result of one query. Degraded is a per-request flag,
// not shared process state: callers inspect it to distinguish real
// answers from synthetic fallbacks.
type Answer struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	RelatedQueries []string `json:"related_queries"`
	Degraded       bool     `json:"degraded"`
}

// Service answers natural-language questions about test history by
// combining vector retrieval with LLM synthesis.
type Service struct {
	log        logrus.FieldLogger
	retriever  Retriever
	llm        LLM
	queryLimit int
	maxSources int
	timeout    time.Duration
}

// NewService creates a query service. Either collaborator may be nil;
// the service then always degrades to synthetic answers.
func NewService(
	log logrus.FieldLogger,
	retriever Retriever,
	llm LLM,
	queryLimit, maxSources int,
	timeout time.Duration,
) *Service {
	if queryLimit <= 0 {
		queryLimit = 5
	}

	if maxSources <= 0 {
		maxSources = 3
	}

	return &Service{
		log:        log.WithField("component", "rag"),
		retriever:  retriever,
		llm:        llm,
		queryLimit: queryLimit,
		maxSources: maxSources,
		timeout:    timeout,
	}
}

// Query retrieves relevant chunks, composes a prompt, and delegates to
// the LLM. Backend failures degrade to a clearly-flagged synthetic
// answer rather than an error: the caller always gets something.
func (s *Service) Query(ctx context.Context, text string) *Answer {
	if s.retriever == nil || s.llm == nil {
		s.log.Warn("Query backends not configured, returning synthetic answer")

		return syntheticAnswer(text)
	}

	hits, err := s.retriever.Query(ctx, text, vector.Filter{}, s.queryLimit)
	if err != nil {
		s.log.WithError(err).Warn("Retrieval failed, returning synthetic answer")

		return syntheticAnswer(text)
	}

	prompt := buildPrompt(text, hits)

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	completion, err := s.llm.Generate(genCtx, prompt)
	if err != nil {
		s.log.WithError(err).Warn("LLM call failed, returning synthetic answer")

		return syntheticAnswer(text)
	}

	return &Answer{
		Answer:         strings.TrimSpace(completion),
		Sources:        s.sourcesFromHits(hits),
		RelatedQueries: relatedQueries(text),
	}
}

// sourcesFromHits converts the top retrieved chunks into attributions.
// Confidence is derived from similarity rank: the best hit gets 0.95 and
// each subsequent rank drops by 0.15, floored at 0.1.
func (s *Service) sourcesFromHits(hits []vector.Hit) []Source {
	n := len(hits)
	if n > s.maxSources {
		n = s.maxSources
	}

	sources := make([]Source, 0, n)

	for i := 0; i < n; i++ {
		confidence := 0.95 - float64(i)*0.15
		if confidence < 0.1 {
			confidence = 0.1
		}

		sources = append(sources, Source{
			Title:      hitTitle(hits[i]),
			Confidence: confidence,
		})
	}

	return sources
}

// hitTitle extracts a display title from a hit's payload.
func hitTitle(h vector.Hit) string {
	if title, ok := h.Payload[vector.PayloadTitle].(string); ok && title != "" {
		return title
	}

	if kind, ok := h.Payload[vector.PayloadKind].(string); ok && kind != "" {
		return fmt.Sprintf("%s %s", kind, h.ID)
	}

	return h.ID
}
