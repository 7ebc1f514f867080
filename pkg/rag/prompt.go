package rag

import (
	"fmt"
	"strings"

	"github.com/fridayops/friday/pkg/vector"
)

// buildPrompt embeds the retrieved chunks into an instruction prompt.
// Chunks appear in retrieval order so the model sees the most relevant
// context first.
func buildPrompt(question string, hits []vector.Hit) string {
	var b strings.Builder

	b.WriteString("You are a test reporting assistant. Answer the question ")
	b.WriteString("using only the test history context below. If the context ")
	b.WriteString("does not contain the answer, say so.\n\nContext:\n")

	for i, h := range hits {
		text, _ := h.Payload[vector.PayloadText].(string)
		if text == "" {
			continue
		}

		fmt.Fprintf(&b, "%d. %s\n", i+1, text)
	}

	fmt.Fprintf(&b, "\nQuestion: %s\nAnswer:", question)

	return b.String()
}

// relatedQueries returns templated follow-up suggestions.
func relatedQueries(question string) []string {
	suggestions := []string{
		"Which scenarios failed in the most recent test run?",
		"What is the overall pass rate across recent runs?",
		"Which features have the most flaky scenarios?",
	}

	// Avoid suggesting the question that was just asked.
	out := make([]string, 0, len(suggestions))

	for _, s := range suggestions {
		if !strings.EqualFold(s, strings.TrimSpace(question)) {
			out = append(out, s)
		}
	}

	return out
}
