package rag

import "fmt"

// syntheticAnswer is the degraded response used when retrieval or the
// LLM runtime is unavailable. The answer is clearly labeled and the
// Degraded flag lets callers and monitoring distinguish it from a real
// one; the HTTP call itself still succeeds.
func syntheticAnswer(question string) *Answer {
	return &Answer{
		Answer: fmt.Sprintf(
			"The analysis backend is currently unavailable, so this is a "+
				"placeholder response. Your question %q has been noted; "+
				"please retry once the service reconnects to its data sources.",
			question,
		),
		Sources: []Source{
			{Title: "synthetic response", Confidence: 0},
		},
		RelatedQueries: relatedQueries(question),
		Degraded:       true,
	}
}
