// Package reranker ranks short text descriptors by relevance to a task and
// selects the best of them within a token budget.
package reranker

import (
	"context"
)

// Document is a candidate for ranking. Content should be a short descriptor
// (name plus description) rather than a full body.
type Document struct {
	ID      string
	Content string
}

// ScoredDocument is a ranked document.
type ScoredDocument struct {
	Document
	Score        float64 // Cosine similarity to the query (0.0-1.0)
	OriginalRank int     // Position in the input slice (0-indexed)
}

// Reranker orders documents by relevance to a query.
type Reranker interface {
	// Rerank returns docs sorted by descending score, limited to topK.
	// A topK of zero or less returns every document.
	Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error)

	// Close releases any resources.
	Close() error
}
