// Package knowledge provides semantic search over the support knowledge base.
package knowledge

import (
	"context"
)

// Article is one knowledge base entry returned by a search.
type Article struct {
	ArticleID string
	Title     string
	Content   string
	Category  string
}

// Searcher is the protocol for the knowledge base collaborator.
// Only the retriever stage holds a Searcher handle.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Article, error)
}

// NullSearcher is a Searcher with no knowledge base behind it. Every
// search finds nothing, so retrieval reports zero coverage and tickets
// route to escalation. Used when no vector store is configured.
type NullSearcher struct{}

// Search implements the Searcher interface.
func (NullSearcher) Search(ctx context.Context, query string, limit int) ([]Article, error) {
	return nil, nil
}

var _ Searcher = NullSearcher{}
