package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/udahub-cluster/supportcore/commbus"
	"github.com/udahub-cluster/supportcore/ticketcore/observability"
	"github.com/udahub-cluster/supportcore/ticketcore/typeutil"
)

// WeaviateConfig configures the Weaviate-backed searcher.
type WeaviateConfig struct {
	Host      string
	Scheme    string
	ClassName string
}

// WeaviateSearcher implements Searcher over a Weaviate vector store
// using nearText semantic search.
type WeaviateSearcher struct {
	client    *weaviate.Client
	className string
	logger    commbus.Logger
}

// NewWeaviateSearcher creates a searcher backed by a Weaviate instance.
func NewWeaviateSearcher(cfg WeaviateConfig, logger commbus.Logger) (*WeaviateSearcher, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("weaviate host is required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.ClassName == "" {
		cfg.ClassName = "SupportArticle"
	}
	if logger == nil {
		logger = commbus.NopLogger{}
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.Host,
		Scheme: cfg.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	return &WeaviateSearcher{
		client:    client,
		className: cfg.ClassName,
		logger:    logger.Bind("component", "weaviate_searcher", "class", cfg.ClassName),
	}, nil
}

// Search implements the Searcher interface via nearText semantic search.
func (s *WeaviateSearcher) Search(ctx context.Context, query string, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 3
	}

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	start := time.Now()
	result, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(
			graphql.Field{Name: "articleId"},
			graphql.Field{Name: "title"},
			graphql.Field{Name: "content"},
			graphql.Field{Name: "category"},
		).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	durationMS := int(time.Since(start).Milliseconds())

	if err != nil {
		observability.RecordKnowledgeSearch("error", durationMS)
		s.logger.Error("knowledge_search_failed", "error", err.Error())
		return nil, fmt.Errorf("weaviate nearText query: %w", err)
	}
	if len(result.Errors) > 0 {
		observability.RecordKnowledgeSearch("error", durationMS)
		return nil, fmt.Errorf("weaviate graphql error: %s", result.Errors[0].Message)
	}

	get, _ := result.Data["Get"].(map[string]interface{})
	articles := s.parseResults(get)
	observability.RecordKnowledgeSearch("success", durationMS)
	s.logger.Debug("knowledge_search_completed",
		"query_len", len(query),
		"articles_found", len(articles),
		"duration_ms", durationMS,
	)
	return articles, nil
}

// parseResults walks the GraphQL response envelope down to the object list.
func (s *WeaviateSearcher) parseResults(get map[string]interface{}) []Article {
	if get == nil {
		return nil
	}
	items, ok := get[s.className].([]interface{})
	if !ok {
		return nil
	}

	articles := make([]Article, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		articles = append(articles, Article{
			ArticleID: typeutil.SafeStringDefault(obj["articleId"], ""),
			Title:     typeutil.SafeStringDefault(obj["title"], ""),
			Content:   typeutil.SafeStringDefault(obj["content"], ""),
			Category:  typeutil.SafeStringDefault(obj["category"], ""),
		})
	}
	return articles
}

// Ensure WeaviateSearcher implements Searcher.
var _ Searcher = (*WeaviateSearcher)(nil)
