package retrieval

import (
	"context"
	"fmt"

	"github.com/parley-agent/parley/internal/capability"
)

// NewCapability wraps the index as the retrieve_documents capability.
func NewCapability(ix *Index, defaultTopK int) *capability.Capability {
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &capability.Capability{
		Name:        "retrieve_documents",
		Description: "Search the local document corpus for passages relevant to a query. Use for questions about material in the loaded corpus.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Natural-language query to match against the corpus.",
				},
				"top_k": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Number of passages to return. Default: %d.", defaultTopK),
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("retrieve_documents: query is required")
			}

			topK := defaultTopK
			if k, ok := args["top_k"].(float64); ok && k > 0 {
				topK = int(k)
			}

			passages, err := ix.Search(ctx, query, topK)
			if err != nil {
				return "", err
			}
			return FormatPassages(query, passages), nil
		},
	}
}
