package search

import (
	"context"
	"fmt"

	"github.com/parley-agent/parley/internal/capability"
)

// NewCapability wraps the Manager as a registry capability.
func NewCapability(mgr *Manager) *capability.Capability {
	return &capability.Capability{
		Name:        "web_search",
		Description: "Search the web for current information. Returns ranked results with titles, URLs, and snippets.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query string.",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results to return (1-10). Default: 5.",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "ISO 639-1 language code for results (e.g., 'en', 'de').",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("web_search: query is required")
			}

			opts := Options{}
			if count, ok := args["count"].(float64); ok && count > 0 {
				opts.Count = int(count)
			}
			if lang, ok := args["language"].(string); ok {
				opts.Language = lang
			}

			results, err := mgr.Search(ctx, query, opts)
			if err != nil {
				return "", err
			}
			return FormatResults(results), nil
		},
	}
}
