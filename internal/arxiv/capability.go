package arxiv

import (
	"context"
	"fmt"

	"github.com/parley-agent/parley/internal/capability"
)

// NewCapability wraps the client as a registry capability.
func NewCapability(c *Client) *capability.Capability {
	return &capability.Capability{
		Name:        "arxiv_search",
		Description: "Search arXiv for academic papers. Returns titles, authors, publication dates, and abstracts in relevance order.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Free-text query over titles, abstracts, and authors.",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("arxiv_search: query is required")
			}

			papers, err := c.Search(ctx, query)
			if err != nil {
				return "", err
			}
			return FormatPapers(papers), nil
		},
	}
}
