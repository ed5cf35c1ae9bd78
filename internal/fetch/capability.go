package fetch

import (
	"context"
	"fmt"

	"github.com/parley-agent/parley/internal/capability"
)

// NewCapability wraps the Fetcher as the fetch_page capability.
func NewCapability(f *Fetcher) *capability.Capability {
	return &capability.Capability{
		Name:        "fetch_page",
		Description: "Fetch a web page by URL and return its readable text content. Use after web_search to read a promising result in full.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to fetch and extract content from.",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"description": "Maximum characters to return. Default: 50000.",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			url, _ := args["url"].(string)
			if url == "" {
				return "", fmt.Errorf("fetch_page: url is required")
			}

			maxChars := 0
			if mc, ok := args["max_chars"].(float64); ok && mc > 0 {
				maxChars = int(mc)
			}

			result, err := f.Fetch(ctx, url, maxChars)
			if err != nil {
				return "", err
			}

			if result.Title != "" {
				return fmt.Sprintf("Title: %s\nURL: %s\n\n%s", result.Title, result.URL, result.Content), nil
			}
			return fmt.Sprintf("URL: %s\n\n%s", result.URL, result.Content), nil
		},
	}
}
