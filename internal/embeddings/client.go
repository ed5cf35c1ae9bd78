// Package embeddings generates text embeddings via Ollama's embedding
// API. The retrieval index uses them to score corpus passages against
// a query.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/parley-agent/parley/internal/httpkit"
)

// DefaultModel is used when the config names no embedding model.
const DefaultModel = "nomic-embed-text"

// Config for the embedding client.
type Config struct {
	BaseURL string // Ollama base URL (e.g., "http://localhost:11434")
	Model   string // embedding model; empty means DefaultModel
}

// Client generates embeddings against one Ollama instance.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

// New creates an embedding client.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Client{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		// Local Ollama daemon, same as the completion client: no
		// User-Agent wrapper.
		client: httpkit.NewClient(
			httpkit.WithTimeout(30 * time.Second),
			httpkit.WithoutUserAgent(),
		),
	}
}

// Generate embeds a single text.
func (c *Client) Generate(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{
		"model":  c.model,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Embedding, nil
}

// GenerateBatch embeds each text in order. The Ollama API takes one
// prompt per call, so this is sequential; corpus loads amortize it at
// startup.
func (c *Client) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Generate(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// CosineSimilarity scores two vectors in [-1, 1]. Mismatched lengths
// and zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// TopK returns the indices of the k vectors most similar to query, in
// descending similarity order.
func TopK(query []float32, vectors [][]float32, k int) []int {
	idx := make([]int, len(vectors))
	scores := make([]float32, len(vectors))
	for i, v := range vectors {
		idx[i] = i
		scores[i] = CosineSimilarity(query, v)
	}

	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	if k < 0 {
		k = 0
	}
	if k > len(idx) {
		k = len(idx)
	}
	return idx[:k]
}
