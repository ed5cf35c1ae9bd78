// Package retrieval implements document retrieval over a local corpus.
// Documents are chunked, embedded once at load time, and searched by
// cosine similarity against the query embedding.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/parley-agent/parley/internal/embeddings"
)

// DefaultTopK is the number of passages returned when unspecified.
const DefaultTopK = 4

// chunkSize is the target chunk length in runes. Chunks split on
// paragraph boundaries where possible.
const chunkSize = 1200

// Passage is a scored chunk of a corpus document.
type Passage struct {
	Source  string  `json:"source"`
	Chunk   int     `json:"chunk"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

type chunk struct {
	source  string
	index   int
	content string
	vector  []float32
}

// Index holds embedded corpus chunks and answers similarity queries.
type Index struct {
	embed  *embeddings.Client
	logger *slog.Logger

	mu     sync.RWMutex
	chunks []chunk
}

// NewIndex creates an empty index backed by the given embedding client.
func NewIndex(embed *embeddings.Client, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{embed: embed, logger: logger}
}

// LoadDir reads every .txt and .md file under dir, chunks it, and
// embeds the chunks. Files that fail to embed are skipped with a
// warning rather than aborting the load.
func (ix *Index) LoadDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read corpus dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			ix.logger.Warn("skipping corpus file", "path", path, "error", err)
			continue
		}

		if err := ix.Add(ctx, entry.Name(), string(data)); err != nil {
			ix.logger.Warn("failed to index corpus file", "path", path, "error", err)
			continue
		}
		loaded++
	}

	ix.logger.Info("corpus loaded", "dir", dir, "files", loaded, "chunks", ix.Len())
	return nil
}

// Add chunks and embeds a single document under the given source name.
func (ix *Index) Add(ctx context.Context, source, content string) error {
	parts := splitChunks(content, chunkSize)
	if len(parts) == 0 {
		return nil
	}

	vectors, err := ix.embed.GenerateBatch(ctx, parts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", source, err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, part := range parts {
		ix.chunks = append(ix.chunks, chunk{
			source:  source,
			index:   i,
			content: part,
			vector:  vectors[i],
		})
	}
	return nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Search returns the topK passages most similar to the query.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]Passage, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	qvec, err := ix.embed.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.chunks) == 0 {
		return nil, nil
	}

	scored := make([]Passage, 0, len(ix.chunks))
	for _, c := range ix.chunks {
		scored = append(scored, Passage{
			Source:  c.source,
			Chunk:   c.index,
			Content: c.content,
			Score:   embeddings.CosineSimilarity(qvec, c.vector),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if topK > len(scored) {
		topK = len(scored)
	}
	return scored[:topK], nil
}

// splitChunks breaks text into chunks of roughly maxRunes, preferring
// paragraph boundaries.
func splitChunks(text string, maxRunes int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		for len([]rune(para)) > maxRunes {
			runes := []rune(para)
			flush()
			chunks = append(chunks, strings.TrimSpace(string(runes[:maxRunes])))
			para = strings.TrimSpace(string(runes[maxRunes:]))
		}

		if current.Len() > 0 && current.Len()+len(para) > maxRunes {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

// FormatPassages renders passages as numbered excerpts with provenance.
func FormatPassages(query string, passages []Passage) string {
	if len(passages) == 0 {
		return fmt.Sprintf("No relevant passages found for %q.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Retrieved passages for %q:\n\n", query)
	for i, p := range passages {
		fmt.Fprintf(&b, "%d. [%s#%d] (score %.3f)\n%s\n\n", i+1, p.Source, p.Chunk, p.Score, p.Content)
	}
	return strings.TrimSpace(b.String())
}
