package retrieval

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parley-agent/parley/internal/embeddings"
)

// newEmbedServer fakes the embedding API with keyword-keyed vectors so
// similarity rankings are deterministic.
func newEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		vec := []float32{0.1, 0.1}
		switch {
		case strings.Contains(req.Prompt, "rice"):
			vec = []float32{1, 0}
		case strings.Contains(req.Prompt, "wheat"):
			vec = []float32{0, 1}
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
}

func newTestIndex(t *testing.T, ts *httptest.Server) *Index {
	t.Helper()
	embed := embeddings.New(embeddings.Config{BaseURL: ts.URL})
	return NewIndex(embed, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSearchRanksBySimilarity(t *testing.T) {
	ts := newEmbedServer(t)
	defer ts.Close()
	ix := newTestIndex(t, ts)

	ctx := context.Background()
	if err := ix.Add(ctx, "rice.md", "rice blast causes lesions"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := ix.Add(ctx, "wheat.md", "wheat rust overwinters"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	passages, err := ix.Search(ctx, "rice disease", 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(passages) != 1 {
		t.Fatalf("got %d passages, want 1", len(passages))
	}
	if passages[0].Source != "rice.md" {
		t.Errorf("top passage from %s, want rice.md", passages[0].Source)
	}
	if passages[0].Score <= 0.9 {
		t.Errorf("score = %v, want near 1", passages[0].Score)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	ts := newEmbedServer(t)
	defer ts.Close()
	ix := newTestIndex(t, ts)

	passages, err := ix.Search(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if passages != nil {
		t.Errorf("passages = %v, want nil", passages)
	}
}

func TestLoadDir(t *testing.T) {
	ts := newEmbedServer(t)
	defer ts.Close()
	ix := newTestIndex(t, ts)

	dir := t.TempDir()
	files := map[string]string{
		"rice.md":    "rice blast",
		"wheat.txt":  "wheat rust",
		"notes.json": "ignored extension",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := ix.LoadDir(context.Background(), dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if ix.Len() != 2 {
		t.Errorf("indexed %d chunks, want 2 (.json skipped)", ix.Len())
	}
}

func TestLoadDirMissing(t *testing.T) {
	ts := newEmbedServer(t)
	defer ts.Close()
	ix := newTestIndex(t, ts)

	if err := ix.LoadDir(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("missing dir should fail")
	}
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxRunes int
		want     int
	}{
		{"empty", "", 100, 0},
		{"whitespace only", "  \n\n  ", 100, 0},
		{"single paragraph", "short text", 100, 1},
		{"two small paragraphs merge", "one\n\ntwo", 100, 1},
		{"paragraphs split at limit", strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60), 100, 2},
		{"oversized paragraph hard-split", strings.Repeat("x", 250), 100, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitChunks(tt.text, tt.maxRunes)
			if len(got) != tt.want {
				t.Errorf("splitChunks produced %d chunks, want %d: %q", len(got), tt.want, got)
			}
			for _, c := range got {
				if n := len([]rune(c)); n > tt.maxRunes {
					t.Errorf("chunk of %d runes exceeds limit %d", n, tt.maxRunes)
				}
			}
		})
	}
}

func TestFormatPassages(t *testing.T) {
	if got := FormatPassages("q", nil); !strings.Contains(got, "No relevant passages") {
		t.Errorf("empty = %q", got)
	}

	got := FormatPassages("blight", []Passage{
		{Source: "a.md", Chunk: 0, Content: "first passage", Score: 0.91},
		{Source: "b.md", Chunk: 2, Content: "second passage", Score: 0.52},
	})
	for _, w := range []string{`"blight"`, "[a.md#0]", "0.910", "[b.md#2]", "second passage"} {
		if !strings.Contains(got, w) {
			t.Errorf("output missing %q:\n%s", w, got)
		}
	}
}
