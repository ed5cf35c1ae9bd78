// Package config handles Parley configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./parley.yaml, ~/.config/parley/parley.yaml, /etc/parley/parley.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"parley.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "parley", "parley.yaml"))
	}

	paths = append(paths, "/etc/parley/parley.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Parley configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Model     ModelConfig     `yaml:"model"`
	Gate      GateConfig      `yaml:"gate"`
	Loop      LoopConfig      `yaml:"loop"`
	Search    SearchConfig    `yaml:"search"`
	Arxiv     ArxivConfig     `yaml:"arxiv"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the JSON-RPC server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig defines the completion provider used for reasoning.
type ModelConfig struct {
	// Provider selects the completion backend: "ollama" or "openai".
	Provider string `yaml:"provider"`
	// Name is the model identifier (e.g., "qwen3:4b", "gpt-4o-mini").
	Name string `yaml:"name"`
	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`
	// APIKey authenticates against hosted providers. Ignored by Ollama.
	APIKey string `yaml:"api_key"`
	// TimeoutSec bounds a single completion call (default 120).
	TimeoutSec int `yaml:"timeout_sec"`
}

// GateConfig defines the helpfulness evaluator. It may point at a
// different (typically cheaper) model than the reasoning step; when
// Name is empty the reasoning model is reused.
type GateConfig struct {
	Name       string `yaml:"name"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// LoopConfig bounds the reason/act/evaluate cycle.
type LoopConfig struct {
	// MaxIterations is the hard cap on reason/evaluate rounds (default 10).
	MaxIterations int `yaml:"max_iterations"`
	// StallRounds is how many consecutive unchanged NEEDS_IMPROVEMENT
	// verdicts terminate the loop early (default 2).
	StallRounds int `yaml:"stall_rounds"`
}

// SearchConfig defines web search providers.
type SearchConfig struct {
	// Primary names the default provider ("brave" or "searxng").
	Primary string `yaml:"primary"`
	Brave   struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"brave"`
	SearXNG struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"searxng"`
}

// ArxivConfig defines the literature search capability.
type ArxivConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxResults int  `yaml:"max_results"`
}

// FetchConfig defines the page fetch capability.
type FetchConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxBytes int  `yaml:"max_bytes"`
}

// RetrievalConfig defines the document retrieval corpus.
type RetrievalConfig struct {
	// CorpusDir holds markdown/text documents indexed at startup.
	// Empty disables the retrieval capability.
	CorpusDir string `yaml:"corpus_dir"`
	// TopK is how many passages a query returns (default 4).
	TopK       int `yaml:"top_k"`
	Embeddings struct {
		BaseURL string `yaml:"base_url"` // Ollama URL for embeddings
		Model   string `yaml:"model"`    // e.g., nomic-embed-text
	} `yaml:"embeddings"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 10000},
		Model: ModelConfig{
			Provider:   "ollama",
			Name:       "qwen3:4b",
			BaseURL:    "http://localhost:11434",
			TimeoutSec: 120,
		},
		Loop: LoopConfig{
			MaxIterations: 10,
			StallRounds:   2,
		},
		Arxiv:   ArxivConfig{Enabled: true, MaxResults: 5},
		Fetch:   FetchConfig{Enabled: true, MaxBytes: 1 << 20},
		DataDir: "data",
	}
	cfg.Retrieval.TopK = 4
	cfg.Retrieval.Embeddings.BaseURL = "http://localhost:11434"
	cfg.Retrieval.Embeddings.Model = "nomic-embed-text"
	return cfg
}
