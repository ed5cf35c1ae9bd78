// Parley is a conversational reasoning agent served over JSON-RPC.
//
// Each submitted message drives a bounded reason/act/evaluate loop:
// the model may call capabilities (web search, arXiv search, page
// fetch, document retrieval), then an independent helpfulness check
// decides whether the answer ships or the loop retries. Configuration
// is loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	parley serve             Start the JSON-RPC server
//	parley ask <question>    Ask a single question against a running server
//	parley task <id>         Show (or with -cancel, cancel) a task on a running server
//	parley init [dir]        Initialize a working directory with an example config
//	parley version           Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/parley-agent/parley/internal/agent"
	"github.com/parley-agent/parley/internal/arxiv"
	"github.com/parley-agent/parley/internal/buildinfo"
	"github.com/parley-agent/parley/internal/capability"
	"github.com/parley-agent/parley/internal/client"
	"github.com/parley-agent/parley/internal/config"
	"github.com/parley-agent/parley/internal/embeddings"
	"github.com/parley-agent/parley/internal/events"
	"github.com/parley-agent/parley/internal/fetch"
	"github.com/parley-agent/parley/internal/llm"
	"github.com/parley-agent/parley/internal/retrieval"
	"github.com/parley-agent/parley/internal/rpc"
	"github.com/parley-agent/parley/internal/search"
	"github.com/parley-agent/parley/internal/task"
)

// main constructs the OS-level environment and delegates to run so the
// full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, which makes it impossible
// to call run concurrently from tests, and the argument surface here
// is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: parley ask [-server url] [-context id] <question>")
		}
		return runAsk(ctx, stdout, cmdArgs)
	case "task":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: parley task [-server url] [-cancel] <task-id>")
		}
		return runTask(ctx, stdout, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Parley - Conversational Reasoning Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: parley [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the JSON-RPC server")
	fmt.Fprintln(w, "  ask          Ask a single question against a running server")
	fmt.Fprintln(w, "  task <id>    Show a task's state and answer (-cancel to cancel it)")
	fmt.Fprintln(w, "  init [dir]   Initialize a working directory with an example config (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./parley.yaml, ~/.config/parley/parley.yaml, /etc/parley/parley.yaml")
	return nil
}

// runAsk issues a single message/send against a running server and
// prints the answer. Useful for smoke tests without a full client.
func runAsk(ctx context.Context, stdout io.Writer, args []string) error {
	serverURL := "http://localhost:10000"
	contextID := ""
	var words []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-server" && i+1 < len(args):
			serverURL = args[i+1]
			i++
		case args[i] == "-context" && i+1 < len(args):
			contextID = args[i+1]
			i++
		default:
			words = append(words, args[i])
		}
	}
	if len(words) == 0 {
		return fmt.Errorf("usage: parley ask [-server url] [-context id] <question>")
	}

	c := client.New(serverURL)
	t, err := c.Send(ctx, contextID, strings.Join(words, " "))
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, t.Text())
	if t.Status.State != "completed" {
		fmt.Fprintf(stdout, "\n[task %s: %s, context %s]\n", t.ID, t.Status.State, t.ContextID)
	}
	return nil
}

// runTask fetches a task snapshot by id from a running server, or
// cancels it when -cancel is given.
func runTask(ctx context.Context, stdout io.Writer, args []string) error {
	serverURL := "http://localhost:10000"
	cancelTask := false
	taskID := ""

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-server" && i+1 < len(args):
			serverURL = args[i+1]
			i++
		case args[i] == "-cancel":
			cancelTask = true
		case taskID == "":
			taskID = args[i]
		default:
			return fmt.Errorf("usage: parley task [-server url] [-cancel] <task-id>")
		}
	}
	if taskID == "" {
		return fmt.Errorf("usage: parley task [-server url] [-cancel] <task-id>")
	}

	c := client.New(serverURL)
	var t *client.Task
	var err error
	if cancelTask {
		t, err = c.CancelTask(ctx, taskID)
	} else {
		t, err = c.GetTask(ctx, taskID)
	}
	if err != nil {
		return fmt.Errorf("task %s: %w", taskID, err)
	}

	fmt.Fprintf(stdout, "task:    %s\n", t.ID)
	fmt.Fprintf(stdout, "context: %s\n", t.ContextID)
	fmt.Fprintf(stdout, "state:   %s\n", t.Status.State)
	if text := t.Text(); text != "" {
		fmt.Fprintf(stdout, "\n%s\n", text)
	}
	return nil
}

// runServe wires the full stack: completion provider, capability
// registry, loop, task manager, and the protocol server.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Parley",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log_level: %w", err)
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"provider", cfg.Model.Provider,
		"model", cfg.Model.Name,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	llmClient, err := newLLMClient(cfg)
	if err != nil {
		return err
	}

	bus := events.New()

	registry, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("capabilities registered", "names", registry.Names())

	dispatcher := capability.NewDispatcher(registry, logger, bus)

	gateModel := cfg.Gate.Name
	if gateModel == "" {
		gateModel = cfg.Model.Name
	}
	gate := agent.NewGate(llmClient, gateModel, time.Duration(cfg.Gate.TimeoutSec)*time.Second, logger)

	loop := agent.NewLoop(llmClient, gate, dispatcher, registry, agent.Options{
		Model:         cfg.Model.Name,
		MaxIterations: cfg.Loop.MaxIterations,
		StallRounds:   cfg.Loop.StallRounds,
	}, logger, bus)

	store, err := task.NewStore(filepath.Join(cfg.DataDir, "parley.db"))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	mgr := task.NewManager(loop, store, logger, bus)
	defer mgr.Close()

	listen := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := rpc.NewServer(listen, mgr, registry, bus, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Parley stopped")
	return nil
}

// newLLMClient builds the configured completion provider.
func newLLMClient(cfg *config.Config) (llm.Client, error) {
	timeout := time.Duration(cfg.Model.TimeoutSec) * time.Second
	switch cfg.Model.Provider {
	case "", "ollama":
		return llm.NewOllamaClient(cfg.Model.BaseURL, timeout), nil
	case "openai":
		return llm.NewOpenAIClient(cfg.Model.BaseURL, cfg.Model.APIKey, timeout), nil
	default:
		return nil, fmt.Errorf("unknown model provider: %q", cfg.Model.Provider)
	}
}

// buildRegistry registers every configured capability. The registry is
// immutable once this returns.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*capability.Registry, error) {
	registry := capability.NewRegistry()

	mgr := search.NewManager(cfg.Search.Primary)
	if cfg.Search.Brave.APIKey != "" {
		mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey))
	}
	if cfg.Search.SearXNG.BaseURL != "" {
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNG.BaseURL))
	}
	if mgr.Configured() {
		registry.Register(search.NewCapability(mgr))
	} else {
		logger.Warn("no web search provider configured, web_search disabled")
	}

	if cfg.Arxiv.Enabled {
		registry.Register(arxiv.NewCapability(arxiv.NewClient(cfg.Arxiv.MaxResults)))
	}

	if cfg.Fetch.Enabled {
		registry.Register(fetch.NewCapability(fetch.New(int64(cfg.Fetch.MaxBytes))))
	}

	if cfg.Retrieval.CorpusDir != "" {
		embed := embeddings.New(embeddings.Config{
			BaseURL: cfg.Retrieval.Embeddings.BaseURL,
			Model:   cfg.Retrieval.Embeddings.Model,
		})
		index := retrieval.NewIndex(embed, logger)
		if err := index.LoadDir(ctx, cfg.Retrieval.CorpusDir); err != nil {
			return nil, fmt.Errorf("load retrieval corpus: %w", err)
		}
		registry.Register(retrieval.NewCapability(index, cfg.Retrieval.TopK))
	}

	return registry, nil
}

// newLogger creates a structured text logger writing to w.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. Missing
// config is not fatal; defaults serve a local Ollama setup.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
