// Veris is a conversation orchestration engine for tool-using AI
// assistants.
//
// It exposes an OpenAI-compatible API backed by any OpenAI-compatible
// model server (Ollama, vLLM, OpenRouter, ...), adds persistent
// sessions, semantic memory, and a bounded tool-calling loop with
// builtin and MCP-bridged tools. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	veris serve              Start the API server
//	veris init [dir]         Initialize a working directory with defaults
//	veris ask <question>     Ask a single question (for testing)
//	veris version            Print version and build information
//	veris -o json version    Output version information as JSON
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

	"github.com/veris-ai/veris/internal/agent"
	"github.com/veris-ai/veris/internal/api"
	"github.com/veris-ai/veris/internal/buildinfo"
	"github.com/veris-ai/veris/internal/config"
	"github.com/veris-ai/veris/internal/embeddings"
	"github.com/veris-ai/veris/internal/llm"
	"github.com/veris-ai/veris/internal/mcp"
	"github.com/veris-ai/veris/internal/memory"
	"github.com/veris-ai/veris/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the veris command. All OS-level
// dependencies are injected as parameters so tests can drive the full
// lifecycle. Arguments are parsed by hand: the flag package relies on
// package-level globals, which makes it impossible to call run()
// concurrently from tests, and the argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
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
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
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
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: veris ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Veris - Conversation Orchestration Engine")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: veris [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// runVersion prints build metadata in the requested output format.
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

// defaultConfigYAML is written by `veris init`.
const defaultConfigYAML = `# Veris configuration
listen:
  address: ""
  port: 8080

model:
  base_url: http://localhost:11434/v1
  api_key: ${VERIS_API_KEY}

embeddings:
  enabled: false
  model: nomic-embed-text

weather:
  enabled: true

# mcp_servers:
#   - name: docs
#     url: http://localhost:9000/mcp

data_dir: data
persona_file: personas.yaml
log_level: info
`

// defaultPersonasYAML is written by `veris init`.
const defaultPersonasYAML = `default: veris

personas:
  - name: veris
    model: qwen3:4b
    system_prompt: |
      You are Veris, a helpful assistant. Be concise.
    temperature: 0.7
    max_tokens: 1024
    token_budget: 6000
    max_iterations: 10
    memory:
      enabled: true
      include_user: true
      include_assistant: true
`

// runInit seeds dir with a default config file and persona file. It
// refuses to overwrite files that already exist.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	files := map[string]string{
		"config.yaml":   defaultConfigYAML,
		"personas.yaml": defaultPersonasYAML,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(w, "skipping %s (already exists)\n", path)
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintf(w, "created %s\n", path)
	}

	fmt.Fprintln(w, "initialized; edit config.yaml and run: veris serve")
	return nil
}

// runAsk boots a minimal engine (no persistence, no semantic memory)
// and processes a single question, printing the streamed response to
// stdout. Useful for smoke tests without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(io.Discard, slog.LevelInfo)
	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	personas, err := loadPersonas(cfg, logger)
	if err != nil {
		return err
	}
	persona, err := personas.Persona("")
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry)
	if cfg.Weather.Enabled {
		tools.RegisterWeather(registry, cfg.Weather.BaseURL, "")
	}

	client := llm.NewOpenAIClient(cfg.Model.BaseURL, cfg.Model.APIKey, logger)
	loop := agent.NewLoop(client, registry, nil, nil, nil, logger)

	resp, err := loop.RunTurn(ctx, agent.Request{
		SessionID:   "cli",
		Persona:     *persona,
		UserMessage: question,
		OnDelta:     func(s string) { fmt.Fprint(stdout, s) },
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	if resp.Content != "" {
		fmt.Fprintln(stdout)
	}
	return nil
}

// runServe is the primary operating mode: load config, open stores,
// build the tool registry and orchestration loop, start the API server,
// and block until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Veris", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "model_url", cfg.Model.BaseURL)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Persistence store ---
	// SQLite-backed sessions and transcripts. Persists across restarts
	// so conversations can resume.
	dbPath := filepath.Join(cfg.DataDir, "veris.db")
	store, err := memory.NewSQLiteStore(dbPath, 200)
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer store.Close()
	logger.Info("database opened", "path", dbPath)

	// --- Personas ---
	personas, err := loadPersonas(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("personas loaded", "names", personas.Names())

	// --- Model client ---
	client := llm.NewOpenAIClient(cfg.Model.BaseURL, cfg.Model.APIKey, logger)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := client.Ping(pingCtx); err != nil {
		logger.Warn("model endpoint unreachable at startup", "url", cfg.Model.BaseURL, "error", err)
	}
	pingCancel()

	// --- Semantic memory ---
	// Optional: requires an embedding endpoint. Without it the engine
	// runs with transcript history only.
	var retriever *memory.Retriever
	var semantic *memory.SemanticStore
	if cfg.Embeddings.Enabled {
		embBase := cfg.Embeddings.BaseURL
		if embBase == "" {
			embBase = cfg.Model.BaseURL
		}
		emb := embeddings.New(embeddings.Config{
			BaseURL: embBase,
			APIKey:  cfg.Model.APIKey,
			Model:   cfg.Embeddings.Model,
		})
		semantic, err = memory.NewSemanticStore(filepath.Join(cfg.DataDir, "chromem"), emb.EmbeddingFunc(), logger)
		if err != nil {
			return fmt.Errorf("open semantic store: %w", err)
		}
		retriever = memory.NewRetriever(semantic, logger)
		logger.Info("semantic memory enabled", "model", cfg.Embeddings.Model, "documents", semantic.Count())
	} else {
		logger.Info("semantic memory disabled")
	}

	// --- Tool registry ---
	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry)
	if cfg.Weather.Enabled {
		tools.RegisterWeather(registry, cfg.Weather.BaseURL, "")
	}

	// MCP servers are best-effort at startup: a server that is down
	// costs its tools, not the process.
	for _, server := range cfg.MCPServers {
		transport := mcp.NewHTTPTransport(mcp.HTTPConfig{URL: server.URL, Logger: logger})
		mcpClient := mcp.NewClient(server.Name, transport, logger)

		mcpCtx, mcpCancel := context.WithTimeout(ctx, 15*time.Second)
		if err := mcpClient.Initialize(mcpCtx); err != nil {
			logger.Warn("MCP server unavailable", "server", server.Name, "url", server.URL, "error", err)
			mcpCancel()
			continue
		}
		count, err := mcp.BridgeTools(mcpCtx, mcpClient, server.Name, registry, logger)
		mcpCancel()
		if err != nil {
			logger.Warn("MCP tool bridge failed", "server", server.Name, "error", err)
			continue
		}
		defer mcpClient.Close()
		logger.Info("MCP server bridged", "server", server.Name, "tools", count)
	}
	logger.Info("tool registry ready", "tools", registry.Names())

	// --- Orchestration loop ---
	persister := agent.NewPersister(store, semanticWriter(semantic), logger)
	defer persister.Close()

	loop := agent.NewLoop(client, registry, retriever, store, persister, logger)

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, loop, personas, logger)
	server.SetStore(store)
	server.SetRegistry(registry)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
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

	logger.Info("Veris stopped")
	return nil
}

// semanticWriter converts a possibly-nil concrete store into the
// persister's interface. A plain nil *SemanticStore inside a non-nil
// interface would dodge the persister's nil check.
func semanticWriter(s *memory.SemanticStore) agent.SemanticWriter {
	if s == nil {
		return nil
	}
	return s
}

// loadPersonas reads the configured persona file, falling back to the
// built-in default persona when no file is configured or present.
func loadPersonas(cfg *config.Config, logger *slog.Logger) (*config.Personas, error) {
	if cfg.PersonaFile == "" {
		return config.DefaultPersonas(), nil
	}
	personas, err := config.LoadPersonas(cfg.PersonaFile)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("persona file not found, using built-in default", "path", cfg.PersonaFile)
			return config.DefaultPersonas(), nil
		}
		return nil, err
	}
	return personas, nil
}

// newLogger creates a structured text logger writing to w at the given
// level. All log output goes through slog.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
