// Package config handles Veris configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/veris/config.yaml, /etc/veris/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "veris", "config.yaml"))
	}

	paths = append(paths, "/etc/veris/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
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

// Config holds all Veris configuration.
type Config struct {
	Listen      ListenConfig     `yaml:"listen"`
	Model       ModelConfig      `yaml:"model"`
	Embeddings  EmbeddingsConfig `yaml:"embeddings"`
	Weather     WeatherConfig    `yaml:"weather"`
	MCPServers  []MCPServer      `yaml:"mcp_servers"`
	DataDir     string           `yaml:"data_dir"`
	PersonaFile string           `yaml:"persona_file"`
	LogLevel    string           `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig defines the upstream chat completion endpoint.
// Any OpenAI-compatible server works (Ollama, vLLM, OpenRouter, ...).
type ModelConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`    // Embedding model name (e.g., nomic-embed-text)
	BaseURL string `yaml:"base_url"` // Defaults to model.base_url
}

// WeatherConfig defines the weather tool's upstream API.
type WeatherConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"` // Default: https://api.open-meteo.com
}

// MCPServer defines one remote MCP tool server to bridge into the registry.
type MCPServer struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Load reads configuration from a YAML file. Environment variables in the
// file body are expanded before decoding, so secrets can live in the
// environment (api_key: ${VERIS_API_KEY}).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:      ListenConfig{Port: 8080},
		Model:       ModelConfig{BaseURL: "http://localhost:11434/v1"},
		Weather:     WeatherConfig{BaseURL: "https://api.open-meteo.com"},
		DataDir:     "data",
		PersonaFile: "personas.yaml",
	}
}

// MemorySettings controls semantic memory retrieval and writing for a persona.
type MemorySettings struct {
	Enabled             bool    `yaml:"enabled"`
	MaxResults          int     `yaml:"max_results"`    // Per origin category
	MinSimilarity       float32 `yaml:"min_similarity"` // Results below this are dropped
	IncludeUser         bool    `yaml:"include_user"`   // Retrieve user-authored memories
	IncludeAssistant    bool    `yaml:"include_assistant"`
	RetrievalTimeoutSec int     `yaml:"retrieval_timeout_sec"`
}

// RetrievalTimeout returns the retrieval timeout as a duration.
func (m MemorySettings) RetrievalTimeout() time.Duration {
	return time.Duration(m.RetrievalTimeoutSec) * time.Second
}

// Persona is a named configuration bundle controlling model choice, prompt,
// memory, and tool policy. Defaults are applied once at load time, never
// re-derived per request.
type Persona struct {
	Name          string         `yaml:"name"`
	Model         string         `yaml:"model"`
	SystemPrompt  string         `yaml:"system_prompt"`
	Temperature   float64        `yaml:"temperature"`
	MaxTokens     int            `yaml:"max_tokens"`
	TokenBudget   int            `yaml:"token_budget"` // Max estimated tokens of assembled history
	MaxIterations int            `yaml:"max_iterations"`
	AllowedTools  []string       `yaml:"allowed_tools"`
	Memory        MemorySettings `yaml:"memory"`
}

func (p *Persona) applyDefaults() {
	if p.Temperature == 0 {
		p.Temperature = 0.7
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = 1024
	}
	if p.TokenBudget <= 0 {
		p.TokenBudget = 6000
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = 10
	}
	if p.Memory.MaxResults <= 0 {
		p.Memory.MaxResults = 3
	}
	if p.Memory.MinSimilarity <= 0 {
		p.Memory.MinSimilarity = 0.3
	}
	if p.Memory.RetrievalTimeoutSec <= 0 {
		p.Memory.RetrievalTimeoutSec = 2
	}
}

// ToolAllowed reports whether the persona permits the named tool.
// An empty allow-list permits every registered tool.
func (p *Persona) ToolAllowed(name string) bool {
	if len(p.AllowedTools) == 0 {
		return true
	}
	for _, t := range p.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

// Personas is the loaded persona registry.
type Personas struct {
	defaultName string
	byName      map[string]*Persona
}

// personaFile is the YAML shape of the persona file.
type personaFile struct {
	Default  string     `yaml:"default"`
	Personas []*Persona `yaml:"personas"`
}

// LoadPersonas reads the persona file, applies defaults to each persona,
// and validates that the declared default exists.
func LoadPersonas(path string) (*Personas, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pf personaFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &pf); err != nil {
		return nil, fmt.Errorf("parse persona file: %w", err)
	}
	if len(pf.Personas) == 0 {
		return nil, fmt.Errorf("persona file %s defines no personas", path)
	}

	reg := &Personas{byName: make(map[string]*Persona, len(pf.Personas))}
	for _, p := range pf.Personas {
		if p.Name == "" {
			return nil, fmt.Errorf("persona file %s: persona with empty name", path)
		}
		if p.Model == "" {
			return nil, fmt.Errorf("persona %q: model is required", p.Name)
		}
		p.applyDefaults()
		reg.byName[p.Name] = p
	}

	reg.defaultName = pf.Default
	if reg.defaultName == "" {
		reg.defaultName = pf.Personas[0].Name
	}
	if _, ok := reg.byName[reg.defaultName]; !ok {
		return nil, fmt.Errorf("default persona %q not defined", reg.defaultName)
	}

	return reg, nil
}

// DefaultPersonas returns a registry with a single built-in persona, used
// when no persona file is configured.
func DefaultPersonas() *Personas {
	p := &Persona{
		Name:         "veris",
		Model:        "qwen3:4b",
		SystemPrompt: "You are Veris, a helpful assistant. Be concise.",
		Memory:       MemorySettings{Enabled: true, IncludeUser: true, IncludeAssistant: true},
	}
	p.applyDefaults()
	return &Personas{
		defaultName: p.Name,
		byName:      map[string]*Persona{p.Name: p},
	}
}

// Persona returns the named persona, or the default when name is empty.
func (r *Personas) Persona(name string) (*Persona, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown persona: %s", name)
	}
	return p, nil
}

// Names returns the registered persona names.
func (r *Personas) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	return names
}
