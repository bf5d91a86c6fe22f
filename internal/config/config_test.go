package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("VERIS_TEST_KEY", "sk-test-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
listen:
  port: 9090
model:
  base_url: http://localhost:8000/v1
  api_key: ${VERIS_TEST_KEY}
log_level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Listen.Port)
	}
	if cfg.Model.APIKey != "sk-test-123" {
		t.Errorf("api_key = %q, want expanded env value", cfg.Model.APIKey)
	}
	if cfg.Weather.BaseURL == "" {
		t.Error("weather base_url default not applied")
	}
}

func TestLoadPersonas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "personas.yaml")
	body := `
default: helper
personas:
  - name: helper
    model: qwen3:4b
    system_prompt: You are a helper.
    allowed_tools: [calculator, clock]
  - name: researcher
    model: qwen2.5:72b
    temperature: 0.2
    max_tokens: 4096
    memory:
      enabled: true
      include_user: true
      include_assistant: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := LoadPersonas(path)
	if err != nil {
		t.Fatalf("LoadPersonas: %v", err)
	}

	p, err := reg.Persona("")
	if err != nil {
		t.Fatalf("default persona: %v", err)
	}
	if p.Name != "helper" {
		t.Errorf("default persona = %q, want helper", p.Name)
	}

	// Defaults applied at load time.
	if p.MaxIterations != 10 {
		t.Errorf("max_iterations = %d, want 10", p.MaxIterations)
	}
	if p.TokenBudget != 6000 {
		t.Errorf("token_budget = %d, want 6000", p.TokenBudget)
	}
	if p.Memory.RetrievalTimeout() != 2*time.Second {
		t.Errorf("retrieval_timeout = %v, want 2s", p.Memory.RetrievalTimeout())
	}

	// Tool allow-list.
	if !p.ToolAllowed("calculator") {
		t.Error("calculator should be allowed")
	}
	if p.ToolAllowed("weather") {
		t.Error("weather should not be allowed")
	}

	r, err := reg.Persona("researcher")
	if err != nil {
		t.Fatalf("researcher persona: %v", err)
	}
	if !r.ToolAllowed("anything") {
		t.Error("empty allow-list should permit all tools")
	}
	if r.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", r.Temperature)
	}

	if _, err := reg.Persona("nope"); err == nil {
		t.Error("expected error for unknown persona")
	}
}

func TestLoadPersonasRejectsBadDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "personas.yaml")
	body := `
default: ghost
personas:
  - name: helper
    model: qwen3:4b
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadPersonas(path); err == nil {
		t.Error("expected error for undefined default persona")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"info", false},
		{"trace", false},
		{"DEBUG", false},
		{"warning", false},
		{"bogus", true},
	}
	for _, tt := range tests {
		_, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}
