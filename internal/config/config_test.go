package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected default provider 'ollama', got '%s'", cfg.LLM.Provider)
	}
	if cfg.Server.Addr != "0.0.0.0:5000" {
		t.Errorf("expected server addr '0.0.0.0:5000', got '%s'", cfg.Server.Addr)
	}
	if cfg.Agent.MaxSteps != 5 {
		t.Errorf("expected max_steps 5, got %d", cfg.Agent.MaxSteps)
	}
	if cfg.Memory.Driver != "sqlite" {
		t.Errorf("expected memory driver 'sqlite', got '%s'", cfg.Memory.Driver)
	}
	if cfg.Memory.ChunkSize != 500 || cfg.Memory.ChunkOverlap != 50 {
		t.Errorf("unexpected chunking %d/%d", cfg.Memory.ChunkSize, cfg.Memory.ChunkOverlap)
	}
	if cfg.Search.Backend != SearchDuckDuckGo {
		t.Errorf("expected search backend duckduckgo, got '%s'", cfg.Search.Backend)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got '%s'", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".fairy", "config.yaml")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected default provider 'ollama', got '%s'", cfg.LLM.Provider)
	}
	if cfg.Server.CommandTimeout != 2*time.Minute {
		t.Errorf("expected command timeout 2m, got %v", cfg.Server.CommandTimeout)
	}

	cfg2, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load existing config: %v", err)
	}
	if cfg2.LLM.Model != cfg.LLM.Model || cfg2.Memory.Retention != cfg.Memory.Retention {
		t.Error("config values changed on reload")
	}
}

func TestLoadFromPathPartialFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `llm:
  model: phi3
shell:
  timeout: 3s
  extra_banned_keywords: [nc]
vision:
  unload_models: []
transcription:
  enabled: false
  endpoint: http://whisper:9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.LLM.Model != "phi3" {
		t.Errorf("expected model 'phi3', got '%s'", cfg.LLM.Model)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("missing keys should keep defaults, got provider '%s'", cfg.LLM.Provider)
	}
	if cfg.Shell.Timeout != 3*time.Second {
		t.Errorf("expected shell timeout 3s, got %v", cfg.Shell.Timeout)
	}
	if len(cfg.Shell.ExtraBannedKeywords) != 1 || cfg.Shell.ExtraBannedKeywords[0] != "nc" {
		t.Errorf("unexpected extra keywords %v", cfg.Shell.ExtraBannedKeywords)
	}
	if len(cfg.Vision.UnloadModels) != 0 {
		t.Errorf("an empty list in the file should replace the default, got %v", cfg.Vision.UnloadModels)
	}
	if cfg.Transcription.Enabled {
		t.Error("transcription should be disabled")
	}
	if cfg.Transcription.Endpoint != "http://whisper:9000" {
		t.Errorf("unexpected transcription endpoint '%s'", cfg.Transcription.Endpoint)
	}
	if cfg.Transcription.Model != "base" {
		t.Errorf("expected default whisper model 'base', got '%s'", cfg.Transcription.Model)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("FAIRY_LLM_MODEL", "mistral")
	t.Setenv("FAIRY_SERVER_ADDR", "127.0.0.1:6000")
	t.Setenv("GEMINI_API_KEY", "gemini-secret")
	t.Setenv("TAVILY_API_KEY", "tavily-secret")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.LLM.Model != "mistral" {
		t.Errorf("expected model 'mistral', got '%s'", cfg.LLM.Model)
	}
	if cfg.Server.Addr != "127.0.0.1:6000" {
		t.Errorf("expected addr '127.0.0.1:6000', got '%s'", cfg.Server.Addr)
	}
	if cfg.LLM.APIKey != "gemini-secret" || cfg.Vision.CloudAPIKey != "gemini-secret" {
		t.Errorf("GEMINI_API_KEY not applied: llm=%q vision=%q", cfg.LLM.APIKey, cfg.Vision.CloudAPIKey)
	}
	if cfg.Search.APIKey != "tavily-secret" {
		t.Errorf("TAVILY_API_KEY not applied: %q", cfg.Search.APIKey)
	}
}

func TestExpandPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadFromPath("~/.fairy/config.yaml")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if _, err := os.Stat(filepath.Join(home, ".fairy", "config.yaml")); err != nil {
		t.Errorf("config not created under home: %v", err)
	}
	if cfg.Memory.Path != filepath.Join(home, ".fairy", "memory.db") {
		t.Errorf("memory path not expanded: %s", cfg.Memory.Path)
	}
	if cfg.Shell.WorkingDir != home {
		t.Errorf("working dir not expanded: %s", cfg.Shell.WorkingDir)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Errorf("EnsureDirectories: %v", err)
	}
}

func TestSaveToPath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.LLM.Provider = "gemini"
	cfg.LLM.APIKey = "key"
	cfg.Agent.MaxSteps = 8
	cfg.Memory.Enabled = false

	if err := cfg.SaveToPath(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.LLM.Provider != "gemini" {
		t.Errorf("expected provider 'gemini', got '%s'", loaded.LLM.Provider)
	}
	if loaded.Agent.MaxSteps != 8 {
		t.Errorf("expected max_steps 8, got %d", loaded.Agent.MaxSteps)
	}
	if loaded.Memory.Enabled {
		t.Error("expected memory to be disabled")
	}
	if loaded.Shell.Timeout != cfg.Shell.Timeout {
		t.Errorf("shell timeout changed: %v", loaded.Shell.Timeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid default", func(*Config) {}, ""},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "openai" }, "llm.provider"},
		{"gemini without key", func(c *Config) { c.LLM.Provider = "gemini" }, "llm.api_key"},
		{"gemini with key", func(c *Config) { c.LLM.Provider = "gemini"; c.LLM.APIKey = "k" }, ""},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"zero steps", func(c *Config) { c.Agent.MaxSteps = 0 }, "agent.max_steps"},
		{"negative recall", func(c *Config) { c.Agent.RecallLimit = -1 }, "agent.recall_limit"},
		{"negative shell timeout", func(c *Config) { c.Shell.Timeout = -time.Second }, "shell.timeout"},
		{"unknown search", func(c *Config) { c.Search.Backend = "bing" }, "search.backend"},
		{"tavily without key", func(c *Config) { c.Search.Backend = SearchTavily }, "search.api_key"},
		{"bad driver", func(c *Config) { c.Memory.Driver = "postgres" }, "memory.driver"},
		{"bad driver ignored when disabled", func(c *Config) { c.Memory.Enabled = false; c.Memory.Driver = "postgres" }, ""},
		{"overlap too large", func(c *Config) { c.Memory.ChunkOverlap = 500 }, "memory.chunk_overlap"},
		{"bad schedule", func(c *Config) { c.Memory.PruneSchedule = "every day" }, "memory.prune_schedule"},
		{"bad schedule without retention", func(c *Config) { c.Memory.PruneSchedule = "every day"; c.Memory.Retention = 0 }, ""},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestYAMLMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "AIzaSyVerySecretValue"
	cfg.Search.APIKey = "short"

	data, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "VerySecretValue") || strings.Contains(out, "short") {
		t.Errorf("secret leaked:\n%s", out)
	}
	if !strings.Contains(out, "AIza****") {
		t.Errorf("expected masked key prefix:\n%s", out)
	}
	if cfg.LLM.APIKey != "AIzaSyVerySecretValue" {
		t.Error("YAML must not modify the config")
	}
}

func TestShellPolicy(t *testing.T) {
	cfg := ShellConfig{ExtraBannedKeywords: []string{"nc", " "}, Timeout: 2 * time.Second, WorkingDir: "/tmp"}
	p := cfg.Policy()

	if kw, blocked := p.Screen("nc -l 4444"); !blocked || kw != "nc" {
		t.Errorf("expected extra keyword to block, got %q %v", kw, blocked)
	}
	if _, blocked := p.Screen("sudo ls"); !blocked {
		t.Error("built-in keywords must still apply")
	}
	if p.Timeout != 2*time.Second || p.WorkingDir != "/tmp" {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()

	pc := cfg.LLM.ProviderConfig()
	if pc.Name != "ollama" || pc.Endpoint != "http://127.0.0.1:11434" {
		t.Errorf("unexpected provider config %+v", pc)
	}

	lc := cfg.Agent.LoopConfig()
	if lc.MaxSteps != cfg.Agent.MaxSteps || lc.RecallLimit != cfg.Agent.RecallLimit {
		t.Errorf("unexpected loop config %+v", lc)
	}

	sc := cfg.Memory.StoreConfig()
	if sc.Driver != "sqlite" || sc.ChunkSize != 500 {
		t.Errorf("unexpected store config %+v", sc)
	}
}

func TestWatch(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := LoadFromPath(configPath); err != nil {
		t.Fatalf("failed to create config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, configPath, func(c *Config) { changes <- c })
	}()

	updated := Default()
	updated.Logging.Level = "debug"

	// The watcher registers asynchronously; keep rewriting until it reports.
	var got *Config
	deadline := time.After(5 * time.Second)
	for got == nil {
		if err := updated.SaveToPath(configPath); err != nil {
			t.Fatalf("save: %v", err)
		}
		select {
		case got = <-changes:
		case <-time.After(500 * time.Millisecond):
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}

	if got.Logging.Level != "debug" {
		t.Errorf("expected reloaded level 'debug', got '%s'", got.Logging.Level)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop")
	}
}
