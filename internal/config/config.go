package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/normanking/fairy/internal/agent"
	"github.com/normanking/fairy/internal/llm"
	"github.com/normanking/fairy/internal/logging"
	"github.com/normanking/fairy/internal/memory"
	"github.com/normanking/fairy/internal/server"
	"github.com/normanking/fairy/internal/tools"
	"github.com/normanking/fairy/internal/transcribe"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FAIRY"

// Config holds all application configuration for Fairy.
// It is loaded from ~/.fairy/config.yaml and can be overridden by environment variables.
type Config struct {
	Server        server.Config    `mapstructure:"server" yaml:"server"`
	LLM           LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Agent         AgentConfig      `mapstructure:"agent" yaml:"agent"`
	Shell         ShellConfig      `mapstructure:"shell" yaml:"shell"`
	Desktop       DesktopConfig    `mapstructure:"desktop" yaml:"desktop"`
	Vision        VisionConfig     `mapstructure:"vision" yaml:"vision"`
	Search        SearchConfig     `mapstructure:"search" yaml:"search"`
	Memory        MemoryConfig     `mapstructure:"memory" yaml:"memory"`
	Transcription TranscribeConfig `mapstructure:"transcription" yaml:"transcription"`
	Logging       logging.Config   `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig selects the model that drives the agent loop.
type LLMConfig struct {
	// Provider is "ollama" (default) or "gemini".
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Model       string        `mapstructure:"model" yaml:"model"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ProviderConfig converts to the llm package's provider settings.
func (c LLMConfig) ProviderConfig() *llm.ProviderConfig {
	return &llm.ProviderConfig{
		Name:        c.Provider,
		Endpoint:    c.Endpoint,
		APIKey:      c.APIKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Timeout:     c.Timeout,
	}
}

// AgentConfig tunes the reason-act loop.
type AgentConfig struct {
	MaxSteps    int `mapstructure:"max_steps" yaml:"max_steps"`
	RecallLimit int `mapstructure:"recall_limit" yaml:"recall_limit"`

	// SystemPrompt replaces the built-in prompt when set.
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt"`

	DisableStreaming bool `mapstructure:"disable_streaming" yaml:"disable_streaming"`
}

// LoopConfig converts to agent.Config.
func (c AgentConfig) LoopConfig() agent.Config {
	return agent.Config{
		MaxSteps:         c.MaxSteps,
		RecallLimit:      c.RecallLimit,
		SystemPrompt:     c.SystemPrompt,
		DisableStreaming: c.DisableStreaming,
	}
}

// ShellConfig controls the guarded shell. ExtraBannedKeywords extend the
// built-in denylist and are reloaded while serving.
type ShellConfig struct {
	ExtraBannedKeywords []string      `mapstructure:"extra_banned_keywords" yaml:"extra_banned_keywords"`
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout"`
	WorkingDir          string        `mapstructure:"working_dir" yaml:"working_dir"`
}

// Policy builds the shell policy.
func (c ShellConfig) Policy() tools.ShellPolicy {
	p := tools.DefaultShellPolicy().WithExtraKeywords(c.ExtraBannedKeywords...)
	if c.Timeout > 0 {
		p.Timeout = c.Timeout
	}
	if c.WorkingDir != "" {
		p.WorkingDir = c.WorkingDir
	}
	return p
}

// DesktopConfig controls desktop automation.
type DesktopConfig struct {
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// VisionConfig controls SEE_SCREEN.
type VisionConfig struct {
	LocalModel string `mapstructure:"local_model" yaml:"local_model"`
	CloudModel string `mapstructure:"cloud_model" yaml:"cloud_model"`

	// CloudAPIKey is the Gemini key; GEMINI_API_KEY also sets it.
	CloudAPIKey string `mapstructure:"cloud_api_key" yaml:"cloud_api_key"`

	// UnloadModels are evicted from Ollama before a local analysis.
	UnloadModels []string      `mapstructure:"unload_models" yaml:"unload_models"`
	UnloadSettle time.Duration `mapstructure:"unload_settle" yaml:"unload_settle"`

	CapturePath   string `mapstructure:"capture_path" yaml:"capture_path"`
	ThumbnailSize int    `mapstructure:"thumbnail_size" yaml:"thumbnail_size"`
}

// Search backends.
const (
	SearchDuckDuckGo = "duckduckgo"
	SearchTavily     = "tavily"
)

// SearchConfig controls the SEARCH capability.
type SearchConfig struct {
	Backend    string        `mapstructure:"backend" yaml:"backend"`
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	MaxResults int           `mapstructure:"max_results" yaml:"max_results"`
	CacheSize  int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// MemoryConfig controls long-term memory.
type MemoryConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Path         string `mapstructure:"path" yaml:"path"`
	Driver       string `mapstructure:"driver" yaml:"driver"`
	ChunkSize    int    `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`

	// PruneSchedule is a cron expression; Retention <= 0 keeps everything.
	PruneSchedule string        `mapstructure:"prune_schedule" yaml:"prune_schedule"`
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
}

// StoreConfig converts to memory.Config.
func (c MemoryConfig) StoreConfig() memory.Config {
	return memory.Config{
		Path:         c.Path,
		Driver:       c.Driver,
		ChunkSize:    c.ChunkSize,
		ChunkOverlap: c.ChunkOverlap,
	}
}

// TranscribeConfig controls audio commands. Disabled servers reject audio.
type TranscribeConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	transcribe.Config `mapstructure:",squash" yaml:",inline"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: server.DefaultConfig(),
		LLM: LLMConfig{
			Provider:    "ollama",
			Endpoint:    "http://127.0.0.1:11434",
			Model:       "llama3.2",
			MaxTokens:   2048,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		},
		Agent: AgentConfig{
			MaxSteps:    agent.DefaultMaxSteps,
			RecallLimit: agent.DefaultRecallLimit,
		},
		Shell: ShellConfig{
			Timeout:    tools.DefaultShellTimeout,
			WorkingDir: "~",
		},
		Desktop: DesktopConfig{
			ScreenshotDir: "~/Pictures",
		},
		Vision: VisionConfig{
			LocalModel:    "moondream",
			CloudModel:    "gemini-1.5-flash",
			UnloadModels:  []string{"llama3.2"},
			UnloadSettle:  time.Second,
			CapturePath:   "/tmp/fairy_vision_context.png",
			ThumbnailSize: 640,
		},
		Search: SearchConfig{
			Backend:    SearchDuckDuckGo,
			MaxResults: 3,
			CacheSize:  100,
			CacheTTL:   5 * time.Minute,
		},
		Memory: MemoryConfig{
			Enabled:       true,
			Path:          "~/.fairy/memory.db",
			Driver:        memory.DriverPureGo,
			ChunkSize:     memory.DefaultChunkSize,
			ChunkOverlap:  memory.DefaultChunkOverlap,
			PruneSchedule: memory.DefaultPruneSchedule,
			Retention:     90 * 24 * time.Hour,
		},
		Transcription: TranscribeConfig{
			Enabled: true,
			Config:  transcribe.DefaultConfig(),
		},
		Logging: logging.DefaultConfig(),
	}
}

// DefaultPath returns ~/.fairy/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".fairy", "config.yaml"), nil
}

// Load reads configuration from the default location (~/.fairy/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	// Defaults are read first so keys missing from an older file keep
	// their values; the file then replaces whole lists rather than
	// merging them element by element.
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}

	v := newViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.expandPaths()
	return &cfg, nil
}

// newViper returns a viper instance with environment overrides enabled.
// Example: FAIRY_LLM_PROVIDER=gemini, FAIRY_SERVER_ADDR=:8080.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Well-known key variables work without the prefix.
	v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("vision.cloud_api_key", EnvPrefix+"_VISION_CLOUD_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("search.api_key", EnvPrefix+"_SEARCH_API_KEY", "TAVILY_API_KEY")
	return v
}

func (c *Config) expandPaths() {
	c.Shell.WorkingDir = expandPath(c.Shell.WorkingDir)
	c.Desktop.ScreenshotDir = expandPath(c.Desktop.ScreenshotDir)
	c.Vision.CapturePath = expandPath(c.Vision.CapturePath)
	c.Logging.File = expandPath(c.Logging.File)
	if c.Memory.Path != ":memory:" {
		c.Memory.Path = expandPath(c.Memory.Path)
	}
}

// Save writes the configuration to the default config file location.
func (c *Config) Save() error {
	path, err := DefaultPath()
	if err != nil {
		return err
	}
	return c.SaveToPath(path)
}

// SaveToPath writes the configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// YAML renders the configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	masked.LLM.APIKey = mask(c.LLM.APIKey)
	masked.Vision.CloudAPIKey = mask(c.Vision.CloudAPIKey)
	masked.Search.APIKey = mask(c.Search.APIKey)
	masked.Transcription.APIKey = mask(c.Transcription.APIKey)
	return yaml.Marshal(&masked)
}

// EnsureDirectories creates the directories Fairy writes to.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Memory.Enabled && c.Memory.Path != ":memory:" {
		dirs = append(dirs, filepath.Dir(c.Memory.Path))
	}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}
	if c.Vision.CapturePath != "" {
		dirs = append(dirs, filepath.Dir(c.Vision.CapturePath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	switch c.LLM.Provider {
	case "ollama":
	case "gemini":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for the gemini provider (or set GEMINI_API_KEY)")
		}
	default:
		return fmt.Errorf("invalid llm.provider '%s', must be one of: ollama, gemini", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}

	if c.Agent.MaxSteps < 1 {
		return fmt.Errorf("agent.max_steps must be at least 1")
	}
	if c.Agent.RecallLimit < 0 {
		return fmt.Errorf("agent.recall_limit cannot be negative")
	}

	if c.Shell.Timeout < 0 {
		return fmt.Errorf("shell.timeout cannot be negative")
	}

	switch c.Search.Backend {
	case SearchDuckDuckGo:
	case SearchTavily:
		if c.Search.APIKey == "" {
			return fmt.Errorf("search.api_key is required for the tavily backend (or set TAVILY_API_KEY)")
		}
	default:
		return fmt.Errorf("invalid search.backend '%s', must be one of: duckduckgo, tavily", c.Search.Backend)
	}

	if c.Memory.Enabled {
		if c.Memory.Driver != memory.DriverPureGo && c.Memory.Driver != memory.DriverCGO {
			return fmt.Errorf("invalid memory.driver '%s', must be one of: sqlite, sqlite3", c.Memory.Driver)
		}
		if c.Memory.ChunkSize > 0 && c.Memory.ChunkOverlap >= c.Memory.ChunkSize {
			return fmt.Errorf("memory.chunk_overlap must be smaller than memory.chunk_size")
		}
		if c.Memory.Retention > 0 {
			if _, err := cron.ParseStandard(c.Memory.PruneSchedule); err != nil {
				return fmt.Errorf("invalid memory.prune_schedule: %w", err)
			}
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("invalid logging.format '%s', must be console or json", c.Logging.Format)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
