package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/fairy/internal/agent"
	"github.com/normanking/fairy/internal/capability"
	"github.com/normanking/fairy/internal/config"
	"github.com/normanking/fairy/internal/directive"
	"github.com/normanking/fairy/internal/llm"
	"github.com/normanking/fairy/internal/memory"
	"github.com/normanking/fairy/internal/tools"
	"github.com/normanking/fairy/internal/tools/android"
	"github.com/normanking/fairy/internal/tools/desktop"
	"github.com/normanking/fairy/internal/vision"
)

// capabilities is the assembled capability table together with the parts
// that are reconfigured while serving.
type capabilities struct {
	registry *capability.Registry
	shell    *tools.ShellTool
}

// buildCapabilities binds every capability backend. emitter may be nil, in
// which case phone actions report that no bridge is available.
func buildCapabilities(ctx context.Context, cfg *config.Config, emitter android.Emitter, opts ...capability.Option) (*capabilities, error) {
	shell := tools.NewShellTool(tools.WithPolicy(cfg.Shell.Policy()))

	var backend tools.Searcher
	switch cfg.Search.Backend {
	case config.SearchTavily:
		backend = tools.NewTavily(cfg.Search.APIKey, cfg.Search.Endpoint)
	default:
		backend = tools.NewDuckDuckGo(cfg.Search.Endpoint)
	}
	search := tools.NewWebSearchTool(backend,
		tools.WithMaxResultsPerQuery(cfg.Search.MaxResults),
		tools.WithCache(cfg.Search.CacheSize, cfg.Search.CacheTTL),
	)

	var bindings []capability.Binding
	bindings = append(bindings, desktop.Bindings(desktop.New(desktop.WithScreenshotDir(cfg.Desktop.ScreenshotDir)))...)
	bindings = append(bindings, android.Bindings(android.NewBridge(emitter))...)
	bindings = append(bindings,
		capability.Bind(directive.RunTerminal, shell.Handler()),
		capability.Bind(directive.SearchWeb, search.Handler()),
		newVisionService(ctx, cfg).Binding(),
	)

	registry, err := capability.NewRegistry(bindings, opts...)
	if err != nil {
		return nil, fmt.Errorf("build capability registry: %w", err)
	}
	return &capabilities{registry: registry, shell: shell}, nil
}

// newVisionService builds SEE_SCREEN. The local model runs on the Ollama
// endpoint of the chat model; the cloud model needs a Gemini key.
func newVisionService(ctx context.Context, cfg *config.Config) *vision.Service {
	endpoint := ""
	if cfg.LLM.Provider == "ollama" {
		endpoint = cfg.LLM.Endpoint
	}
	ollama := llm.NewOllamaProvider(&llm.ProviderConfig{Endpoint: endpoint, Timeout: cfg.LLM.Timeout})
	local := vision.NewLocalAnalyzer(ollama, cfg.Vision.LocalModel,
		vision.WithUnload(cfg.Vision.UnloadModels, cfg.Vision.UnloadSettle),
		vision.WithThumbnailSize(cfg.Vision.ThumbnailSize),
	)

	var describer vision.Describer
	if cfg.Vision.CloudAPIKey != "" {
		gemini, err := llm.NewGeminiProvider(ctx, &llm.ProviderConfig{APIKey: cfg.Vision.CloudAPIKey, Model: cfg.Vision.CloudModel})
		if err != nil {
			log.Warn().Err(err).Msg("cloud vision disabled")
		} else {
			describer = gemini
		}
	}
	cloud := vision.NewCloudAnalyzer(describer, cfg.Vision.CloudModel)

	var opts []vision.Option
	if cfg.Vision.CapturePath != "" {
		opts = append(opts, vision.WithCapturePath(cfg.Vision.CapturePath))
	}
	return vision.NewService(local, cloud, opts...)
}

// newModel connects the configured chat model.
func newModel(ctx context.Context, cfg *config.Config) (*llm.AgentLLMAdapter, error) {
	provider, err := llm.New(ctx, cfg.LLM.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", cfg.LLM.Provider, err)
	}
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if !provider.Available(checkCtx) {
		log.Warn().Str("provider", provider.Name()).Str("endpoint", cfg.LLM.Endpoint).Msg("model backend not reachable yet")
	}
	return llm.NewAgentAdapter(provider, ""), nil
}

// openMemory opens the memory store, or returns nil when memory is off.
func openMemory(ctx context.Context, cfg *config.Config) (*memory.Store, error) {
	if !cfg.Memory.Enabled {
		return nil, nil
	}
	store, err := memory.Open(ctx, cfg.Memory.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}
	return store, nil
}

// loopOptions returns the loop settings; mem may be nil.
func loopOptions(cfg *config.Config, mem agent.Memory) []agent.Option {
	opts := []agent.Option{agent.WithConfig(cfg.Agent.LoopConfig())}
	if mem != nil {
		opts = append(opts, agent.WithMemory(mem))
	}
	return opts
}
