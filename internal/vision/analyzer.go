package vision

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/fairy/internal/llm"
)

// Analyzer describes an image file. Failures come back as (false, diagnostic).
type Analyzer interface {
	Analyze(ctx context.Context, imagePath, prompt string) (bool, string)
}

// OllamaClient is the part of llm.OllamaProvider the local analyzer needs.
type OllamaClient interface {
	Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	Unload(ctx context.Context, model string) error
}

// LocalAnalyzer runs a small vision model on the local Ollama.
type LocalAnalyzer struct {
	client OllamaClient
	model  string

	// unload lists chat models evicted first to free GPU memory.
	unload []string
	settle time.Duration

	// thumbnailSize bounds the image sent to the model; 0 sends it as is.
	thumbnailSize int
	log           zerolog.Logger
}

// LocalOption configures a LocalAnalyzer.
type LocalOption func(*LocalAnalyzer)

// WithUnload evicts the given models before each analysis and waits
// settle for the memory to be released.
func WithUnload(models []string, settle time.Duration) LocalOption {
	return func(a *LocalAnalyzer) {
		a.unload = models
		a.settle = settle
	}
}

// WithThumbnailSize sets the longest edge of the image sent to the model.
func WithThumbnailSize(px int) LocalOption {
	return func(a *LocalAnalyzer) { a.thumbnailSize = px }
}

// NewLocalAnalyzer creates a local analyzer. An empty model means moondream.
func NewLocalAnalyzer(client OllamaClient, model string, opts ...LocalOption) *LocalAnalyzer {
	if model == "" {
		model = "moondream"
	}
	a := &LocalAnalyzer{
		client:        client,
		model:         model,
		thumbnailSize: 640,
		log:           log.With().Str("component", "vision").Str("backend", "local").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze implements Analyzer.
func (a *LocalAnalyzer) Analyze(ctx context.Context, imagePath, prompt string) (bool, string) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return false, "Error: Image not found"
	}

	if a.thumbnailSize > 0 {
		if small, err := thumbnail(data, a.thumbnailSize, 80); err != nil {
			a.log.Warn().Err(err).Msg("resize failed, sending original")
		} else {
			data = small
		}
	}

	a.freeMemory(ctx)

	unload := time.Duration(0)
	resp, err := a.client.Chat(ctx, &llm.ChatRequest{
		Model:     a.model,
		Messages:  []llm.Message{{Role: "user", Content: prompt, Images: [][]byte{data}}},
		KeepAlive: &unload,
	})
	if err != nil {
		a.log.Error().Err(err).Str("model", a.model).Msg("analysis failed")
		return false, fmt.Sprintf("Local Vision Error: %v", err)
	}
	return true, strings.TrimSpace(resp.Content)
}

// freeMemory unloads the chat models. Errors are ignored: a model that is
// not loaded cannot be unloaded.
func (a *LocalAnalyzer) freeMemory(ctx context.Context) {
	if len(a.unload) == 0 {
		return
	}
	for _, m := range a.unload {
		if err := a.client.Unload(ctx, m); err != nil {
			a.log.Debug().Err(err).Str("model", m).Msg("unload skipped")
		}
	}
	if a.settle > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(a.settle):
		}
	}
}

// Describer is the part of llm.GeminiProvider the cloud analyzer needs.
type Describer interface {
	Describe(ctx context.Context, model, prompt string, image []byte, mimeType string) (string, error)
}

// noCredentials is reported when no cloud client could be built.
const noCredentials = "Error: GEMINI_API_KEY not set in environment."

// CloudAnalyzer sends the full-size capture to Gemini.
type CloudAnalyzer struct {
	client Describer
	model  string
	log    zerolog.Logger
}

// NewCloudAnalyzer creates a cloud analyzer. A nil client makes every call
// fail with a missing-credentials diagnostic.
func NewCloudAnalyzer(client Describer, model string) *CloudAnalyzer {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &CloudAnalyzer{
		client: client,
		model:  model,
		log:    log.With().Str("component", "vision").Str("backend", "cloud").Logger(),
	}
}

// Analyze implements Analyzer.
func (a *CloudAnalyzer) Analyze(ctx context.Context, imagePath, prompt string) (bool, string) {
	if a.client == nil {
		return false, noCredentials
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return false, "Error: Image not found"
	}

	desc, err := a.client.Describe(ctx, a.model, prompt, data, http.DetectContentType(data))
	if err != nil {
		a.log.Error().Err(err).Str("model", a.model).Msg("analysis failed")
		return false, fmt.Sprintf("Cloud Vision Error: %v", err)
	}
	a.log.Info().Int("chars", len(desc)).Msg("cloud analysis complete")
	return true, desc
}
