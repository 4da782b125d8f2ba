// Package transcribe turns recorded speech from the mobile client into text
// using an OpenAI-compatible Whisper endpoint.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrEmptyAudio is returned when there is nothing to transcribe.
var ErrEmptyAudio = errors.New("empty audio")

// Transcriber converts audio to text. Silence yields an empty string.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Config holds Whisper client settings.
type Config struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"` // base URL, e.g. http://127.0.0.1:8000
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	Model    string        `mapstructure:"model" yaml:"model"`
	Language string        `mapstructure:"language" yaml:"language"` // empty = auto-detect
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DefaultConfig returns settings for a local faster-whisper server.
func DefaultConfig() Config {
	return Config{
		Endpoint: "http://127.0.0.1:8000",
		Model:    "base",
		Timeout:  30 * time.Second,
	}
}

// WhisperClient posts audio to {Endpoint}/v1/audio/transcriptions.
type WhisperClient struct {
	config Config
	client *http.Client
	log    zerolog.Logger
}

// NewWhisperClient creates a client. Zero fields fall back to DefaultConfig.
func NewWhisperClient(cfg Config) *WhisperClient {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	return &WhisperClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("component", "transcribe").Logger(),
	}
}

// Transcribe uploads audio as a multipart form and returns the trimmed text.
func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	start := time.Now()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio"+extension(audio))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := writer.WriteField("model", c.config.Model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if c.config.Language != "" {
		if err := writer.WriteField("language", c.config.Language); err != nil {
			return "", fmt.Errorf("write language field: %w", err)
		}
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("write response_format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	c.log.Debug().Int("audio_bytes", len(audio)).Msg("sending audio")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	c.log.Info().Str("text", text).Dur("elapsed", time.Since(start)).Msg("transcribed")
	return text, nil
}

// extension guesses a file suffix from the audio magic bytes so the server
// picks the right decoder.
func extension(audio []byte) string {
	switch {
	case bytes.HasPrefix(audio, []byte("RIFF")):
		return ".wav"
	case bytes.HasPrefix(audio, []byte("OggS")):
		return ".ogg"
	case bytes.HasPrefix(audio, []byte("fLaC")):
		return ".flac"
	case bytes.HasPrefix(audio, []byte("ID3")), len(audio) > 1 && audio[0] == 0xFF && audio[1]&0xE0 == 0xE0:
		return ".mp3"
	case len(audio) > 8 && string(audio[4:8]) == "ftyp":
		return ".m4a"
	case bytes.HasPrefix(audio, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return ".webm"
	}
	return ".wav"
}
