package vision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/fairy/internal/capability"
	"github.com/normanking/fairy/internal/directive"
	"github.com/normanking/fairy/internal/tools/desktop"
)

// DefaultCapturePath is where the screen is captured before analysis.
const DefaultCapturePath = "/tmp/fairy_vision_context.png"

// Capturer writes a screenshot to path.
type Capturer interface {
	Capture(ctx context.Context, path string) error
}

// ScrotCapturer captures the screen with scrot.
type ScrotCapturer struct {
	Runner desktop.Runner
}

// Capture implements Capturer.
func (c ScrotCapturer) Capture(ctx context.Context, path string) error {
	runner := c.Runner
	if runner == nil {
		runner = desktop.ExecRunner{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := runner.Run(ctx, "scrot", "--overwrite", path)
	return err
}

// Service implements the SEE_SCREEN capability.
type Service struct {
	capturer Capturer
	local    Analyzer
	cloud    Analyzer
	path     string
	log      zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCapturer replaces the screen capturer.
func WithCapturer(c Capturer) Option {
	return func(s *Service) { s.capturer = c }
}

// WithCapturePath sets where captures are written.
func WithCapturePath(path string) Option {
	return func(s *Service) { s.path = path }
}

// NewService creates the vision service. A nil cloud analyzer reports
// missing credentials when the cloud backend is selected.
func NewService(local, cloud Analyzer, opts ...Option) *Service {
	if cloud == nil {
		cloud = NewCloudAnalyzer(nil, "")
	}
	s := &Service{
		capturer: ScrotCapturer{},
		local:    local,
		cloud:    cloud,
		path:     DefaultCapturePath,
		log:      log.With().Str("component", "vision").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// See captures the screen and describes it according to hint.
func (s *Service) See(ctx context.Context, hint string) capability.Result {
	if strings.TrimSpace(hint) == "" {
		hint = "screen"
	}
	s.log.Info().Str("hint", hint).Msg("looking at screen")

	if err := s.capturer.Capture(ctx, s.path); err != nil {
		return capability.Failf("Screenshot Error: %v", err)
	}

	prompt := SelectPrompt(hint)
	mode := SelectBackend(hint)

	analyzer := s.local
	if mode == ModeCloud {
		analyzer = s.cloud
	}
	if analyzer == nil {
		return capability.Failf("Vision backend %s is not configured", mode)
	}

	s.log.Debug().Str("mode", string(mode)).Msg("analyzing capture")
	ok, desc := analyzer.Analyze(ctx, s.path, prompt)
	if !ok {
		return capability.Fail(desc)
	}
	return capability.OK(fmt.Sprintf("[Screen Analysis]\n%s", desc))
}

// Binding returns the SEE_SCREEN capability. Split arguments are joined
// back into one hint.
func (s *Service) Binding() capability.Binding {
	return capability.Bind(directive.SeeScreen, func(ctx context.Context, args []string) capability.Result {
		return s.See(ctx, strings.Join(args, " "))
	})
}
