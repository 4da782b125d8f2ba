// Package desktop provides X11 desktop automation for Fairy: launching apps,
// typing, key presses, audio and lock control, and screenshots.
//
// The tools shell out to xdotool, scrot, amixer and the screensaver commands.
// They need an X11 session; Wayland is not supported.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// defaultTimeout bounds every helper process.
const defaultTimeout = 15 * time.Second

// Runner executes helper programs. Tests substitute a fake.
type Runner interface {
	// Run waits for the program and returns its combined output.
	Run(ctx context.Context, name string, args ...string) (string, error)

	// Start launches the program detached and returns immediately.
	Start(name string, args ...string) error
}

// ExecRunner runs real processes.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = x11Env()
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		if output != "" {
			return output, fmt.Errorf("%s: %w: %s", name, err, output)
		}
		return output, fmt.Errorf("%s: %w", name, err)
	}
	return output, nil
}

// Start implements Runner. The child is reaped in the background once it
// exits.
func (ExecRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Env = x11Env()
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Debug().Err(err).Str("app", name).Int("pid", cmd.Process.Pid).Msg("launched app exited")
		}
	}()
	return nil
}

// x11Env makes sure child processes can reach the display.
func x11Env() []string {
	env := os.Environ()
	if os.Getenv("DISPLAY") == "" {
		env = append(env, "DISPLAY=:0")
	}
	return env
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}

// blockedApps are never launched through automation.
var blockedApps = map[string]bool{
	"sudo":    true,
	"su":      true,
	"pkexec":  true,
	"gksudo":  true,
	"passwd":  true,
	"gparted": true,
}

func isBlockedApp(name string) bool {
	return blockedApps[strings.ToLower(name)]
}

// appAliases maps spoken application names to executables.
var appAliases = map[string]string{
	"browser":        "firefox",
	"chrome":         "google-chrome",
	"google chrome":  "google-chrome",
	"vscode":         "code",
	"vs code":        "code",
	"visual studio":  "code",
	"files":          "nautilus",
	"file manager":   "nautilus",
	"terminal":       "gnome-terminal",
	"calculator":     "gnome-calculator",
	"text editor":    "gedit",
	"settings":       "gnome-control-center",
	"system monitor": "gnome-system-monitor",
}

// resolveApp maps a spoken app name to an executable name.
func resolveApp(name string) string {
	if exe, ok := appAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return exe
	}
	return strings.TrimSpace(name)
}

// Desktop bundles the automation tools around one Runner.
type Desktop struct {
	runner        Runner
	screenshotDir string
	log           zerolog.Logger
}

// Option configures a Desktop.
type Option func(*Desktop)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(d *Desktop) { d.runner = r }
}

// WithScreenshotDir sets where screenshots are written.
func WithScreenshotDir(dir string) Option {
	return func(d *Desktop) { d.screenshotDir = dir }
}

// New creates a Desktop using real processes.
func New(opts ...Option) *Desktop {
	d := &Desktop{
		runner:        ExecRunner{},
		screenshotDir: "context",
		log:           log.With().Str("component", "desktop").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Desktop) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.runner.Run(ctx, name, args...)
}
