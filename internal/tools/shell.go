package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/fairy/internal/capability"
)

// ShellTool runs screened commands through the system shell.
type ShellTool struct {
	mu     sync.RWMutex
	policy ShellPolicy

	shell         string
	env           []string
	maxOutputSize int
	log           zerolog.Logger
}

// ShellOption configures the ShellTool.
type ShellOption func(*ShellTool)

// WithShell sets the shell executable.
func WithShell(shell string) ShellOption {
	return func(s *ShellTool) {
		s.shell = shell
	}
}

// WithEnvironment adds environment variables.
func WithEnvironment(env []string) ShellOption {
	return func(s *ShellTool) {
		s.env = append(s.env, env...)
	}
}

// WithMaxOutputSize caps captured output per stream.
func WithMaxOutputSize(size int) ShellOption {
	return func(s *ShellTool) {
		s.maxOutputSize = size
	}
}

// WithPolicy replaces the default shell policy.
func WithPolicy(p ShellPolicy) ShellOption {
	return func(s *ShellTool) {
		s.policy = p
	}
}

// NewShellTool creates a shell tool with the default policy.
func NewShellTool(opts ...ShellOption) *ShellTool {
	s := &ShellTool{
		policy:        DefaultShellPolicy(),
		shell:         findShell(),
		maxOutputSize: 64 * 1024,
		log:           log.With().Str("component", "shell").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.Timeout <= 0 {
		s.policy.Timeout = DefaultShellTimeout
	}
	if s.policy.WorkingDir == "" {
		s.policy.WorkingDir = homeDir()
	}
	return s
}

// findShell locates a POSIX shell.
func findShell() string {
	for _, shell := range []string{"/bin/sh", "/usr/bin/sh", "/bin/bash"} {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "sh"
}

// Policy returns the active policy.
func (s *ShellTool) Policy() ShellPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// SetPolicy swaps the policy; used by config hot reload.
func (s *ShellTool) SetPolicy(p ShellPolicy) {
	if p.Timeout <= 0 {
		p.Timeout = DefaultShellTimeout
	}
	if p.WorkingDir == "" {
		p.WorkingDir = homeDir()
	}
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

// Guard screens command against the denylist. A blocked command yields a
// failed result and must not be executed.
func (s *ShellTool) Guard(command string) (capability.Result, bool) {
	if kw, blocked := s.Policy().Screen(command); blocked {
		return capability.Failf("Security Block: contains banned keyword '%s'", kw), true
	}
	return capability.Result{}, false
}

// Handler adapts the tool to a capability handler. Arguments were split on
// '|' by the directive parser, so they are rejoined with a pipe and screened
// as one command.
func (s *ShellTool) Handler() capability.Handler {
	return func(ctx context.Context, args []string) capability.Result {
		return s.Run(ctx, strings.Join(args, " | "))
	}
}

// Run screens and executes command.
func (s *ShellTool) Run(ctx context.Context, command string) capability.Result {
	command = strings.TrimSpace(command)
	if command == "" {
		return capability.Fail("No command provided")
	}

	if res, blocked := s.Guard(command); blocked {
		s.log.Warn().Str("command", command).Msg(res.Message)
		return res
	}

	policy := s.Policy()
	ctx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, s.shell, "-c", command)
	cmd.Dir = policy.WorkingDir
	cmd.Env = append(os.Environ(), s.env...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		s.log.Warn().Str("command", command).Dur("timeout", policy.Timeout).Msg("command timed out")
		return capability.Failf("Command timed out after %s", policy.Timeout)
	}

	out := s.clip(strings.TrimSpace(stdout.String()))
	errOut := s.clip(strings.TrimSpace(stderr.String()))

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return capability.Failf("Command could not be started: %v", err)
		}
		s.log.Info().Str("command", command).Int("exit_code", exitErr.ExitCode()).Dur("elapsed", elapsed).Msg("command failed")
		return capability.Fail(formatFailure(exitErr.ExitCode(), errOut, out))
	}

	s.log.Info().Str("command", command).Dur("elapsed", elapsed).Msg("command executed")
	return capability.OK(formatSuccess(out, errOut))
}

func formatSuccess(stdout, stderr string) string {
	var sb strings.Builder
	if stdout != "" {
		sb.WriteString("Output:\n")
		sb.WriteString(stdout)
	} else {
		sb.WriteString("Command executed successfully (no output)")
	}
	if stderr != "" {
		sb.WriteString("\nWarnings: ")
		sb.WriteString(stderr)
	}
	return sb.String()
}

func formatFailure(code int, stderr, stdout string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Command failed (exit code %d)", code)
	if stderr != "" {
		sb.WriteString("\nError: ")
		sb.WriteString(stderr)
	}
	if stdout != "" {
		sb.WriteString("\nOutput: ")
		sb.WriteString(stdout)
	}
	return sb.String()
}

func (s *ShellTool) clip(text string) string {
	if s.maxOutputSize <= 0 || len(text) <= s.maxOutputSize {
		return text
	}
	cut := s.maxOutputSize
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n... [output truncated]"
}
