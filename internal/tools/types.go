// Package tools implements the capability backends that do not need a desktop
// session: the guarded shell and web search.
package tools

import (
	"os"
	"strings"
	"time"
)

// DefaultBannedKeywords is the shell denylist. Matching is a case-insensitive
// substring test, so "rm" also blocks "format" and "alarm". That over-blocking
// is accepted; the guard is a heuristic against accidents, not a sandbox.
var DefaultBannedKeywords = []string{
	// privilege escalation and destructive filesystem verbs
	"sudo", "rm", "chmod", "chown",
	// network fetchers
	"wget", "curl",
	// redirection, chaining and pipes
	">", ">>", "|", "&&", "||", ";",
	// disks and mounts
	"dd", "mkfs", "fdisk", "mount", "umount",
	// power and services
	"shutdown", "reboot", "init", "systemctl",
	// accounts
	"passwd", "useradd", "userdel",
	// package managers
	"apt", "apt-get", "dpkg", "yum", "pacman",
	// dynamic execution and substitution
	"eval", "exec", "source", ".", "$(", "`",
}

// DefaultShellTimeout is the wall-clock limit for one shell command.
const DefaultShellTimeout = 10 * time.Second

// ShellPolicy controls what the shell capability may run and where.
type ShellPolicy struct {
	// BannedKeywords are screened in order; the first hit is reported.
	BannedKeywords []string

	// Timeout bounds each command.
	Timeout time.Duration

	// WorkingDir is where commands run. Empty means the user's home directory.
	WorkingDir string
}

// DefaultShellPolicy returns the standard denylist, a 10s timeout and the
// home directory as working directory.
func DefaultShellPolicy() ShellPolicy {
	kw := make([]string, len(DefaultBannedKeywords))
	copy(kw, DefaultBannedKeywords)
	return ShellPolicy{
		BannedKeywords: kw,
		Timeout:        DefaultShellTimeout,
		WorkingDir:     homeDir(),
	}
}

// WithExtraKeywords returns a copy of p with additional banned keywords.
func (p ShellPolicy) WithExtraKeywords(extra ...string) ShellPolicy {
	kw := make([]string, 0, len(p.BannedKeywords)+len(extra))
	kw = append(kw, p.BannedKeywords...)
	for _, k := range extra {
		if k = strings.TrimSpace(k); k != "" {
			kw = append(kw, k)
		}
	}
	p.BannedKeywords = kw
	return p
}

// Screen returns the first banned keyword contained in command.
func (p ShellPolicy) Screen(command string) (string, bool) {
	lower := strings.ToLower(command)
	for _, kw := range p.BannedKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}
