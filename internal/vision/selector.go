// Package vision answers SEE_SCREEN: it captures the screen, picks a prompt
// and a backend from the caller's hint, and returns the model's description.
//
// Two independent keyword classifications run over the same hint:
//
//	SelectBackend("detailed look at the page") == ModeCloud
//	SelectPrompt("read the error dialog")      == ErrorPrompt
package vision

import "strings"

// Mode names an analysis backend.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeCloud Mode = "cloud"
)

// CloudKeywords route a hint to the cloud backend.
var CloudKeywords = []string{"cloud", "api", "online", "heavy", "detailed"}

// Prompt variants.
const (
	ErrorPrompt   = "Describe any error messages, warnings, or problems visible on this screen. Focus on text that indicates errors."
	TextPrompt    = "Read and transcribe all visible text on this screen. Be accurate and complete."
	WindowPrompt  = "Describe what application or window is currently active. Include the window title and main content."
	GenericPrompt = "Describe this screen content in detail for an automation agent. Include visible windows, text, buttons, and important UI elements."
)

// promptRules are checked in order; the first rule with a matching keyword wins.
var promptRules = []struct {
	keywords []string
	prompt   string
}{
	{[]string{"error", "problem", "issue"}, ErrorPrompt},
	{[]string{"text", "read", "content"}, TextPrompt},
	{[]string{"window", "app", "application"}, WindowPrompt},
}

// SelectBackend picks the cloud backend when the hint asks for it and the
// local one otherwise.
func SelectBackend(hint string) Mode {
	if containsAny(strings.ToLower(hint), CloudKeywords) {
		return ModeCloud
	}
	return ModeLocal
}

// SelectPrompt picks the task-specific prompt for a hint.
func SelectPrompt(hint string) string {
	h := strings.ToLower(hint)
	for _, rule := range promptRules {
		if containsAny(h, rule.keywords) {
			return rule.prompt
		}
	}
	return GenericPrompt
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
