package desktop

import (
	"context"
	"regexp"
	"strings"

	"github.com/normanking/fairy/internal/capability"
)

// keyNames maps friendly key names to X keysyms.
var keyNames = map[string]string{
	"enter":     "Return",
	"return":    "Return",
	"esc":       "Escape",
	"escape":    "Escape",
	"tab":       "Tab",
	"space":     "space",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"del":       "Delete",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"home":      "Home",
	"end":       "End",
	"pageup":    "Prior",
	"pagedown":  "Next",
	"win":       "super",
	"windows":   "super",
	"cmd":       "super",
	"control":   "ctrl",
}

var modifiers = map[string]bool{"ctrl": true, "alt": true, "shift": true, "super": true}

var functionKey = regexp.MustCompile(`^[fF]([1-9]|1[0-2])$`)

// TypeText types text into the focused window.
func (d *Desktop) TypeText(ctx context.Context, text string) capability.Result {
	if text == "" {
		return capability.Fail("No text to type")
	}
	if _, err := d.run(ctx, "xdotool", "type", "--delay", "20", "--", text); err != nil {
		if isNotFound(err) {
			return capability.Fail("Required tool not found: xdotool")
		}
		return capability.Failf("Error typing text: %v", err)
	}

	return capability.OKf("Typed: %s", preview(text, 30))
}

// PressKey presses a key or a '+' joined combination such as ctrl+c.
func (d *Desktop) PressKey(ctx context.Context, key string) capability.Result {
	key = strings.TrimSpace(key)
	if key == "" {
		return capability.Fail("No key given")
	}

	if _, err := d.run(ctx, "xdotool", "key", "--clearmodifiers", keysym(key)); err != nil {
		if isNotFound(err) {
			return capability.Fail("Required tool not found: xdotool")
		}
		return capability.Failf("Error pressing key %s: %v", key, err)
	}
	return capability.OKf("Pressed key: %s", key)
}

// keysym converts "Ctrl + Enter" style input into xdotool syntax.
func keysym(combo string) string {
	parts := strings.Split(combo, "+")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		lower := strings.ToLower(p)
		switch {
		case keyNames[lower] != "":
			out = append(out, keyNames[lower])
		case modifiers[lower]:
			out = append(out, lower)
		case functionKey.MatchString(p):
			out = append(out, strings.ToUpper(p))
		default:
			out = append(out, p)
		}
	}
	return strings.Join(out, "+")
}

// preview shortens text to n runes.
func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
