package agent

import (
	"fmt"
	"strings"

	"github.com/normanking/fairy/internal/capability"
)

// DefaultSystemPrompt is used when no capability list is available.
const DefaultSystemPrompt = `You are Fairy, a friendly voice assistant that controls the user's Linux desktop and paired Android phone.
Keep spoken replies short and natural.
To act, write an ACTION tag such as [ACTION: OPEN_LINUX | firefox]. Separate multiple arguments with '|'.
After your actions run you will receive a SYSTEM OBSERVATION with their results; use it to continue.
When the task is done, answer the user without any ACTION tags.`

// SystemPrompt builds the system prompt advertising the given capabilities.
func SystemPrompt(bindings []capability.Binding) string {
	if len(bindings) == 0 {
		return DefaultSystemPrompt
	}

	var sb strings.Builder
	sb.WriteString(DefaultSystemPrompt)
	sb.WriteString("\n\nAvailable actions:\n")
	for _, b := range bindings {
		usage := b.Usage
		if usage == "" {
			usage = fmt.Sprintf("[ACTION: %s]", b.ID)
		}
		desc := b.Description
		if desc == "" {
			desc = strings.ToLower(strings.ReplaceAll(b.ID, "_", " "))
		}
		fmt.Fprintf(&sb, "- %s: %s (at least %d argument(s))\n", usage, desc, b.MinArgs)
	}
	sb.WriteString("\nOnly use the actions listed above. Never invent new action names.")
	return sb.String()
}
