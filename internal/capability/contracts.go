package capability

import (
	"sort"

	"github.com/normanking/fairy/internal/directive"
)

// Contract documents the argument shape of a canonical capability.
type Contract struct {
	MinArgs     int
	Description string
	Usage       string
}

// Contracts lists every capability the assistant exposes to the model.
var Contracts = map[string]Contract{
	directive.OpenLinux: {
		MinArgs:     1,
		Description: "Launch a desktop application",
		Usage:       "[ACTION: OPEN_LINUX | firefox]",
	},
	directive.TypeLinux: {
		MinArgs:     1,
		Description: "Type text into the focused window",
		Usage:       "[ACTION: TYPE_LINUX | Hello World]",
	},
	directive.SystemLinux: {
		MinArgs:     1,
		Description: "System control: lock, mute, unmute, volume_up, volume_down",
		Usage:       "[ACTION: SYSTEM_LINUX | volume_up]",
	},
	directive.KeyLinux: {
		MinArgs:     1,
		Description: "Press a key or key combination",
		Usage:       "[ACTION: KEY_LINUX | ctrl+s]",
	},
	directive.ScreenshotLinux: {
		MinArgs:     0,
		Description: "Take a screenshot of the desktop",
		Usage:       "[ACTION: SCREENSHOT_LINUX]",
	},
	directive.SeeScreen: {
		MinArgs:     0,
		Description: "Look at the screen and describe it; add 'detailed' for the cloud model",
		Usage:       "[ACTION: SEE_SCREEN | read the error dialog]",
	},
	directive.SearchWeb: {
		MinArgs:     1,
		Description: "Search the web",
		Usage:       "[ACTION: SEARCH_WEB | weather in Paris]",
	},
	directive.RunTerminal: {
		MinArgs:     1,
		Description: "Run a safe, read-only shell command",
		Usage:       "[ACTION: RUN_TERMINAL | ls -la]",
	},
	directive.SMS: {
		MinArgs:     2,
		Description: "Send an SMS from the paired phone",
		Usage:       "[ACTION: SMS | 5551234 | Running late]",
	},
	directive.Call: {
		MinArgs:     1,
		Description: "Place a phone call from the paired phone",
		Usage:       "[ACTION: CALL | 5551234]",
	},
	directive.OpenApp: {
		MinArgs:     1,
		Description: "Open an app on the paired phone",
		Usage:       "[ACTION: OPEN_APP | spotify]",
	},
	directive.WhatsApp: {
		MinArgs:     2,
		Description: "Send a WhatsApp message from the paired phone",
		Usage:       "[ACTION: WHATSAPP | 5551234 | On my way]",
	},
}

// Bind builds a binding for id using its documented contract.
// Ids without a contract get MinArgs 0 and no description.
func Bind(id string, h Handler) Binding {
	c := Contracts[id]
	return Binding{
		ID:          id,
		MinArgs:     c.MinArgs,
		Description: c.Description,
		Usage:       c.Usage,
		Invoke:      h,
	}
}

// ContractIDs returns the documented ids, sorted.
func ContractIDs() []string {
	ids := make([]string, 0, len(Contracts))
	for id := range Contracts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
