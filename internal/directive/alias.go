package directive

import (
	"sort"
	"strings"
)

// Canonical capability identifiers understood by the dispatcher.
const (
	OpenLinux       = "OPEN_LINUX"
	TypeLinux       = "TYPE_LINUX"
	SystemLinux     = "SYSTEM_LINUX"
	KeyLinux        = "KEY_LINUX"
	ScreenshotLinux = "SCREENSHOT_LINUX"
	SeeScreen       = "SEE_SCREEN"
	SearchWeb       = "SEARCH_WEB"
	RunTerminal     = "RUN_TERMINAL"
	SMS             = "SMS"
	Call            = "CALL"
	OpenApp         = "OPEN_APP"
	WhatsApp        = "WHATSAPP"
)

// aliases maps surface tokens models tend to produce onto canonical ids.
// Canonical ids are deliberately absent: they resolve to themselves.
var aliases = map[string]string{
	"TYPE":  TypeLinux,
	"WRITE": TypeLinux,

	"OPEN":   OpenLinux,
	"LAUNCH": OpenLinux,
	"START":  OpenLinux,

	"SYSTEM":  SystemLinux,
	"CONTROL": SystemLinux,

	"PRESS": KeyLinux,
	"KEY":   KeyLinux,

	"SCREENSHOT": ScreenshotLinux,
	"SNAP":       ScreenshotLinux,

	"VISION": SeeScreen,
	"LOOK":   SeeScreen,
	"SEE":    SeeScreen,

	"SEARCH": SearchWeb,
	"GOOGLE": SearchWeb,
	"WEB":    SearchWeb,

	"SHELL":    RunTerminal,
	"TERMINAL": RunTerminal,
	"RUN":      RunTerminal,

	"TEXT":    SMS,
	"MESSAGE": SMS,
	"DIAL":    Call,
	"PHONE":   Call,
	"APP":     OpenApp,
	"WA":      WhatsApp,
}

// Resolve maps a type token to its canonical capability id.
// Tokens without an alias come back uppercased and otherwise unchanged;
// whether the id is actually supported is the dispatcher's concern.
func Resolve(rawType string) string {
	key := strings.ToUpper(strings.TrimSpace(rawType))
	if canonical, ok := aliases[key]; ok {
		return canonical
	}
	return key
}

// Aliases returns a copy of the alias table.
func Aliases() map[string]string {
	out := make(map[string]string, len(aliases))
	for k, v := range aliases {
		out[k] = v
	}
	return out
}

// AliasesFor returns the surface tokens that resolve to canonical, sorted.
func AliasesFor(canonical string) []string {
	var out []string
	for k, v := range aliases {
		if v == canonical {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
