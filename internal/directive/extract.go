// Package directive parses the action markers a language model embeds in its
// free-form replies.
//
// A directive looks like:
//
//	[ACTION: OPEN | "firefox"]
//	[ACTION: TYPE: Hello World]
//	[ACTION: SNAP]
//
// The marker keyword is matched case-insensitively, the type token is made of
// letters and underscores, and the optional payload is introduced by either
// '|' or ':' and runs until the closing bracket. Anything that does not fit
// this shape is left in the text untouched.
package directive

import (
	"regexp"
	"strings"
)

// actionPattern matches one directive occurrence.
// Group 1 is the type token, group 2 the optional argument payload.
var actionPattern = regexp.MustCompile(`(?i)\[ACTION:\s*([A-Za-z_]+)(?:\s*[|:]\s*([^\]]*))?\]`)

// Match is one raw directive occurrence found in a block of text.
type Match struct {
	// Raw is the full matched span, including brackets.
	Raw string

	// RawType is the type token exactly as the model wrote it.
	RawType string

	// RawArgs is the payload after the separator. Only meaningful when HasArgs is set.
	RawArgs string
	HasArgs bool

	// Start and End are byte offsets of Raw within the scanned text.
	Start int
	End   int
}

// Extract returns every directive occurrence in document order.
func Extract(text string) []Match {
	locs := actionPattern.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(locs))
	for _, loc := range locs {
		m := Match{
			Raw:     text[loc[0]:loc[1]],
			RawType: text[loc[2]:loc[3]],
			Start:   loc[0],
			End:     loc[1],
		}
		if loc[4] >= 0 {
			m.RawArgs = text[loc[4]:loc[5]]
			m.HasArgs = true
		}
		matches = append(matches, m)
	}
	return matches
}

// Clean removes every directive span from text and trims the result.
func Clean(text string) string {
	return strings.TrimSpace(actionPattern.ReplaceAllString(text, ""))
}

// Contains reports whether text holds at least one directive.
func Contains(text string) bool {
	return actionPattern.MatchString(text)
}
