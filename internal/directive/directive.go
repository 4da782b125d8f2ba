package directive

import (
	"fmt"
	"strings"
)

// Directive is a parsed action request.
type Directive struct {
	// RawType is the type token as written, kept for logging.
	RawType string `json:"raw_type"`

	// CanonicalType is the resolved capability id.
	CanonicalType string `json:"canonical_type"`

	// Args is never nil. An empty list is a valid argument list.
	Args []string `json:"args"`
}

// String renders the directive back in canonical marker form.
func (d Directive) String() string {
	if len(d.Args) == 0 {
		return fmt.Sprintf("[ACTION: %s]", d.CanonicalType)
	}
	return fmt.Sprintf("[ACTION: %s | %s]", d.CanonicalType, strings.Join(d.Args, " | "))
}

// FromMatch resolves and normalizes a raw match.
func FromMatch(m Match) Directive {
	return Directive{
		RawType:       m.RawType,
		CanonicalType: Resolve(m.RawType),
		Args:          Normalize(m.RawArgs, m.HasArgs),
	}
}

// Parse extracts all directives from text in document order and returns them
// together with the directive-free clean text.
func Parse(text string) ([]Directive, string) {
	matches := Extract(text)
	directives := make([]Directive, 0, len(matches))
	for _, m := range matches {
		directives = append(directives, FromMatch(m))
	}
	return directives, Clean(text)
}
