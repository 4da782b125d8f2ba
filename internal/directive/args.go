package directive

import "strings"

// ArgSeparator splits multiple arguments inside one directive payload.
const ArgSeparator = "|"

// Normalize turns a raw payload into an ordered argument list.
//
// An absent or blank payload yields an empty, non-nil slice. Each piece is
// trimmed and loses at most one layer of matching single or double quotes,
// so `""quoted""` keeps its inner quotes.
func Normalize(raw string, present bool) []string {
	if !present || strings.TrimSpace(raw) == "" {
		return []string{}
	}

	parts := strings.Split(raw, ArgSeparator)
	args := make([]string, 0, len(parts))
	for _, p := range parts {
		args = append(args, unquote(strings.TrimSpace(p)))
	}
	return args
}

func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if first == last && (first == '"' || first == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
