package memory

import (
	"strings"
	"unicode"
)

// Default chunking parameters.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Chunk splits text into pieces of at most size runes. Consecutive pieces
// share overlap runes. A cut prefers the last whitespace in the second
// half of the window so words stay whole.
func Chunk(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	r := []rune(text)
	if len(r) <= size {
		return []string{text}
	}

	var out []string
	start := 0
	for start < len(r) {
		end := start + size
		if end >= len(r) {
			out = appendPiece(out, r[start:])
			break
		}

		cut := end
		for i := end; i > start+size/2; i-- {
			if unicode.IsSpace(r[i-1]) {
				cut = i
				break
			}
		}
		out = appendPiece(out, r[start:cut])

		next := cut - overlap
		if next <= start {
			next = cut
		}
		// Start the overlap on a word boundary when the window has one.
		for j := next; j < cut; j++ {
			if unicode.IsSpace(r[j-1]) {
				next = j
				break
			}
		}
		start = next
	}
	return out
}

func appendPiece(out []string, r []rune) []string {
	if s := strings.TrimSpace(string(r)); s != "" {
		out = append(out, s)
	}
	return out
}
