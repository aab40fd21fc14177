// Package segment splits long text into size-bounded chunks for platforms
// with a hard per-message limit.
package segment

import (
	"strings"
	"unicode/utf8"
)

// A separator qualifies as a break point only when it lies beyond
// minBreakPercent of the window; earlier ones would leave a short leading chunk.
const minBreakPercent = 70

// separators in priority order.
var separators = []byte{'\n', '.', ' '}

// Segment splits text into chunks of at most maxSize characters (runes).
// Concatenating the chunks in order yields text exactly; no chunk is empty.
//
// A chunk ends after the last newline in the window, else the last period,
// else the last space, provided that separator lies beyond 70% of maxSize.
// Otherwise the chunk is cut at exactly maxSize characters.
//
// Empty text yields no chunks. A non-positive maxSize disables splitting.
func Segment(text string, maxSize int) []string {
	if text == "" {
		return nil
	}
	if maxSize <= 0 || utf8.RuneCountInString(text) <= maxSize {
		return []string{text}
	}

	var chunks []string
	rest := text
	for utf8.RuneCountInString(rest) > maxSize {
		window := rest[:byteOffset(rest, maxSize)]
		cut := breakPoint(window, maxSize)
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// breakPoint returns the byte offset at which window should be cut.
func breakPoint(window string, maxSize int) int {
	for _, sep := range separators {
		idx := strings.LastIndexByte(window, sep)
		if idx < 0 {
			continue
		}
		if utf8.RuneCountInString(window[:idx])*100 > maxSize*minBreakPercent {
			return idx + 1
		}
	}
	return len(window)
}

// byteOffset returns the byte offset of the n-th rune of s, or len(s).
func byteOffset(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}
