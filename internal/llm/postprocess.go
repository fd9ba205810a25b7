package llm

import (
	"strings"
	"unicode"
)

const sentenceTerminators = ".!?।"

// ensureTerminated appends a full stop to text cut off mid-sentence.
func ensureTerminated(text string) string {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if trimmed == "" {
		return text
	}
	r := []rune(trimmed)
	if strings.ContainsRune(sentenceTerminators, r[len(r)-1]) {
		return trimmed
	}
	return trimmed + "."
}

// FitDisplay shortens text to at most maxLen runes. When shortened, the text
// ends at the last sentence boundary (or, failing that, the last word
// boundary) and is followed by "..." and hint. The ellipsis takes the place
// of the final sentence terminator.
func FitDisplay(text string, maxLen int, hint string) string {
	runes := []rune(text)
	if maxLen <= 0 || len(runes) <= maxLen {
		return text
	}

	suffix := "..."
	if hint != "" {
		suffix += " " + hint
	}
	room := maxLen - len([]rune(suffix))
	if room <= 0 {
		return string(runes[:maxLen])
	}
	head := runes[:room]

	cut := -1
	for i := len(head) - 1; i >= 0; i-- {
		if strings.ContainsRune(sentenceTerminators, head[i]) {
			// The ellipsis replaces the terminator.
			cut = i
			break
		}
	}
	if cut <= 0 {
		for i := len(head) - 1; i > 0; i-- {
			if unicode.IsSpace(head[i]) {
				cut = i
				break
			}
		}
	}
	if cut <= 0 {
		cut = len(head)
	}

	return strings.TrimRightFunc(string(head[:cut]), unicode.IsSpace) + suffix
}
