package engine

import (
	"strings"
	"unicode"
)

// LimitSentences keeps at most max sentence-terminal marks. Dots inside
// identifiers or numbers (orders.total, 3.5), marks inside backticks and
// marks inside quoted single tokens ("n.a.") are not counted. A dot followed
// directly by an uppercase letter always counts.
func LimitSentences(text string, max int) string {
	text = strings.TrimSpace(text)
	if max <= 0 || text == "" {
		return ""
	}
	runes := []rune(text)
	protected := protectedSpans(runes)

	count := 0
	for i, r := range runes {
		if protected[i] || !isTerminal(r) {
			continue
		}
		if r == '.' && isIdentifierDot(runes, i) {
			continue
		}
		count++
		if count == max {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	return text
}

// CountSentenceMarks counts terminal marks the same way LimitSentences does.
func CountSentenceMarks(text string) int {
	runes := []rune(text)
	protected := protectedSpans(runes)
	count := 0
	for i, r := range runes {
		if protected[i] || !isTerminal(r) {
			continue
		}
		if r == '.' && isIdentifierDot(runes, i) {
			continue
		}
		count++
	}
	return count
}

func isTerminal(r rune) bool {
	return r == '.' || r == '?' || r == '!'
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isIdentifierDot(runes []rune, i int) bool {
	if i == 0 || i+1 >= len(runes) {
		return false
	}
	next := runes[i+1]
	return isWordRune(runes[i-1]) && isWordRune(next) && !unicode.IsUpper(next)
}

// protectedSpans marks runes inside closed backtick pairs and inside quote
// pairs that wrap a single token. Quoted prose stays countable. A single
// quote only opens a span at the start of a word so apostrophes in
// contractions are ignored. Unclosed quotes protect nothing.
func protectedSpans(runes []rune) []bool {
	protected := make([]bool, len(runes))
	for i := 0; i < len(runes); i++ {
		quote := runes[i]
		if quote != '"' && quote != '`' && quote != '\'' {
			continue
		}
		if quote == '\'' && i > 0 && isWordRune(runes[i-1]) {
			continue
		}
		end := -1
		for j := i + 1; j < len(runes); j++ {
			if runes[j] != quote {
				continue
			}
			if quote == '\'' && j+1 < len(runes) && isWordRune(runes[j+1]) {
				continue
			}
			end = j
			break
		}
		if end < 0 {
			continue
		}
		if quote != '`' && containsSpace(runes[i+1:end]) {
			i = end
			continue
		}
		for k := i; k <= end; k++ {
			protected[k] = true
		}
		i = end
	}
	return protected
}

func containsSpace(runes []rune) bool {
	for _, r := range runes {
		if unicode.IsSpace(r) {
			return true
		}
	}
	return false
}
