package engine

import (
	"errors"
	"sort"
	"strings"

	"github.com/duckquery/duckquery/internal/schema"
)

const maxSuggestionSentences = 2

var ErrMalformedSuggestion = errors.New("Failed to parse query from LLM response")

// ParseSuggestion reads the QUERY/CONTEXT/TABLES reply format. The question
// is cut to two sentences; unknown table names are dropped.
func ParseSuggestion(text string, snapshot schema.Snapshot) (Suggestion, error) {
	fields := map[string]string{}
	current := ""
	for _, line := range strings.Split(text, "\n") {
		cleaned := strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "*#>-` "))
		key, value, ok := splitField(cleaned)
		if ok {
			current = key
			fields[key] = strings.TrimSpace(value)
			continue
		}
		if current != "" && cleaned != "" {
			fields[current] = strings.TrimSpace(fields[current] + " " + cleaned)
		}
	}

	question := LimitSentences(strings.Trim(fields["query"], `"`), maxSuggestionSentences)
	if question == "" {
		return Suggestion{}, ErrMalformedSuggestion
	}

	tables := make([]string, 0)
	seen := map[string]bool{}
	for _, name := range strings.Split(fields["tables"], ",") {
		name = strings.Trim(strings.TrimSpace(name), "`\"'.")
		resolved, ok := snapshot.Lookup(name)
		if !ok || seen[resolved] {
			continue
		}
		seen[resolved] = true
		tables = append(tables, resolved)
	}
	if len(tables) == 0 {
		tables = snapshot.Names()
	}
	sort.Strings(tables)

	return Suggestion{
		Question:  question,
		Rationale: fields["context"],
		Tables:    tables,
	}, nil
}

func splitField(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	key := strings.ToLower(strings.Trim(strings.TrimSpace(line[:idx]), "*"))
	switch key {
	case "query", "context", "tables":
		return key, strings.TrimLeft(line[idx+1:], "* "), true
	default:
		return "", "", false
	}
}
