package ingest

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/duckquery/duckquery/internal/dataset"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// inferColumn picks the narrowest type every present value parses as, in
// the order boolean, integer, float, timestamp, text. A column with no
// values is unknown.
func inferColumn(values []*string) (dataset.ColumnType, bool) {
	nullable := false
	present := 0
	isBool, isInt, isFloat, isTime := true, true, true, true
	for _, value := range values {
		if value == nil {
			nullable = true
			continue
		}
		present++
		text := *value
		if isBool {
			_, isBool = parseBool(text)
		}
		if isInt {
			_, err := strconv.ParseInt(text, 10, 64)
			isInt = err == nil
		}
		if isFloat {
			parsed, err := strconv.ParseFloat(text, 64)
			isFloat = err == nil && !math.IsNaN(parsed) && !math.IsInf(parsed, 0)
		}
		if isTime {
			_, isTime = parseTimestamp(text)
		}
	}
	switch {
	case present == 0:
		return dataset.TypeUnknown, true
	case isBool:
		return dataset.TypeBoolean, nullable
	case isInt:
		return dataset.TypeInteger, nullable
	case isFloat:
		return dataset.TypeFloat, nullable
	case isTime:
		return dataset.TypeTimestamp, nullable
	default:
		return dataset.TypeText, nullable
	}
}

func convertCell(value *string, columnType dataset.ColumnType) (any, error) {
	if value == nil {
		return nil, nil
	}
	text := *value
	switch columnType {
	case dataset.TypeBoolean:
		parsed, ok := parseBool(text)
		if !ok {
			return nil, fmt.Errorf("invalid boolean %q", text)
		}
		return parsed, nil
	case dataset.TypeInteger:
		return strconv.ParseInt(text, 10, 64)
	case dataset.TypeFloat:
		return strconv.ParseFloat(text, 64)
	case dataset.TypeTimestamp:
		parsed, ok := parseTimestamp(text)
		if !ok {
			return nil, fmt.Errorf("invalid timestamp %q", text)
		}
		return parsed, nil
	default:
		return text, nil
	}
}

func parseBool(text string) (bool, bool) {
	switch strings.ToLower(text) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

func parseTimestamp(text string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

var (
	invalidIdentRunes = regexp.MustCompile(`[^a-z0-9_]+`)
	repeatedUnderline = regexp.MustCompile(`_+`)
)

const maxIdentLength = 63

func sanitizeIdent(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = invalidIdentRunes.ReplaceAllString(name, "_")
	name = repeatedUnderline.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "c_" + name
	}
	if len(name) > maxIdentLength {
		name = strings.TrimRight(name[:maxIdentLength], "_")
	}
	return name
}

// SanitizeColumnNames lowercases names to [a-z0-9_], fills blanks with
// column_N and suffixes duplicates with _2, _3.
func SanitizeColumnNames(header []string) []string {
	names := make([]string, len(header))
	seen := map[string]bool{}
	for i, raw := range header {
		base := sanitizeIdent(raw)
		if base == "" {
			base = fmt.Sprintf("column_%d", i+1)
		}
		name := base
		for suffix := 2; seen[name]; suffix++ {
			name = fmt.Sprintf("%s_%d", base, suffix)
		}
		seen[name] = true
		names[i] = name
	}
	return names
}

func SanitizeTableName(raw string) (string, error) {
	name := sanitizeIdent(raw)
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTableName, raw)
	}
	return name, nil
}
