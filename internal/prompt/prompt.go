package prompt

import (
	"fmt"
	"strings"

	"github.com/duckquery/duckquery/internal/schema"
)

type Mode string

const (
	ModeTranslate Mode = "translate"
	ModeSuggest   Mode = "suggest"
)

const (
	DefaultTranslateTemperature = 0.1
	DefaultSuggestTemperature   = 0.8
)

// Request is a provider-agnostic generation request.
type Request struct {
	Snapshot    schema.Snapshot
	Tables      []string
	Question    string
	Mode        Mode
	Temperature *float64
}

type Prompt struct {
	System      string
	User        string
	Mode        Mode
	Temperature float64
	// Tables lists the tables serialized into the prompt.
	Tables []string
}

const translateSystem = "You convert natural language analytics questions into a single DuckDB SQL query. " +
	"DuckDB uses PostgreSQL-like SQL syntax. " +
	"Return ONLY SQL. No markdown, no explanation."

const suggestSystem = "You suggest interesting analytics questions a user could ask about a dataset. " +
	"Answer in plain language and never write SQL."

// Build renders the prompt for req. It is deterministic for identical input.
func Build(req Request) (Prompt, error) {
	snapshot := req.Snapshot.Filter(req.Tables)
	if snapshot.Empty() {
		return Prompt{}, schema.ErrNoData
	}

	var b strings.Builder
	b.WriteString("Schema:\n")
	writeSchema(&b, snapshot)

	out := Prompt{Mode: req.Mode, Tables: snapshot.Names()}
	switch req.Mode {
	case ModeTranslate:
		question := strings.TrimSpace(req.Question)
		if question == "" {
			return Prompt{}, fmt.Errorf("question is required in translate mode")
		}
		b.WriteString("\nUser question:\n")
		b.WriteString(question)
		b.WriteString("\n\nRules:\n")
		b.WriteString("- Use only the listed tables and columns.\n")
		b.WriteString("- Produce exactly one read-only SELECT statement in the DuckDB dialect.\n")
		b.WriteString("- Prefer explicit columns.\n")
		b.WriteString("- Add LIMIT 200 unless the question asks otherwise.\n")
		b.WriteString("- Output the SQL statement only, with no explanatory prose.")
		out.System = translateSystem
		out.Temperature = temperature(req.Temperature, DefaultTranslateTemperature)
	case ModeSuggest:
		b.WriteString("\nSuggest exactly one natural language question a user might ask about this data.\n")
		b.WriteString("Rules:\n")
		b.WriteString("- The question is TWO sentences maximum.\n")
		b.WriteString("- Add a one-sentence rationale explaining why the question is interesting.\n")
		b.WriteString("- Do not write SQL.\n")
		b.WriteString("Respond using exactly this format:\n")
		b.WriteString("QUERY: <question>\n")
		b.WriteString("CONTEXT: <rationale>\n")
		b.WriteString("TABLES: <comma separated table names>")
		out.System = suggestSystem
		out.Temperature = temperature(req.Temperature, DefaultSuggestTemperature)
	default:
		return Prompt{}, fmt.Errorf("unsupported prompt mode %q", req.Mode)
	}

	out.User = b.String()
	return out, nil
}

// writeSchema serializes structure only. Row data never reaches a provider.
func writeSchema(b *strings.Builder, snapshot schema.Snapshot) {
	for _, table := range snapshot.Tables() {
		fmt.Fprintf(b, "- table %s (%d rows)\n", table.Name, table.RowCount)
		for _, column := range table.Columns {
			nullability := "not null"
			if column.Nullable {
				nullability = "nullable"
			}
			fmt.Fprintf(b, "  - %s: %s, %s\n", column.Name, column.Type, nullability)
		}
	}
}

func temperature(override *float64, fallback float64) float64 {
	if override != nil {
		return *override
	}
	return fallback
}
