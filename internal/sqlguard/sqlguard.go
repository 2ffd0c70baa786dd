package sqlguard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/duckquery/duckquery/internal/schema"
)

type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

type Reason string

const (
	ReasonEmpty              Reason = "empty_statement"
	ReasonNotSelect          Reason = "not_a_select"
	ReasonMultipleStatements Reason = "multiple_statements"
	ReasonMutatingVerb       Reason = "mutating_verb"
	ReasonSideEffect         Reason = "side_effect_command"
	ReasonUnbalanced         Reason = "unbalanced_quotes"
	ReasonFileAccess         Reason = "file_access"
	ReasonInjection          Reason = "suspicious_literal"
	ReasonNoKnownTable       Reason = "no_known_table"
)

// Candidate is an extracted statement and its validation verdict.
type Candidate struct {
	Statement string   `json:"statement"`
	Tables    []string `json:"table_names"`
	Verdict   Verdict  `json:"verdict"`
	Reason    Reason   `json:"reason,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

func (c Candidate) Accepted() bool {
	return c.Verdict == VerdictAccepted
}

// Err returns a *RejectedError for rejected candidates and nil otherwise.
func (c Candidate) Err() error {
	if c.Accepted() {
		return nil
	}
	return &RejectedError{Reason: c.Reason, Detail: c.Detail}
}

type RejectedError struct {
	Reason Reason
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("sql rejected: %s", e.Reason)
	}
	return fmt.Sprintf("sql rejected: %s", e.Detail)
}

var (
	fencePattern     = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\n?(.*?)```")
	startPattern     = regexp.MustCompile(`(?i)\b(select|with)\b`)
	mutatingPattern  = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|merge|upsert)\b`)
	sideEffectVerbs  = wordSet("attach", "detach", "copy", "export", "import", "install", "load", "pragma", "set", "reset", "call", "grant", "revoke", "vacuum", "checkpoint", "use", "begin", "commit", "rollback")
	forbiddenCalls   = wordSet("read_csv", "read_csv_auto", "read_parquet", "parquet_scan", "read_json", "read_json_auto", "read_json_objects", "read_ndjson", "read_ndjson_objects", "read_text", "read_blob", "glob", "sniff_csv", "query", "query_table", "getenv", "duckdb_secrets", "parquet_metadata", "parquet_schema")
	clauseKeywords   = wordSet("where", "group", "order", "limit", "having", "join", "inner", "left", "right", "full", "cross", "natural", "on", "using", "union", "except", "intersect", "window", "qualify", "offset", "lateral", "positional", "asof", "anti", "semi", "sample", "tablesample", "pivot", "unpivot")
	tableIntroducers = wordSet("from", "join")
)

// Extract isolates one statement from raw provider text and validates it.
// Anything ambiguous is rejected.
func Extract(raw string, snapshot schema.Snapshot) Candidate {
	text := stripFences(raw)
	if strings.TrimSpace(text) == "" {
		return reject("", ReasonEmpty, "provider returned no statement")
	}

	start := locateStatement(text)
	if start < 0 {
		if mutatingPattern.MatchString(text) {
			return reject("", ReasonMutatingVerb, "statement contains a data-modifying or DDL keyword")
		}
		return reject("", ReasonNotSelect, "no SELECT or WITH statement found")
	}
	body := strings.TrimSpace(text[start:])

	tokens, err := lex(body)
	if err != nil {
		return reject("", ReasonUnbalanced, err.Error())
	}

	statementTokens, rest := splitFirstStatement(tokens)
	if len(rest) > 0 {
		return reject("", ReasonMultipleStatements, "more than one statement is present")
	}
	if len(statementTokens) == 0 {
		return reject("", ReasonEmpty, "empty statement")
	}
	statement := strings.TrimSpace(body[:statementEnd(statementTokens)])

	if match := mutatingPattern.FindString(body); match != "" {
		return reject(statement, ReasonMutatingVerb, fmt.Sprintf("statement contains forbidden keyword %q", strings.ToUpper(match)))
	}

	first := statementTokens[0]
	if first.kind != tokenWord || (first.value != "select" && first.value != "with") {
		return reject(statement, ReasonNotSelect, "statement must start with SELECT or WITH")
	}

	for i, tok := range statementTokens {
		if tok.kind != tokenWord {
			continue
		}
		if sideEffectVerbs[tok.value] {
			return reject(statement, ReasonSideEffect, fmt.Sprintf("statement contains forbidden keyword %q", strings.ToUpper(tok.value)))
		}
		if forbiddenCalls[tok.value] && nextIs(statementTokens, i, "(") {
			return reject(statement, ReasonFileAccess, fmt.Sprintf("function %s is not allowed", tok.value))
		}
		if tableIntroducers[tok.value] && i+1 < len(statementTokens) && statementTokens[i+1].kind == tokenString {
			return reject(statement, ReasonFileAccess, "reading from a string path is not allowed")
		}
	}

	for _, tok := range statementTokens {
		if tok.kind != tokenString || tok.value == "" {
			continue
		}
		if isSQLi, _ := libinjection.IsSQLi(tok.value); isSQLi {
			return reject(statement, ReasonInjection, "string literal looks like SQL injection")
		}
	}

	tables := referencedTables(statementTokens, snapshot)
	if len(tables) == 0 {
		return reject(statement, ReasonNoKnownTable, "statement references no loaded table")
	}

	return Candidate{
		Statement: statement,
		Tables:    tables,
		Verdict:   VerdictAccepted,
	}
}

func reject(statement string, reason Reason, detail string) Candidate {
	return Candidate{Statement: statement, Verdict: VerdictRejected, Reason: reason, Detail: detail}
}

func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if match := fencePattern.FindStringSubmatch(trimmed); match != nil {
		return strings.TrimSpace(match[1])
	}
	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		// Unterminated fence: keep everything after the opening line.
		rest := trimmed[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		} else {
			rest = strings.TrimLeft(rest, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		}
		return strings.TrimSpace(rest)
	}
	return trimmed
}

// locateStatement prefers a line that begins with SELECT or WITH so leading
// prose mentioning either word is skipped.
func locateStatement(text string) int {
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimLeft(line, " \t\r")
		if loc := startPattern.FindStringIndex(trimmed); loc != nil && loc[0] == 0 {
			return offset + (len(line) - len(trimmed))
		}
		offset += len(line)
	}
	if loc := startPattern.FindStringIndex(text); loc != nil {
		return loc[0]
	}
	return -1
}

func splitFirstStatement(tokens []token) ([]token, []token) {
	for i, tok := range tokens {
		if tok.kind != tokenSemicolon {
			continue
		}
		rest := make([]token, 0)
		for _, after := range tokens[i+1:] {
			if after.kind != tokenSemicolon {
				rest = append(rest, after)
			}
		}
		return tokens[:i], rest
	}
	return tokens, nil
}

func statementEnd(tokens []token) int {
	last := tokens[len(tokens)-1]
	return last.pos + len(last.text)
}

func nextIs(tokens []token, i int, text string) bool {
	return i+1 < len(tokens) && tokens[i+1].kind == tokenPunct && tokens[i+1].text == text
}

// referencedTables collects identifiers that follow FROM or JOIN, including
// comma-separated FROM lists and schema-qualified names, and keeps those
// present in the snapshot.
func referencedTables(tokens []token, snapshot schema.Snapshot) []string {
	found := map[string]bool{}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.kind != tokenWord || !tableIntroducers[tok.value] {
			continue
		}
		j := i + 1
		for j < len(tokens) {
			name, next, ok := readTableName(tokens, j)
			if !ok {
				break
			}
			if resolved, ok := resolveTable(snapshot, name); ok {
				found[resolved] = true
			}
			j = skipAlias(tokens, next)
			if tok.value != "from" || j >= len(tokens) || tokens[j].kind != tokenPunct || tokens[j].text != "," {
				break
			}
			j++
		}
	}

	tables := make([]string, 0, len(found))
	for name := range found {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables
}

type tableName struct {
	name   string
	quoted bool
}

func readTableName(tokens []token, i int) (tableName, int, bool) {
	var current tableName
	ok := false
	for i < len(tokens) {
		tok := tokens[i]
		switch tok.kind {
		case tokenWord:
			current = tableName{name: tok.text}
		case tokenQuotedIdent:
			current = tableName{name: tok.value, quoted: true}
		default:
			return current, i, ok
		}
		ok = true
		i++
		if i < len(tokens) && tokens[i].kind == tokenPunct && tokens[i].text == "." {
			i++
			continue
		}
		return current, i, true
	}
	return current, i, ok
}

func skipAlias(tokens []token, i int) int {
	if i >= len(tokens) {
		return i
	}
	if tokens[i].kind == tokenWord && tokens[i].value == "as" {
		i++
		if i < len(tokens) && (tokens[i].kind == tokenWord || tokens[i].kind == tokenQuotedIdent) {
			i++
		}
		return i
	}
	if tokens[i].kind == tokenQuotedIdent || (tokens[i].kind == tokenWord && !clauseKeywords[tokens[i].value]) {
		return i + 1
	}
	return i
}

func resolveTable(snapshot schema.Snapshot, name tableName) (string, bool) {
	if name.quoted {
		if _, ok := snapshot.Table(name.name); ok {
			return name.name, true
		}
		return "", false
	}
	return snapshot.Lookup(name.name)
}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, word := range words {
		set[word] = true
	}
	return set
}
