package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/duckquery/duckquery/internal/dataset"
	"github.com/duckquery/duckquery/internal/dataset/duckdb"
	"github.com/duckquery/duckquery/internal/generation"
	"github.com/duckquery/duckquery/internal/prompt"
	"github.com/duckquery/duckquery/internal/query"
)

type fakeGenerator struct {
	result generation.Result
	calls  atomic.Int32
	last   prompt.Prompt
}

func (f *fakeGenerator) Generate(_ context.Context, p prompt.Prompt) generation.Result {
	f.calls.Add(1)
	f.last = p
	return f.result
}

func succeed(provider, text string) *fakeGenerator {
	return &fakeGenerator{result: generation.Result{Text: text, Provider: provider, Success: true}}
}

type countingStore struct {
	dataset.Store
	runs atomic.Int32
}

func (s *countingStore) RunQuery(ctx context.Context, request dataset.QueryRequest) (dataset.QueryResult, error) {
	s.runs.Add(1)
	return s.Store.RunQuery(ctx, request)
}

func usersStore(t *testing.T) *duckdb.Store {
	t.Helper()
	store, err := duckdb.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	columns := []dataset.Column{
		{Name: "id", Type: dataset.TypeInteger},
		{Name: "name", Type: dataset.TypeText, Nullable: true},
		{Name: "signup_date", Type: dataset.TypeTimestamp},
	}
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	rows := [][]any{
		{int64(1), "ada", base},
		{int64(2), "grace", base.AddDate(0, 0, 20)},
		{int64(3), nil, base.AddDate(0, 1, 5)},
	}
	if err := store.LoadTable(context.Background(), "users", columns, rows); err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}
	return store
}

func emptyStore(t *testing.T) *duckdb.Store {
	t.Helper()
	store, err := duckdb.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func assertStates(t *testing.T, got []State, want ...State) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
}

func TestTranslateExecutesAcceptedCount(t *testing.T) {
	store := usersStore(t)
	generator := succeed("openai", "```sql\nSELECT count(*) AS signups FROM users WHERE signup_date >= DATE '2026-09-15';\n```")
	e := New(generator, query.NewExecutor(time.Second, 100), Config{}, nil)

	result := e.Translate(context.Background(), store, TranslateRequest{Question: "how many users signed up last month?"})
	if !result.OK() {
		t.Fatalf("Translate() failure = %v", result.Failure)
	}
	if result.Provider != "openai" {
		t.Fatalf("provider = %q", result.Provider)
	}
	if result.Candidate == nil || !result.Candidate.Accepted() {
		t.Fatalf("candidate = %#v", result.Candidate)
	}
	if !strings.Contains(result.Candidate.Statement, "count(*)") {
		t.Fatalf("statement = %q", result.Candidate.Statement)
	}
	if result.Outcome == nil || result.Outcome.RowCount != 1 {
		t.Fatalf("outcome = %#v", result.Outcome)
	}
	count, ok := result.Outcome.Rows[0][0].(int64)
	if !ok || count < 0 {
		t.Fatalf("count = %#v", result.Outcome.Rows[0][0])
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	assertStates(t, result.States, StateIdle, StateSchemaResolved, StateTranslating, StateValidated, StateExecuted)

	if generator.last.Mode != prompt.ModeTranslate || generator.last.Temperature != prompt.DefaultTranslateTemperature {
		t.Fatalf("prompt = %#v", generator.last)
	}
	if !strings.Contains(generator.last.User, "signup_date") {
		t.Fatalf("prompt user text missing schema: %q", generator.last.User)
	}
}

func TestTranslateRejectsMutationWithoutExecuting(t *testing.T) {
	store := &countingStore{Store: usersStore(t)}
	e := New(succeed("openai", "DROP TABLE users;"), nil, Config{}, nil)

	result := e.Translate(context.Background(), store, TranslateRequest{Question: "delete everything"})
	if result.OK() {
		t.Fatalf("Translate() succeeded, want rejection")
	}
	if result.Failure.Kind != FailureSQLRejected {
		t.Fatalf("failure = %#v", result.Failure)
	}
	if result.Candidate == nil || result.Candidate.Accepted() || result.Candidate.Statement != "" {
		t.Fatalf("candidate = %#v", result.Candidate)
	}
	if store.runs.Load() != 0 {
		t.Fatalf("RunQuery called %d times", store.runs.Load())
	}
	if result.Outcome != nil {
		t.Fatalf("outcome = %#v", result.Outcome)
	}
	assertStates(t, result.States, StateIdle, StateSchemaResolved, StateTranslating, StateFailed)

	tables, err := store.ListTables(context.Background())
	if err != nil || len(tables) != 1 {
		t.Fatalf("ListTables() = %v, %v", tables, err)
	}
}

func TestEmptySchemaReportsNoData(t *testing.T) {
	store := emptyStore(t)
	generator := succeed("openai", "SELECT 1")
	e := New(generator, nil, Config{}, nil)

	translated := e.Translate(context.Background(), store, TranslateRequest{Question: "anything"})
	if translated.OK() || translated.Failure.Kind != FailureNoData {
		t.Fatalf("Translate() failure = %#v", translated.Failure)
	}
	suggested := e.Suggest(context.Background(), store, SuggestRequest{})
	if suggested.OK() || suggested.Failure.Kind != FailureNoData {
		t.Fatalf("Suggest() failure = %#v", suggested.Failure)
	}
	if generator.calls.Load() != 0 {
		t.Fatalf("generator called %d times", generator.calls.Load())
	}
	assertStates(t, suggested.States, StateIdle, StateFailed)
}

func TestUnknownTableFilterReportsNoData(t *testing.T) {
	store := usersStore(t)
	generator := succeed("openai", "SELECT 1")
	e := New(generator, nil, Config{}, nil)

	result := e.Translate(context.Background(), store, TranslateRequest{Question: "count", Tables: []string{"orders"}})
	if result.OK() || result.Failure.Kind != FailureNoData {
		t.Fatalf("Translate() failure = %#v", result.Failure)
	}
	if generator.calls.Load() != 0 {
		t.Fatalf("generator called %d times", generator.calls.Load())
	}
}

func TestTranslateFallsBackThroughRouter(t *testing.T) {
	store := usersStore(t)
	router := generation.NewRouter([]generation.Provider{
		stubProvider{name: "openai", err: errors.New("503 service unavailable")},
		stubProvider{name: "anthropic", text: "SELECT name FROM users ORDER BY id"},
	}, time.Second, nil)
	e := New(router, nil, Config{}, nil)

	result := e.Translate(context.Background(), store, TranslateRequest{Question: "list names"})
	if !result.OK() {
		t.Fatalf("Translate() failure = %v", result.Failure)
	}
	if result.Provider != "anthropic" {
		t.Fatalf("provider = %q", result.Provider)
	}
	if result.Outcome.RowCount != 3 {
		t.Fatalf("row count = %d", result.Outcome.RowCount)
	}
}

func TestTranslateAllProvidersFailed(t *testing.T) {
	store := usersStore(t)
	router := generation.NewRouter([]generation.Provider{
		stubProvider{name: "openai", err: errors.New("401 invalid api key: sk-secret")},
		stubProvider{name: "anthropic", err: errors.New("429 rate limit")},
	}, time.Second, nil)
	e := New(router, nil, Config{}, nil)

	result := e.Translate(context.Background(), store, TranslateRequest{Question: "anything"})
	if result.OK() || result.Failure.Kind != FailureAllProvidersFailed {
		t.Fatalf("Translate() failure = %#v", result.Failure)
	}
	if !strings.Contains(result.Failure.Detail, "openai") || !strings.Contains(result.Failure.Detail, "anthropic") {
		t.Fatalf("detail = %q", result.Failure.Detail)
	}
	if strings.Contains(result.Failure.Error(), "sk-secret") {
		t.Fatalf("failure leaks provider output: %q", result.Failure.Error())
	}
	assertStates(t, result.States, StateIdle, StateSchemaResolved, StateTranslating, StateFailed)
}

func TestTranslateExecutionError(t *testing.T) {
	store := usersStore(t)
	e := New(succeed("openai", "SELECT missing_column FROM users"), nil, Config{}, nil)

	result := e.Translate(context.Background(), store, TranslateRequest{Question: "what is missing"})
	if result.OK() || result.Failure.Kind != FailureExecutionError {
		t.Fatalf("Translate() failure = %#v", result.Failure)
	}
	if result.Failure.Detail == "" {
		t.Fatalf("expected execution detail")
	}
}

func TestTranslateRequiresQuestion(t *testing.T) {
	e := New(succeed("openai", "SELECT 1"), nil, Config{}, nil)
	result := e.Translate(context.Background(), usersStore(t), TranslateRequest{Question: "   "})
	if result.OK() || result.Failure.Kind != FailureInvalidRequest {
		t.Fatalf("Translate() failure = %#v", result.Failure)
	}
}

func TestTranslateWithoutGenerator(t *testing.T) {
	e := New(nil, nil, Config{}, nil)
	result := e.Translate(context.Background(), usersStore(t), TranslateRequest{Question: "count users"})
	if result.OK() || result.Failure.Kind != FailureEngineUnavailable {
		t.Fatalf("Translate() failure = %#v", result.Failure)
	}
}

func TestRunValidatesCallerSQL(t *testing.T) {
	store := usersStore(t)
	e := New(nil, nil, Config{}, nil)

	ok := e.Run(context.Background(), store, RunRequest{SQL: "SELECT id FROM users ORDER BY id;"})
	if !ok.OK() || ok.Outcome.RowCount != 3 {
		t.Fatalf("Run() = %#v", ok)
	}
	assertStates(t, ok.States, StateIdle, StateSchemaResolved, StateValidated, StateExecuted)

	rejected := e.Run(context.Background(), store, RunRequest{SQL: "DELETE FROM users"})
	if rejected.OK() || rejected.Failure.Kind != FailureSQLRejected {
		t.Fatalf("Run() failure = %#v", rejected.Failure)
	}
}

func TestRunRejectsEscapeStringSmuggling(t *testing.T) {
	store := &countingStore{Store: usersStore(t)}
	e := New(nil, nil, Config{}, nil)

	for _, sql := range []string{
		`SELECT name FROM users WHERE name = E'x\'' OR id IN (SELECT 1 FROM read_csv('/etc/hostname')) OR name = E'\''`,
		`SELECT name FROM users WHERE name = E'x\'' OR id IN (SELECT 1 FROM duckdb_secrets()) OR name = E'\''`,
		`SELECT name FROM users WHERE name = E'x\'' OR id IN (SELECT 1 FROM query('SELECT 1')) OR name = E'\''`,
	} {
		result := e.Run(context.Background(), store, RunRequest{SQL: sql})
		if result.OK() || result.Failure.Kind != FailureSQLRejected {
			t.Fatalf("Run(%q) = %#v", sql, result.Failure)
		}
		assertStates(t, result.States, StateIdle, StateSchemaResolved, StateFailed)
	}
	if store.runs.Load() != 0 {
		t.Fatalf("store runs = %d", store.runs.Load())
	}
}

func TestSuggestParsesAndBoundsQuestion(t *testing.T) {
	store := usersStore(t)
	text := "QUERY: Which users signed up first? Who joined in October? And who has no name?\n" +
		"CONTEXT: Looks at signup cohorts.\n" +
		"TABLES: users, orders"
	generator := succeed("gemini", text)
	e := New(generator, nil, Config{}, nil)

	result := e.Suggest(context.Background(), store, SuggestRequest{})
	if !result.OK() {
		t.Fatalf("Suggest() failure = %v", result.Failure)
	}
	suggestion := result.Suggestion
	if suggestion.Question != "Which users signed up first? Who joined in October?" {
		t.Fatalf("question = %q", suggestion.Question)
	}
	if CountSentenceMarks(suggestion.Question) > 2 {
		t.Fatalf("question has too many sentences: %q", suggestion.Question)
	}
	if suggestion.Rationale != "Looks at signup cohorts." {
		t.Fatalf("rationale = %q", suggestion.Rationale)
	}
	if len(suggestion.Tables) != 1 || suggestion.Tables[0] != "users" {
		t.Fatalf("tables = %v", suggestion.Tables)
	}
	if result.Provider != "gemini" {
		t.Fatalf("provider = %q", result.Provider)
	}
	if generator.last.Mode != prompt.ModeSuggest || generator.last.Temperature != prompt.DefaultSuggestTemperature {
		t.Fatalf("prompt = %#v", generator.last)
	}
	assertStates(t, result.States, StateIdle, StateSchemaResolved, StateSuggesting, StateSuggested)
}

func TestSuggestMalformedResponse(t *testing.T) {
	store := usersStore(t)
	e := New(succeed("openai", "Here is a fun idea about your data."), nil, Config{}, nil)

	result := e.Suggest(context.Background(), store, SuggestRequest{})
	if result.OK() || result.Failure.Kind != FailureMalformedSuggestion {
		t.Fatalf("Suggest() failure = %#v", result.Failure)
	}
	if result.Failure.Message != ErrMalformedSuggestion.Error() {
		t.Fatalf("message = %q", result.Failure.Message)
	}
}

type stubProvider struct {
	name string
	text string
	err  error
}

func (s stubProvider) Name() string { return s.name }

func (s stubProvider) Complete(context.Context, prompt.Prompt) (string, error) {
	return s.text, s.err
}
