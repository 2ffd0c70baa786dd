package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/duckquery/duckquery/internal/catalog"
	"github.com/duckquery/duckquery/internal/config"
	"github.com/duckquery/duckquery/internal/engine"
	"github.com/duckquery/duckquery/internal/generation"
	"github.com/duckquery/duckquery/internal/prompt"
	"github.com/duckquery/duckquery/internal/query"
)

type fakeGenerator struct {
	result generation.Result
	calls  int
}

func (f *fakeGenerator) Generate(_ context.Context, _ prompt.Prompt) generation.Result {
	f.calls++
	return f.result
}

func answer(text string) *fakeGenerator {
	return &fakeGenerator{result: generation.Result{Text: text, Provider: "fake", Success: true}}
}

type failingHistory struct{}

func (failingHistory) InsertQueryRecord(context.Context, catalog.InsertQueryRecordInput) (catalog.QueryRecord, error) {
	return catalog.QueryRecord{}, errors.New("catalog down")
}

func (failingHistory) ListQueryRecords(context.Context, string, int) ([]catalog.QueryRecord, error) {
	return nil, errors.New("catalog down")
}

func newQueryHandler(t *testing.T, generator engine.Generator, history HistoryRepository) http.Handler {
	t.Helper()
	cfg, err := config.Load("duckquery-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{
		Datasets: newTestDatasets(t),
		Engine:   engine.New(generator, query.NewExecutor(0, 0), engine.Config{}, nil),
		History:  history,
	})
	return h
}

func TestTranslateEndpointExecutesGeneratedSQL(t *testing.T) {
	history := catalog.NewMemory()
	generator := answer("```sql\nSELECT COUNT(*) AS signups FROM users WHERE signup_date >= DATE '2026-09-15'\n```")
	h := newQueryHandler(t, generator, history)
	if rr := uploadDataset(t, h, "s1", "users", "csv", usersCSV); rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr := postJSON(t, h, "/v1/query/translate", "s1", `{"question":"How many users signed up after mid September?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body queryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(body.SQL, "SELECT COUNT(*)") || body.Provider != "fake" {
		t.Fatalf("response = %+v", body)
	}
	if body.RowCount != 1 || len(body.Rows) != 1 {
		t.Fatalf("rows = %#v", body.Rows)
	}
	if got, ok := body.Rows[0][0].(float64); !ok || got != 2 {
		t.Fatalf("signups = %#v", body.Rows[0][0])
	}

	records, err := history.ListQueryRecords(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("ListQueryRecords() error = %v", err)
	}
	if len(records) != 1 || records[0].Operation != "translate" || records[0].Outcome != "ok" || records[0].RowCount != 1 {
		t.Fatalf("records = %+v", records)
	}
}

func TestTranslateEndpointRejectsMutation(t *testing.T) {
	generator := answer("SELECT * FROM users; DROP TABLE users;")
	h := newQueryHandler(t, generator, catalog.NewMemory())
	if rr := uploadDataset(t, h, "s1", "users", "csv", usersCSV); rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rr.Code)
	}

	rr := postJSON(t, h, "/v1/query/translate", "s1", `{"question":"list users"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "DROP TABLE") {
		t.Fatalf("rejected statement echoed: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "SQL_REJECTED") {
		t.Fatalf("body = %s", rr.Body.String())
	}

	schema := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
	schema.Header.Set(sessionHeader, "s1")
	schemaResp := httptest.NewRecorder()
	h.ServeHTTP(schemaResp, schema)
	if !strings.Contains(schemaResp.Body.String(), `"name":"users"`) {
		t.Fatalf("users table missing after rejection: %s", schemaResp.Body.String())
	}
}

func TestTranslateEndpointWithoutDataReturnsNotFound(t *testing.T) {
	generator := answer("SELECT 1")
	h := newQueryHandler(t, generator, nil)

	rr := postJSON(t, h, "/v1/query/translate", "empty", `{"question":"How many users are there?"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if generator.calls != 0 {
		t.Fatalf("generator calls = %d", generator.calls)
	}
}

func TestTranslateEndpointProviderFailure(t *testing.T) {
	generator := &fakeGenerator{result: generation.Result{
		Err: generation.ErrAllProvidersFailed,
		Attempts: []generation.Attempt{
			{Provider: "openai", Err: &generation.ProviderError{Provider: "openai", Kind: generation.ErrorKindAuth}},
		},
	}}
	h := newQueryHandler(t, generator, failingHistory{})
	if rr := uploadDataset(t, h, "s1", "users", "csv", usersCSV); rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rr.Code)
	}

	rr := postJSON(t, h, "/v1/query/translate", "s1", `{"question":"count users"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["retryable"] != true || body["error_code"] != "ALL_PROVIDERS_FAILED" {
		t.Fatalf("body = %v", body)
	}
}

func TestRunEndpointValidatesCallerSQL(t *testing.T) {
	h := newQueryHandler(t, nil, catalog.NewMemory())
	if rr := uploadDataset(t, h, "s1", "users", "csv", usersCSV); rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rr.Code)
	}

	rr := postJSON(t, h, "/v1/query", "s1", `{"sql":"SELECT name FROM users ORDER BY id"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"ada"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}

	rr = postJSON(t, h, "/v1/query", "s1", `{"sql":"DELETE FROM users"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("delete status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = postJSON(t, h, "/v1/query", "s1", `{"sql":"SELECT missing_column FROM users"}`)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "EXECUTION_ERROR") {
		t.Fatalf("execution error status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = postJSON(t, h, "/v1/query", "s1", `{"sql":"SELECT 1","extra":true}`)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "INVALID_JSON") {
		t.Fatalf("unknown field status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestSuggestEndpoint(t *testing.T) {
	generator := answer("QUERY: How many users signed up in September? Break it down by week. Then compare to October.\nCONTEXT: Tracks signup growth.\nTABLES: users, ghosts")
	h := newQueryHandler(t, generator, catalog.NewMemory())
	if rr := uploadDataset(t, h, "s1", "users", "csv", usersCSV); rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rr.Code)
	}

	rr := postJSON(t, h, "/v1/query/suggest", "s1", `{}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Question   string   `json:"question"`
		Rationale  string   `json:"rationale"`
		TableNames []string `json:"table_names"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Question != "How many users signed up in September? Break it down by week." {
		t.Fatalf("question = %q", body.Question)
	}
	if len(body.TableNames) != 1 || body.TableNames[0] != "users" {
		t.Fatalf("table_names = %#v", body.TableNames)
	}
}

func TestSuggestEndpointMalformedResponse(t *testing.T) {
	h := newQueryHandler(t, answer("I cannot help with that."), nil)
	if rr := uploadDataset(t, h, "s1", "users", "csv", usersCSV); rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rr.Code)
	}
	rr := postJSON(t, h, "/v1/query/suggest", "s1", `{"table_names":["users"]}`)
	if rr.Code != http.StatusBadGateway || !strings.Contains(rr.Body.String(), "MALFORMED_SUGGESTION") {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestTranslateWithoutGeneratorIsUnavailable(t *testing.T) {
	h := newQueryHandler(t, nil, nil)
	if rr := uploadDataset(t, h, "s1", "users", "csv", usersCSV); rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rr.Code)
	}
	rr := postJSON(t, h, "/v1/query/translate", "s1", `{"question":"count users"}`)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHistoryEndpoint(t *testing.T) {
	history := catalog.NewMemory()
	h := newQueryHandler(t, nil, history)
	if rr := uploadDataset(t, h, "s1", "users", "csv", usersCSV); rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rr.Code)
	}
	for i := 0; i < 3; i++ {
		postJSON(t, h, "/v1/query", "s1", `{"sql":"SELECT COUNT(*) FROM users"}`)
	}
	postJSON(t, h, "/v1/query", "s2", `{"sql":"SELECT 1"}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/history?limit=2", nil)
	req.Header.Set(sessionHeader, "s1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Records []catalog.QueryRecord `json:"records"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Records) != 2 {
		t.Fatalf("records = %d", len(body.Records))
	}
	for _, record := range body.Records {
		if record.SessionID != "s1" || record.Operation != "run" {
			t.Fatalf("record = %+v", record)
		}
	}

	bad := httptest.NewRequest(http.MethodGet, "/v1/history?limit=abc", nil)
	bad.Header.Set(sessionHeader, "s1")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, bad)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rr.Code)
	}
}

func TestFailureStatusMapping(t *testing.T) {
	cases := map[engine.FailureKind]struct {
		status    int
		retryable bool
	}{
		engine.FailureNoData:              {http.StatusNotFound, false},
		engine.FailureAllProvidersFailed:  {http.StatusBadGateway, true},
		engine.FailureSQLRejected:         {http.StatusUnprocessableEntity, false},
		engine.FailureExecutionTimeout:    {http.StatusGatewayTimeout, true},
		engine.FailureExecutionError:      {http.StatusBadRequest, false},
		engine.FailureMalformedSuggestion: {http.StatusBadGateway, true},
		engine.FailureEngineUnavailable:   {http.StatusNotImplemented, false},
		engine.FailureInvalidRequest:      {http.StatusBadRequest, false},
	}
	for kind, want := range cases {
		status, retryable := failureStatus(kind)
		if status != want.status || retryable != want.retryable {
			t.Fatalf("failureStatus(%s) = %d, %v", kind, status, retryable)
		}
	}
}

func postJSON(t *testing.T, h http.Handler, path, session, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionHeader, session)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
