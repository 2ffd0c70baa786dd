package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/duckquery/duckquery/internal/auth"
	"github.com/duckquery/duckquery/internal/catalog"
	"github.com/duckquery/duckquery/internal/dataset"
	"github.com/duckquery/duckquery/internal/engine"
	"github.com/duckquery/duckquery/internal/observability"
)

type translateRequest struct {
	Question   string   `json:"question"`
	TableNames []string `json:"table_names"`
}

type suggestRequest struct {
	TableNames []string `json:"table_names"`
}

type runRequest struct {
	SQL string `json:"sql"`
}

type queryResponse struct {
	Question        string         `json:"question,omitempty"`
	SQL             string         `json:"sql"`
	TableNames      []string       `json:"table_names"`
	Provider        string         `json:"provider,omitempty"`
	Columns         []string       `json:"columns"`
	Rows            [][]any        `json:"rows"`
	RowCount        int            `json:"row_count"`
	Truncated       bool           `json:"truncated"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	States          []engine.State `json:"states"`
}

func handleTranslateQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	store, sessionID, ok := queryPreamble(deps, w, r)
	if !ok {
		return
	}
	var request translateRequest
	if !decodeBody(w, r, &request) {
		return
	}

	start := time.Now()
	result := deps.Engine.Translate(r.Context(), store, engine.TranslateRequest{
		Question: request.Question,
		Tables:   request.TableNames,
	})
	recordHistory(r.Context(), deps, sessionID, "translate", result.Question, result, time.Since(start))
	writeTranslateResult(w, r, result)
}

func handleRunQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	store, sessionID, ok := queryPreamble(deps, w, r)
	if !ok {
		return
	}
	var request runRequest
	if !decodeBody(w, r, &request) {
		return
	}

	start := time.Now()
	result := deps.Engine.Run(r.Context(), store, engine.RunRequest{SQL: request.SQL})
	recordHistory(r.Context(), deps, sessionID, "run", "", result, time.Since(start))
	writeTranslateResult(w, r, result)
}

func handleSuggestQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	store, sessionID, ok := queryPreamble(deps, w, r)
	if !ok {
		return
	}
	var request suggestRequest
	if !decodeBody(w, r, &request) {
		return
	}

	start := time.Now()
	result := deps.Engine.Suggest(r.Context(), store, engine.SuggestRequest{Tables: request.TableNames})
	input := catalog.InsertQueryRecordInput{
		SessionID:  sessionID,
		Operation:  "suggest",
		Provider:   result.Provider,
		Outcome:    outcomeOf(result.Failure),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if result.Suggestion != nil {
		input.Question = result.Suggestion.Question
	}
	insertHistory(r.Context(), deps, input)

	if !result.OK() {
		writeFailure(w, r, result.Failure, result.States)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"question":    result.Suggestion.Question,
		"rationale":   result.Suggestion.Rationale,
		"table_names": result.Suggestion.Tables,
		"provider":    result.Provider,
		"states":      result.States,
	})
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "query history is not configured", false, nil)
		return
	}
	sessionID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}
	records, err := deps.History.ListQueryRecords(r.Context(), sessionID, catalog.NormalizeHistoryLimit(limit))
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list query history", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "records": records})
}

// queryPreamble resolves the session store for the engine. A store is only
// returned when it is non-nil so the engine never sees a typed nil.
func queryPreamble(deps Dependencies, w http.ResponseWriter, r *http.Request) (dataset.Store, string, bool) {
	if deps.Datasets == nil || deps.Engine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return nil, "", false
	}
	sessionID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return nil, "", false
	}
	store, err := deps.Datasets.Store(sessionID)
	if err != nil || store == nil {
		details := "session store is unavailable"
		if err != nil {
			details = err.Error()
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_UNAVAILABLE", "failed to open session store", true, map[string]any{"details": details})
		return nil, "", false
	}
	return store, sessionID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func writeTranslateResult(w http.ResponseWriter, r *http.Request, result engine.TranslateResult) {
	if !result.OK() {
		writeFailure(w, r, result.Failure, result.States)
		return
	}
	response := queryResponse{
		Question:        result.Question,
		SQL:             result.Candidate.Statement,
		TableNames:      result.Candidate.Tables,
		Provider:        result.Provider,
		Columns:         result.Outcome.Columns,
		Rows:            result.Outcome.Rows,
		RowCount:        result.Outcome.RowCount,
		Truncated:       result.Outcome.Truncated,
		ExecutionTimeMs: result.Outcome.ExecutionTime,
		States:          result.States,
	}
	writeJSON(w, http.StatusOK, response)
}

func writeFailure(w http.ResponseWriter, r *http.Request, failure *engine.Failure, states []engine.State) {
	status, retryable := failureStatus(failure.Kind)
	extra := map[string]any{"kind": failure.Kind, "states": states}
	if failure.Detail != "" {
		extra["detail"] = failure.Detail
	}
	if failure.Reason != "" {
		extra["reason"] = failure.Reason
	}
	writeError(r.Context(), w, status, strings.ToUpper(string(failure.Kind)), failure.Message, retryable, extra)
}

func failureStatus(kind engine.FailureKind) (int, bool) {
	switch kind {
	case engine.FailureNoData:
		return http.StatusNotFound, false
	case engine.FailureAllProvidersFailed:
		return http.StatusBadGateway, true
	case engine.FailureSQLRejected:
		return http.StatusUnprocessableEntity, false
	case engine.FailureExecutionTimeout:
		return http.StatusGatewayTimeout, true
	case engine.FailureMalformedSuggestion:
		return http.StatusBadGateway, true
	case engine.FailureEngineUnavailable:
		return http.StatusNotImplemented, false
	default:
		return http.StatusBadRequest, false
	}
}

func recordHistory(ctx context.Context, deps Dependencies, sessionID, operation, question string, result engine.TranslateResult, elapsed time.Duration) {
	input := catalog.InsertQueryRecordInput{
		SessionID:  sessionID,
		Operation:  operation,
		Question:   question,
		Provider:   result.Provider,
		Outcome:    outcomeOf(result.Failure),
		DurationMs: elapsed.Milliseconds(),
	}
	if result.Candidate != nil {
		input.SQL = result.Candidate.Statement
	}
	if result.Outcome != nil {
		input.RowCount = result.Outcome.RowCount
	}
	insertHistory(ctx, deps, input)
}

// insertHistory never fails the request; a lost history row is logged.
func insertHistory(ctx context.Context, deps Dependencies, input catalog.InsertQueryRecordInput) {
	if deps.History == nil {
		return
	}
	if _, err := deps.History.InsertQueryRecord(ctx, input); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(ctx, "failed to record query history",
			observability.TraceAttr(ctx),
			slog.String("session_id", input.SessionID),
			slog.String("operation", input.Operation),
			slog.String("error", err.Error()),
		)
	}
}

func outcomeOf(failure *engine.Failure) string {
	if failure == nil {
		return "ok"
	}
	return string(failure.Kind)
}
