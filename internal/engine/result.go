package engine

import (
	"github.com/duckquery/duckquery/internal/query"
	"github.com/duckquery/duckquery/internal/sqlguard"
)

type State string

const (
	StateIdle           State = "idle"
	StateSchemaResolved State = "schema_resolved"
	StateTranslating    State = "translating"
	StateSuggesting     State = "suggesting"
	StateValidated      State = "validated"
	StateExecuted       State = "executed"
	StateSuggested      State = "suggested"
	StateFailed         State = "failed"
)

type FailureKind string

const (
	FailureNoData              FailureKind = "no_data"
	FailureAllProvidersFailed  FailureKind = "all_providers_failed"
	FailureSQLRejected         FailureKind = "sql_rejected"
	FailureExecutionTimeout    FailureKind = "execution_timeout"
	FailureExecutionError      FailureKind = "execution_error"
	FailureMalformedSuggestion FailureKind = "malformed_suggestion"
	FailureInvalidRequest      FailureKind = "invalid_request"
	FailureEngineUnavailable   FailureKind = "engine_unavailable"
)

// Failure is a human-readable, caller-recoverable error outcome.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Detail  string      `json:"detail,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return f.Message
	}
	return f.Message + ": " + f.Detail
}

type TranslateRequest struct {
	Question string
	Tables   []string
}

type RunRequest struct {
	SQL string
}

type TranslateResult struct {
	Question  string              `json:"question,omitempty"`
	Candidate *sqlguard.Candidate `json:"candidate,omitempty"`
	Outcome   *query.Outcome      `json:"outcome,omitempty"`
	Provider  string              `json:"provider,omitempty"`
	States    []State             `json:"states"`
	Failure   *Failure            `json:"failure,omitempty"`
}

func (r TranslateResult) OK() bool {
	return r.Failure == nil
}

type SuggestRequest struct {
	Tables []string
}

// Suggestion is never executed by the engine.
type Suggestion struct {
	Question  string   `json:"question"`
	Rationale string   `json:"rationale"`
	Tables    []string `json:"table_names"`
}

type SuggestResult struct {
	Suggestion *Suggestion `json:"suggestion,omitempty"`
	Provider   string      `json:"provider,omitempty"`
	States     []State     `json:"states"`
	Failure    *Failure    `json:"failure,omitempty"`
}

func (r SuggestResult) OK() bool {
	return r.Failure == nil
}
