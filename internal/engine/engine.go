package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/duckquery/duckquery/internal/dataset"
	"github.com/duckquery/duckquery/internal/generation"
	"github.com/duckquery/duckquery/internal/observability"
	"github.com/duckquery/duckquery/internal/prompt"
	"github.com/duckquery/duckquery/internal/query"
	"github.com/duckquery/duckquery/internal/schema"
	"github.com/duckquery/duckquery/internal/sqlguard"
)

// Generator is satisfied by *generation.Router.
type Generator interface {
	Generate(ctx context.Context, p prompt.Prompt) generation.Result
}

type Config struct {
	TranslateTemperature float64
	SuggestTemperature   float64
}

// Engine composes schema, prompt, generation, validation and execution. It
// holds no per-call state.
type Engine struct {
	generator Generator
	executor  *query.Executor
	cfg       Config
	logger    *slog.Logger
}

func New(generator Generator, executor *query.Executor, cfg Config, logger *slog.Logger) *Engine {
	if executor == nil {
		executor = query.NewExecutor(0, 0)
	}
	if cfg.TranslateTemperature == 0 {
		cfg.TranslateTemperature = prompt.DefaultTranslateTemperature
	}
	if cfg.SuggestTemperature == 0 {
		cfg.SuggestTemperature = prompt.DefaultSuggestTemperature
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{generator: generator, executor: executor, cfg: cfg, logger: logger}
}

func (e *Engine) Translate(ctx context.Context, store dataset.Store, req TranslateRequest) TranslateResult {
	result := TranslateResult{Question: strings.TrimSpace(req.Question), States: []State{StateIdle}}
	fail := func(failure *Failure) TranslateResult {
		result.States = append(result.States, StateFailed)
		result.Failure = failure
		e.finish(ctx, "translate", failure)
		return result
	}

	if result.Question == "" {
		return fail(&Failure{Kind: FailureInvalidRequest, Message: "question is required"})
	}
	snapshot, failure := e.resolveSchema(ctx, store, req.Tables)
	if failure != nil {
		return fail(failure)
	}
	result.States = append(result.States, StateSchemaResolved)
	if e.generator == nil {
		return fail(&Failure{Kind: FailureEngineUnavailable, Message: "natural language translation is not configured"})
	}

	p, err := prompt.Build(prompt.Request{
		Snapshot:    snapshot,
		Question:    result.Question,
		Mode:        prompt.ModeTranslate,
		Temperature: &e.cfg.TranslateTemperature,
	})
	if err != nil {
		return fail(promptFailure(err))
	}
	result.States = append(result.States, StateTranslating)

	generated := e.generator.Generate(ctx, p)
	if !generated.Success {
		return fail(generationFailure(generated))
	}
	result.Provider = generated.Provider

	candidate := sqlguard.Extract(generated.Text, snapshot)
	if !candidate.Accepted() {
		result.Candidate = &sqlguard.Candidate{Verdict: candidate.Verdict, Reason: candidate.Reason, Detail: candidate.Detail}
		return fail(rejectionFailure(candidate))
	}
	result.Candidate = &candidate
	result.States = append(result.States, StateValidated)

	return e.execute(ctx, "translate", store, candidate, result, fail)
}

// Run validates and executes caller-supplied SQL without generation.
func (e *Engine) Run(ctx context.Context, store dataset.Store, req RunRequest) TranslateResult {
	result := TranslateResult{States: []State{StateIdle}}
	fail := func(failure *Failure) TranslateResult {
		result.States = append(result.States, StateFailed)
		result.Failure = failure
		e.finish(ctx, "run", failure)
		return result
	}

	if strings.TrimSpace(req.SQL) == "" {
		return fail(&Failure{Kind: FailureInvalidRequest, Message: "sql is required"})
	}
	snapshot, failure := e.resolveSchema(ctx, store, nil)
	if failure != nil {
		return fail(failure)
	}
	result.States = append(result.States, StateSchemaResolved)

	candidate := sqlguard.Extract(req.SQL, snapshot)
	if !candidate.Accepted() {
		result.Candidate = &sqlguard.Candidate{Verdict: candidate.Verdict, Reason: candidate.Reason, Detail: candidate.Detail}
		return fail(rejectionFailure(candidate))
	}
	result.Candidate = &candidate
	result.States = append(result.States, StateValidated)

	return e.execute(ctx, "run", store, candidate, result, fail)
}

func (e *Engine) execute(ctx context.Context, operation string, store dataset.Store, candidate sqlguard.Candidate, result TranslateResult, fail func(*Failure) TranslateResult) TranslateResult {
	outcome, err := e.executor.Execute(ctx, store, candidate)
	if err != nil {
		var execErr *query.ExecutionError
		switch {
		case errors.Is(err, query.ErrExecutionTimeout):
			return fail(&Failure{Kind: FailureExecutionTimeout, Message: "query took too long and was cancelled"})
		case errors.As(err, &execErr):
			return fail(&Failure{Kind: FailureExecutionError, Message: "query failed to execute", Detail: execErr.Detail})
		default:
			return fail(&Failure{Kind: FailureExecutionError, Message: "query failed to execute", Detail: err.Error()})
		}
	}
	result.Outcome = &outcome
	result.States = append(result.States, StateExecuted)
	e.finish(ctx, operation, nil)
	return result
}

func (e *Engine) Suggest(ctx context.Context, store dataset.Store, req SuggestRequest) SuggestResult {
	result := SuggestResult{States: []State{StateIdle}}
	fail := func(failure *Failure) SuggestResult {
		result.States = append(result.States, StateFailed)
		result.Failure = failure
		e.finish(ctx, "suggest", failure)
		return result
	}

	snapshot, failure := e.resolveSchema(ctx, store, req.Tables)
	if failure != nil {
		return fail(failure)
	}
	result.States = append(result.States, StateSchemaResolved)
	if e.generator == nil {
		return fail(&Failure{Kind: FailureEngineUnavailable, Message: "query suggestions are not configured"})
	}

	p, err := prompt.Build(prompt.Request{
		Snapshot:    snapshot,
		Mode:        prompt.ModeSuggest,
		Temperature: &e.cfg.SuggestTemperature,
	})
	if err != nil {
		return fail(promptFailure(err))
	}
	result.States = append(result.States, StateSuggesting)

	generated := e.generator.Generate(ctx, p)
	if !generated.Success {
		return fail(generationFailure(generated))
	}
	result.Provider = generated.Provider

	suggestion, err := ParseSuggestion(generated.Text, snapshot)
	if err != nil {
		return fail(&Failure{Kind: FailureMalformedSuggestion, Message: err.Error()})
	}
	result.Suggestion = &suggestion
	result.States = append(result.States, StateSuggested)
	e.finish(ctx, "suggest", nil)
	return result
}

func (e *Engine) resolveSchema(ctx context.Context, store dataset.Store, tables []string) (schema.Snapshot, *Failure) {
	if store == nil {
		return schema.Snapshot{}, &Failure{Kind: FailureNoData, Message: "no data loaded"}
	}
	snapshot, err := schema.NewCatalog(store).Snapshot(ctx)
	if err != nil {
		if errors.Is(err, schema.ErrNoData) {
			return schema.Snapshot{}, &Failure{Kind: FailureNoData, Message: "no data loaded"}
		}
		return schema.Snapshot{}, &Failure{Kind: FailureExecutionError, Message: "could not read dataset schema", Detail: err.Error()}
	}
	filtered := snapshot.Filter(tables)
	if filtered.Empty() {
		return schema.Snapshot{}, &Failure{Kind: FailureNoData, Message: "none of the requested tables are loaded"}
	}
	return filtered, nil
}

func (e *Engine) finish(ctx context.Context, operation string, failure *Failure) {
	outcome := "ok"
	if failure != nil {
		outcome = string(failure.Kind)
	}
	observability.ObserveEngineOutcome(operation, outcome)
	if failure == nil {
		e.logger.DebugContext(ctx, "engine request completed",
			observability.TraceAttr(ctx),
			slog.String("operation", operation),
		)
		return
	}
	e.logger.InfoContext(ctx, "engine request failed",
		observability.TraceAttr(ctx),
		slog.String("operation", operation),
		slog.String("kind", string(failure.Kind)),
		slog.String("reason", failure.Reason),
	)
}

func promptFailure(err error) *Failure {
	if errors.Is(err, schema.ErrNoData) {
		return &Failure{Kind: FailureNoData, Message: "no data loaded"}
	}
	return &Failure{Kind: FailureInvalidRequest, Message: err.Error()}
}

// generationFailure reports provider names and error kinds only. Raw
// provider output is never echoed.
func generationFailure(result generation.Result) *Failure {
	parts := make([]string, 0, len(result.Attempts))
	for _, attempt := range result.Attempts {
		kind := string(generation.ErrorKindUnknown)
		var providerErr *generation.ProviderError
		if errors.As(attempt.Err, &providerErr) {
			kind = string(providerErr.Kind)
		}
		parts = append(parts, fmt.Sprintf("%s: %s", attempt.Provider, kind))
	}
	detail := strings.Join(parts, ", ")
	if detail == "" {
		detail = "no providers available"
	}
	return &Failure{Kind: FailureAllProvidersFailed, Message: "every language model provider failed", Detail: detail}
}

func rejectionFailure(candidate sqlguard.Candidate) *Failure {
	observability.IncrementSQLRejection(string(candidate.Reason))
	return &Failure{
		Kind:    FailureSQLRejected,
		Message: "SQL statement was rejected",
		Detail:  candidate.Detail,
		Reason:  string(candidate.Reason),
	}
}
