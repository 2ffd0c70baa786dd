package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/duckquery/duckquery/internal/observability"
	"github.com/duckquery/duckquery/internal/prompt"
)

var (
	ErrAllProvidersFailed = errors.New("all generation providers failed")
	ErrEmptyResponse      = errors.New("provider returned empty text")
)

// Provider is a single text-generation backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, p prompt.Prompt) (string, error)
}

type Attempt struct {
	Provider string
	Err      error
	Duration time.Duration
}

type Result struct {
	Text     string
	Provider string
	Success  bool
	Err      error
	Attempts []Attempt
}

const DefaultTimeout = 30 * time.Second

// Router tries providers in a fixed order and returns the first non-empty answer.
type Router struct {
	providers []Provider
	timeout   time.Duration
	logger    *slog.Logger
}

func NewRouter(providers []Provider, timeout time.Duration, logger *slog.Logger) *Router {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ordered := make([]Provider, 0, len(providers))
	for _, provider := range providers {
		if provider != nil {
			ordered = append(ordered, provider)
		}
	}
	return &Router{providers: ordered, timeout: timeout, logger: logger}
}

func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, provider := range r.providers {
		names = append(names, provider.Name())
	}
	return names
}

// Generate never retries a provider. A timeout, error or blank answer
// advances to the next provider.
func (r *Router) Generate(ctx context.Context, p prompt.Prompt) Result {
	attempts := make([]Attempt, 0, len(r.providers))
	causes := make([]error, 0, len(r.providers))

	for _, provider := range r.providers {
		if err := ctx.Err(); err != nil {
			causes = append(causes, fmt.Errorf("caller context: %w", err))
			break
		}

		start := time.Now()
		text, err := r.attempt(ctx, provider, p)
		elapsed := time.Since(start)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				err = ErrEmptyResponse
			}
		}
		observability.ObserveGenerationAttempt(provider.Name(), err == nil, elapsed)

		if err != nil {
			classified := ClassifyError(provider.Name(), err)
			attempts = append(attempts, Attempt{Provider: provider.Name(), Err: classified, Duration: elapsed})
			causes = append(causes, classified)
			r.logger.WarnContext(ctx, "generation provider failed",
				observability.TraceAttr(ctx),
				slog.String("provider", provider.Name()),
				slog.String("kind", string(classified.Kind)),
				slog.String("duration", elapsed.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		attempts = append(attempts, Attempt{Provider: provider.Name(), Duration: elapsed})
		r.logger.DebugContext(ctx, "generation provider succeeded",
			observability.TraceAttr(ctx),
			slog.String("provider", provider.Name()),
			slog.String("mode", string(p.Mode)),
			slog.String("duration", elapsed.String()),
		)
		return Result{
			Text:     text,
			Provider: provider.Name(),
			Success:  true,
			Attempts: attempts,
		}
	}

	err := ErrAllProvidersFailed
	if len(causes) > 0 {
		err = fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(causes...))
	}
	return Result{Success: false, Err: err, Attempts: attempts}
}

func (r *Router) attempt(ctx context.Context, provider Provider, p prompt.Prompt) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- outcome{err: fmt.Errorf("provider panic: %v", recovered)}
			}
		}()
		text, err := provider.Complete(callCtx, p)
		done <- outcome{text: text, err: err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-callCtx.Done():
		return "", fmt.Errorf("provider %s: %w", provider.Name(), callCtx.Err())
	}
}
