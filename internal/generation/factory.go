package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/duckquery/duckquery/internal/config"
)

var ErrNoProviderConfigured = errors.New("no LLM API key configured")

var defaultProviderOrder = []string{"openai", "anthropic", "gemini"}

// NewProviders builds the ordered provider list from configuration. Providers
// without an API key are skipped.
func NewProviders(ctx context.Context, cfg config.AIConfig) ([]Provider, error) {
	order := cfg.Providers
	if len(order) == 0 {
		order = defaultProviderOrder
	}

	providers := make([]Provider, 0, len(order))
	seen := map[string]bool{}
	for _, name := range order {
		name = strings.ToLower(strings.TrimSpace(name))
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case "openai":
			if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
				continue
			}
			provider, err := NewOpenAIProvider(OpenAIConfig{
				BaseURL:   cfg.OpenAI.BaseURL,
				APIKey:    cfg.OpenAI.APIKey,
				Model:     cfg.OpenAI.Model,
				MaxTokens: cfg.MaxTokens,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, provider)
		case "anthropic":
			if strings.TrimSpace(cfg.Anthropic.APIKey) == "" {
				continue
			}
			provider, err := NewAnthropicProvider(AnthropicConfig{
				APIKey:    cfg.Anthropic.APIKey,
				Model:     cfg.Anthropic.Model,
				MaxTokens: cfg.MaxTokens,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, provider)
		case "gemini":
			if strings.TrimSpace(cfg.Gemini.APIKey) == "" {
				continue
			}
			provider, err := NewGeminiProvider(ctx, GeminiConfig{
				APIKey:    cfg.Gemini.APIKey,
				Model:     cfg.Gemini.Model,
				MaxTokens: cfg.MaxTokens,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, provider)
		default:
			return nil, fmt.Errorf("unknown generation provider %q", name)
		}
	}

	if len(providers) == 0 {
		return nil, ErrNoProviderConfigured
	}
	return providers, nil
}
