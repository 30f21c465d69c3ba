// Package llm provides factory functions for creating completion providers.
package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/chatguard/internal/adapters/driven/llm/ollama"
	"github.com/custodia-labs/chatguard/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/core/ports/driven"
)

// pingTimeout is the maximum time to wait for provider connectivity validation.
const pingTimeout = 5 * time.Second

// CreateProvider creates the completion provider selected by settings,
// throttled when RequestsPerSecond is set. Returns nil if the provider is
// not configured.
func CreateProvider(settings *domain.LLMSettings) (driven.CompletionProvider, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	var provider driven.CompletionProvider
	switch settings.Provider {
	case domain.AIProviderOpenAI:
		p, err := openai.NewProvider(openai.Config{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
			Timeout: settings.Timeout,
		})
		if err != nil {
			return nil, err
		}
		provider = p

	case domain.AIProviderOllama:
		provider = ollama.NewProvider(ollama.Config{
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
			Timeout: settings.Timeout,
		})

	default:
		return nil, fmt.Errorf("%w: llm provider %q", domain.ErrUnsupportedType, settings.Provider)
	}

	if settings.RequestsPerSecond > 0 {
		provider = WithRateLimit(provider, settings.RequestsPerSecond)
	}
	return provider, nil
}

// CreateAndValidateProvider creates a provider and validates connectivity.
// Returns nil without error when no provider is configured.
func CreateAndValidateProvider(ctx context.Context, settings *domain.LLMSettings) (driven.CompletionProvider, error) {
	provider, err := CreateProvider(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
	if provider == nil {
		return nil, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := provider.Ping(pingCtx); err != nil {
		provider.Close()
		return nil, fmt.Errorf("%w: service unreachable (%w)", domain.ErrProviderUnavailable, err)
	}
	return provider, nil
}

// rateLimited throttles calls to an underlying provider. Pings are not counted.
type rateLimited struct {
	driven.CompletionProvider
	limiter *rate.Limiter
}

// WithRateLimit wraps provider so that Complete and Stream wait for a token.
// Waits respect ctx cancellation.
func WithRateLimit(provider driven.CompletionProvider, requestsPerSecond float64) driven.CompletionProvider {
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{
		CompletionProvider: provider,
		limiter:            rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (r *rateLimited) Complete(ctx context.Context, req driven.CompletionRequest) (*driven.Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.CompletionProvider.Complete(ctx, req)
}

func (r *rateLimited) Stream(ctx context.Context, req driven.CompletionRequest) (driven.CompletionStream, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.CompletionProvider.Stream(ctx, req)
}
