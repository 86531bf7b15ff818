package provider

import (
	"context"
	"fmt"
	"time"
)

// Options selects and configures a concrete provider.
type Options struct {
	// Provider is one of "gemini", "anthropic", "openai".
	Provider string
	Model    string
	APIKey   string
	// BaseURL overrides the API host for OpenAI-compatible gateways.
	BaseURL string
	// OnRetry, when set, observes retry attempts across all calls.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// New builds the provider named in opts, wrapped with the default retry
// policies.
func New(ctx context.Context, opts Options) (Provider, error) {
	var (
		inner Provider
		err   error
	)
	switch opts.Provider {
	case "gemini":
		inner, err = NewGeminiProvider(ctx, opts.APIKey, opts.Model)
	case "anthropic":
		inner, err = NewAnthropicProvider(opts.APIKey, opts.Model)
	case "openai":
		inner, err = NewOpenAIProvider(opts.APIKey, opts.Model, opts.BaseURL)
	default:
		return nil, fmt.Errorf("unknown provider %q (want gemini, anthropic or openai)", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithRetry(inner, opts.OnRetry), nil
}
