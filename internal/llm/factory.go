package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Options struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Logger     *zap.Logger
}

// New builds a provider client wrapped with the per-call timeout and retry
// policy.
func New(ctx context.Context, opts Options) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = "openai"
	}

	var base Client
	switch provider {
	case "openai":
		base = NewOpenAIClient(opts.APIKey, opts.Model, opts.BaseURL, opts.Timeout)
	case "gemini":
		g, err := NewGeminiClient(ctx, opts.APIKey, opts.Model)
		if err != nil {
			return nil, err
		}
		base = g
	default:
		return nil, fmt.Errorf("unsupported text service provider: %s", opts.Provider)
	}

	c := WithTimeout(base, opts.Timeout)
	return WithRetry(c, opts.MaxRetries+1, 2*time.Second, opts.Logger), nil
}
