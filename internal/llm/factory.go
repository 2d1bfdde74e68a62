package llm

import (
	"context"
	"fmt"

	"auditflow/internal/config"

	"go.uber.org/zap"
)

// FromConfig builds the configured client with logging, per-model quota
// throttling and retries layered on top.
func FromConfig(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Client, error) {
	var inner Client
	switch cfg.Provider {
	case "fake":
		inner = NewFakeClient()
	case "gemini", "":
		g, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		inner = g
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	return Wrap(inner,
		Logging(logger),
		Throttle(NewQuota(cfg.RPS, cfg.Burst)),
		Retry(cfg.Retries+1, cfg.RetryBaseDelay),
	), nil
}
