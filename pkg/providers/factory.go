package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/HKUDS/secretary-go/pkg/config"
)

const openRouterBase = "https://openrouter.ai/api/v1"

// NewProvider creates the LLM provider named by the configuration.
func NewProvider(ctx context.Context, cfg config.LLMConfig) (LLMProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", cfg.Provider)
	}

	switch cfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
	case config.ProviderDeepSeek:
		return NewDeepSeekProvider(cfg.APIKey, cfg.Model)
	case config.ProviderOpenAI:
		p := NewOpenAIProvider(cfg.APIKey, cfg.APIBase, cfg.Model)
		p.Client = &http.Client{Timeout: cfg.Timeout}
		return p, nil
	case config.ProviderOpenRouter:
		base := cfg.APIBase
		if base == "" {
			base = openRouterBase
		}
		p := NewOpenAIProvider(cfg.APIKey, base, cfg.Model)
		p.Client = &http.Client{Timeout: cfg.Timeout}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
