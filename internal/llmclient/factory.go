package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/config"
)

// ErrConfiguration marks failures to build a client from configuration.
var ErrConfiguration = errors.New("configuration error")

// NewClient builds the tiered router described by the agent configuration.
// Models shared by both tiers are only instantiated once.
func NewClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	routerCfg := cfg.LLM

	fastName, err := resolveModel(routerCfg, "DefaultFastModel", routerCfg.DefaultFastModel)
	if err != nil {
		return nil, err
	}
	powerfulName, err := resolveModel(routerCfg, "DefaultPowerfulModel", routerCfg.DefaultPowerfulModel)
	if err != nil {
		return nil, err
	}

	fast, err := NewModelClient(ctx, routerCfg.Models[fastName], logger)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize Fast tier LLM client (Model: %s): %w", ErrConfiguration, fastName, err)
	}

	powerful := fast
	if powerfulName != fastName {
		powerful, err = NewModelClient(ctx, routerCfg.Models[powerfulName], logger)
		if err != nil {
			_ = fast.Close()
			return nil, fmt.Errorf("%w: failed to initialize Powerful tier LLM client (Model: %s): %w", ErrConfiguration, powerfulName, err)
		}
	}

	return NewLLMRouter(logger, fast, powerful)
}

func resolveModel(cfg config.LLMRouterConfig, field, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: %s is not specified in LLMRouterConfig", ErrConfiguration, field)
	}
	if _, ok := cfg.Models[name]; !ok {
		return "", fmt.Errorf("%w: %s '%s' not found in the models map", ErrConfiguration, field, name)
	}
	return name, nil
}

// NewModelClient creates the provider client for a single model entry,
// throttled when the entry sets requests_per_second.
func NewModelClient(ctx context.Context, mcfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	var (
		client schemas.LLMClient
		err    error
	)
	switch mcfg.Provider {
	case "":
		return nil, fmt.Errorf("LLM provider is not specified in the model configuration")
	case config.ProviderGemini:
		client, err = NewGoogleClient(ctx, mcfg, logger)
	case config.ProviderOpenAI, config.ProviderOllama, config.ProviderCustom:
		client, err = NewOpenAIClient(mcfg, logger)
	case config.ProviderAnthropic:
		client, err = NewAnthropicClient(mcfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s, %s, %s]",
			mcfg.Provider, config.ProviderGemini, config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderOllama, config.ProviderCustom)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create chat api for %s: %w", mcfg.Provider, err)
	}
	if mcfg.RequestsPerSecond > 0 {
		client = newThrottledClient(client, mcfg.RequestsPerSecond)
	}
	return client, nil
}
