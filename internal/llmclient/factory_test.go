package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/config"
)

// -- Test Cases: Factory Initialization (NewClient) --

func TestNewClient_Success_RouterInitialization(t *testing.T) {
	logger := setupTestLogger(t)
	ctx := context.Background()

	fastConfig := getValidLLMConfig()
	fastConfig.Model = "gemini-flash"
	fastConfig.APIKey = "key-fast"

	powerfulConfig := getValidLLMConfig()
	powerfulConfig.Provider = config.ProviderAnthropic
	powerfulConfig.Model = "claude-test"
	powerfulConfig.APIKey = "key-powerful"

	const fastName = "FastAlias"
	const powerfulName = "PowerfulAlias"

	cfg := config.AgentConfig{
		LLM: config.LLMRouterConfig{
			DefaultFastModel:     fastName,
			DefaultPowerfulModel: powerfulName,
			Models: map[string]config.LLMModelConfig{
				fastName:     fastConfig,
				powerfulName: powerfulConfig,
			},
		},
	}

	client, err := NewClient(ctx, cfg, logger)
	require.NoError(t, err, "NewClient should succeed for a valid configuration")
	require.NotNil(t, client)
	t.Cleanup(func() { client.Close() })

	router, ok := client.(*LLMRouter)
	require.True(t, ok, "The created client should be of type *LLMRouter")

	fastClient, okFast := router.clients[schemas.TierFast].(*GoogleClient)
	require.True(t, okFast, "Fast client should be an instance of *GoogleClient")
	assert.Equal(t, "gemini-flash", fastClient.config.Model)
	assert.Equal(t, "key-fast", fastClient.config.APIKey)
	assert.NotNil(t, fastClient.client, "SDK client should be initialized")

	powerfulClient, okPowerful := router.clients[schemas.TierPowerful].(*AnthropicClient)
	require.True(t, okPowerful, "Powerful client should be an instance of *AnthropicClient")
	assert.Equal(t, "claude-test", powerfulClient.config.Model)
}

func TestNewClient_SharedModelBuiltOnce(t *testing.T) {
	model := getValidLLMConfig()
	cfg := config.AgentConfig{LLM: config.LLMRouterConfig{
		DefaultFastModel:     "only",
		DefaultPowerfulModel: "only",
		Models:               map[string]config.LLMModelConfig{"only": model},
	}}

	client, err := NewClient(context.Background(), cfg, setupTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	router := client.(*LLMRouter)
	assert.Same(t, router.clients[schemas.TierFast], router.clients[schemas.TierPowerful])
}

func TestNewClient_Failure_MissingConfiguration(t *testing.T) {
	logger := setupTestLogger(t)
	ctx := context.Background()
	validConfig := getValidLLMConfig()
	const validName = "ValidModel"

	tests := []struct {
		name          string
		routerConfig  config.LLMRouterConfig
		expectedError string
	}{
		{
			name: "Missing DefaultFastModel Name",
			routerConfig: config.LLMRouterConfig{
				DefaultPowerfulModel: validName,
				Models:               map[string]config.LLMModelConfig{validName: validConfig},
			},
			expectedError: "configuration error: DefaultFastModel is not specified in LLMRouterConfig",
		},
		{
			name: "Missing DefaultPowerfulModel Name",
			routerConfig: config.LLMRouterConfig{
				DefaultFastModel: validName,
				Models:           map[string]config.LLMModelConfig{validName: validConfig},
			},
			expectedError: "configuration error: DefaultPowerfulModel is not specified in LLMRouterConfig",
		},
		{
			name: "DefaultFastModel Not Found in Map",
			routerConfig: config.LLMRouterConfig{
				DefaultFastModel:     "MissingModel",
				DefaultPowerfulModel: validName,
				Models:               map[string]config.LLMModelConfig{validName: validConfig},
			},
			expectedError: "configuration error: DefaultFastModel 'MissingModel' not found in the models map",
		},
		{
			name:          "Empty Router Config",
			routerConfig:  config.LLMRouterConfig{},
			expectedError: "configuration error: DefaultFastModel is not specified in LLMRouterConfig",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(ctx, config.AgentConfig{LLM: tt.routerConfig}, logger)
			assert.Nil(t, client)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.expectedError)
		})
	}
}

func TestNewClient_Failure_ProviderInitializationError(t *testing.T) {
	invalidConfig := getValidLLMConfig()
	invalidConfig.APIKey = ""

	cfg := config.AgentConfig{LLM: config.LLMRouterConfig{
		DefaultFastModel:     "InvalidConfig",
		DefaultPowerfulModel: "ValidConfig",
		Models: map[string]config.LLMModelConfig{
			"InvalidConfig": invalidConfig,
			"ValidConfig":   getValidLLMConfig(),
		},
	}}

	client, err := NewClient(context.Background(), cfg, setupTestLogger(t))
	assert.Nil(t, client)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "failed to initialize Fast tier LLM client (Model: InvalidConfig):")
	assert.Contains(t, err.Error(), "failed to create chat api for gemini")
	assert.Contains(t, err.Error(), "Google/Gemini API Key is required")
}

func TestNewClient_Failure_UnsupportedProvider(t *testing.T) {
	unsupportedConfig := getValidLLMConfig()
	unsupportedConfig.Provider = "unsupported-provider-xyz"

	cfg := config.AgentConfig{LLM: config.LLMRouterConfig{
		DefaultFastModel:     "Valid",
		DefaultPowerfulModel: "Unsupported",
		Models: map[string]config.LLMModelConfig{
			"Valid":       getValidLLMConfig(),
			"Unsupported": unsupportedConfig,
		},
	}}

	client, err := NewClient(context.Background(), cfg, setupTestLogger(t))
	assert.Nil(t, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize Powerful tier LLM client (Model: Unsupported):")
	assert.Contains(t, err.Error(), "unknown or unsupported LLM provider configured: 'unsupported-provider-xyz'")
	assert.Contains(t, err.Error(), string(config.ProviderAnthropic), "Error message should list supported providers")
}

func TestNewClient_Failure_MissingProviderField(t *testing.T) {
	missingProviderConfig := getValidLLMConfig()
	missingProviderConfig.Provider = ""

	cfg := config.AgentConfig{LLM: config.LLMRouterConfig{
		DefaultFastModel:     "MissingProvider",
		DefaultPowerfulModel: "Valid",
		Models: map[string]config.LLMModelConfig{
			"Valid":           getValidLLMConfig(),
			"MissingProvider": missingProviderConfig,
		},
	}}

	client, err := NewClient(context.Background(), cfg, setupTestLogger(t))
	assert.Nil(t, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize Fast tier LLM client (Model: MissingProvider):")
	assert.Contains(t, err.Error(), "LLM provider is not specified in the model configuration")
}

func TestNewModelClient_Providers(t *testing.T) {
	ctx := context.Background()
	logger := setupTestLogger(t)

	t.Run("ollama needs no key and gets a default endpoint", func(t *testing.T) {
		cfg := config.LLMModelConfig{Provider: config.ProviderOllama, Model: "llama3"}
		client, err := NewModelClient(ctx, cfg, logger)
		require.NoError(t, err)
		assert.IsType(t, &OpenAIClient{}, client)
	})

	t.Run("custom requires an endpoint", func(t *testing.T) {
		cfg := config.LLMModelConfig{Provider: config.ProviderCustom, Model: "m"}
		_, err := NewModelClient(ctx, cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create chat api for custom")
	})

	t.Run("openai requires a key", func(t *testing.T) {
		cfg := config.LLMModelConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o"}
		_, err := NewModelClient(ctx, cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OpenAI API Key is required")
	})

	t.Run("throttled when requests_per_second is set", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.RequestsPerSecond = 2
		client, err := NewModelClient(ctx, cfg, logger)
		require.NoError(t, err)
		throttled, ok := client.(*throttledClient)
		require.True(t, ok)
		assert.IsType(t, &GoogleClient{}, throttled.LLMClient)
	})
}
