// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, EngineChromedp, cfg.Browser.Engine)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 45*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 2, cfg.Agent.MaxConsecutiveFailures)
	assert.Equal(t, 5, cfg.Agent.HistoryWindow)
	assert.Equal(t, "gemini-2.5-pro", cfg.Agent.LLM.DefaultPowerfulModel)
	assert.Equal(t, 10, cfg.Session.MaxIterations)
	assert.False(t, cfg.CollectiveMemory.Enabled())
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		badEngine := *cfg
		badEngine.Browser.Engine = "rod"
		err := badEngine.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.engine")

		badIter := *cfg
		badIter.Session.MaxIterations = 0
		err = badIter.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session.max_iterations must be at least 1")
	})

	t.Run("Agent Validation", func(t *testing.T) {
		agent := NewDefaultConfig().Agent
		require.NoError(t, agent.Validate())

		noFailures := agent
		noFailures.MaxConsecutiveFailures = 0
		assert.ErrorContains(t, noFailures.Validate(), "max_consecutive_failures")

		noWindow := agent
		noWindow.HistoryWindow = 0
		assert.ErrorContains(t, noWindow.Validate(), "history_window")

		emptyKind := agent
		emptyKind.FatalActionErrors = map[string][]string{" ": {"TARGET_CRASHED"}}
		assert.ErrorContains(t, emptyKind.Validate(), "empty action kind")
	})

	t.Run("Model Validation", func(t *testing.T) {
		cases := []struct {
			name    string
			model   LLMModelConfig
			wantErr string
		}{
			{"valid openai", LLMModelConfig{Provider: ProviderOpenAI, Model: "gpt-4o", APIKey: "k"}, ""},
			{"ollama without key", LLMModelConfig{Provider: ProviderOllama, Model: "llama3"}, ""},
			{"custom without endpoint", LLMModelConfig{Provider: ProviderCustom, Model: "m"}, "endpoint is required"},
			{"anthropic without key", LLMModelConfig{Provider: ProviderAnthropic, Model: "claude"}, "api_key is required"},
			{"unknown provider", LLMModelConfig{Provider: "bard", Model: "x", APIKey: "k"}, "unsupported provider"},
			{"missing model", LLMModelConfig{Provider: ProviderGemini, APIKey: "k"}, "model is required"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				err := tc.model.Validate()
				if tc.wantErr == "" {
					assert.NoError(t, err)
					return
				}
				assert.ErrorContains(t, err, tc.wantErr)
			})
		}
	})
}

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  engine: playwright
  headless: false
agent:
  max_consecutive_failures: 3
session:
  start_url: https://practicetestautomation.com/practice-test-login/
  objective:
    - login to the app
  inventory:
    - name: Username
      value: student
      type: string
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, EnginePlaywright, cfg.Browser.Engine)
		assert.False(t, cfg.Browser.Headless)
		assert.Equal(t, 3, cfg.Agent.MaxConsecutiveFailures)
		assert.Equal(t, []string{"login to the app"}, cfg.Session.Objective)
		require.Len(t, cfg.Session.Inventory, 1)
		assert.Equal(t, "Username", cfg.Session.Inventory[0].Name)
		assert.Equal(t, "student", cfg.Session.Inventory[0].Value)
		// Check a default value was also loaded
		assert.Equal(t, "info", cfg.Logger.Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("agent.history_window", 0) // Intentionally invalid

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "history_window must be at least 1")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		yamlConfig := []byte(`
database:
  url: "postgres://configfile/db"
`)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		t.Setenv("HDR_API_KEY", "hdr-key")
		t.Setenv("HDR_DATABASE_URL", "postgres://envvar/db")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "hdr-key", cfg.CollectiveMemory.APIKey)
		// The hosted endpoint is filled in when only the key is given.
		assert.Equal(t, DefaultCollectiveMemoryEndpoint, cfg.CollectiveMemory.Endpoint)
		assert.True(t, cfg.CollectiveMemory.Enabled())
		// The env var overrides the value from the config buffer.
		assert.Equal(t, "postgres://envvar/db", cfg.Database.URL)
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/app.log
agent:
  llm:
    models:
      local:
        provider: ollama
        model: llama3.1
        endpoint: http://localhost:11434/v1
        api_timeout: 30s
  fatal_action_errors:
    Goto: ["NAVIGATION_ERROR"]
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "/var/log/app.log", cfg.Logger.LogFile)
	local, ok := cfg.Agent.LLM.Models["local"]
	require.True(t, ok)
	assert.Equal(t, ProviderOllama, local.Provider)
	assert.Equal(t, 30*time.Second, local.APITimeout)
	assert.False(t, local.Provider.RequiresAPIKey())
	// viper lowercases map keys.
	assert.Equal(t, []string{"NAVIGATION_ERROR"}, cfg.Agent.FatalActionErrors["goto"])
}
