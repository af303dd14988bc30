package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/hdr-browser/internal/agentbrowser"
	"github.com/xkilldash9x/hdr-browser/internal/config"
	"github.com/xkilldash9x/hdr-browser/internal/llmclient"
)

const replyHeading = `{"kind":"ObjectiveComplete","progressAssessment":"The heading is visible","result":{"heading":"Example Domain"}}`

func TestBrowse_CompletesObjective(t *testing.T) {
	h := stubCollaborators(t, false, "", replyHeading)
	cfgPath := createTempConfig(t, baseConfig)

	stdout, stderr, err := executeCommand(t, "browse", "--config", cfgPath,
		"--url", "https://example.com/", "--objective", "Read the page heading",
		"--schema", `{"type":"object","properties":{"heading":{"type":"string"}},"required":["heading"]}`)

	require.NoError(t, err)
	assert.Contains(t, stdout, "Objective complete after 1 iterations.")
	assert.Contains(t, stdout, `"heading": "Example Domain"`)
	assert.Contains(t, stderr, "[1/10] The heading is visible")
	assert.Equal(t, []string{"https://example.com/"}, h.browser.page.visited)
	assert.True(t, h.browser.closed, "the browser is closed after browse returns")
	assert.True(t, h.llm.closed)
	assert.True(t, h.browser.cfg.Headless, "headless defaults to true")
	assert.Equal(t, "local", h.agent.LLM.DefaultPowerfulModel, "configured models are left alone")
}

func TestBrowse_FailureMessage(t *testing.T) {
	stubCollaborators(t, false, "",
		`{"kind":"ObjectiveFailed","progressAssessment":"Nothing to buy","reason":"The shop is closed"}`)
	cfgPath := createTempConfig(t, baseConfig)

	stdout, _, err := executeCommand(t, "browse", "--config", cfgPath,
		"-u", "https://shop.example/", "-o", "Buy a lamp")

	assert.ErrorIs(t, err, ErrObjectiveNotReached)
	assert.Contains(t, stdout, "Objective failed (ObjectiveFailed): The shop is closed")
}

func TestBrowse_PromptsOnTerminal(t *testing.T) {
	h := stubCollaborators(t, true, "https://example.com/\nRead the page heading\n", replyHeading)
	cfgPath := createTempConfig(t, baseConfig)

	_, stderr, err := executeCommand(t, "browse", "--config", cfgPath)

	require.NoError(t, err)
	assert.Contains(t, stderr, "Start URL: ")
	assert.Contains(t, stderr, "Objective: ")
	assert.Equal(t, []string{"https://example.com/"}, h.browser.page.visited)
	require.Len(t, h.llm.prompts, 1)
	assert.Contains(t, h.llm.prompts[0], "Read the page heading")
}

func TestBrowse_MissingArgsWithoutTerminal(t *testing.T) {
	h := stubCollaborators(t, false, "")
	cfgPath := createTempConfig(t, baseConfig)

	_, _, err := executeCommand(t, "browse", "--config", cfgPath, "--url", "https://example.com/")

	assert.ErrorIs(t, err, llmclient.ErrConfiguration)
	assert.Empty(t, h.llm.prompts, "no session starts")
	assert.Nil(t, h.browser.page.visited)
}

func TestBrowse_InvalidIterationBound(t *testing.T) {
	h := stubCollaborators(t, false, "")
	cfgPath := createTempConfig(t, baseConfig)

	_, _, err := executeCommand(t, "browse", "--config", cfgPath,
		"--url", "https://example.com/", "--objective", "x", "--max-iterations", "-1")

	assert.ErrorIs(t, err, llmclient.ErrConfiguration)
	assert.ErrorIs(t, err, agentbrowser.ErrInvalidArgs)
	assert.Empty(t, h.llm.prompts)
}

func TestBrowse_ProviderFromFlags(t *testing.T) {
	h := stubCollaborators(t, false, "", replyHeading)
	cfgPath := createTempConfig(t, "logger:\n  level: fatal\nagent:\n  max_prompt_tokens: 0\n")

	_, _, err := executeCommand(t, "browse", "--config", cfgPath,
		"--url", "https://example.com/", "--objective", "x",
		"--provider", "OpenAI", "--model", "gpt-4o-mini", "--api-key", "sk-test", "--headless=false")

	require.NoError(t, err)
	model := h.agent.LLM.Models[cliModelName]
	assert.Equal(t, config.ProviderOpenAI, model.Provider)
	assert.Equal(t, "gpt-4o-mini", model.Model)
	assert.Equal(t, "sk-test", model.APIKey)
	assert.Equal(t, cliModelName, h.agent.LLM.DefaultFastModel)
	assert.False(t, h.browser.cfg.Headless)
}

func TestBrowse_ProviderRequiresAPIKey(t *testing.T) {
	stubCollaborators(t, false, "")
	cfgPath := createTempConfig(t, "logger:\n  level: fatal\n")

	_, _, err := executeCommand(t, "browse", "--config", cfgPath,
		"--url", "https://example.com/", "--objective", "x", "--provider", "anthropic", "--model", "claude")

	assert.ErrorIs(t, err, llmclient.ErrConfiguration)
	assert.ErrorContains(t, err, "api_key is required")
}

func browseFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := newBrowseCmd().Flags()
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestResolveModel_Precedence(t *testing.T) {
	fileCfg := func() config.AgentConfig {
		return config.AgentConfig{LLM: config.LLMRouterConfig{
			DefaultFastModel:     "file",
			DefaultPowerfulModel: "file",
			Models: map[string]config.LLMModelConfig{
				"file": {Provider: config.ProviderAnthropic, Model: "claude-from-file", APIKey: "file-key"},
			},
		}}
	}
	env := map[string]string{
		"HDR_AGENT_PROVIDER": "openai",
		"HDR_AGENT_MODEL":    "gpt-from-env",
		"HDR_AGENT_API_KEY":  "env-key",
		"HDR_AGENT_ENDPOINT": "http://env.example/v1",
	}
	orig := getenv
	t.Cleanup(func() { getenv = orig })
	getenv = func(k string) string { return env[k] }

	t.Run("flags win over the config file", func(t *testing.T) {
		cfg := fileCfg()
		require.NoError(t, resolveModel(browseFlags(t, "--model", "claude-from-flag"), &cfg))
		m := cfg.LLM.Models[cliModelName]
		assert.Equal(t, config.ProviderAnthropic, m.Provider)
		assert.Equal(t, "claude-from-flag", m.Model)
		assert.Equal(t, "file-key", m.APIKey)
		assert.Equal(t, "http://env.example/v1", m.Endpoint, "fields missing from the file fall back to the environment")
		assert.Contains(t, cfg.LLM.Models, "file")
	})

	t.Run("the config file wins over the environment", func(t *testing.T) {
		cfg := config.AgentConfig{LLM: config.LLMRouterConfig{
			DefaultPowerfulModel: "file",
			Models: map[string]config.LLMModelConfig{
				"file": {Provider: config.ProviderAnthropic, Model: "claude-from-file", APIKey: "file-key", Endpoint: "http://file.example"},
			},
		}}
		require.NoError(t, resolveModel(browseFlags(t), &cfg))
		assert.Equal(t, "file", cfg.LLM.DefaultPowerfulModel)
		assert.NotContains(t, cfg.LLM.Models, cliModelName)
	})

	t.Run("environment alone", func(t *testing.T) {
		var cfg config.AgentConfig
		require.NoError(t, resolveModel(browseFlags(t), &cfg))
		m := cfg.LLM.Models[cliModelName]
		assert.Equal(t, config.ProviderOpenAI, m.Provider)
		assert.Equal(t, "gpt-from-env", m.Model)
		assert.Equal(t, "env-key", m.APIKey)
	})

	t.Run("nothing configured", func(t *testing.T) {
		getenv = func(string) string { return "" }
		var cfg config.AgentConfig
		err := resolveModel(browseFlags(t), &cfg)
		assert.ErrorIs(t, err, llmclient.ErrConfiguration)
	})

	t.Run("ollama needs no key", func(t *testing.T) {
		getenv = func(string) string { return "" }
		var cfg config.AgentConfig
		require.NoError(t, resolveModel(browseFlags(t, "--provider", "ollama", "--model", "llama3"), &cfg))
	})
}

func TestResolveHeadless(t *testing.T) {
	orig := getenv
	t.Cleanup(func() { getenv = orig })

	tests := []struct {
		name    string
		args    []string
		file    string
		env     string
		want    bool
		wantErr bool
	}{
		{name: "default", want: true},
		{name: "environment", env: "false", want: false},
		{name: "config file beats environment", file: "browser:\n  headless: true\n", env: "false", want: true},
		{name: "flag beats config file", args: []string{"--headless=false"}, file: "browser:\n  headless: true\n", want: false},
		{name: "malformed environment", env: "sometimes", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv = func(k string) string {
				if k == "HDR_HEADLESS" {
					return tt.env
				}
				return ""
			}
			v := viper.New()
			if tt.file != "" {
				v.SetConfigFile(createTempConfig(t, tt.file))
				require.NoError(t, v.ReadInConfig())
			}
			got, err := resolveHeadless(browseFlags(t, tt.args...), v)
			if tt.wantErr {
				assert.ErrorIs(t, err, llmclient.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyBrowseFlags_CollectiveMemory(t *testing.T) {
	orig := getenv
	t.Cleanup(func() { getenv = orig })
	getenv = func(string) string { return "" }

	cfg := config.NewDefaultConfig()
	cfg.Agent.LLM.Models = map[string]config.LLMModelConfig{"m": {Provider: config.ProviderOllama, Model: "llama3"}}
	cfg.Agent.LLM.DefaultPowerfulModel = "m"

	require.NoError(t, applyBrowseFlags(browseFlags(t, "--hdr-api-key", "hdr-123"), viper.New(), cfg))
	assert.True(t, cfg.CollectiveMemory.Enabled())
	assert.Equal(t, config.DefaultCollectiveMemoryEndpoint, cfg.CollectiveMemory.Endpoint)
}

func TestLoadInventory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "inventory.yaml")
	require.NoError(t, os.WriteFile(file, []byte("- name: Password\n  value: Password123\n  type: password\n"), 0o600))

	inv, err := loadInventory(config.SessionConfig{
		Inventory:     []config.InventoryItem{{Name: "Username", Value: "student"}},
		InventoryFile: file,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Password", "Username"}, inv.Names())
	assert.Equal(t, "login as {{Username}}", inv.Censor("login as student"))

	_, err = loadInventory(config.SessionConfig{
		Inventory:     []config.InventoryItem{{Name: "Password", Value: "x"}},
		InventoryFile: file,
	})
	assert.ErrorIs(t, err, llmclient.ErrConfiguration, "duplicate names across sources are rejected")
}

func TestLoadResultSchema(t *testing.T) {
	rs, err := loadResultSchema(browseFlags(t))
	require.NoError(t, err)
	assert.Nil(t, rs)

	file := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"type":"array","items":{"type":"string"}}`), 0o600))
	rs, err = loadResultSchema(browseFlags(t, "--schema", "@"+file))
	require.NoError(t, err)
	require.NotNil(t, rs)
	assert.NoError(t, rs.Result().Validate([]any{"a", "b"}))

	_, err = loadResultSchema(browseFlags(t, "--schema", `{"type":`))
	assert.ErrorIs(t, err, llmclient.ErrConfiguration)

	_, err = loadResultSchema(browseFlags(t, "--schema", `{"$ref":"#/x"}`))
	assert.ErrorIs(t, err, llmclient.ErrConfiguration)

	_, err = loadResultSchema(browseFlags(t, "--schema", "@/does/not/exist.json"))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, llmclient.ErrConfiguration))
}
