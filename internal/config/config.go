// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger           LoggerConfig           `mapstructure:"logger" yaml:"logger"`
	Browser          BrowserConfig          `mapstructure:"browser" yaml:"browser"`
	Agent            AgentConfig            `mapstructure:"agent" yaml:"agent"`
	CollectiveMemory CollectiveMemoryConfig `mapstructure:"collective_memory" yaml:"collective_memory"`
	Database         DatabaseConfig         `mapstructure:"database" yaml:"database"`
	Server           ServerConfig           `mapstructure:"server" yaml:"server"`
	// Session describes a single browse run. It is mostly populated from CLI flags.
	Session SessionConfig `mapstructure:"session" yaml:"session"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserEngine selects the automation backend.
type BrowserEngine string

const (
	EngineChromedp   BrowserEngine = "chromedp"
	EnginePlaywright BrowserEngine = "playwright"
)

// BrowserConfig holds settings for the browser instances.
type BrowserConfig struct {
	Engine            BrowserEngine  `mapstructure:"engine" yaml:"engine"`
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
	// SettleTime is how long to pause after an action before the next observation.
	SettleTime time.Duration `mapstructure:"settle_time" yaml:"settle_time"`
	// MaxTextLength truncates the page text included in an observation.
	MaxTextLength int `mapstructure:"max_text_length" yaml:"max_text_length"`
	MaxElements   int `mapstructure:"max_elements" yaml:"max_elements"`
}

// ViewportConfig is the browser window size.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// AgentConfig configures the decision maker and the control loop around it.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	// HistoryWindow is the number of most recent history entries rendered into a prompt.
	HistoryWindow int `mapstructure:"history_window" yaml:"history_window"`
	// MaxPromptTokens caps the rendered history by token count. 0 disables the cap.
	MaxPromptTokens int    `mapstructure:"max_prompt_tokens" yaml:"max_prompt_tokens"`
	TokenEncoding   string `mapstructure:"token_encoding" yaml:"token_encoding"`
	// MaxConsecutiveFailures bounds back-to-back invalid model outputs before a session fails.
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	DecisionTimeout        time.Duration `mapstructure:"decision_timeout" yaml:"decision_timeout"`
	Temperature            float64       `mapstructure:"temperature" yaml:"temperature"`
	// FatalActionErrors maps an action kind (or "*") to executor error codes that end the session.
	FatalActionErrors map[string][]string `mapstructure:"fatal_action_errors" yaml:"fatal_action_errors"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini    LLMProvider = "gemini"
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderOllama    LLMProvider = "ollama"
	ProviderCustom    LLMProvider = "custom" // Any OpenAI-compatible endpoint.
)

// RequiresAPIKey reports whether the provider refuses to run without credentials.
func (p LLMProvider) RequiresAPIKey() bool {
	return p != ProviderOllama && p != ProviderCustom
}

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RequestsPerSecond throttles calls to this model. 0 disables throttling.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries"`
}

// Validate checks a single model entry.
func (m LLMModelConfig) Validate() error {
	switch m.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic, ProviderOllama, ProviderCustom:
	case "":
		return errors.New("provider is required")
	default:
		return fmt.Errorf("unsupported provider %q", m.Provider)
	}
	if m.Model == "" {
		return errors.New("model is required")
	}
	if m.Provider.RequiresAPIKey() && m.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", m.Provider)
	}
	if (m.Provider == ProviderCustom) && m.Endpoint == "" {
		return errors.New("endpoint is required for the custom provider")
	}
	return nil
}

// CollectiveMemoryConfig points at the shared trace service. Reporting is
// disabled when either field is empty.
type CollectiveMemoryConfig struct {
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	QueueSize  int           `mapstructure:"queue_size" yaml:"queue_size"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// Enabled reports whether traces should be reported.
func (c CollectiveMemoryConfig) Enabled() bool {
	return c.Endpoint != "" && c.APIKey != ""
}

// DatabaseConfig holds the database connection details for the trace store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxSessions     int           `mapstructure:"max_sessions" yaml:"max_sessions"`
}

// InventoryItem is the config file form of an inventory entry.
type InventoryItem struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Value string `mapstructure:"value" yaml:"value"`
	Type  string `mapstructure:"type" yaml:"type"`
}

// SessionConfig holds the parameters of one browse run.
type SessionConfig struct {
	StartURL      string          `mapstructure:"start_url" yaml:"start_url"`
	Objective     []string        `mapstructure:"objective" yaml:"objective"`
	MaxIterations int             `mapstructure:"max_iterations" yaml:"max_iterations"`
	Inventory     []InventoryItem `mapstructure:"inventory" yaml:"inventory"`
	InventoryFile string          `mapstructure:"inventory_file" yaml:"inventory_file"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// DefaultCollectiveMemoryEndpoint is used when an API key is given without an endpoint.
const DefaultCollectiveMemoryEndpoint = "https://api.hdr.is"

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "hdr-browser")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.engine", string(EngineChromedp))
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 800)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.action_timeout", "15s")
	v.SetDefault("browser.settle_time", "750ms")
	v.SetDefault("browser.max_text_length", 4000)
	v.SetDefault("browser.max_elements", 200)

	// -- Agent --
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.history_window", 5)
	v.SetDefault("agent.max_prompt_tokens", 6000)
	v.SetDefault("agent.token_encoding", "cl100k_base")
	v.SetDefault("agent.max_consecutive_failures", 2)
	v.SetDefault("agent.decision_timeout", "90s")
	v.SetDefault("agent.temperature", 0.1)

	// -- Collective Memory --
	v.SetDefault("collective_memory.queue_size", 64)
	v.SetDefault("collective_memory.timeout", "10s")
	v.SetDefault("collective_memory.max_retries", 3)

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:3000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_sessions", 8)

	// -- Session --
	v.SetDefault("session.max_iterations", 10)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("collective_memory.api_key", "HDR_API_KEY")
	v.BindEnv("collective_memory.endpoint", "HDR_ENDPOINT")
	v.BindEnv("database.url", "HDR_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// An API key on its own opts into the hosted service.
	if cfg.CollectiveMemory.APIKey != "" && cfg.CollectiveMemory.Endpoint == "" {
		cfg.CollectiveMemory.Endpoint = DefaultCollectiveMemoryEndpoint
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Browser.Engine {
	case EngineChromedp, EnginePlaywright:
	default:
		return fmt.Errorf("browser.engine must be one of %q or %q, got %q", EngineChromedp, EnginePlaywright, c.Browser.Engine)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if c.Session.MaxIterations < 1 {
		return fmt.Errorf("session.max_iterations must be at least 1")
	}
	if c.Server.MaxSessions < 1 {
		return fmt.Errorf("server.max_sessions must be a positive integer")
	}
	return nil
}

// Validate checks the loop related settings of the agent. Model entries are
// checked when the LLM client is built so that commands which never talk to a
// model do not need credentials.
func (a *AgentConfig) Validate() error {
	if a.HistoryWindow < 1 {
		return fmt.Errorf("history_window must be at least 1")
	}
	if a.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures must be at least 1")
	}
	if a.MaxPromptTokens < 0 {
		return fmt.Errorf("max_prompt_tokens must not be negative")
	}
	for kind := range a.FatalActionErrors {
		if strings.TrimSpace(kind) == "" {
			return fmt.Errorf("fatal_action_errors contains an empty action kind")
		}
	}
	return nil
}
