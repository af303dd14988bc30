package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	oaioption "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/config"
)

// DefaultOllamaEndpoint is the OpenAI compatible endpoint of a local Ollama daemon.
const DefaultOllamaEndpoint = "http://localhost:11434/v1"

// OpenAIClient talks to OpenAI and to any endpoint that speaks the chat
// completions protocol (Ollama, vLLM, gateways).
type OpenAIClient struct {
	client     openai.Client
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMModelConfig
	retry      retrier
}

// NewOpenAIClient builds a chat completions client. The SDK's own retries are
// disabled so that retry policy lives in one place.
func NewOpenAIClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("a model name is required for provider %q", cfg.Provider)
	}
	endpoint := cfg.Endpoint
	apiKey := cfg.APIKey
	switch cfg.Provider {
	case config.ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OpenAI API Key is required")
		}
	case config.ProviderOllama:
		if endpoint == "" {
			endpoint = DefaultOllamaEndpoint
		}
	case config.ProviderCustom:
		if endpoint == "" {
			return nil, fmt.Errorf("an endpoint is required for the custom provider")
		}
	}
	if apiKey == "" {
		// Local endpoints ignore the key but the SDK insists on one.
		apiKey = "unused"
	}

	httpClient := &http.Client{Timeout: cfg.APITimeout}
	opts := []oaioption.RequestOption{
		oaioption.WithAPIKey(apiKey),
		oaioption.WithHTTPClient(httpClient),
		oaioption.WithMaxRetries(0),
	}
	if endpoint != "" {
		opts = append(opts, oaioption.WithBaseURL(endpoint))
	}

	named := logger.Named("llm_client." + string(cfg.Provider))
	return &OpenAIClient{
		client:     openai.NewClient(opts...),
		httpClient: httpClient,
		logger:     named,
		config:     cfg,
		retry:      newRetrier(named, cfg.MaxRetries),
	}, nil
}

func (c *OpenAIClient) buildParams(req schemas.GenerationRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.config.Model),
		Messages:    messages,
		Temperature: openai.Float(temperature(req, c.config.Temperature)),
	}
	if topP := req.Options.TopP; topP > 0 {
		params.TopP = openai.Float(topP)
	} else if c.config.TopP > 0 {
		params.TopP = openai.Float(float64(c.config.TopP))
	}
	if n := maxTokens(req, c.config.MaxTokens); n > 0 {
		params.MaxCompletionTokens = openai.Int(int64(n))
	}
	if req.Options.ForceJSONFormat {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// Generate runs one chat completion and returns the first choice's content.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	params := c.buildParams(req)

	var responseContent string
	operation := func() error {
		start := time.Now()
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) {
				return classifyStatus(apiErr.StatusCode, fmt.Errorf("%s API error: status %d: %w", c.config.Provider, apiErr.StatusCode, err))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("%s request failed: %w", c.config.Provider, err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return ErrEmptyCompletion
		}

		c.logger.Info("LLM generation complete",
			zap.String("model", c.config.Model),
			zap.Duration("duration", time.Since(start)),
			zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
			zap.Int64("total_tokens", resp.Usage.TotalTokens),
		)
		responseContent = resp.Choices[0].Message.Content
		return nil
	}

	if err := c.retry.do(ctx, operation); err != nil {
		return "", err
	}
	return responseContent, nil
}

// Close releases idle connections held by the client.
func (c *OpenAIClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
