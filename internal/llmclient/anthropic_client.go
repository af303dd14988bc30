package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	antoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/config"
)

// defaultAnthropicMaxTokens is used when neither the request nor the model
// config bounds the completion. The Messages API requires a value.
const defaultAnthropicMaxTokens = 4096

// jsonOnlyInstruction stands in for a JSON response mode, which the Messages
// API does not offer.
const jsonOnlyInstruction = "Respond with a single JSON value and nothing else. Do not wrap it in markdown."

// AnthropicClient implements schemas.LLMClient for Claude models.
type AnthropicClient struct {
	client     anthropic.Client
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMModelConfig
	retry      retrier
}

// NewAnthropicClient builds a Messages API client.
func NewAnthropicClient(cfg config.LLMModelConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("an Anthropic model name is required")
	}

	httpClient := &http.Client{Timeout: cfg.APITimeout}
	opts := []antoption.RequestOption{
		antoption.WithAPIKey(cfg.APIKey),
		antoption.WithHTTPClient(httpClient),
		antoption.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, antoption.WithBaseURL(cfg.Endpoint))
	}

	named := logger.Named("llm_client.anthropic")
	return &AnthropicClient{
		client:     anthropic.NewClient(opts...),
		httpClient: httpClient,
		logger:     named,
		config:     cfg,
		retry:      newRetrier(named, cfg.MaxRetries),
	}, nil
}

func (c *AnthropicClient) buildParams(req schemas.GenerationRequest) anthropic.MessageNewParams {
	n := maxTokens(req, c.config.MaxTokens)
	if n <= 0 {
		n = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.config.Model),
		MaxTokens:   int64(n),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt))},
		Temperature: anthropic.Float(temperature(req, c.config.Temperature)),
	}

	system := req.SystemPrompt
	if req.Options.ForceJSONFormat {
		system = strings.TrimSpace(system + "\n\n" + jsonOnlyInstruction)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if topK := req.Options.TopK; topK > 0 {
		params.TopK = anthropic.Int(int64(topK))
	} else if c.config.TopK > 0 {
		params.TopK = anthropic.Int(int64(c.config.TopK))
	}
	return params
}

// Generate sends one message and concatenates the text blocks of the reply.
func (c *AnthropicClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	params := c.buildParams(req)

	var responseContent string
	operation := func() error {
		start := time.Now()
		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) {
				return classifyStatus(apiErr.StatusCode, fmt.Errorf("anthropic API error: status %d: %w", apiErr.StatusCode, err))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("anthropic request failed: %w", err)
		}

		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return fmt.Errorf("%w (stop reason: %s)", ErrEmptyCompletion, msg.StopReason)
		}

		c.logger.Info("LLM generation complete (Anthropic)",
			zap.String("model", c.config.Model),
			zap.Duration("duration", time.Since(start)),
			zap.Int64("prompt_tokens", msg.Usage.InputTokens),
			zap.Int64("completion_tokens", msg.Usage.OutputTokens),
		)
		responseContent = sb.String()
		return nil
	}

	if err := c.retry.do(ctx, operation); err != nil {
		return "", err
	}
	return responseContent, nil
}

// Close releases idle connections held by the client.
func (c *AnthropicClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
