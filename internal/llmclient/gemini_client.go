// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/config"
)

// GoogleClient implements schemas.LLMClient on top of the Gemini API SDK.
type GoogleClient struct {
	client     *genai.Client
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMModelConfig
	retry      retrier
}

// NewGoogleClient initializes the SDK client. No request is made until Generate.
func NewGoogleClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GoogleClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Google/Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("a Gemini model name is required")
	}

	httpClient := &http.Client{Timeout: cfg.APITimeout}
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini SDK client: %w", err)
	}

	named := logger.Named("llm_client.gemini")
	return &GoogleClient{
		client:     client,
		httpClient: httpClient,
		logger:     named,
		config:     cfg,
		retry:      newRetrier(named, cfg.MaxRetries),
	}, nil
}

// Generate sends the prompts to Gemini and returns the first candidate's text.
func (c *GoogleClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	genConfig := c.buildGenerationConfig(req)
	contents := genai.Text(req.UserPrompt)

	var responseContent string
	operation := func() error {
		start := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, genConfig)
		if err != nil {
			var apiErr genai.APIError
			if errors.As(err, &apiErr) {
				return classifyStatus(apiErr.Code, fmt.Errorf("gemini API error: status %d: %s", apiErr.Code, apiErr.Message))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("gemini request failed: %w", err)
		}

		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", resp.PromptFeedback.BlockReason))
		}
		if len(resp.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}
		candidate := resp.Candidates[0]
		text := resp.Text()
		if text == "" {
			switch candidate.FinishReason {
			case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("%w (Reason: %s)", ErrEmptyCompletion, candidate.FinishReason)
		}

		fields := []zap.Field{zap.String("model", c.config.Model), zap.Duration("duration", time.Since(start))}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount),
			)
		}
		c.logger.Info("LLM generation complete (Gemini)", fields...)
		responseContent = text
		return nil
	}

	if err := c.retry.do(ctx, operation); err != nil {
		return "", err
	}
	return responseContent, nil
}

func (c *GoogleClient) buildGenerationConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temperature(req, c.config.Temperature))),
	}
	if req.SystemPrompt != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if topP := req.Options.TopP; topP > 0 {
		genConfig.TopP = genai.Ptr(float32(topP))
	} else if c.config.TopP > 0 {
		genConfig.TopP = genai.Ptr(c.config.TopP)
	}
	if topK := req.Options.TopK; topK > 0 {
		genConfig.TopK = genai.Ptr(float32(topK))
	} else if c.config.TopK > 0 {
		genConfig.TopK = genai.Ptr(float32(c.config.TopK))
	}
	if n := maxTokens(req, c.config.MaxTokens); n > 0 {
		genConfig.MaxOutputTokens = int32(n)
	}
	if req.Options.ForceJSONFormat {
		genConfig.ResponseMIMEType = "application/json"
	}
	return genConfig
}

// Close releases idle connections held by the client.
func (c *GoogleClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
