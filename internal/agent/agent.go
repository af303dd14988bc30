// Package agent turns page observations into validated decisions by asking a
// completion provider and checking its reply against a ResponseSchema.
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/config"
	"github.com/xkilldash9x/hdr-browser/internal/llmutil"
	"github.com/xkilldash9x/hdr-browser/internal/schema"
)

const maxReplyEcho = 500

// Agent asks the provider for the next decision. It keeps no state between
// calls, so one Agent can serve many sessions.
type Agent struct {
	llm         schemas.LLMClient
	logger      *zap.Logger
	cfg         config.AgentConfig
	countTokens TokenCounter
	tier        schemas.ModelTier
}

// Option customizes an Agent.
type Option func(*Agent)

// WithTokenCounter replaces the tiktoken based counter.
func WithTokenCounter(counter TokenCounter) Option {
	return func(a *Agent) { a.countTokens = counter }
}

// WithTier selects the model tier used for decisions. Extraction always uses the fast tier.
func WithTier(tier schemas.ModelTier) Option {
	return func(a *Agent) { a.tier = tier }
}

// New creates an Agent.
func New(llm schemas.LLMClient, cfg config.AgentConfig, logger *zap.Logger, opts ...Option) *Agent {
	a := &Agent{
		llm:    llm,
		logger: logger.Named("agent"),
		cfg:    cfg,
		tier:   schemas.TierPowerful,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.countTokens == nil {
		a.countTokens = NewTiktokenCounter(cfg.TokenEncoding, a.logger)
	}
	return a
}

// Decide renders the prompt, calls the provider once and validates the reply.
// A nonconforming reply yields *InvalidOutputError and a provider failure an
// error wrapping ErrProvider.
func (a *Agent) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	rs := req.Schema
	if rs == nil {
		rs = BuildResponseSchema(nil)
	}

	system := buildSystemPrompt(rs, req.Secrets)
	history := a.window(system, req)
	user := buildUserPrompt(req, history)

	genReq := schemas.GenerationRequest{
		SystemPrompt: req.Secrets.Censor(system),
		UserPrompt:   req.Secrets.Censor(user),
		Tier:         a.tier,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     a.cfg.Temperature,
		},
	}

	reply, err := a.generate(ctx, genReq)
	if err != nil {
		return Decision{}, err
	}

	decision, err := rs.ParseReply(reply)
	if err != nil {
		a.logger.Debug("Rejected model reply", zap.Error(err))
		return Decision{}, &InvalidOutputError{
			Reply: req.Secrets.Censor(llmutil.TruncateString(reply, maxReplyEcho)),
			Err:   err,
		}
	}
	return decision, nil
}

// Extract answers command about the observation with a value that conforms to s.
// A nil schema accepts any JSON value.
func (a *Agent) Extract(ctx context.Context, command string, obs schemas.Observation, s *schema.Schema) (any, error) {
	if s == nil {
		s = schema.Any()
	}
	system, user := buildExtractionPrompts(command, obs, s.JSON())
	reply, err := a.generate(ctx, schemas.GenerationRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: a.cfg.Temperature},
	})
	if err != nil {
		return nil, err
	}

	value, err := llmutil.DecodeAny(reply)
	if err != nil {
		return nil, &InvalidOutputError{
			Reply: llmutil.TruncateString(reply, maxReplyEcho),
			Err:   &schema.ValidationError{Path: "$", Expected: "a JSON value", Actual: "unparseable text"},
		}
	}
	if err := s.Validate(value); err != nil {
		return nil, &InvalidOutputError{Reply: llmutil.TruncateString(reply, maxReplyEcho), Err: err}
	}
	return value, nil
}

func (a *Agent) generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if a.cfg.DecisionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.DecisionTimeout)
		defer cancel()
	}
	start := time.Now()
	reply, err := a.llm.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProvider, err)
	}
	a.logger.Debug("Provider replied", zap.Duration("duration", time.Since(start)), zap.Int("reply_bytes", len(reply)))
	return reply, nil
}

// window keeps the newest history entries that fit both the entry limit and
// the prompt token budget. Older entries are dropped first.
func (a *Agent) window(system string, req DecisionRequest) []HistoryEntry {
	history := req.History
	if n := a.cfg.HistoryWindow; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	budget := a.cfg.MaxPromptTokens
	if budget <= 0 {
		return history
	}
	systemCost := a.countTokens(system)
	for len(history) > 0 && systemCost+a.countTokens(buildUserPrompt(req, history)) > budget {
		history = history[1:]
	}
	return history
}
