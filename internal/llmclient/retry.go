package llmclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
)

const defaultMaxRetries = 3

// ErrEmptyCompletion is returned when a provider answers without any text.
var ErrEmptyCompletion = errors.New("provider returned an empty completion")

// retrier runs a provider call with exponential backoff. Errors wrapped in
// backoff.Permanent stop the loop immediately.
type retrier struct {
	logger         *zap.Logger
	maxRetries     int
	backoffFactory func() backoff.BackOff
}

func newRetrier(logger *zap.Logger, maxRetries int) retrier {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return retrier{
		logger:     logger,
		maxRetries: maxRetries,
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
	}
}

func (r retrier) do(ctx context.Context, operation func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(r.backoffFactory(), uint64(r.maxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("LLM request failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return errors.Join(ctxErr, err)
		}
		return err
	}
	return nil
}

// classifyStatus marks an HTTP status as transient or permanent.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return err
	default:
		return backoff.Permanent(err)
	}
}

// throttledClient gates a client behind a token bucket.
type throttledClient struct {
	schemas.LLMClient
	limiter *rate.Limiter
}

func newThrottledClient(inner schemas.LLMClient, requestsPerSecond float64) *throttledClient {
	return &throttledClient{LLMClient: inner, limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1)}
}

func (t *throttledClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.LLMClient.Generate(ctx, req)
}

// temperature picks the request override when set and the model default otherwise.
func temperature(req schemas.GenerationRequest, modelDefault float32) float64 {
	if req.Options.Temperature > 0 {
		return req.Options.Temperature
	}
	return float64(modelDefault)
}

func maxTokens(req schemas.GenerationRequest, modelDefault int) int {
	if req.Options.MaxTokens > 0 {
		return req.Options.MaxTokens
	}
	return modelDefault
}
