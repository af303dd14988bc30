package collective

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	memoriesPath      = "/v1/memories"
	defaultMaxRetries = 3
	maxErrorBody      = 512
)

// HTTPSink posts traces to the collective memory service.
type HTTPSink struct {
	url        string
	apiKey     string
	client     *http.Client
	logger     *zap.Logger
	maxRetries int
	newBackOff func() backoff.BackOff
}

// NewHTTPSink builds a sink for cfg. The caller checks cfg.Enabled first.
func NewHTTPSink(cfg config.CollectiveMemoryConfig, logger *zap.Logger) *HTTPSink {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &HTTPSink{
		url:        strings.TrimRight(cfg.Endpoint, "/") + memoriesPath,
		apiKey:     cfg.APIKey,
		client:     &http.Client{},
		logger:     logger.Named("collective_http"),
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// Send posts the trace, retrying transport failures, 429 and 5xx answers.
func (s *HTTPSink) Send(ctx context.Context, trace schemas.Trace) error {
	body, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.apiKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("collective memory request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := fmt.Errorf("collective memory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.maxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("Trace upload failed, retrying", zap.String("trace_id", trace.ID), zap.Error(err), zap.Duration("wait", wait))
	}
	return backoff.RetryNotify(operation, b, notify)
}
