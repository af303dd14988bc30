package llmclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/hdr-browser/internal/config"
)

const chatCompletionBody = `{
  "id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-test",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"kind\":\"ObjectiveComplete\"}"}}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

func setupOpenAIClient(t *testing.T, provider config.LLMProvider, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.LLMModelConfig{
		Provider:    provider,
		Model:       "gpt-test",
		APIKey:      "sk-test",
		Endpoint:    server.URL,
		APITimeout:  5 * time.Second,
		Temperature: 0.2,
	}
	client, err := NewOpenAIClient(cfg, setupTestLogger(t))
	require.NoError(t, err)
	instantRetries(&client.retry, 2)
	return client
}

func TestOpenAIGenerate_Success(t *testing.T) {
	client := setupOpenAIClient(t, config.ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var payload map[string]any
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "gpt-test", payload["model"])
		messages := payload["messages"].([]any)
		require.Len(t, messages, 2)
		assert.Equal(t, "system", messages[0].(map[string]any)["role"])
		assert.Equal(t, map[string]any{"type": "json_object"}, payload["response_format"])

		writeJSON(w, http.StatusOK, chatCompletionBody)
	})

	req := createTestRequest()
	req.Options.ForceJSONFormat = true
	response, err := client.Generate(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, `{"kind":"ObjectiveComplete"}`, response)
}

func TestOpenAIGenerate_RetriesRateLimit(t *testing.T) {
	var calls int32
	client := setupOpenAIClient(t, config.ProviderCustom, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeJSON(w, http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`)
			return
		}
		writeJSON(w, http.StatusOK, chatCompletionBody)
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOpenAIGenerate_UnauthorizedIsPermanent(t *testing.T) {
	var calls int32
	client := setupOpenAIClient(t, config.ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOpenAIGenerate_EmptyChoicesExhaustRetries(t *testing.T) {
	var calls int32
	client := setupOpenAIClient(t, config.ProviderOllama, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	assert.ErrorIs(t, err, ErrEmptyCompletion)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "one attempt plus two retries")
}
