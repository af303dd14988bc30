package llmclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/hdr-browser/internal/config"
)

const anthropicMessageBody = `{
  "id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
  "content": [{"type": "text", "text": "{\"kind\":"}, {"type": "text", "text": "\"ObjectiveFailed\"}"}],
  "stop_reason": "end_turn", "stop_sequence": null,
  "usage": {"input_tokens": 20, "output_tokens": 6}
}`

func setupAnthropicClient(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.LLMModelConfig{
		Provider:   config.ProviderAnthropic,
		Model:      "claude-test",
		APIKey:     "ak-test",
		Endpoint:   server.URL,
		APITimeout: 5 * time.Second,
	}
	client, err := NewAnthropicClient(cfg, setupTestLogger(t))
	require.NoError(t, err)
	instantRetries(&client.retry, 1)
	return client
}

func TestAnthropicGenerate_Success(t *testing.T) {
	client := setupAnthropicClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("X-Api-Key"))

		var payload map[string]any
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "claude-test", payload["model"])
		assert.EqualValues(t, defaultAnthropicMaxTokens, payload["max_tokens"])
		system := payload["system"].([]any)[0].(map[string]any)["text"].(string)
		assert.Contains(t, system, "System prompt instructions.")
		assert.Contains(t, system, jsonOnlyInstruction)

		writeJSON(w, http.StatusOK, anthropicMessageBody)
	})

	req := createTestRequest()
	req.Options.ForceJSONFormat = true
	response, err := client.Generate(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, `{"kind":"ObjectiveFailed"}`, response)
}

func TestAnthropicGenerate_BadRequestIsPermanent(t *testing.T) {
	calls := 0
	client := setupAnthropicClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, 1, calls)
}

func TestNewAnthropicClient_RequiresKey(t *testing.T) {
	_, err := NewAnthropicClient(config.LLMModelConfig{Provider: config.ProviderAnthropic, Model: "m"}, setupTestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Anthropic API Key is required")
}
