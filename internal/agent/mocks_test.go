package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/config"
	"github.com/xkilldash9x/hdr-browser/internal/inventory"
)

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface used by Agent.
type MockLLMClient struct {
	mock.Mock
}

// Generate mocks the LLM generation call.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close mocks resource cleanup.
func (m *MockLLMClient) Close() error { return nil }

// expectReply registers a single reply and captures the request that produced it.
func (m *MockLLMClient) expectReply(reply string, err error, captured *schemas.GenerationRequest) {
	m.On("Generate", mock.Anything, mock.AnythingOfType("schemas.GenerationRequest")).
		Run(func(args mock.Arguments) {
			if captured != nil {
				*captured = args.Get(1).(schemas.GenerationRequest)
			}
		}).
		Return(reply, err).Once()
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		HistoryWindow:          5,
		MaxConsecutiveFailures: 2,
		Temperature:            0.1,
	}
}

// newTestAgent builds an Agent whose token counter never needs tiktoken data.
func newTestAgent(t *testing.T, llm schemas.LLMClient, cfg config.AgentConfig) *Agent {
	t.Helper()
	return New(llm, cfg, zap.NewNop(), WithTokenCounter(approxTokens))
}

func loginInventory(t *testing.T) *inventory.Inventory {
	t.Helper()
	inv, err := inventory.New([]inventory.Entry{
		{Name: "Username", Value: "student", Type: "string"},
		{Name: "Password", Value: "Password123", Type: "password"},
	})
	require.NoError(t, err)
	return inv
}

func loginObservation() *schemas.Observation {
	return &schemas.Observation{
		URL:   "https://practicetestautomation.com/practice-test-login/",
		Title: "Test Login",
		Elements: []schemas.Element{
			{Index: 1, Tag: "input", Type: "text", Name: "Username"},
			{Index: 2, Tag: "input", Type: "password", Name: "Password", Value: "Password123"},
			{Index: 3, Tag: "button", Name: "Submit"},
		},
		Text: "Test login. Use student / Password123 to log in.",
	}
}
