package agentbrowser

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/agent"
	"github.com/xkilldash9x/hdr-browser/internal/config"
	"github.com/xkilldash9x/hdr-browser/internal/inventory"
	"github.com/xkilldash9x/hdr-browser/internal/schema"
)

// -- LLM Client Mock --

// MockLLMClient replays scripted replies in registration order and records
// every request it receives.
type MockLLMClient struct {
	mock.Mock

	mu       sync.Mutex
	requests []schemas.GenerationRequest
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error { return nil }

// script queues replies; each is consumed by exactly one Generate call.
func (m *MockLLMClient) script(replies ...string) {
	for _, r := range replies {
		m.On("Generate", mock.Anything, mock.Anything).Return(r, nil).Once()
	}
}

func (m *MockLLMClient) prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, 2*len(m.requests))
	for _, r := range m.requests {
		out = append(out, r.SystemPrompt, r.UserPrompt)
	}
	return out
}

func newTestAgent(llm schemas.LLMClient) *agent.Agent {
	cfg := config.AgentConfig{HistoryWindow: 5, MaxConsecutiveFailures: 2, Temperature: 0.1}
	return agent.New(llm, cfg, zap.NewNop(), agent.WithTokenCounter(func(s string) int { return len(s) / 4 }))
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

// -- Page Mock --

// MockPage mocks browser.Page for failure paths.
type MockPage struct {
	mock.Mock
}

func (m *MockPage) ID() string { return "mock-page" }

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockPage) Observe(ctx context.Context) (schemas.Observation, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Observation), args.Error(1)
}

func (m *MockPage) Execute(ctx context.Context, action schemas.BrowserAction) error {
	return m.Called(ctx, action).Error(0)
}

func (m *MockPage) Get(ctx context.Context, command string, s *schema.Schema) (any, error) {
	args := m.Called(ctx, command, s)
	return args.Get(0), args.Error(1)
}

func (m *MockPage) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Login Site Fake --

const (
	loginURL   = "https://practicetestautomation.com/practice-test-login/"
	successURL = "https://practicetestautomation.com/logged-in-successfully/"
)

// loginSite simulates the practice login form: a username input, a password
// input and a submit button that only succeeds with student / Password123.
type loginSite struct {
	url      string
	username string
	password string
	executed []schemas.BrowserAction
}

func (s *loginSite) ID() string { return "login-site" }

func (s *loginSite) Navigate(_ context.Context, url string) error {
	s.url = url
	return nil
}

func (s *loginSite) Observe(context.Context) (schemas.Observation, error) {
	if s.url == successURL {
		return schemas.Observation{
			URL:      successURL,
			Title:    "Logged In Successfully",
			Elements: []schemas.Element{{Index: 1, Tag: "a", Name: "Log out", Href: loginURL}},
			Text:     "Logged In Successfully\nCongratulations student. You successfully logged in!",
		}, nil
	}
	return schemas.Observation{
		URL:   s.url,
		Title: "Test Login",
		Elements: []schemas.Element{
			{Index: 1, Tag: "input", Type: "text", Name: "Username", Value: s.username},
			{Index: 2, Tag: "input", Type: "password", Name: "Password", Value: s.password},
			{Index: 3, Tag: "button", Name: "Submit"},
		},
		Text: "Test login\nUse student / Password123 to log in.",
	}, nil
}

func (s *loginSite) Execute(_ context.Context, a schemas.BrowserAction) error {
	s.executed = append(s.executed, a)
	switch {
	case a.Kind == schemas.ActionType && a.Index == 1:
		s.username = a.Text
	case a.Kind == schemas.ActionType && a.Index == 2:
		s.password = a.Text
	case a.Kind == schemas.ActionClick && a.Index == 3:
		if s.username == "student" && s.password == "Password123" {
			s.url = successURL
		}
	}
	return nil
}

func (s *loginSite) Get(context.Context, string, *schema.Schema) (any, error) { return nil, nil }

func (s *loginSite) Close(context.Context) error { return nil }

// -- Collectors --

type traceRecorder struct {
	traces []schemas.Trace
}

func (r *traceRecorder) Report(t schemas.Trace) { r.traces = append(r.traces, t) }

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
