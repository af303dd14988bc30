package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/browser"
	"github.com/xkilldash9x/hdr-browser/internal/config"
	"github.com/xkilldash9x/hdr-browser/internal/schema"
)

const baseConfig = `
logger:
  level: fatal
agent:
  max_prompt_tokens: 0
  llm:
    default_fast_model: local
    default_powerful_model: local
    models:
      local:
        provider: ollama
        model: llama3
        endpoint: http://127.0.0.1:11434/v1
`

// createTempConfig writes content to a config file that is removed after the test.
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// scriptedLLM answers Generate with its replies in order.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	prompts []string
	closed  bool
}

func (l *scriptedLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts = append(l.prompts, req.SystemPrompt+"\n"+req.UserPrompt)
	if len(l.replies) == 0 {
		return `{"kind":"ObjectiveFailed","progressAssessment":"no script","reason":"script exhausted"}`, nil
	}
	next := l.replies[0]
	l.replies = l.replies[1:]
	return next, nil
}

func (l *scriptedLLM) Close() error {
	l.closed = true
	return nil
}

type stubPage struct {
	visited []string
}

func (p *stubPage) ID() string { return "page-1" }

func (p *stubPage) Navigate(ctx context.Context, url string) error {
	p.visited = append(p.visited, url)
	return nil
}

func (p *stubPage) Observe(ctx context.Context) (schemas.Observation, error) {
	return schemas.Observation{URL: "https://example.com/", Title: "Example Domain", Text: "Example Domain"}, nil
}

func (p *stubPage) Execute(ctx context.Context, action schemas.BrowserAction) error { return nil }

func (p *stubPage) Get(ctx context.Context, command string, s *schema.Schema) (any, error) {
	return nil, browser.ErrNoExtractor
}

func (p *stubPage) Close(ctx context.Context) error { return nil }

type stubBrowser struct {
	page   *stubPage
	cfg    config.BrowserConfig
	closed bool
}

func (b *stubBrowser) NewPage(ctx context.Context) (browser.Page, error) { return b.page, nil }

func (b *stubBrowser) Page(id string) (browser.Page, bool) { return b.page, id == b.page.ID() }

func (b *stubBrowser) Close(ctx context.Context) error {
	b.closed = true
	return nil
}

type harness struct {
	llm     *scriptedLLM
	browser *stubBrowser
	agent   config.AgentConfig
}

// stubCollaborators replaces the LLM client, the browser and the terminal
// for the duration of the test.
func stubCollaborators(t *testing.T, terminal bool, input string, replies ...string) *harness {
	t.Helper()
	h := &harness{
		llm:     &scriptedLLM{replies: replies},
		browser: &stubBrowser{page: &stubPage{}},
	}

	origLLM, origBrowser, origStdin, origTerminal, origGetenv := newLLMClient, newBrowser, stdin, stdinIsTerminal, getenv
	t.Cleanup(func() {
		newLLMClient, newBrowser, stdin, stdinIsTerminal, getenv = origLLM, origBrowser, origStdin, origTerminal, origGetenv
	})

	newLLMClient = func(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
		h.agent = cfg
		return h.llm, nil
	}
	newBrowser = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger, opts ...browser.Option) (browser.Browser, error) {
		h.browser.cfg = cfg
		return h.browser, nil
	}
	stdin = strings.NewReader(input)
	stdinIsTerminal = func() bool { return terminal }
	getenv = func(string) string { return "" }
	return h
}

// executeCommand runs a fresh root command and captures stdout and stderr separately.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}
