package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/agent"
	"github.com/xkilldash9x/hdr-browser/internal/browser"
	"github.com/xkilldash9x/hdr-browser/internal/schema"
)

// fakePage answers Get with a fixed value validated against the requested schema.
type fakePage struct {
	id       string
	answer   any
	getErr   error
	mu       sync.Mutex
	commands []string
	visited  []string
}

func (p *fakePage) ID() string { return p.id }

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visited = append(p.visited, url)
	return nil
}

func (p *fakePage) Observe(ctx context.Context) (schemas.Observation, error) {
	return schemas.Observation{URL: "https://shop.example/item", Title: "Item"}, nil
}

func (p *fakePage) Execute(ctx context.Context, action schemas.BrowserAction) error {
	return nil
}

func (p *fakePage) Get(ctx context.Context, command string, s *schema.Schema) (any, error) {
	p.mu.Lock()
	p.commands = append(p.commands, command)
	p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	if err := s.Validate(p.answer); err != nil {
		return nil, err
	}
	return p.answer, nil
}

func (p *fakePage) Close(ctx context.Context) error { return nil }

type fakeBrowser struct {
	mu       sync.Mutex
	pages    map[string]*fakePage
	next     int
	closed   atomic.Bool
	closeErr error
}

func newFakeBrowser(pages ...*fakePage) *fakeBrowser {
	b := &fakeBrowser{pages: make(map[string]*fakePage)}
	for _, p := range pages {
		b.pages[p.id] = p
	}
	return b
}

func (b *fakeBrowser) NewPage(ctx context.Context) (browser.Page, error) {
	if b.closed.Load() {
		return nil, browser.ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	p := &fakePage{id: "page-" + string(rune('0'+b.next))}
	b.pages[p.id] = p
	return p, nil
}

func (b *fakeBrowser) Page(id string) (browser.Page, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pages[id]
	if !ok {
		return nil, false
	}
	return p, true
}

func (b *fakeBrowser) Close(ctx context.Context) error {
	b.closed.Store(true)
	return b.closeErr
}

// scriptedDecider returns its decisions in order, then fails.
type scriptedDecider struct {
	mu        sync.Mutex
	decisions []agent.Decision
	requests  []agent.DecisionRequest
}

func (d *scriptedDecider) Decide(ctx context.Context, req agent.DecisionRequest) (agent.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	if len(d.decisions) == 0 {
		return agent.Decision{}, errors.New("script exhausted")
	}
	next := d.decisions[0]
	d.decisions = d.decisions[1:]
	return next, nil
}

type traceRecorder struct {
	mu     sync.Mutex
	traces []schemas.Trace
}

func (r *traceRecorder) Report(t schemas.Trace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = append(r.traces, t)
}
