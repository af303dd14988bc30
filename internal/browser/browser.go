// Package browser drives a real browser for the agent. Pages expose an
// indexed observation of the interactive elements and execute the closed
// set of BrowserActions against those indices. Two engines are provided,
// chromedp (default) and playwright.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/config"
	"github.com/xkilldash9x/hdr-browser/internal/schema"
)

var (
	// ErrClosed is returned by operations on a closed page or browser.
	ErrClosed = errors.New("browser: closed")
	// ErrNoExtractor is returned by Page.Get when the browser was built without an Extractor.
	ErrNoExtractor = errors.New("browser: no extractor configured")
)

// Page is one tab. Implementations are not safe for concurrent use; a
// session drives its page from a single goroutine.
type Page interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	// Observe tags the interactive elements of the page with fresh indices.
	// Indices from an older observation are invalid afterwards.
	Observe(ctx context.Context) (schemas.Observation, error)
	// Execute runs a resolved action. Failures are *ActionError values.
	Execute(ctx context.Context, action schemas.BrowserAction) error
	// Get answers command about the page contents with a value conforming to s.
	Get(ctx context.Context, command string, s *schema.Schema) (any, error)
	Close(ctx context.Context) error
}

// Browser owns the engine process and its pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Page(id string) (Page, bool)
	Close(ctx context.Context) error
}

// Extractor produces structured answers from page content.
type Extractor interface {
	Extract(ctx context.Context, command string, obs schemas.Observation, s *schema.Schema) (any, error)
}

// Option customizes a Browser.
type Option func(*options)

type options struct {
	extractor Extractor
}

// WithExtractor enables Page.Get.
func WithExtractor(ex Extractor) Option {
	return func(o *options) { o.extractor = ex }
}

// New launches a browser using the configured engine.
func New(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger, opts ...Option) (Browser, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	switch cfg.Engine {
	case config.EngineChromedp, "":
		return newChromedpBrowser(ctx, cfg, logger, o)
	case config.EnginePlaywright:
		return newPlaywrightBrowser(ctx, cfg, logger, o)
	default:
		return nil, fmt.Errorf("unsupported browser engine %q", cfg.Engine)
	}
}

// pageSet tracks the open pages of a browser.
type pageSet struct {
	mu     sync.RWMutex
	pages  map[string]*page
	closed bool
}

func newPageSet() *pageSet {
	return &pageSet{pages: make(map[string]*page)}
}

func (s *pageSet) add(p *page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pages[p.id] = p
	return nil
}

func (s *pageSet) get(id string) (Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[id]
	if !ok {
		return nil, false
	}
	return p, true
}

func (s *pageSet) remove(id string) {
	s.mu.Lock()
	delete(s.pages, id)
	s.mu.Unlock()
}

// drain marks the set closed and returns the pages that were still open.
func (s *pageSet) drain() []*page {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	out := make([]*page, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p)
	}
	s.pages = make(map[string]*page)
	return out
}

// closeAll closes every open page and joins their errors.
func (s *pageSet) closeAll(ctx context.Context, logger *zap.Logger) error {
	var errs []error
	for _, p := range s.drain() {
		if err := p.Close(ctx); err != nil {
			logger.Warn("Error closing page.", zap.String("page_id", p.id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
