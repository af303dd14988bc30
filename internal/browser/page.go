package browser

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/config"
	"github.com/xkilldash9x/hdr-browser/internal/schema"
)

const (
	defaultWait = time.Second
	maxWait     = schemas.MaxWaitMs * time.Millisecond
	// Extraction sees more of the page than a decision prompt does.
	extractionTextFactor = 4
)

// driver is the engine specific part of a page. Every method address
// elements by CSS selector and must honor ctx.
type driver interface {
	navigate(ctx context.Context, url string) error
	evaluate(ctx context.Context, expression string, out any) error
	click(ctx context.Context, selector string) error
	fill(ctx context.Context, selector, text string) error
	pressEnter(ctx context.Context, selector string) error
	hover(ctx context.Context, selector string) error
	back(ctx context.Context) error
	content(ctx context.Context) (string, error)
	// crashed reports whether the engine saw the renderer die.
	crashed() bool
	close(ctx context.Context) error
}

// page implements Page on top of a driver.
type page struct {
	id        string
	drv       driver
	cfg       config.BrowserConfig
	logger    *zap.Logger
	extractor Extractor
	closed    atomic.Bool
	onClose   func()
}

func newPage(drv driver, cfg config.BrowserConfig, logger *zap.Logger, extractor Extractor) *page {
	id := uuid.NewString()
	return &page{
		id:        id,
		drv:       drv,
		cfg:       cfg,
		logger:    logger.With(zap.String("page_id", id)),
		extractor: extractor,
	}
}

func (p *page) ID() string { return p.id }

func (p *page) check(kind schemas.ActionKind) error {
	if p.closed.Load() {
		return &ActionError{Kind: kind, Code: schemas.ErrCodeBrowserClosed, Err: ErrClosed}
	}
	if p.drv.crashed() {
		return actionErr(kind, schemas.ErrCodeTargetCrashed, "page renderer crashed")
	}
	return nil
}

// withTimeout bounds an operation by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Navigate loads url. Failures carry ErrCodeNavigationError unless the
// engine died.
func (p *page) Navigate(ctx context.Context, url string) error {
	if err := p.check(schemas.ActionGoto); err != nil {
		return err
	}
	navCtx, cancel := withTimeout(ctx, p.cfg.NavigationTimeout)
	defer cancel()

	p.logger.Debug("Navigating.", zap.String("url", url))
	if err := p.drv.navigate(navCtx, url); err != nil {
		code := classify(err)
		if code == schemas.ErrCodeExecutionFailure || code == schemas.ErrCodeTimeoutError {
			code = schemas.ErrCodeNavigationError
		}
		return &ActionError{Kind: schemas.ActionGoto, Code: code, Err: fmt.Errorf("navigate to %s: %w", url, err)}
	}
	return sleep(ctx, p.cfg.SettleTime)
}

// Observe evaluates the indexing script and returns the normalized result.
func (p *page) Observe(ctx context.Context) (schemas.Observation, error) {
	if err := p.check(""); err != nil {
		return schemas.Observation{}, err
	}
	opCtx, cancel := withTimeout(ctx, p.cfg.ActionTimeout)
	defer cancel()

	var obs schemas.Observation
	if err := p.drv.evaluate(opCtx, buildObserveScript(p.cfg.MaxElements), &obs); err != nil {
		return schemas.Observation{}, fmt.Errorf("failed to observe page: %w", wrapActionError("", err))
	}
	return normalizeObservation(obs, p.cfg.MaxTextLength), nil
}

// Execute runs one resolved action and waits for the page to settle.
func (p *page) Execute(ctx context.Context, action schemas.BrowserAction) error {
	if err := p.check(action.Kind); err != nil {
		return err
	}
	if action.Kind == schemas.ActionGoto {
		return p.Navigate(ctx, action.URL)
	}

	opCtx, cancel := withTimeout(ctx, p.cfg.ActionTimeout)
	defer cancel()
	if err := p.execute(opCtx, action); err != nil {
		return wrapActionError(action.Kind, err)
	}
	return sleep(ctx, p.cfg.SettleTime)
}

func (p *page) execute(ctx context.Context, action schemas.BrowserAction) error {
	switch action.Kind {
	case schemas.ActionClick, schemas.ActionType, schemas.ActionEnter, schemas.ActionHover:
		sel, err := p.locate(ctx, action)
		if err != nil {
			return err
		}
		switch action.Kind {
		case schemas.ActionClick:
			return p.drv.click(ctx, sel)
		case schemas.ActionType:
			return p.drv.fill(ctx, sel, action.Text)
		case schemas.ActionEnter:
			return p.drv.pressEnter(ctx, sel)
		default:
			return p.drv.hover(ctx, sel)
		}
	case schemas.ActionScroll:
		if action.Direction != schemas.ScrollUp && action.Direction != schemas.ScrollDown {
			return actionErr(action.Kind, schemas.ErrCodeInvalidParameters, "scroll direction must be up or down, got %q", action.Direction)
		}
		return p.drv.evaluate(ctx, scrollScript(action.Direction), nil)
	case schemas.ActionBack:
		return p.drv.back(ctx)
	case schemas.ActionWait:
		d := time.Duration(action.DurationMs) * time.Millisecond
		if d <= 0 {
			d = defaultWait
		}
		if d > maxWait {
			d = maxWait
		}
		return sleep(ctx, d)
	default:
		return actionErr(action.Kind, schemas.ErrCodeUnknownAction, "unsupported action kind %q", action.Kind)
	}
}

// locate checks that the indexed element from the last observation is still attached.
func (p *page) locate(ctx context.Context, action schemas.BrowserAction) (string, error) {
	if action.Index < 1 {
		return "", actionErr(action.Kind, schemas.ErrCodeInvalidParameters, "element index must be at least 1, got %d", action.Index)
	}
	var exists bool
	if err := p.drv.evaluate(ctx, existsScript(action.Index), &exists); err != nil {
		return "", err
	}
	if !exists {
		return "", actionErr(action.Kind, schemas.ErrCodeElementNotFound, "no element with index %d on the page", action.Index)
	}
	return selectorFor(action.Index), nil
}

// Get answers command from the full page text through the extractor.
func (p *page) Get(ctx context.Context, command string, s *schema.Schema) (any, error) {
	if p.extractor == nil {
		return nil, ErrNoExtractor
	}
	obs, err := p.Observe(ctx)
	if err != nil {
		return nil, err
	}
	src, err := p.drv.content(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", wrapActionError("", err))
	}
	title, text, err := HTMLText(src)
	if err != nil {
		return nil, err
	}
	if obs.Title == "" {
		obs.Title = title
	}
	limit := p.cfg.MaxTextLength * extractionTextFactor
	obs.Text = condenseText(text, limit)
	return p.extractor.Extract(ctx, command, obs, s)
}

// Close releases the page. It is idempotent.
func (p *page) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.onClose != nil {
		p.onClose()
	}
	if err := p.drv.close(ctx); err != nil {
		return fmt.Errorf("failed to close page %s: %w", p.id, err)
	}
	p.logger.Debug("Page closed.")
	return nil
}
