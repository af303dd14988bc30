package browser

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/internal/config"
)

const closeTimeout = 10 * time.Second

// chromedpBrowser runs one Chrome process. Each page is a tab with its own
// chromedp context derived from the browser context.
type chromedpBrowser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	cfg           config.BrowserConfig
	logger        *zap.Logger
	opts          options
	pages         *pageSet
}

func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(trimFlag(arg), true))
	}
	return opts
}

// trimFlag turns "--foo" into "foo". Flags with values are passed whole.
func trimFlag(arg string) string {
	for len(arg) > 0 && arg[0] == '-' {
		arg = arg[1:]
	}
	return arg
}

func newChromedpBrowser(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger, o options) (*chromedpBrowser, error) {
	log := logger.Named("chromedp")

	// The allocator outlives the caller's context. Close tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Debugf),
	)

	startCtx, cancel := CombineContext(browserCtx, ctx)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	log.Info("Browser launched.", zap.Bool("headless", cfg.Headless))
	return &chromedpBrowser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		cfg:           cfg,
		logger:        log,
		opts:          o,
		pages:         newPageSet(),
	}, nil
}

// NewPage opens a new tab.
func (b *chromedpBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	drv := &cdpDriver{ctx: tabCtx, cancel: tabCancel}
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if _, ok := ev.(*inspector.EventTargetCrashed); ok {
			drv.isCrashed.Store(true)
		}
	})

	// Running with no actions creates the target.
	if err := drv.run(ctx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	p := newPage(drv, b.cfg, b.logger, b.opts.extractor)
	p.onClose = func() { b.pages.remove(p.id) }
	if err := b.pages.add(p); err != nil {
		tabCancel()
		return nil, err
	}
	b.logger.Debug("Tab opened.", zap.String("page_id", p.id))
	return p, nil
}

func (b *chromedpBrowser) Page(id string) (Page, bool) { return b.pages.get(id) }

// Close closes every tab and then the browser process.
func (b *chromedpBrowser) Close(ctx context.Context) error {
	err := b.pages.closeAll(ctx, b.logger)
	if cErr := chromedp.Cancel(b.browserCtx); cErr != nil && !errors.Is(cErr, context.Canceled) {
		err = errors.Join(err, fmt.Errorf("failed to close chrome: %w", cErr))
	}
	b.browserCancel()
	b.allocCancel()
	b.logger.Info("Browser closed.")
	return err
}

// cdpDriver drives one tab through the DevTools protocol.
type cdpDriver struct {
	ctx       context.Context
	cancel    context.CancelFunc
	isCrashed atomic.Bool
}

// run executes actions on the tab, bounded by the operation context.
func (d *cdpDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(d.ctx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && d.ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

func (d *cdpDriver) navigate(ctx context.Context, url string) error {
	return d.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (d *cdpDriver) evaluate(ctx context.Context, expression string, out any) error {
	return d.run(ctx, chromedp.Evaluate(expression, out))
}

func (d *cdpDriver) click(ctx context.Context, selector string) error {
	return d.run(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

func (d *cdpDriver) fill(ctx context.Context, selector, text string) error {
	return d.run(ctx,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (d *cdpDriver) pressEnter(ctx context.Context, selector string) error {
	return d.run(ctx,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery),
	)
}

func (d *cdpDriver) hover(ctx context.Context, selector string) error {
	var center []float64
	if err := d.run(ctx, chromedp.Evaluate(centerScript(selector), &center)); err != nil {
		return err
	}
	if len(center) != 2 {
		return fmt.Errorf("could not locate %s on screen", selector)
	}
	return d.run(ctx, chromedp.MouseEvent(input.MouseMoved, center[0], center[1]))
}

func (d *cdpDriver) back(ctx context.Context) error {
	return d.run(ctx, chromedp.NavigateBack())
}

func (d *cdpDriver) content(ctx context.Context) (string, error) {
	var src string
	err := d.run(ctx, chromedp.OuterHTML("html", &src, chromedp.ByQuery))
	return src, err
}

func (d *cdpDriver) crashed() bool { return d.isCrashed.Load() }

func (d *cdpDriver) close(ctx context.Context) error {
	defer d.cancel()
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(d.ctx) }()

	timer := time.NewTimer(closeTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out closing tab after %s", closeTimeout)
	}
}
