package browser

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/internal/config"
)

const playwrightInstallTimeout = 5 * time.Minute

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// playwrightBrowser runs Chromium through the playwright driver. All pages
// share one browser context so cookies carry across tabs.
type playwrightBrowser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	cfg     config.BrowserConfig
	logger  *zap.Logger
	opts    options
	pages   *pageSet
}

func newPlaywrightBrowser(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger, o options) (*playwrightBrowser, error) {
	log := logger.Named("playwright")
	log.Info("Initializing Playwright and launching browser...")

	if err := ensureInstallation(ctx, log); err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}
	browser, err := pw.Chromium.Launch(launchOptions(cfg))
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser instance: %w", err)
	}
	bctx, err := browser.NewContext(contextOptions(cfg))
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	log.Info("Browser launched.", zap.String("browser_version", browser.Version()))
	return &playwrightBrowser{
		pw:      pw,
		browser: browser,
		bctx:    bctx,
		cfg:     cfg,
		logger:  log,
		opts:    o,
		pages:   newPageSet(),
	}, nil
}

func ensureInstallation(ctx context.Context, logger *zap.Logger) error {
	logger.Info("Verifying Playwright browser installation...")
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			errCh <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

func launchOptions(cfg config.BrowserConfig) playwright.BrowserTypeLaunchOptions {
	defaultArgs := []string{
		"--disable-gpu",
		"--no-sandbox",
		"--disable-dev-shm-usage",
	}
	return playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     append(defaultArgs, cfg.Args...),
		Timeout:  playwright.Float(60000),
	}
}

func contextOptions(cfg config.BrowserConfig) playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(cfg.IgnoreTLSErrors),
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		opts.Viewport = &playwright.Size{Width: cfg.Viewport.Width, Height: cfg.Viewport.Height}
	}
	if cfg.UserAgent != "" {
		opts.UserAgent = playwright.String(cfg.UserAgent)
	}
	return opts
}

func (b *playwrightBrowser) NewPage(ctx context.Context) (Page, error) {
	pwPage, err := await(ctx, func() (playwright.Page, error) { return b.bctx.NewPage() })
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	drv := &pwDriver{page: pwPage}
	pwPage.OnCrash(func(playwright.Page) { drv.isCrashed.Store(true) })

	p := newPage(drv, b.cfg, b.logger, b.opts.extractor)
	p.onClose = func() { b.pages.remove(p.id) }
	if err := b.pages.add(p); err != nil {
		_ = pwPage.Close()
		return nil, err
	}
	return p, nil
}

func (b *playwrightBrowser) Page(id string) (Page, bool) { return b.pages.get(id) }

// Close closes all pages, the browser and the driver.
func (b *playwrightBrowser) Close(ctx context.Context) error {
	b.logger.Info("Shutting down browser.")
	err := b.pages.closeAll(ctx, b.logger)
	if cErr := b.browser.Close(); cErr != nil {
		b.logger.Error("Failed to close browser instance.", zap.Error(cErr))
		err = errors.Join(err, fmt.Errorf("failed to close browser: %w", cErr))
	}
	if sErr := b.pw.Stop(); sErr != nil {
		b.logger.Error("Failed to stop Playwright driver.", zap.Error(sErr))
		err = errors.Join(err, fmt.Errorf("failed to stop playwright driver: %w", sErr))
	}
	return err
}

// await runs fn, which cannot be canceled, and stops waiting for it when ctx
// is done. Playwright calls are bounded by their own timeouts.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func runBlocking(ctx context.Context, fn func() error) error {
	_, err := await(ctx, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// timeoutMs converts the context deadline into a playwright timeout.
func timeoutMs(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	ms := float64(time.Until(deadline).Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return playwright.Float(ms)
}

type pwDriver struct {
	page      playwright.Page
	isCrashed atomic.Bool
}

func (d *pwDriver) navigate(ctx context.Context, url string) error {
	return runBlocking(ctx, func() error {
		_, err := d.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   timeoutMs(ctx),
		})
		return err
	})
}

func (d *pwDriver) evaluate(ctx context.Context, expression string, out any) error {
	res, err := await(ctx, func() (any, error) { return d.page.Evaluate(expression) })
	if err != nil || out == nil {
		return err
	}
	// Evaluate returns generic maps and slices; route them through JSON to
	// fill the typed destination.
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

func (d *pwDriver) click(ctx context.Context, selector string) error {
	return runBlocking(ctx, func() error {
		return d.page.Click(selector, playwright.PageClickOptions{Timeout: timeoutMs(ctx)})
	})
}

func (d *pwDriver) fill(ctx context.Context, selector, text string) error {
	return runBlocking(ctx, func() error {
		return d.page.Fill(selector, text, playwright.PageFillOptions{Timeout: timeoutMs(ctx)})
	})
}

func (d *pwDriver) pressEnter(ctx context.Context, selector string) error {
	return runBlocking(ctx, func() error {
		return d.page.Press(selector, "Enter", playwright.PagePressOptions{Timeout: timeoutMs(ctx)})
	})
}

func (d *pwDriver) hover(ctx context.Context, selector string) error {
	return runBlocking(ctx, func() error {
		return d.page.Hover(selector, playwright.PageHoverOptions{Timeout: timeoutMs(ctx)})
	})
}

func (d *pwDriver) back(ctx context.Context) error {
	return runBlocking(ctx, func() error {
		_, err := d.page.GoBack(playwright.PageGoBackOptions{Timeout: timeoutMs(ctx)})
		return err
	})
}

func (d *pwDriver) content(ctx context.Context) (string, error) {
	return await(ctx, d.page.Content)
}

func (d *pwDriver) crashed() bool { return d.isCrashed.Load() }

func (d *pwDriver) close(ctx context.Context) error {
	return runBlocking(ctx, func() error { return d.page.Close() })
}
