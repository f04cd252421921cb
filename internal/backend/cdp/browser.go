// Package cdp drives a Chrome instance over the DevTools protocol with
// chromedp. It provides the raw pointer used by the coordinate backend
// and the click recorder used during capture.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrNotOpen is returned by operations on a browser that is not running.
var ErrNotOpen = errors.New("browser is not open")

// ErrDisconnected is returned once the tab's context has ended, which is
// what chromedp does when Chrome exits or the tab is closed.
var ErrDisconnected = errors.New("browser disconnected")

// Options configures the launched browser.
type Options struct {
	URL         string
	Headless    bool
	Width       int
	Height      int
	ExecPath    string
	DownloadDir string
}

// Browser owns one Chrome process with a single tab.
type Browser struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	listeners []func(ev any)
}

// NewBrowser prepares a browser; nothing is launched until Open.
func NewBrowser(opts Options, logger *slog.Logger) *Browser {
	if opts.Width <= 0 {
		opts.Width = 1366
	}
	if opts.Height <= 0 {
		opts.Height = 768
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Browser{opts: opts, logger: logger}
}

// Listen registers fn for every event of the tab. Must be called before
// Open.
func (b *Browser) Listen(fn func(ev any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.WindowSize(b.opts.Width, b.opts.Height),
	)
	if b.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.opts.ExecPath))
	}
	return opts
}

// Open launches Chrome, runs setup actions and navigates to the portal.
// Downloads go straight to DownloadDir and JS dialogs are accepted.
func (b *Browser) Open(ctx context.Context, setup ...chromedp.Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx != nil {
		return nil
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, b.allocatorOptions()...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			b.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	chromedp.ListenTarget(tabCtx, func(ev any) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go func() {
				if err := chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true)); err != nil {
					b.logger.Debug("accept dialog", "error", err)
				}
			}()
		}
	})
	for _, fn := range b.listeners {
		chromedp.ListenTarget(tabCtx, fn)
	}

	actions := append([]chromedp.Action{}, setup...)
	if b.opts.DownloadDir != "" {
		dir, err := filepath.Abs(b.opts.DownloadDir)
		if err != nil {
			cancelTab()
			cancelAlloc()
			return fmt.Errorf("resolve download dir: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			cancelTab()
			cancelAlloc()
			return fmt.Errorf("create download dir: %w", err)
		}
		actions = append(actions, browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(dir))
	}
	actions = append(actions, chromedp.Navigate(b.opts.URL))

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		cancelTab()
		cancelAlloc()
		return fmt.Errorf("launch chrome: %w", err)
	}

	b.ctx = tabCtx
	b.cancel = func() {
		cancelTab()
		cancelAlloc()
	}
	b.logger.Info("browser opened", "url", b.opts.URL, "headless", b.opts.Headless)
	return nil
}

// Run executes actions on the tab.
func (b *Browser) Run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	tab := b.ctx
	b.mu.Unlock()
	if tab == nil {
		return ErrNotOpen
	}
	return chromedp.Run(tab, actions...)
}

// Alive reports whether the tab is still usable.
func (b *Browser) Alive() error {
	b.mu.Lock()
	tab := b.ctx
	b.mu.Unlock()
	if tab == nil {
		return ErrNotOpen
	}
	if tab.Err() != nil {
		return ErrDisconnected
	}
	return nil
}

// Close shuts the browser down. Safe to call more than once.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel == nil {
		return nil
	}
	b.cancel()
	b.cancel = nil
	b.ctx = nil
	b.logger.Info("browser closed")
	return nil
}
