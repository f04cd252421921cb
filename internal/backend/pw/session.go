// Package pw implements the locator backend's browser session on top of
// playwright-go.
package pw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/roach88/nfefetch/internal/backend"
)

const (
	// DefaultCaptchaTimeout bounds one automatic captcha attempt.
	DefaultCaptchaTimeout = 15 * time.Second

	captchaPoll = 500 * time.Millisecond
	closeGrace  = 10 * time.Second
	textPrefix  = "text="
)

// captchaResponseJS reads the token hCaptcha writes once the challenge
// is passed.
const captchaResponseJS = `() => {
  const el = document.querySelector('textarea[name="h-captcha-response"]');
  return el ? el.value : "";
}`

var errClosed = errors.New("session is closed")

// Options configures the launched Chromium.
type Options struct {
	Headless       bool
	Width          int
	Height         int
	ExecPath       string
	DownloadDir    string
	CaptchaTimeout time.Duration
	Logger         *slog.Logger
}

// Session is a single Chromium page driven by Playwright.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

var (
	_ backend.Session       = (*Session)(nil)
	_ backend.CaptchaSolver = (*Session)(nil)
)

// New returns an unopened session.
func New(opts Options) *Session {
	if opts.Width <= 0 {
		opts.Width = 1366
	}
	if opts.Height <= 0 {
		opts.Height = 768
	}
	if opts.CaptchaTimeout <= 0 {
		opts.CaptchaTimeout = DefaultCaptchaTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{opts: opts, logger: logger}
}

func (s *Session) Open(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page != nil {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.opts.Headless),
		Args:     []string{"--disable-blink-features=AutomationControlled"},
	}
	if s.opts.ExecPath != "" {
		launch.ExecutablePath = playwright.String(s.opts.ExecPath)
	}
	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("launch chromium: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		AcceptDownloads: playwright.Bool(true),
		Viewport:        &playwright.Size{Width: s.opts.Width, Height: s.opts.Height},
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("new browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("new page: %w", err)
	}

	page.OnDownload(s.saveDownload)
	page.OnDialog(func(d playwright.Dialog) {
		s.logger.Debug("dialog accepted", "message", d.Message())
		if err := d.Accept(); err != nil {
			s.logger.Warn("accept dialog", "error", err)
		}
	})

	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("navigate to %s: %w", url, err)
	}

	s.pw, s.browser, s.page = pw, browser, page
	s.logger.Info("browser opened", "driver", "playwright", "url", url)
	return nil
}

func (s *Session) saveDownload(d playwright.Download) {
	if s.opts.DownloadDir == "" {
		return
	}
	if err := os.MkdirAll(s.opts.DownloadDir, 0o755); err != nil {
		s.logger.Error("create download dir", "error", err)
		return
	}
	path := filepath.Join(s.opts.DownloadDir, filepath.Base(d.SuggestedFilename()))
	if err := d.SaveAs(path); err != nil {
		s.logger.Error("save download", "path", path, "error", err)
		return
	}
	s.logger.Debug("download saved", "path", path)
}

func (s *Session) current(ctx context.Context) (playwright.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil, errClosed
	}
	return s.page, nil
}

func (s *Session) visible(ctx context.Context, selector string, timeout time.Duration) (playwright.Locator, error) {
	page, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	var loc playwright.Locator
	if len(selector) > len(textPrefix) && selector[:len(textPrefix)] == textPrefix {
		loc = page.GetByText(selector[len(textPrefix):]).First()
	} else {
		loc = page.Locator(selector).First()
	}
	if err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		return nil, fmt.Errorf("wait for %q: %w", selector, err)
	}
	return loc, nil
}

func (s *Session) Fill(ctx context.Context, selector, text string, timeout time.Duration) error {
	loc, err := s.visible(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if err := loc.Fill(""); err != nil {
		return fmt.Errorf("clear %q: %w", selector, err)
	}
	if err := loc.Fill(text); err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	return nil
}

func (s *Session) Click(ctx context.Context, selector string, timeout time.Duration) error {
	loc, err := s.visible(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if err := loc.Click(); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

func (s *Session) Reload(ctx context.Context) error {
	page, err := s.current(ctx)
	if err != nil {
		return err
	}
	_, err = page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (s *Session) Alive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	browser, page := s.browser, s.page
	s.mu.Unlock()
	if browser == nil || page == nil {
		return errClosed
	}
	if !browser.IsConnected() {
		return errors.New("browser disconnected")
	}
	if page.IsClosed() {
		return errors.New("page closed")
	}
	if _, err := page.Evaluate("document.readyState"); err != nil {
		return fmt.Errorf("page unresponsive: %w", err)
	}
	return nil
}

func (s *Session) Screenshot(ctx context.Context, path string) error {
	page, err := s.current(ctx)
	if err != nil {
		return err
	}
	_, err = page.Screenshot(playwright.PageScreenshotOptions{Path: playwright.String(path)})
	return err
}

// SolveCaptcha waits up to CaptchaTimeout for the captcha token to be
// filled, which happens when the challenge passes without interaction
// or the user solves it in a visible browser.
func (s *Session) SolveCaptcha(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(s.opts.CaptchaTimeout)
	for {
		page, err := s.current(ctx)
		if err != nil {
			return false, err
		}
		v, err := page.Evaluate(captchaResponseJS)
		if err != nil {
			return false, fmt.Errorf("read captcha token: %w", err)
		}
		if token, _ := v.(string); token != "" {
			s.logger.Debug("captcha solved")
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(captchaPoll):
		}
	}
}

// Close shuts Chromium and the Playwright driver down, giving up after a
// grace period so a wedged driver cannot hang the caller.
func (s *Session) Close() error {
	s.mu.Lock()
	pw, browser := s.pw, s.browser
	s.pw, s.browser, s.page = nil, nil, nil
	s.mu.Unlock()
	if pw == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		err := browser.Close()
		if stopErr := pw.Stop(); err == nil {
			err = stopErr
		}
		done <- err
	}()
	select {
	case err := <-done:
		s.logger.Info("browser closed", "driver", "playwright")
		return err
	case <-time.After(closeGrace):
		return errors.New("timed out closing playwright")
	}
}
