// Package rodsess implements the locator backend's browser session on
// top of go-rod, for hosts where the Playwright driver is unavailable.
package rodsess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/roach88/nfefetch/internal/backend"
)

// DefaultCaptchaTimeout bounds one automatic captcha attempt.
const DefaultCaptchaTimeout = 15 * time.Second

const (
	captchaPoll = 500 * time.Millisecond
	textPrefix  = "text="
	// textCandidates are the elements searched for a text= selector.
	textCandidates = "a, button, input, span, div"
)

const captchaResponseJS = `() => {
  const el = document.querySelector('textarea[name="h-captcha-response"]');
  return el ? el.value : "";
}`

var errClosed = errors.New("session is closed")

// Options configures the launched browser.
type Options struct {
	Headless       bool
	Width          int
	Height         int
	ExecPath       string
	DownloadDir    string
	CaptchaTimeout time.Duration
	Logger         *slog.Logger
}

// Session is a single Chrome page driven by rod.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
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

func (s *Session) newLauncher() *launcher.Launcher {
	l := launcher.New().
		Headless(s.opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("window-size", fmt.Sprintf("%d,%d", s.opts.Width, s.opts.Height))
	if s.opts.ExecPath != "" {
		l = l.Bin(s.opts.ExecPath)
	}
	return l
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

	l := s.newLauncher()
	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return fmt.Errorf("connect to browser: %w", err)
	}
	fail := func(err error) error {
		_ = browser.Close()
		l.Cleanup()
		return err
	}

	if s.opts.DownloadDir != "" {
		dir, err := filepath.Abs(s.opts.DownloadDir)
		if err != nil {
			return fail(fmt.Errorf("resolve download dir: %w", err))
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fail(fmt.Errorf("create download dir: %w", err))
		}
		err = proto.BrowserSetDownloadBehavior{
			Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
			DownloadPath: dir,
		}.Call(browser)
		if err != nil {
			return fail(fmt.Errorf("set download behaviour: %w", err))
		}
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return fail(fmt.Errorf("open %s: %w", url, err))
	}
	go page.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		s.logger.Debug("dialog accepted", "message", e.Message)
		_ = proto.PageHandleJavaScriptDialog{Accept: true}.Call(page)
	})()
	if err := page.Context(ctx).WaitLoad(); err != nil {
		return fail(fmt.Errorf("wait for %s: %w", url, err))
	}

	s.launcher, s.browser, s.page = l, browser, page
	s.logger.Info("browser opened", "driver", "rod", "url", url)
	return nil
}

func (s *Session) current(ctx context.Context) (*rod.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil, errClosed
	}
	return s.page.Context(ctx), nil
}

func (s *Session) element(ctx context.Context, selector string, timeout time.Duration) (*rod.Element, error) {
	page, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	p := page.Timeout(timeout)
	var el *rod.Element
	if text, ok := strings.CutPrefix(selector, textPrefix); ok {
		el, err = p.ElementR(textCandidates, regexp.QuoteMeta(text))
	} else {
		el, err = p.Element(selector)
	}
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return nil, fmt.Errorf("wait for %q: %w", selector, err)
	}
	return el.CancelTimeout(), nil
}

func (s *Session) Fill(ctx context.Context, selector, text string, timeout time.Duration) error {
	el, err := s.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select %q: %w", selector, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	return nil
}

func (s *Session) Click(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := s.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

func (s *Session) Reload(ctx context.Context) error {
	page, err := s.current(ctx)
	if err != nil {
		return err
	}
	if err := page.Reload(); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (s *Session) Alive(ctx context.Context) error {
	page, err := s.current(ctx)
	if err != nil {
		return err
	}
	if _, err := page.Timeout(5 * time.Second).Eval(`() => document.readyState`); err != nil {
		return fmt.Errorf("page unresponsive: %w", err)
	}
	return nil
}

func (s *Session) Screenshot(ctx context.Context, path string) error {
	page, err := s.current(ctx)
	if err != nil {
		return err
	}
	buf, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

// SolveCaptcha waits up to CaptchaTimeout for the captcha token.
func (s *Session) SolveCaptcha(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(s.opts.CaptchaTimeout)
	for {
		page, err := s.current(ctx)
		if err != nil {
			return false, err
		}
		res, err := page.Eval(captchaResponseJS)
		if err != nil {
			return false, fmt.Errorf("read captcha token: %w", err)
		}
		if res.Value.Str() != "" {
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

func (s *Session) Close() error {
	s.mu.Lock()
	l, browser := s.launcher, s.browser
	s.launcher, s.browser, s.page = nil, nil, nil
	s.mu.Unlock()
	if browser == nil {
		return nil
	}
	err := browser.Close()
	l.Cleanup()
	s.logger.Info("browser closed", "driver", "rod")
	return err
}
