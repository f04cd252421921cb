package backend

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/position"
)

// DefaultLocatorTimeout bounds every wait-for-element.
const DefaultLocatorTimeout = 30 * time.Second

// Session is a browser automation driver that finds elements by selector.
// A selector prefixed with "text=" matches by visible text.
type Session interface {
	Open(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, text string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Reload(ctx context.Context) error
	Alive(ctx context.Context) error
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// Selectors maps steps to element selectors. An empty selector means the
// step needs no interaction (for example a JS dialog that the session
// accepts on its own).
type Selectors map[model.StepID]string

// DefaultSelectors matches the element ids of the NF-e portal.
func DefaultSelectors() Selectors {
	return Selectors{
		model.StepKeyField:        "#ctl00_ContentPlaceHolder1_txtChaveAcesso",
		model.StepCaptcha:         "iframe[src*='hcaptcha']",
		model.StepContinue:        "#ctl00_ContentPlaceHolder1_btnConsultar",
		model.StepDownload:        "text=Download do Documento Autorizado",
		model.StepPopupOK:         "",
		model.StepNewQuery:        "#ctl00_ContentPlaceHolder1_btnNovaConsulta",
		model.StepReload:          "",
		model.StepCancelledAck:    "",
		model.StepCancelledReload: "",
	}
}

// requiredSelectors must be non-empty for a run to start.
var requiredSelectors = []model.StepID{
	model.StepKeyField,
	model.StepContinue,
	model.StepDownload,
	model.StepNewQuery,
}

// LocatorOptions configures a Locator operator.
type LocatorOptions struct {
	URL            string
	Selectors      Selectors
	Timeout        time.Duration
	DiagnosticsDir string
	Logger         *slog.Logger
}

// Locator addresses steps by selector through a Session.
type Locator struct {
	session Session
	opts    LocatorOptions
	logger  *slog.Logger
}

var _ Operator = (*Locator)(nil)

// NewLocator creates a locator operator.
func NewLocator(s Session, opts LocatorOptions) *Locator {
	if opts.Selectors == nil {
		opts.Selectors = DefaultSelectors()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLocatorTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Locator{session: s, opts: opts, logger: logger}
}

func (l *Locator) Kind() Kind { return KindLocator }

// Prepare checks the required selectors. The cancelled-document branch is
// enabled when a selector for the cancelled popup is configured.
func (l *Locator) Prepare(context.Context) (bool, error) {
	for _, step := range requiredSelectors {
		if l.opts.Selectors[step] == "" {
			return false, &position.MissingStepError{Step: step}
		}
	}
	return l.opts.Selectors[model.StepCancelledAck] != "", nil
}

func (l *Locator) Open(ctx context.Context) error {
	return l.session.Open(ctx, l.opts.URL)
}

func (l *Locator) Alive(ctx context.Context) error {
	if err := l.session.Alive(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	return nil
}

func (l *Locator) TypeKey(ctx context.Context, step model.StepID, key model.DocumentKey) error {
	sel := l.opts.Selectors[step]
	if sel == "" {
		return fmt.Errorf("no selector configured for %s", step)
	}
	return l.session.Fill(ctx, sel, key.String(), l.opts.Timeout)
}

func (l *Locator) Click(ctx context.Context, step model.StepID) error {
	sel := l.opts.Selectors[step]
	if sel == "" {
		return nil
	}
	l.logger.Debug("click", "step", step.Name(), "selector", sel)
	return l.session.Click(ctx, sel, l.opts.Timeout)
}

// Reload reloads the page natively; the step's selector is not needed.
func (l *Locator) Reload(ctx context.Context, _ model.StepID) error {
	return l.session.Reload(ctx)
}

func (l *Locator) SolveCaptcha(ctx context.Context) (bool, error) {
	solver, ok := l.session.(CaptchaSolver)
	if !ok {
		return false, nil
	}
	return solver.SolveCaptcha(ctx)
}

func (l *Locator) Snapshot(ctx context.Context, name string) {
	if l.opts.DiagnosticsDir == "" {
		return
	}
	path := filepath.Join(l.opts.DiagnosticsDir, name+".png")
	if err := l.session.Screenshot(ctx, path); err != nil {
		l.logger.Debug("screenshot failed", "path", path, "error", err)
		return
	}
	l.logger.Info("error screenshot saved", "path", path)
}

func (l *Locator) Close() error {
	return l.session.Close()
}
