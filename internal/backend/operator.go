package backend

import (
	"context"

	"github.com/roach88/nfefetch/internal/model"
)

// Operator is the addressing primitive a Sequence drives. Steps are
// identified by model.StepID; the operator maps them to coordinates or
// selectors.
type Operator interface {
	Kind() Kind
	// Prepare loads the addressing table and reports whether the
	// cancelled-document steps are configured. A missing main-flow step
	// is reported as *position.MissingStepError.
	Prepare(ctx context.Context) (hasCancelled bool, err error)
	Open(ctx context.Context) error
	// Alive returns an error if the browser session is no longer usable.
	Alive(ctx context.Context) error
	// TypeKey focuses step's field, clears it and types key.
	TypeKey(ctx context.Context, step model.StepID, key model.DocumentKey) error
	Click(ctx context.Context, step model.StepID) error
	// Reload returns the portal to a fresh query page, using step's
	// control where the operator needs one.
	Reload(ctx context.Context, step model.StepID) error
	// SolveCaptcha makes a bounded automatic attempt and reports
	// whether the captcha is solved.
	SolveCaptcha(ctx context.Context) (bool, error)
	// Snapshot saves best-effort diagnostics under name.
	Snapshot(ctx context.Context, name string)
	Close() error
}

// CaptchaSolver is implemented by sessions that can solve the captcha.
type CaptchaSolver interface {
	SolveCaptcha(ctx context.Context) (bool, error)
}
