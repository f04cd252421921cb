package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/nfefetch/internal/model"
)

// Kind selects the addressing model.
type Kind string

const (
	KindCoordinate Kind = "coordinate"
	KindLocator    Kind = "locator"
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCoordinate, KindLocator:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown backend %q: must be %q or %q", s, KindCoordinate, KindLocator)
}

// CaptchaPolicy selects how the captcha step is handled.
type CaptchaPolicy string

const (
	// CaptchaManual waits the captcha stage for the user to solve it.
	CaptchaManual CaptchaPolicy = "manual"
	// CaptchaAuto tries the operator's solver first and falls back to
	// the manual wait when it does not report success.
	CaptchaAuto CaptchaPolicy = "auto"
)

// ParseCaptchaPolicy validates a captcha policy name.
func ParseCaptchaPolicy(s string) (CaptchaPolicy, error) {
	switch CaptchaPolicy(s) {
	case CaptchaManual, CaptchaAuto:
		return CaptchaPolicy(s), nil
	}
	return "", fmt.Errorf("unknown captcha policy %q: must be %q or %q", s, CaptchaManual, CaptchaAuto)
}

// Attempt identifies one key of a run.
type Attempt struct {
	RunID string
	Index int // 1-based
	Total int
	Key   model.DocumentKey
}

// Result is the decided outcome of an attempt. Err is set for
// AttemptError outcomes; a *FatalError in Err means the whole run must
// stop.
type Result struct {
	Key     model.DocumentKey
	Outcome model.Outcome
	Err     error
}

// Fatal reports whether the result must abort the run.
func (r Result) Fatal() bool { return IsFatal(r.Err) }

// Backend is what the replay engine drives.
type Backend interface {
	Kind() Kind
	// Preflight verifies the backend is fully configured. It runs before
	// any browser is opened.
	Preflight(ctx context.Context) error
	// Open starts the browser session and loads the portal.
	Open(ctx context.Context) error
	// Attempt processes one key. It never panics and always returns a
	// decided outcome.
	Attempt(ctx context.Context, a Attempt) Result
	// Close releases the session. Safe to call more than once, and
	// before Open.
	Close() error
}

// ErrSessionLost is wrapped by operators whose browser session died.
var ErrSessionLost = errors.New("automation session lost")

// FatalError marks a failure that makes every further attempt pointless.
type FatalError struct {
	Backend Kind
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err is or wraps a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
