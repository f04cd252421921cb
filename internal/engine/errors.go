package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes run-stopping errors.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates the run could not start: no keys, or
	// a required step has no position or selector. No attempt was made.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeBackendFatal indicates the automation session was lost and
	// the run was aborted.
	ErrCodeBackendFatal ErrorCode = "BACKEND_FATAL"

	// ErrCodeBusy indicates another run or capture is active.
	ErrCodeBusy ErrorCode = "BUSY"
)

// FatalRemediation is shown to the user when a run aborts on a lost
// session.
const FatalRemediation = "The browser automation session was lost. " +
	"Switch to the coordinate backend (--backend coordinate), " +
	"update Chrome, or restart the application and run the remaining keys again."

// Error is a run-stopping error.
//
// Per-key failures are never reported through Error; they are outcomes
// recorded in the run Report.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run, when one was started.
	RunID string

	// Remediation tells the user what to do next.
	Remediation string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s: %s (run=%s)", e.Code, e.Message, e.RunID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrBusy is returned when a run or capture is started while another is
// active.
var ErrBusy = &Error{Code: ErrCodeBusy, Message: "another run or capture is already active"}

// IsConfigurationError returns true if err is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfigurationError(err error) bool {
	return hasCode(err, ErrCodeConfiguration)
}

// IsBackendFatal returns true if err aborted a run on a lost session.
// Uses errors.As to handle wrapped errors.
func IsBackendFatal(err error) bool {
	return hasCode(err, ErrCodeBackendFatal)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

func newConfigurationError(runID string, err error) *Error {
	return &Error{
		Code:        ErrCodeConfiguration,
		Message:     err.Error(),
		RunID:       runID,
		Remediation: "Run `nfefetch capture` to record the missing steps, or check the configured selectors.",
		Err:         err,
	}
}

func newBackendFatalError(runID string, err error) *Error {
	return &Error{
		Code:        ErrCodeBackendFatal,
		Message:     err.Error(),
		RunID:       runID,
		Remediation: FatalRemediation,
		Err:         err,
	}
}
