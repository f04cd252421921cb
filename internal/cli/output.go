package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/roach88/nfefetch/internal/capture"
	"github.com/roach88/nfefetch/internal/engine"
	"github.com/roach88/nfefetch/internal/keys"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/position"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Run completed or was stopped by the user
	ExitFailure      = 1 // Run aborted: lost browser session or another job active
	ExitCommandError = 2 // Bad arguments, configuration, or unreadable input
)

// Error codes reported in JSON output.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeConfiguration = "E002" // Missing positions/selectors or invalid config
	ErrCodeBackendFatal  = "E003" // Automation session lost
	ErrCodeBusy          = "E004" // Another run or capture is active
	ErrCodeInput         = "E005" // Key list missing, empty, or too long
	ErrCodeStorage       = "E006" // Settings database unavailable
	ErrCodeAborted       = "E007" // Capture stopped before the last step
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify maps an error to its JSON error code and exit code.
func classify(err error) (string, int) {
	var missingStep *position.MissingStepError
	switch {
	case engine.IsConfigurationError(err), errors.As(err, &missingStep):
		return ErrCodeConfiguration, ExitCommandError
	case engine.IsBackendFatal(err):
		return ErrCodeBackendFatal, ExitFailure
	case errors.Is(err, engine.ErrBusy), errors.Is(err, capture.ErrInProgress):
		return ErrCodeBusy, ExitFailure
	case errors.Is(err, capture.ErrAborted):
		return ErrCodeAborted, ExitFailure
	case errors.Is(err, keys.ErrEmpty), errors.Is(err, keys.ErrTooMany),
		errors.Is(err, model.ErrInvalidKey), errors.Is(err, fs.ErrNotExist):
		return ErrCodeInput, ExitCommandError
	}
	return ErrCodeGeneric, GetExitCode(err)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// JSON reports whether output is machine-readable.
func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

// Success outputs a successful result: text as-is, or data wrapped in a
// CLIResponse in JSON mode.
func (f *OutputFormatter) Success(text string, data any) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	_, err := io.WriteString(f.Writer, text)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.GetErrWriter(), "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.GetErrWriter(), "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns it as an *ExitError carrying the right
// exit code.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := classify(err)
	var details any
	var ee *engine.Error
	if errors.As(err, &ee) && ee.Remediation != "" {
		details = map[string]string{"remediation": ee.Remediation}
	}
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), details)
	if ee != nil && ee.Remediation != "" && !f.JSON() {
		fmt.Fprintln(f.GetErrWriter(), ee.Remediation)
	}
	return WrapExitError(exit, message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
