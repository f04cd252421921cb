package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nfefetch/internal/backend"
	"github.com/roach88/nfefetch/internal/capture"
	"github.com/roach88/nfefetch/internal/engine"
	"github.com/roach88/nfefetch/internal/keys"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/position"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success("ignored in json mode\n", data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.NotContains(t, buf.String(), "ignored")
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeInput, "no document keys found", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E005", resp.Error.Code)
	assert.Equal(t, "no document keys found", resp.Error.Message)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("Speed set to 4\n", map[string]int{"speed": 4})
	require.NoError(t, err)
	assert.Equal(t, "Speed set to 4\n", buf.String())
}

func TestOutputFormatter_TextErrorGoesToErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:    "text",
		Writer:    out,
		ErrWriter: errOut,
	}

	err := formatter.Error(ErrCodeGeneric, "something broke", nil)
	require.NoError(t, err)
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [E001]: something broke")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"file": "keys.txt"}
	err := formatter.Error(ErrCodeInput, "bad list", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E005]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("Processing %s", "keys.txt")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "Processing keys.txt")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestClassify(t *testing.T) {
	fatal := &engine.Error{Code: engine.ErrCodeBackendFatal, Message: "lost", Err: backend.ErrSessionLost}
	config := &engine.Error{Code: engine.ErrCodeConfiguration, Message: "no positions"}

	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{"configuration", config, ErrCodeConfiguration, ExitCommandError},
		{"missing_step", &position.MissingStepError{Step: model.StepDownload}, ErrCodeConfiguration, ExitCommandError},
		{"backend_fatal", fatal, ErrCodeBackendFatal, ExitFailure},
		{"busy", engine.ErrBusy, ErrCodeBusy, ExitFailure},
		{"capture_busy", capture.ErrInProgress, ErrCodeBusy, ExitFailure},
		{"aborted", capture.ErrAborted, ErrCodeAborted, ExitFailure},
		{"empty_list", fmt.Errorf("keys.txt: %w", keys.ErrEmpty), ErrCodeInput, ExitCommandError},
		{"too_many", keys.ErrTooMany, ErrCodeInput, ExitCommandError},
		{"generic", errors.New("boom"), ErrCodeGeneric, ExitFailure},
		{"exit_error", NewExitError(ExitCommandError, "bad flag"), ErrCodeGeneric, ExitCommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, exit := classify(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantExit, exit)
		})
	}
}

func TestOutputFormatter_FailPrintsRemediation(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	cause := &engine.Error{
		Code:        engine.ErrCodeBackendFatal,
		Message:     "automation session lost",
		RunID:       "run-1",
		Remediation: engine.FatalRemediation,
		Err:         backend.ErrSessionLost,
	}
	err := formatter.Fail("run failed", cause)

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, backend.ErrSessionLost)
	assert.Contains(t, buf.String(), "Error [E003]: run failed")
	assert.Contains(t, buf.String(), engine.FatalRemediation)
}

func TestOutputFormatter_FailJSONDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := &engine.Error{
		Code:        engine.ErrCodeConfiguration,
		Message:     "step 4 (download) has no recorded position",
		Remediation: "Run nfefetch capture first.",
	}
	err := formatter.Fail("run failed", cause)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfiguration, resp.Error.Code)
	assert.Equal(t, map[string]any{"remediation": "Run nfefetch capture first."}, resp.Error.Details)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", errors.New("y"))))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "z"))))
}
