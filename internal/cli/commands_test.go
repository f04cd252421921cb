package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nfefetch/internal/backend"
	"github.com/roach88/nfefetch/internal/capture"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/testutil"
	"github.com/roach88/nfefetch/internal/timing"
)

const testOutputDir = "out"

// cliEnv is one isolated installation: key files and XMLs on a memory
// filesystem, settings in a temp SQLite file, the portal simulated by a
// ScriptedOperator.
type cliEnv struct {
	fs     afero.Fs
	env    map[string]string
	clk    *testutil.FakeClock
	op     *testutil.ScriptedOperator
	clicks []model.Position
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	fs := afero.NewMemMapFs()
	return &cliEnv{
		fs: fs,
		env: map[string]string{
			"NFEFETCH_SETTINGS_DB": filepath.Join(t.TempDir(), "settings.db"),
			"NFEFETCH_OUTPUT_DIR":  testOutputDir,
		},
		clk: testutil.NewFakeClock(testutil.Epoch),
		op:  testutil.NewScriptedOperator(backend.KindCoordinate, fs, testOutputDir),
	}
}

func (e *cliEnv) options() *RootOptions {
	return &RootOptions{
		FS: e.fs,
		Env: func(k string) (string, bool) {
			v, ok := e.env[k]
			return v, ok
		},
		Clock:  e.clk,
		RunIDs: testutil.NewFixedRunID("run-cli"),
		NewOperator: func(*App, backend.Kind) (backend.Operator, error) {
			return e.op, nil
		},
		NewRecorder: func(*App) (capture.Recorder, error) {
			return &clickRecorder{clicks: e.clicks}, nil
		},
	}
}

// exec runs the root command with args and returns stdout and stderr.
func (e *cliEnv) exec(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommandWith(e.options())
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func (e *cliEnv) writeKeys(t *testing.T, path string, ks ...model.DocumentKey) {
	t.Helper()
	lines := make([]string, len(ks))
	for i, k := range ks {
		lines[i] = string(k)
	}
	require.NoError(t, afero.WriteFile(e.fs, path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

// clickRecorder replays a fixed list of clicks, then blocks.
type clickRecorder struct {
	mu     sync.Mutex
	clicks []model.Position
}

func (r *clickRecorder) Open(context.Context) error { return nil }
func (r *clickRecorder) Close() error               { return nil }

func (r *clickRecorder) Next(ctx context.Context) (model.Position, error) {
	r.mu.Lock()
	if len(r.clicks) > 0 {
		p := r.clicks[0]
		r.clicks = r.clicks[1:]
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return model.Position{}, ctx.Err()
}

func key(n int) model.DocumentKey {
	return model.DocumentKey(fmt.Sprintf("3523%040d", n))
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "nfefetch", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"capture", "run", "batch", "retry", "status", "steps", "speed", "history"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "log-file"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestReplayFlags(t *testing.T) {
	for _, name := range []string{"run", "batch", "retry"} {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := NewRootCommand().Find([]string{name})
			require.NoError(t, err)
			for _, flag := range []string{"backend", "captcha", "speed"} {
				assert.NotNil(t, cmd.Flags().Lookup(flag), flag)
			}
		})
	}
}

func TestInvalidFormatRejected(t *testing.T) {
	e := newCLIEnv(t)
	_, _, err := e.exec(t, "--format", "xml", "steps")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSteps_Golden(t *testing.T) {
	e := newCLIEnv(t)
	stdout, _, err := e.exec(t, "steps")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "steps", []byte(stdout))
}

func TestSteps_JSON(t *testing.T) {
	e := newCLIEnv(t)
	stdout, _, err := e.exec(t, "--format", "json", "steps")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   []stepInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 9)
	assert.Equal(t, "key_field", resp.Data[0].Name)
	assert.True(t, resp.Data[8].Optional)
}

func TestSpeed_SaveGolden(t *testing.T) {
	e := newCLIEnv(t)
	stdout, _, err := e.exec(t, "speed", "4")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "speed_4", []byte(stdout))

	// The saved level is what later commands see.
	stdout, _, err = e.exec(t, "speed")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "Speed: 4 (x0.75)\n"), stdout)
}

func TestSpeed_ClampsOutOfRange(t *testing.T) {
	e := newCLIEnv(t)
	stdout, _, err := e.exec(t, "speed", "9")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "Speed set to 5 (x0.50)\n"), stdout)
}

func TestSpeed_RejectsNonNumber(t *testing.T) {
	e := newCLIEnv(t)
	_, _, err := e.exec(t, "speed", "fast")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCaptureThenStatus_Golden(t *testing.T) {
	e := newCLIEnv(t)
	for i := range model.MainFlow {
		e.clicks = append(e.clicks, model.Position{X: 100 + i*10, Y: 200 + i*20})
	}

	stdout, _, err := e.exec(t, "capture")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Step 1: Click the field where the NF-e access key is typed")
	assert.Contains(t, stdout, "Saved 7 positions:")

	stdout, _, err = e.exec(t, "status")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "status_captured", []byte(stdout))
}

func TestCapture_AbortKeepsNothing(t *testing.T) {
	e := newCLIEnv(t)
	e.clicks = []model.Position{{X: 1, Y: 2}, {X: 3, Y: 4}}

	stdout, stderr, err := e.runCancelled(t, "capture")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, capture.ErrAborted)
	assert.Contains(t, stderr, "Error [E007]")
	assert.Contains(t, stdout, "Step 3:")

	stdout, _, err = e.exec(t, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Main flow:  not configured")
	assert.NotContains(t, stdout, "(1, 2)")
}

// runCancelled runs args and cancels the context once the recorder has
// no clicks left, as a second Ctrl-C would.
func (e *cliEnv) runCancelled(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := e.options()
	opts.NewRecorder = func(*App) (capture.Recorder, error) {
		return &cancellingRecorder{clickRecorder: clickRecorder{clicks: e.clicks}, cancel: cancel}, nil
	}
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommandWith(opts)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

type cancellingRecorder struct {
	clickRecorder
	cancel context.CancelFunc
}

func (r *cancellingRecorder) Next(ctx context.Context) (model.Position, error) {
	r.mu.Lock()
	empty := len(r.clicks) == 0
	r.mu.Unlock()
	if empty {
		r.cancel()
	}
	return r.clickRecorder.Next(ctx)
}

func TestRun_DeliversAndLogsMissing(t *testing.T) {
	e := newCLIEnv(t)
	e.op.Script(key(2), testutil.Missing)
	e.writeKeys(t, "keys.txt", key(1), key(2), key(3), key(1))

	stdout, _, err := e.exec(t, "run", "keys.txt")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Processing NFe 1/3")
	assert.Contains(t, stdout, "[100%] 3/3")
	assert.Contains(t, stdout, fmt.Sprintf("NFe 2 not found: %s", key(2)))
	assert.Contains(t, stdout, "Completed 3 keys: 2 delivered, 1 not found, 0 errors")
	assert.Equal(t, []model.DocumentKey{key(1), key(2), key(3)}, e.op.Attempted())

	logPath := filepath.Join(testOutputDir, "XMLs_Nao_Encontrados.txt")
	data, err := afero.ReadFile(e.fs, logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), " - NFe: "+string(key(2)))
}

func TestRun_JSONReport(t *testing.T) {
	e := newCLIEnv(t)
	e.writeKeys(t, "keys.txt", key(1), key(2))

	stdout, _, err := e.exec(t, "--format", "json", "run", "keys.txt")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   runOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-cli", resp.Data.RunID)
	assert.Equal(t, "completed", resp.Data.State)
	assert.Equal(t, 2, resp.Data.Delivered)
}

func TestRun_MergesFiles(t *testing.T) {
	e := newCLIEnv(t)
	e.writeKeys(t, "a.txt", key(1), key(2))
	e.writeKeys(t, "b.txt", key(2), key(3))
	require.NoError(t, afero.WriteFile(e.fs, "empty.txt", []byte("nothing here\n"), 0o644))

	_, _, err := e.exec(t, "run", "a.txt", "empty.txt", "b.txt")
	require.NoError(t, err)
	assert.Equal(t, []model.DocumentKey{key(1), key(2), key(3)}, e.op.Attempted())
}

func TestRun_InputErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(e *cliEnv)
		args  []string
	}{
		{"no_keys", func(e *cliEnv) {
			_ = afero.WriteFile(e.fs, "keys.txt", []byte("123\n"), 0o644)
		}, []string{"run", "keys.txt"}},
		{"missing_file", func(*cliEnv) {}, []string{"run", "nope.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newCLIEnv(t)
			tt.setup(e)
			_, stderr, err := e.exec(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, stderr, "Error [E005]")
			assert.Empty(t, e.op.Attempted())
		})
	}
}

func TestRun_LongListIsTruncated(t *testing.T) {
	e := newCLIEnv(t)
	ks := make([]model.DocumentKey, 501)
	for i := range ks {
		ks[i] = key(i + 1)
	}
	e.writeKeys(t, "keys.txt", ks...)

	stdout, stderr, err := e.exec(t, "run", "keys.txt")
	require.NoError(t, err)

	attempted := e.op.Attempted()
	require.Len(t, attempted, 500)
	assert.Equal(t, key(500), attempted[499])
	assert.Contains(t, stderr, "key list truncated")
	assert.Contains(t, stdout, "Completed 500 keys")
}

func TestRun_MissingPositionsIsConfigurationError(t *testing.T) {
	e := newCLIEnv(t)
	e.op.MissingStep = model.StepDownload
	e.writeKeys(t, "keys.txt", key(1))

	_, stderr, err := e.exec(t, "run", "keys.txt")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, "Error [E002]")
	assert.Empty(t, e.op.Attempted())
}

func TestRun_LostSessionAborts(t *testing.T) {
	e := newCLIEnv(t)
	e.op.Script(key(2), testutil.Crash)
	e.writeKeys(t, "keys.txt", key(1), key(2), key(3))

	stdout, stderr, err := e.exec(t, "run", "keys.txt")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "Error [E003]")
	assert.Contains(t, stderr, "coordinate backend")
	assert.Contains(t, stdout, "Failed after 2 of 3 keys")
	assert.Equal(t, []model.DocumentKey{key(1), key(2)}, e.op.Attempted())
}

func TestRun_InvalidBackendFlag(t *testing.T) {
	e := newCLIEnv(t)
	e.writeKeys(t, "keys.txt", key(1))

	_, _, err := e.exec(t, "run", "--backend", "psychic", "keys.txt")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRetry_UsesMissingLog(t *testing.T) {
	e := newCLIEnv(t)
	e.op.Script(key(2), testutil.Missing).Script(key(4), testutil.Missing)
	e.writeKeys(t, "keys.txt", key(1), key(2), key(3), key(4))

	_, _, err := e.exec(t, "run", "keys.txt")
	require.NoError(t, err)

	e.op = testutil.NewScriptedOperator(backend.KindCoordinate, e.fs, testOutputDir)
	stdout, _, err := e.exec(t, "retry")
	require.NoError(t, err)
	assert.Equal(t, []model.DocumentKey{key(2), key(4)}, e.op.Attempted())
	assert.Contains(t, stdout, "Completed 2 keys: 2 delivered")
}

func TestRetry_NothingToRetry(t *testing.T) {
	e := newCLIEnv(t)
	stdout, _, err := e.exec(t, "retry")
	require.NoError(t, err)
	assert.Equal(t, "No missing documents to retry.\n", stdout)
	assert.Empty(t, e.op.Calls())
}

func TestBatch_RelocatesPerList(t *testing.T) {
	e := newCLIEnv(t)
	e.op.Script(key(2), testutil.Missing)
	e.writeKeys(t, "jan.txt", key(1), key(2))
	require.NoError(t, afero.WriteFile(e.fs, "feb.txt", nil, 0o644))
	e.writeKeys(t, "mar.txt", key(3))

	stdout, _, err := e.exec(t, "batch", "jan.txt", "feb.txt", "mar.txt")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Batch completed")
	assert.Contains(t, stdout, "feb: skipped (no keys)")

	for _, tc := range []struct {
		path string
		want bool
	}{
		{filepath.Join("lotes", "XMLs_jan", key(1).ArtifactName()), true},
		{filepath.Join("lotes", "XMLs_mar", key(3).ArtifactName()), true},
		{filepath.Join(testOutputDir, key(1).ArtifactName()), false},
		{filepath.Join("lotes", "XMLs_feb"), false},
	} {
		ok, err := afero.Exists(e.fs, tc.path)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, tc.path)
	}
}

func TestHistory_ListsRuns(t *testing.T) {
	e := newCLIEnv(t)
	e.op.Script(key(2), testutil.Missing)
	e.writeKeys(t, "keys.txt", key(1), key(2))
	_, _, err := e.exec(t, "run", "keys.txt")
	require.NoError(t, err)

	stdout, _, err := e.exec(t, "history")
	require.NoError(t, err)
	assert.Contains(t, stdout, "run-cli")
	assert.Contains(t, stdout, "completed")

	stdout, _, err = e.exec(t, "history", "run-cli")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Run: run-cli")
	assert.Contains(t, stdout, string(key(1))+"  delivered")
	assert.Contains(t, stdout, string(key(2))+"  not_found")
}

func TestHistory_Empty(t *testing.T) {
	e := newCLIEnv(t)
	stdout, _, err := e.exec(t, "history")
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded.\n", stdout)
}

func TestBadConfigIsCommandError(t *testing.T) {
	e := newCLIEnv(t)
	e.env["NFEFETCH_BACKEND"] = "telepathy"
	_, stderr, err := e.exec(t, "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, "Error [E002]")
}

func TestCoordinateOptions_SettleFollowsSpeed(t *testing.T) {
	a := &App{Clock: testutil.NewFakeClock(testutil.Epoch)}

	slow := a.coordinateOptions(timing.Compute(timing.MinSpeed), "")
	fast := a.coordinateOptions(timing.Compute(timing.MaxSpeed), "diag")

	assert.Equal(t, timing.Compute(timing.MinSpeed).Wait(timing.StageStepWait), slow.Settle)
	assert.Equal(t, timing.Compute(timing.MaxSpeed).Wait(timing.StageStepWait), fast.Settle)
	assert.Greater(t, slow.Settle, fast.Settle)
	assert.Equal(t, "diag", fast.DiagnosticsDir)
}
