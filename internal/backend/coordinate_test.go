package backend_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nfefetch/internal/backend"
	"github.com/roach88/nfefetch/internal/detect"
	"github.com/roach88/nfefetch/internal/missing"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/position"
	"github.com/roach88/nfefetch/internal/testutil"
	"github.com/roach88/nfefetch/internal/timing"
)

type fakePointer struct {
	actions []string
	dead    error
}

func (p *fakePointer) Open(context.Context) error { p.actions = append(p.actions, "open"); return nil }
func (p *fakePointer) ClickAt(_ context.Context, pos model.Position) error {
	p.actions = append(p.actions, fmt.Sprintf("click %d,%d", pos.X, pos.Y))
	return nil
}
func (p *fakePointer) SelectAll(context.Context) error {
	p.actions = append(p.actions, "select_all")
	return nil
}
func (p *fakePointer) TypeText(_ context.Context, text string) error {
	p.actions = append(p.actions, "type "+text)
	return nil
}
func (p *fakePointer) Reload(context.Context) error {
	p.actions = append(p.actions, "reload")
	return nil
}
func (p *fakePointer) Alive(context.Context) error { return p.dead }
func (p *fakePointer) Screenshot(_ context.Context, path string) error {
	p.actions = append(p.actions, "screenshot "+path)
	return nil
}
func (p *fakePointer) Close() error { p.actions = append(p.actions, "close"); return nil }

func recordedStore(t *testing.T, withCancelled bool) *position.Store {
	t.Helper()
	ctx := context.Background()
	s := position.NewStore(testutil.NewMemorySettings())
	all := make(map[model.StepID]model.Position)
	for _, step := range model.MainFlow {
		all[step] = model.Position{X: int(step) * 10, Y: int(step) * 100}
	}
	require.NoError(t, s.SaveAll(ctx, all))
	if withCancelled {
		require.NoError(t, s.SaveCancelledConfig(ctx, model.Position{X: 77, Y: 707}, model.Position{X: 88, Y: 808}))
	}
	return s
}

func TestCoordinate_TypeKeyClicksSelectsAndTypes(t *testing.T) {
	ptr := &fakePointer{}
	clk := testutil.NewFakeClock(time.Time{})
	op := backend.NewCoordinate(ptr, recordedStore(t, false), backend.CoordinateOptions{
		Clock:  clk,
		Settle: 500 * time.Millisecond,
	})

	has, err := op.Prepare(context.Background())
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, op.TypeKey(context.Background(), model.StepKeyField, keyA))
	assert.Equal(t, []string{"click 10,100", "select_all", "type " + keyA.String()}, ptr.actions)
	assert.Equal(t, 500*time.Millisecond, clk.Elapsed())
}

func TestCoordinate_ReloadIsNative(t *testing.T) {
	ptr := &fakePointer{}
	op := backend.NewCoordinate(ptr, recordedStore(t, true), backend.CoordinateOptions{Clock: testutil.NewFakeClock(time.Time{})})

	has, err := op.Prepare(context.Background())
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, op.Reload(context.Background(), model.StepReload))
	require.NoError(t, op.Click(context.Background(), model.StepCancelledAck))
	require.NoError(t, op.Reload(context.Background(), model.StepCancelledReload))
	assert.Equal(t, []string{"reload", "click 77,707", "reload"}, ptr.actions)
}

func TestCoordinate_NotFoundRecoveryReloadsPage(t *testing.T) {
	fs := afero.NewMemMapFs()
	clk := testutil.NewFakeClock(time.Time{})
	ptr := &fakePointer{}
	op := backend.NewCoordinate(ptr, recordedStore(t, false), backend.CoordinateOptions{Clock: clk})
	seq := backend.NewSequence(op, backend.Options{
		Timing:        timing.Compute(3),
		DetectTimeout: 1,
		Detector:      detect.New(fs, "out", clk, nil),
		Missing:       missing.NewLog(fs, "out/"+missing.DefaultFileName, clk, nil),
		Clock:         clk,
	})
	require.NoError(t, seq.Preflight(context.Background()))

	res := seq.Attempt(context.Background(), backend.Attempt{Index: 1, Total: 1, Key: keyA})

	assert.Equal(t, model.OutcomeNotFound, res.Outcome)
	assert.Equal(t, "reload", ptr.actions[len(ptr.actions)-1])
	assert.NotContains(t, ptr.actions, "click 70,700", "the recorded reload point is never clicked")
}

func TestCoordinate_ClickUnknownStep(t *testing.T) {
	op := backend.NewCoordinate(&fakePointer{}, recordedStore(t, false), backend.CoordinateOptions{})
	_, err := op.Prepare(context.Background())
	require.NoError(t, err)
	assert.Error(t, op.Click(context.Background(), model.StepCancelledAck))
}

func TestCoordinate_PrepareFailsOnIncompleteSet(t *testing.T) {
	s := position.NewStore(testutil.NewMemorySettings())
	require.NoError(t, s.Save(context.Background(), model.StepKeyField, model.Position{X: 1, Y: 1}))

	op := backend.NewCoordinate(&fakePointer{}, s, backend.CoordinateOptions{})
	_, err := op.Prepare(context.Background())
	var missingStep *position.MissingStepError
	require.ErrorAs(t, err, &missingStep)
	assert.Equal(t, model.StepCaptcha, missingStep.Step)
}

func TestCoordinate_NoAutomaticCaptcha(t *testing.T) {
	ptr := &fakePointer{}
	op := backend.NewCoordinate(ptr, recordedStore(t, false), backend.CoordinateOptions{DiagnosticsDir: "diag"})

	solved, err := op.SolveCaptcha(context.Background())
	require.NoError(t, err)
	assert.False(t, solved)

	op.Snapshot(context.Background(), "erro_3523061234")
	assert.Equal(t, []string{"screenshot diag/erro_3523061234.png"}, ptr.actions)
}

func TestCoordinate_AliveFollowsBrowser(t *testing.T) {
	ptr := &fakePointer{}
	op := backend.NewCoordinate(ptr, recordedStore(t, false), backend.CoordinateOptions{})
	assert.NoError(t, op.Alive(context.Background()))

	ptr.dead = errors.New("browser disconnected")
	assert.EqualError(t, op.Alive(context.Background()), "browser disconnected")
}
