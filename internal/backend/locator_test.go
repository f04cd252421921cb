package backend_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nfefetch/internal/backend"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/position"
)

type fakeSession struct {
	actions  []string
	timeouts []time.Duration
	aliveErr error
}

func (s *fakeSession) Open(_ context.Context, url string) error {
	s.actions = append(s.actions, "open "+url)
	return nil
}
func (s *fakeSession) Fill(_ context.Context, sel, text string, timeout time.Duration) error {
	s.actions = append(s.actions, "fill "+sel+" "+text)
	s.timeouts = append(s.timeouts, timeout)
	return nil
}
func (s *fakeSession) Click(_ context.Context, sel string, timeout time.Duration) error {
	s.actions = append(s.actions, "click "+sel)
	s.timeouts = append(s.timeouts, timeout)
	return nil
}
func (s *fakeSession) Reload(context.Context) error {
	s.actions = append(s.actions, "reload")
	return nil
}
func (s *fakeSession) Alive(context.Context) error { return s.aliveErr }
func (s *fakeSession) Screenshot(_ context.Context, path string) error {
	s.actions = append(s.actions, "screenshot "+path)
	return nil
}
func (s *fakeSession) Close() error { return nil }

type solvingSession struct {
	fakeSession
	solved bool
}

func (s *solvingSession) SolveCaptcha(context.Context) (bool, error) { return s.solved, nil }

func TestLocator_DefaultSelectors(t *testing.T) {
	sess := &fakeSession{}
	op := backend.NewLocator(sess, backend.LocatorOptions{URL: "https://portal.example"})
	ctx := context.Background()

	has, err := op.Prepare(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, op.Open(ctx))
	require.NoError(t, op.TypeKey(ctx, model.StepKeyField, keyA))
	require.NoError(t, op.Click(ctx, model.StepContinue))
	require.NoError(t, op.Click(ctx, model.StepDownload))
	require.NoError(t, op.Click(ctx, model.StepPopupOK), "empty selector is skipped")
	require.NoError(t, op.Reload(ctx, model.StepReload))

	assert.Equal(t, []string{
		"open https://portal.example",
		"fill #ctl00_ContentPlaceHolder1_txtChaveAcesso " + keyA.String(),
		"click #ctl00_ContentPlaceHolder1_btnConsultar",
		"click text=Download do Documento Autorizado",
		"reload",
	}, sess.actions)
	for _, d := range sess.timeouts {
		assert.Equal(t, backend.DefaultLocatorTimeout, d)
	}
}

func TestLocator_PrepareRequiresSelectors(t *testing.T) {
	sel := backend.DefaultSelectors()
	sel[model.StepContinue] = ""
	op := backend.NewLocator(&fakeSession{}, backend.LocatorOptions{Selectors: sel})

	_, err := op.Prepare(context.Background())
	var missingStep *position.MissingStepError
	require.ErrorAs(t, err, &missingStep)
	assert.Equal(t, model.StepContinue, missingStep.Step)
}

func TestLocator_CancelledSelectorEnablesBranch(t *testing.T) {
	sel := backend.DefaultSelectors()
	sel[model.StepCancelledAck] = "#btnOkCancelada"
	op := backend.NewLocator(&fakeSession{}, backend.LocatorOptions{Selectors: sel})

	has, err := op.Prepare(context.Background())
	require.NoError(t, err)
	assert.True(t, has)
}

func TestLocator_AliveWrapsSessionLost(t *testing.T) {
	op := backend.NewLocator(&fakeSession{aliveErr: errors.New("target closed")}, backend.LocatorOptions{})
	err := op.Alive(context.Background())
	assert.ErrorIs(t, err, backend.ErrSessionLost)
}

func TestLocator_CaptchaSolverDetected(t *testing.T) {
	plain := backend.NewLocator(&fakeSession{}, backend.LocatorOptions{})
	solved, err := plain.SolveCaptcha(context.Background())
	require.NoError(t, err)
	assert.False(t, solved)

	withSolver := backend.NewLocator(&solvingSession{solved: true}, backend.LocatorOptions{})
	solved, err = withSolver.SolveCaptcha(context.Background())
	require.NoError(t, err)
	assert.True(t, solved)
}

func TestLocator_SnapshotPath(t *testing.T) {
	sess := &fakeSession{}
	op := backend.NewLocator(sess, backend.LocatorOptions{DiagnosticsDir: "diag"})
	op.Snapshot(context.Background(), "erro_3523061234")
	assert.Equal(t, []string{"screenshot diag/erro_3523061234.png"}, sess.actions)

	silent := backend.NewLocator(sess, backend.LocatorOptions{})
	silent.Snapshot(context.Background(), "x")
	assert.Len(t, sess.actions, 1)
}
