package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/nfefetch/internal/capture"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/notify"
	"github.com/roach88/nfefetch/internal/position"
	"github.com/roach88/nfefetch/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedRecorder returns clicks from a list. After the list is
// exhausted it calls onExhausted (if set) and blocks until ctx is done.
type scriptedRecorder struct {
	mu          sync.Mutex
	clicks      []model.Position
	onExhausted func()
	openErr     error
	nextErr     error
	opened      int
	closed      int
}

func (r *scriptedRecorder) Open(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
	return r.openErr
}

func (r *scriptedRecorder) Next(ctx context.Context) (model.Position, error) {
	r.mu.Lock()
	if len(r.clicks) > 0 {
		p := r.clicks[0]
		r.clicks = r.clicks[1:]
		r.mu.Unlock()
		return p, nil
	}
	nextErr, hook := r.nextErr, r.onExhausted
	r.mu.Unlock()
	if nextErr != nil {
		return model.Position{}, nextErr
	}
	if hook != nil {
		hook()
	}
	<-ctx.Done()
	return model.Position{}, ctx.Err()
}

func (r *scriptedRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func clicks(n int) []model.Position {
	out := make([]model.Position, n)
	for i := range out {
		out[i] = model.Position{X: (i + 1) * 10, Y: (i + 1) * 100}
	}
	return out
}

type fixture struct {
	rec      *scriptedRecorder
	settings *testutil.MemorySettings
	store    *position.Store
	clock    *testutil.FakeClock
	events   *notify.Collector
	ctrl     *capture.Controller
}

func newFixture(rec *scriptedRecorder) *fixture {
	f := &fixture{
		rec:      rec,
		settings: testutil.NewMemorySettings(),
		clock:    testutil.NewFakeClock(testutil.Epoch),
		events:   &notify.Collector{},
	}
	f.store = position.NewStore(f.settings)
	f.ctrl = capture.New(rec, f.store, capture.Options{
		Clock:  f.clock,
		Settle: capture.DefaultSettle,
		Events: f.events,
	})
	return f
}

func TestCaptureMain_CommitsAllSteps(t *testing.T) {
	f := newFixture(&scriptedRecorder{clicks: clicks(7)})

	got, err := f.ctrl.CaptureMain(t.Context())
	require.NoError(t, err)
	assert.Len(t, got, 7)

	stored, err := f.store.LoadMainFlow(t.Context())
	require.NoError(t, err)
	assert.Equal(t, model.Position{X: 10, Y: 100}, stored[model.StepKeyField])
	assert.Equal(t, model.Position{X: 70, Y: 700}, stored[model.StepReload])

	state, _ := f.ctrl.State()
	assert.Equal(t, capture.StateAllCaptured, state)
	assert.Equal(t, 1, f.rec.opened)
	assert.Equal(t, 1, f.rec.closed)
	assert.Equal(t, 7*capture.DefaultSettle, f.clock.Elapsed())
}

func TestCaptureMain_WaitsForPageBeforeFirstPrompt(t *testing.T) {
	rec := &scriptedRecorder{clicks: clicks(7)}
	clk := testutil.NewFakeClock(testutil.Epoch)
	events := &notify.Collector{}
	ctrl := capture.New(rec, position.NewStore(testutil.NewMemorySettings()), capture.Options{
		Clock:    clk,
		Settle:   capture.DefaultSettle,
		PageLoad: 5 * time.Second,
		Events:   events,
	})

	_, err := ctrl.CaptureMain(t.Context())
	require.NoError(t, err)

	sleeps := clk.Sleeps()
	require.Len(t, sleeps, 8)
	assert.Equal(t, 5*time.Second, sleeps[0])
	assert.Equal(t, 5*time.Second+7*capture.DefaultSettle, clk.Elapsed())
}

func TestCaptureMain_PublishesPromptAndRecordedPerStep(t *testing.T) {
	f := newFixture(&scriptedRecorder{clicks: clicks(7)})

	_, err := f.ctrl.CaptureMain(t.Context())
	require.NoError(t, err)

	prompts := f.events.OfKind(notify.KindCaptureStep)
	recorded := f.events.OfKind(notify.KindPositionRecorded)
	require.Len(t, prompts, 7)
	require.Len(t, recorded, 7)
	assert.Equal(t, model.StepKeyField, prompts[0].Step)
	assert.Equal(t, model.StepReload, prompts[6].Step)
	assert.Equal(t, &model.Position{X: 30, Y: 300}, recorded[2].Position)
}

func TestCaptureMain_StopMidwayPersistsNothing(t *testing.T) {
	rec := &scriptedRecorder{clicks: clicks(3)}
	f := newFixture(rec)
	rec.onExhausted = f.ctrl.Stop

	_, err := f.ctrl.CaptureMain(t.Context())
	require.ErrorIs(t, err, capture.ErrAborted)

	assert.Empty(t, f.settings.Keys(), "aborted capture must not write any position")
	ok, err := f.store.HasCompleteSet(t.Context(), model.MainFlow)
	require.NoError(t, err)
	assert.False(t, ok)

	state, _ := f.ctrl.State()
	assert.Equal(t, capture.StateAborted, state)
	assert.Equal(t, 1, rec.closed)
}

func TestCaptureMain_StopKeepsPreviousConfiguration(t *testing.T) {
	f := newFixture(&scriptedRecorder{clicks: clicks(7)})
	_, err := f.ctrl.CaptureMain(t.Context())
	require.NoError(t, err)

	f.rec.clicks = []model.Position{{X: 1, Y: 1}}
	f.rec.onExhausted = f.ctrl.Stop
	_, err = f.ctrl.CaptureMain(t.Context())
	require.ErrorIs(t, err, capture.ErrAborted)

	pos, ok, err := f.store.Load(t.Context(), model.StepKeyField)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Position{X: 10, Y: 100}, pos)
}

func TestCaptureMain_RecorderErrors(t *testing.T) {
	boom := errors.New("browser crashed")

	t.Run("open", func(t *testing.T) {
		f := newFixture(&scriptedRecorder{openErr: boom})
		_, err := f.ctrl.CaptureMain(t.Context())
		require.ErrorIs(t, err, boom)
		assert.Empty(t, f.settings.Keys())
	})

	t.Run("next", func(t *testing.T) {
		f := newFixture(&scriptedRecorder{clicks: clicks(2), nextErr: boom})
		_, err := f.ctrl.CaptureMain(t.Context())
		require.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, capture.ErrAborted)
		assert.Empty(t, f.settings.Keys())
	})
}

func TestCaptureMain_CommitFailure(t *testing.T) {
	f := newFixture(&scriptedRecorder{clicks: clicks(7)})
	f.settings.FailWrites = true

	_, err := f.ctrl.CaptureMain(t.Context())
	require.ErrorIs(t, err, testutil.ErrWriteRejected)

	state, _ := f.ctrl.State()
	assert.Equal(t, capture.StateAborted, state)
}

func TestCaptureCancelled_IndependentOfMainFlow(t *testing.T) {
	f := newFixture(&scriptedRecorder{clicks: []model.Position{{X: 77, Y: 707}, {X: 88, Y: 808}}})

	cfg, err := f.ctrl.CaptureCancelled(t.Context())
	require.NoError(t, err)
	assert.Equal(t, model.CancelledConfig{Ack: model.Position{X: 77, Y: 707}, Reload: model.Position{X: 88, Y: 808}}, cfg)

	stored, ok, err := f.store.LoadCancelledConfig(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cfg, stored)

	complete, err := f.store.HasCompleteSet(t.Context(), model.MainFlow)
	require.NoError(t, err)
	assert.False(t, complete)
}

func TestCaptureCancelled_StopAfterFirstStep(t *testing.T) {
	rec := &scriptedRecorder{clicks: []model.Position{{X: 77, Y: 707}}}
	f := newFixture(rec)
	rec.onExhausted = f.ctrl.Stop

	_, err := f.ctrl.CaptureCancelled(t.Context())
	require.ErrorIs(t, err, capture.ErrAborted)

	_, ok, err := f.store.LoadCancelledConfig(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestController_RejectsConcurrentCapture(t *testing.T) {
	rec := &scriptedRecorder{}
	f := newFixture(rec)
	waiting := make(chan struct{})
	rec.onExhausted = func() { close(waiting) }

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.CaptureMain(t.Context())
		done <- err
	}()
	<-waiting

	state, step := f.ctrl.State()
	assert.Equal(t, capture.StateAwaitingStep, state)
	assert.Equal(t, model.StepKeyField, step)

	_, err := f.ctrl.CaptureCancelled(t.Context())
	assert.ErrorIs(t, err, capture.ErrInProgress)

	f.ctrl.Stop()
	assert.ErrorIs(t, <-done, capture.ErrAborted)
}
