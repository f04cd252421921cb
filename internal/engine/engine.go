package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/nfefetch/internal/backend"
	"github.com/roach88/nfefetch/internal/clock"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/notify"
	"github.com/roach88/nfefetch/internal/store"
	"github.com/roach88/nfefetch/internal/timing"
)

// State is the lifecycle state of a run.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateCompleted || s == StateFailed
}

// Recorder persists run history. *store.Store implements it. Recorder
// failures are logged and never stop a run.
type Recorder interface {
	BeginRun(ctx context.Context, r store.RunRecord) error
	RecordOutcome(ctx context.Context, o store.OutcomeRecord) error
	FinishRun(ctx context.Context, runID, state string, at time.Time) error
}

// Report summarizes a finished run.
type Report struct {
	RunID    string           `json:"run_id"`
	State    State            `json:"state"`
	Total    int              `json:"total"`
	Outcomes []backend.Result `json:"-"`
}

// Processed is the number of keys that were attempted.
func (r *Report) Processed() int { return len(r.Outcomes) }

// Count returns how many attempted keys ended with o.
func (r *Report) Count(o model.Outcome) int {
	n := 0
	for _, res := range r.Outcomes {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Summary is the one-line text of the done notification.
func (r *Report) Summary() string {
	counts := fmt.Sprintf("%d delivered, %d not found, %d errors",
		r.Count(model.OutcomeDelivered), r.Count(model.OutcomeNotFound), r.Count(model.OutcomeAttemptError))
	switch r.State {
	case StateCompleted:
		return fmt.Sprintf("Completed %d keys: %s", r.Total, counts)
	case StateStopped:
		return fmt.Sprintf("Stopped after %d of %d keys: %s", r.Processed(), r.Total, counts)
	default:
		return fmt.Sprintf("Failed after %d of %d keys: %s", r.Processed(), r.Total, counts)
	}
}

// Engine drives one backend through key lists, one run at a time.
type Engine struct {
	backend     backend.Backend
	clock       clock.Clock
	events      notify.Publisher
	recorder    Recorder
	runIDs      RunIDGenerator
	logger      *slog.Logger
	relief      reliefSchedule
	reliefPause time.Duration
	speed       int

	mu    sync.Mutex
	state State
	stop  atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for relief pauses and history
// timestamps. Default: clock.Real.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithEvents sets where notifications are published.
func WithEvents(p notify.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithRecorder enables run history.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithRunIDs sets the run ID generator. Default: UUIDv7Generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(e *Engine) { e.runIDs = g }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithReliefEvery sets the relief interval in keys.
//
// Default: 50 keys (DefaultReliefEvery). Zero disables relief.
func WithReliefEvery(n int) Option {
	return func(e *Engine) { e.relief = newReliefSchedule(n) }
}

// WithSpeed records the run's speed level in the history.
func WithSpeed(speed int) Option {
	return func(e *Engine) { e.speed = speed }
}

// New creates an engine around b.
func New(b backend.Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:     b,
		clock:       clock.Real{},
		events:      notify.Discard,
		runIDs:      UUIDv7Generator{},
		relief:      newReliefSchedule(DefaultReliefEvery),
		reliefPause: timing.ReliefPause,
		speed:       timing.DefaultSpeed,
		state:       StateNotStarted,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e
}

// State returns the state of the current or last run.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Stop asks the running run to stop before its next key. The key in
// progress is finished first.
func (e *Engine) Stop() {
	e.stop.Store(true)
}

func (e *Engine) stopRequested(ctx context.Context) bool {
	return e.stop.Load() || ctx.Err() != nil
}

// Run processes keys in order and returns the run report. The error is a
// *Error for configuration and backend-fatal failures; a stopped run is
// not an error. The backend is closed and a done notification published
// on every path.
func (e *Engine) Run(ctx context.Context, keys []model.DocumentKey) (*Report, error) {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	e.state = StateRunning
	e.mu.Unlock()
	e.stop.Store(false)

	runID := e.runIDs.Generate()
	report := &Report{RunID: runID, State: StateRunning, Total: len(keys)}
	logger := e.logger.With("run", runID, "backend", string(e.backend.Kind()))

	if len(keys) == 0 {
		err := &Error{
			Code:        ErrCodeConfiguration,
			Message:     "no document keys to process",
			RunID:       runID,
			Remediation: "Provide at least one 44-digit access key.",
		}
		return e.fail(ctx, report, err, false, logger)
	}

	if err := e.backend.Preflight(ctx); err != nil {
		return e.fail(ctx, report, newConfigurationError(runID, err), false, logger)
	}

	e.begin(ctx, report, logger)
	logger.Info("run started", "keys", len(keys))

	if err := e.backend.Open(ctx); err != nil {
		if backend.IsFatal(err) {
			return e.fail(ctx, report, newBackendFatalError(runID, err), true, logger)
		}
		if ctx.Err() != nil {
			report.State = StateStopped
			return e.finish(ctx, report, logger), nil
		}
		return e.fail(ctx, report, newBackendFatalError(runID, err), true, logger)
	}

	var runErr *Error
	for i, key := range keys {
		if e.stopRequested(ctx) {
			report.State = StateStopped
			break
		}
		if e.relief.Due(i) {
			e.relieve(ctx, report, i, logger)
		}

		idx := i + 1
		e.events.Publish(notify.Status(runID, idx, len(keys),
			fmt.Sprintf("Processing NFe %d/%d: %s...", idx, len(keys), key.Short())))

		res := e.backend.Attempt(ctx, backend.Attempt{RunID: runID, Index: idx, Total: len(keys), Key: key})
		report.Outcomes = append(report.Outcomes, res)
		e.record(ctx, runID, idx, res, logger)

		if res.Outcome == model.OutcomeNotFound {
			e.events.Publish(notify.NotFound(runID, idx, key))
		}
		e.events.Publish(notify.Progress(runID, idx, len(keys)))

		switch decide(ctx, res) {
		case actionAbort:
			report.State = StateFailed
			runErr = newBackendFatalError(runID, res.Err)
		case actionStop:
			report.State = StateStopped
		}
		if report.State != StateRunning {
			break
		}
	}
	if report.State == StateRunning {
		report.State = StateCompleted
	}

	if runErr != nil {
		return e.fail(ctx, report, runErr, true, logger)
	}
	return e.finish(ctx, report, logger), nil
}

// outcomeAction is what the run does after a key.
type outcomeAction int

const (
	actionContinue outcomeAction = iota
	actionAbort
	actionStop
)

// outcomePolicy maps decided outcomes to the run's next move. Fatal
// results and interrupted attempts are handled before the table.
var outcomePolicy = map[model.Outcome]outcomeAction{
	model.OutcomeDelivered:    actionContinue,
	model.OutcomeNotFound:     actionContinue,
	model.OutcomeAttemptError: actionContinue,
}

// decide stops only when the run's own context is done. A key error that
// wraps a context error (an element wait timing out, say) is still a
// single-key failure.
func decide(ctx context.Context, res backend.Result) outcomeAction {
	if res.Fatal() {
		return actionAbort
	}
	if ctx.Err() != nil {
		return actionStop
	}
	if a, ok := outcomePolicy[res.Outcome]; ok {
		return a
	}
	return actionContinue
}

func (e *Engine) relieve(ctx context.Context, report *Report, processed int, logger *slog.Logger) {
	logger.Info("memory relief", "processed", processed)
	e.events.Publish(notify.Status(report.RunID, processed, report.Total, "Releasing memory..."))
	releaseMemory()
	if err := e.clock.Sleep(ctx, e.reliefPause); err != nil {
		logger.Debug("relief pause interrupted", "error", err)
	}
}

func (e *Engine) begin(ctx context.Context, report *Report, logger *slog.Logger) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.BeginRun(ctx, store.RunRecord{
		ID:        report.RunID,
		Backend:   string(e.backend.Kind()),
		Speed:     e.speed,
		Total:     report.Total,
		State:     string(StateRunning),
		StartedAt: e.clock.Now(),
	})
	if err != nil {
		logger.Warn("history unavailable", "error", err)
	}
}

func (e *Engine) record(ctx context.Context, runID string, idx int, res backend.Result, logger *slog.Logger) {
	logger.Info("key processed", "index", idx, "key", res.Key.Short(), "outcome", res.Outcome.String())
	if e.recorder == nil {
		return
	}
	rec := store.OutcomeRecord{RunID: runID, Index: idx, Key: res.Key.String(), Outcome: res.Outcome.String()}
	if res.Err != nil {
		rec.Detail = res.Err.Error()
	}
	if err := e.recorder.RecordOutcome(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("record outcome", "index", idx, "error", err)
	}
}

// fail ends a run with a run-stopping error. opened says whether
// BeginRun was recorded for it.
func (e *Engine) fail(ctx context.Context, report *Report, err *Error, opened bool, logger *slog.Logger) (*Report, error) {
	report.State = StateFailed
	logger.Error("run failed", "code", string(err.Code), "error", err.Message)
	if cerr := e.backend.Close(); cerr != nil {
		logger.Warn("close backend", "error", cerr)
	}
	if opened {
		e.finishHistory(ctx, report, logger)
	}
	text := err.Message
	if err.Remediation != "" {
		text += "\n" + err.Remediation
	}
	e.events.Publish(notify.Failure(report.RunID, text))
	e.events.Publish(notify.Done(report.RunID, string(report.State), report.Summary()))
	e.setState(report.State)
	return report, err
}

func (e *Engine) finish(ctx context.Context, report *Report, logger *slog.Logger) *Report {
	if err := e.backend.Close(); err != nil {
		logger.Warn("close backend", "error", err)
	}
	e.finishHistory(ctx, report, logger)
	logger.Info("run finished", "state", string(report.State), "processed", report.Processed())
	e.events.Publish(notify.Done(report.RunID, string(report.State), report.Summary()))
	e.setState(report.State)
	return report
}

func (e *Engine) finishHistory(ctx context.Context, report *Report, logger *slog.Logger) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.FinishRun(context.WithoutCancel(ctx), report.RunID, string(report.State), e.clock.Now()); err != nil {
		logger.Warn("finish run history", "error", err)
	}
}
