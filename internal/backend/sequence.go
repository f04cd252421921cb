package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/nfefetch/internal/clock"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/notify"
	"github.com/roach88/nfefetch/internal/recovery"
	"github.com/roach88/nfefetch/internal/timing"
)

// Detector decides whether a key produced output.
type Detector interface {
	AwaitOutput(ctx context.Context, key model.DocumentKey, timeoutSeconds int) (bool, error)
}

// MissingLog records keys whose output never appeared.
type MissingLog interface {
	Record(key model.DocumentKey) error
}

// Options configures a Sequence.
type Options struct {
	Timing        timing.Profile
	Captcha       CaptchaPolicy
	DetectTimeout int
	Detector      Detector
	Missing       MissingLog
	Clock         clock.Clock
	Events        notify.Publisher
	Logger        *slog.Logger
}

// Sequence implements Backend on top of an Operator.
type Sequence struct {
	op           Operator
	opts         Options
	logger       *slog.Logger
	hasCancelled bool
}

var _ Backend = (*Sequence)(nil)

// NewSequence builds the attempt sequence around op.
func NewSequence(op Operator, opts Options) *Sequence {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Events == nil {
		opts.Events = notify.Discard
	}
	if opts.Captcha == "" {
		opts.Captcha = CaptchaManual
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sequence{
		op:     op,
		opts:   opts,
		logger: logger.With("backend", string(op.Kind())),
	}
}

func (s *Sequence) Kind() Kind { return s.op.Kind() }

// HasCancelledConfig reports what Preflight found.
func (s *Sequence) HasCancelledConfig() bool { return s.hasCancelled }

func (s *Sequence) Preflight(ctx context.Context) error {
	hasCancelled, err := s.op.Prepare(ctx)
	if err != nil {
		return err
	}
	s.hasCancelled = hasCancelled
	s.logger.Debug("backend prepared", "cancelled_config", hasCancelled)
	return nil
}

func (s *Sequence) Open(ctx context.Context) error {
	if err := s.op.Open(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &FatalError{Backend: s.op.Kind(), Err: fmt.Errorf("open browser: %w", err)}
	}
	return s.wait(ctx, timing.StageBrowserOpen)
}

func (s *Sequence) Close() error {
	return s.op.Close()
}

// Attempt runs the full sequence for one key. Single-key failures come
// back as AttemptError after a best-effort reload; a dead session comes
// back wrapped in *FatalError.
func (s *Sequence) Attempt(ctx context.Context, a Attempt) Result {
	if err := s.op.Alive(ctx); err != nil {
		return s.fatal(a, err)
	}

	outcome, err := s.drive(ctx, a)
	if err == nil {
		return Result{Key: a.Key, Outcome: outcome}
	}
	if IsFatal(err) {
		return Result{Key: a.Key, Outcome: model.OutcomeAttemptError, Err: err}
	}
	if ctx.Err() != nil {
		return Result{Key: a.Key, Outcome: model.OutcomeAttemptError, Err: err}
	}

	kind := errorType(err)
	err = detach(err)
	s.logger.Error("attempt failed", "key", a.Key.Short(), "index", a.Index, "error_type", kind, "error", err)
	s.status(a, fmt.Sprintf("Error on NFe %d: %s", a.Index, kind))
	s.op.Snapshot(ctx, "erro_"+a.Key.Short())

	if aliveErr := s.op.Alive(ctx); aliveErr != nil {
		return s.fatal(a, aliveErr)
	}
	if rerr := s.execute(ctx, recovery.Recover(model.OutcomeAttemptError, s.hasCancelled)); rerr != nil {
		s.logger.Warn("reload after error failed", "key", a.Key.Short(), "error", rerr)
	}
	return Result{Key: a.Key, Outcome: model.OutcomeAttemptError, Err: err}
}

func (s *Sequence) fatal(a Attempt, err error) Result {
	s.logger.Error("automation session lost", "key", a.Key.Short(), "error", err)
	return Result{
		Key:     a.Key,
		Outcome: model.OutcomeAttemptError,
		Err:     &FatalError{Backend: s.op.Kind(), Err: err},
	}
}

func (s *Sequence) drive(ctx context.Context, a Attempt) (model.Outcome, error) {
	s.status(a, "Inserting key...")
	if err := s.op.TypeKey(ctx, model.StepKeyField, a.Key); err != nil {
		return 0, fmt.Errorf("type key: %w", err)
	}
	if err := s.wait(ctx, timing.StageStepWait); err != nil {
		return 0, err
	}

	s.status(a, "Processing captcha...")
	if err := s.op.Click(ctx, model.StepCaptcha); err != nil {
		return 0, fmt.Errorf("focus captcha: %w", err)
	}
	if err := s.opts.Clock.Sleep(ctx, timing.CaptchaSettle); err != nil {
		return 0, err
	}
	if err := s.captcha(ctx, a); err != nil {
		return 0, err
	}

	s.status(a, "Continuing...")
	if err := s.clickThenWait(ctx, model.StepContinue, timing.StageContinue); err != nil {
		return 0, err
	}
	s.status(a, "Downloading XML...")
	if err := s.clickThenWait(ctx, model.StepDownload, timing.StageDownload); err != nil {
		return 0, err
	}
	s.status(a, "Confirming...")
	if err := s.clickThenWait(ctx, model.StepPopupOK, timing.StagePopup); err != nil {
		return 0, err
	}

	s.status(a, "Checking download...")
	found, err := s.opts.Detector.AwaitOutput(ctx, a.Key, s.opts.DetectTimeout)
	if err != nil {
		return 0, err
	}

	if found {
		s.logger.Info("xml delivered", "key", a.Key.Short(), "index", a.Index)
		s.status(a, "Preparing next...")
		if err := s.clickThenWait(ctx, model.StepNewQuery, timing.StageNewQuery); err != nil {
			return 0, err
		}
		if err := s.wait(ctx, timing.StageBetweenKeys); err != nil {
			return 0, err
		}
		return model.OutcomeDelivered, nil
	}

	if err := s.opts.Missing.Record(a.Key); err != nil {
		s.logger.Error("missing log write failed", "key", a.Key.Short(), "error", err)
	}
	if s.hasCancelled {
		s.status(a, "CANCELLED document - closing popup...")
	} else {
		s.status(a, "Reloading page...")
	}
	if err := s.execute(ctx, recovery.Recover(model.OutcomeNotFound, s.hasCancelled)); err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		s.logger.Warn("recovery failed", "key", a.Key.Short(), "error", err)
	}
	return model.OutcomeNotFound, nil
}

func (s *Sequence) captcha(ctx context.Context, a Attempt) error {
	if s.opts.Captcha == CaptchaAuto {
		s.status(a, "Solving captcha automatically...")
		solved, err := s.op.SolveCaptcha(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			s.logger.Warn("automatic captcha solve failed", "key", a.Key.Short(), "error", err)
		}
		if solved && err == nil {
			s.status(a, "Captcha solved!")
			return s.opts.Clock.Sleep(ctx, timing.CaptchaSolved)
		}
	}
	s.status(a, "Waiting for captcha...")
	return s.wait(ctx, timing.StageCaptcha)
}

// execute runs a recovery action step by step.
func (s *Sequence) execute(ctx context.Context, action recovery.Action) error {
	for _, st := range action.Steps {
		var err error
		switch st.Kind {
		case recovery.Dismiss:
			err = s.op.Click(ctx, st.Target)
		case recovery.Reload:
			err = s.op.Reload(ctx, st.Target)
		default:
			err = fmt.Errorf("unknown recovery step %d", st.Kind)
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", st.Kind, st.Target, err)
		}
		s.logger.Debug("recovery step", "kind", st.Kind.String(), "target", st.Target.Name())
		if err := s.wait(ctx, st.Wait); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequence) clickThenWait(ctx context.Context, step model.StepID, stage timing.Stage) error {
	if err := s.op.Click(ctx, step); err != nil {
		return fmt.Errorf("click %s: %w", step, err)
	}
	return s.wait(ctx, stage)
}

func (s *Sequence) wait(ctx context.Context, stage timing.Stage) error {
	return s.opts.Clock.Sleep(ctx, s.opts.Timing.Wait(stage))
}

func (s *Sequence) status(a Attempt, text string) {
	s.opts.Events.Publish(notify.Status(a.RunID, a.Index, a.Total, text))
}

// errorType names the innermost error's dynamic type, e.g.
// "*errors.errorString" or "playwright.TimeoutError".
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

// detach cuts a context error out of a key failure's chain, keeping its
// text. Only the run's own context decides whether a run was stopped.
func detach(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.New(err.Error())
	}
	return err
}
