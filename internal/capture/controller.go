// Package capture records the screen position of every portal step from
// the user's own clicks.
//
// A capture walks a fixed list of steps, prompting for each one and
// waiting for the Recorder to report a click. Positions are committed to
// the position store only once every step of the list has been recorded;
// a stopped or failed capture leaves the store untouched.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/nfefetch/internal/clock"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/notify"
)

// DefaultSettle is the pause after each recorded click, giving the page
// time to react before the next prompt.
const DefaultSettle = 300 * time.Millisecond

var (
	// ErrAborted is returned when a capture is stopped before every step
	// was recorded.
	ErrAborted = errors.New("capture aborted")
	// ErrInProgress is returned when a capture is started on a
	// controller that is already capturing.
	ErrInProgress = errors.New("capture already in progress")
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateAwaitingStep
	StateAllCaptured
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingStep:
		return "awaiting_step"
	case StateAllCaptured:
		return "all_captured"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Recorder reports where the user clicks.
type Recorder interface {
	Open(ctx context.Context) error
	// Next blocks until the next click or until ctx is done.
	Next(ctx context.Context) (model.Position, error)
	Close() error
}

// Store commits captured positions. *position.Store implements it.
type Store interface {
	SaveAll(ctx context.Context, positions map[model.StepID]model.Position) error
	SaveCancelledConfig(ctx context.Context, ack, reload model.Position) error
}

// Options configures a Controller.
type Options struct {
	Clock  clock.Clock
	Settle time.Duration
	// PageLoad is waited once after the recorder opens, before the first
	// prompt, so the portal has loaded when the user is asked to click.
	PageLoad time.Duration
	Events   notify.Publisher
	Logger   *slog.Logger
}

// Controller runs capture sessions. It can be reused; each session
// overwrites the previously stored configuration on success.
type Controller struct {
	rec    Recorder
	store  Store
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	current model.StepID
	cancel  context.CancelFunc
}

// New creates a controller.
func New(rec Recorder, store Store, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	if opts.Events == nil {
		opts.Events = notify.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{rec: rec, store: store, opts: opts, logger: logger}
}

// State returns the current state and, while awaiting, the step being
// waited for.
func (c *Controller) State() (State, model.StepID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.current
}

// Stop aborts the capture in progress. Nothing recorded so far is kept.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// CaptureMain records the seven main-flow steps and saves them together.
func (c *Controller) CaptureMain(ctx context.Context) (map[model.StepID]model.Position, error) {
	return c.run(ctx, model.MainFlow, func(ctx context.Context, got map[model.StepID]model.Position) error {
		return c.store.SaveAll(ctx, got)
	})
}

// CaptureCancelled records the two cancelled-document steps and saves
// them together. The main flow is not touched.
func (c *Controller) CaptureCancelled(ctx context.Context) (model.CancelledConfig, error) {
	got, err := c.run(ctx, model.CancelledFlow, func(ctx context.Context, got map[model.StepID]model.Position) error {
		return c.store.SaveCancelledConfig(ctx, got[model.StepCancelledAck], got[model.StepCancelledReload])
	})
	if err != nil {
		return model.CancelledConfig{}, err
	}
	return model.CancelledConfig{Ack: got[model.StepCancelledAck], Reload: got[model.StepCancelledReload]}, nil
}

func (c *Controller) begin(ctx context.Context, first model.StepID) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAwaitingStep {
		return nil, ErrInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateAwaitingStep
	c.current = first
	return ctx, nil
}

func (c *Controller) await(step model.StepID) {
	c.mu.Lock()
	c.current = step
	c.mu.Unlock()
}

func (c *Controller) end(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = s
	c.current = 0
}

func (c *Controller) run(
	parent context.Context,
	steps []model.StepID,
	commit func(context.Context, map[model.StepID]model.Position) error,
) (map[model.StepID]model.Position, error) {
	ctx, err := c.begin(parent, steps[0])
	if err != nil {
		return nil, err
	}

	got, err := c.record(ctx, steps)
	if err != nil {
		c.end(StateAborted)
		if ctx.Err() != nil {
			c.logger.Info("capture aborted", "recorded", len(got), "steps", len(steps))
			return nil, ErrAborted
		}
		return nil, err
	}

	if err := commit(parent, got); err != nil {
		c.end(StateAborted)
		return nil, fmt.Errorf("save positions: %w", err)
	}
	c.end(StateAllCaptured)
	c.logger.Info("capture committed", "steps", len(got))
	return got, nil
}

func (c *Controller) record(ctx context.Context, steps []model.StepID) (map[model.StepID]model.Position, error) {
	if err := c.rec.Open(ctx); err != nil {
		return nil, fmt.Errorf("open recorder: %w", err)
	}
	defer func() {
		if err := c.rec.Close(); err != nil {
			c.logger.Warn("close recorder", "error", err)
		}
	}()

	got := make(map[model.StepID]model.Position, len(steps))
	if c.opts.PageLoad > 0 {
		if err := c.opts.Clock.Sleep(ctx, c.opts.PageLoad); err != nil {
			return got, err
		}
	}
	for _, step := range steps {
		c.await(step)
		c.opts.Events.Publish(notify.CaptureStep(step))

		pos, err := c.rec.Next(ctx)
		if err != nil {
			return got, err
		}
		got[step] = pos
		c.opts.Events.Publish(notify.PositionRecorded(step, pos))
		c.logger.Debug("position recorded", "step", step.Name(), "x", pos.X, "y", pos.Y)

		if err := c.opts.Clock.Sleep(ctx, c.opts.Settle); err != nil {
			return got, err
		}
	}
	return got, nil
}
