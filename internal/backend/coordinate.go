package backend

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/roach88/nfefetch/internal/clock"
	"github.com/roach88/nfefetch/internal/model"
)

// Pointer is a raw mouse/keyboard driver.
type Pointer interface {
	Open(ctx context.Context) error
	ClickAt(ctx context.Context, p model.Position) error
	SelectAll(ctx context.Context) error
	TypeText(ctx context.Context, text string) error
	// Reload is the browser's native page reload.
	Reload(ctx context.Context) error
	Alive(ctx context.Context) error
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// PositionSource supplies the recorded positions.
type PositionSource interface {
	LoadMainFlow(ctx context.Context) (map[model.StepID]model.Position, error)
	LoadCancelledConfig(ctx context.Context) (model.CancelledConfig, bool, error)
}

// CoordinateOptions configures a Coordinate operator.
type CoordinateOptions struct {
	Clock clock.Clock
	// Settle is the pause between focusing the key field and typing.
	Settle         time.Duration
	DiagnosticsDir string
	Logger         *slog.Logger
}

// Coordinate addresses every step by its recorded screen position.
type Coordinate struct {
	pointer   Pointer
	source    PositionSource
	opts      CoordinateOptions
	logger    *slog.Logger
	positions map[model.StepID]model.Position
}

var _ Operator = (*Coordinate)(nil)

// NewCoordinate creates a coordinate operator.
func NewCoordinate(p Pointer, src PositionSource, opts CoordinateOptions) *Coordinate {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinate{pointer: p, source: src, opts: opts, logger: logger}
}

func (c *Coordinate) Kind() Kind { return KindCoordinate }

func (c *Coordinate) Prepare(ctx context.Context) (bool, error) {
	positions, err := c.source.LoadMainFlow(ctx)
	if err != nil {
		return false, err
	}
	cfg, ok, err := c.source.LoadCancelledConfig(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		positions[model.StepCancelledAck] = cfg.Ack
		positions[model.StepCancelledReload] = cfg.Reload
	}
	c.positions = positions
	return ok, nil
}

func (c *Coordinate) Open(ctx context.Context) error {
	return c.pointer.Open(ctx)
}

func (c *Coordinate) Alive(ctx context.Context) error {
	return c.pointer.Alive(ctx)
}

func (c *Coordinate) position(step model.StepID) (model.Position, error) {
	pos, ok := c.positions[step]
	if !ok {
		return model.Position{}, fmt.Errorf("no position recorded for %s", step)
	}
	return pos, nil
}

func (c *Coordinate) TypeKey(ctx context.Context, step model.StepID, key model.DocumentKey) error {
	pos, err := c.position(step)
	if err != nil {
		return err
	}
	if err := c.pointer.ClickAt(ctx, pos); err != nil {
		return err
	}
	if err := c.opts.Clock.Sleep(ctx, c.opts.Settle); err != nil {
		return err
	}
	if err := c.pointer.SelectAll(ctx); err != nil {
		return fmt.Errorf("select field contents: %w", err)
	}
	return c.pointer.TypeText(ctx, key.String())
}

func (c *Coordinate) Click(ctx context.Context, step model.StepID) error {
	pos, err := c.position(step)
	if err != nil {
		return err
	}
	c.logger.Debug("click", "step", step.Name(), "x", pos.X, "y", pos.Y)
	return c.pointer.ClickAt(ctx, pos)
}

// Reload reloads the page natively. The position recorded for step is
// where the user pressed reload during capture; replay does not need it.
func (c *Coordinate) Reload(ctx context.Context, step model.StepID) error {
	c.logger.Debug("reload", "step", step.Name())
	return c.pointer.Reload(ctx)
}

// SolveCaptcha is unavailable when only coordinates are known.
func (c *Coordinate) SolveCaptcha(context.Context) (bool, error) { return false, nil }

func (c *Coordinate) Snapshot(ctx context.Context, name string) {
	if c.opts.DiagnosticsDir == "" {
		return
	}
	path := filepath.Join(c.opts.DiagnosticsDir, name+".png")
	if err := c.pointer.Screenshot(ctx, path); err != nil {
		c.logger.Debug("screenshot failed", "path", path, "error", err)
	}
}

func (c *Coordinate) Close() error {
	return c.pointer.Close()
}
