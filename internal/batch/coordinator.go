// Package batch runs several key lists back to back and files each
// list's downloaded XMLs into a folder of its own.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/roach88/nfefetch/internal/engine"
	"github.com/roach88/nfefetch/internal/keys"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/notify"
)

// DirPrefix prefixes the folder each list's XMLs are moved into.
const DirPrefix = "XMLs_"

// Runner runs one key list. *engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, keys []model.DocumentKey) (*engine.Report, error)
}

// Options configures a Coordinator.
type Options struct {
	FS        afero.Fs
	OutputDir string
	Root      string
	Events    notify.Publisher
	Logger    *slog.Logger
}

// ListResult is what happened to one list.
type ListResult struct {
	Name    string         `json:"name"`
	Skipped bool           `json:"skipped,omitempty"`
	Report  *engine.Report `json:"report,omitempty"`
	Dir     string         `json:"dir,omitempty"`
	Moved   int            `json:"moved"`
}

// Result summarizes a batch.
type Result struct {
	Lists []ListResult `json:"lists"`
	// State is completed when every non-empty list completed, otherwise
	// the state of the run that ended the batch.
	State engine.State `json:"state"`
}

// Coordinator runs lists sequentially through one Runner.
type Coordinator struct {
	runner Runner
	opts   Options
	logger *slog.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(r Runner, opts Options) *Coordinator {
	if opts.Events == nil {
		opts.Events = notify.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{runner: r, opts: opts, logger: logger}
}

// ListDir is the folder a list's XMLs end up in.
func (c *Coordinator) ListDir(name string) string {
	return filepath.Join(c.opts.Root, DirPrefix+name)
}

// Run processes lists in order. Empty lists are skipped. A run that does
// not complete ends the batch; its error, if any, is returned. The
// missing-document log is shared by every list and never cleared here.
func (c *Coordinator) Run(ctx context.Context, lists []keys.List) (*Result, error) {
	res := &Result{State: engine.StateCompleted}
	for i, list := range lists {
		if len(list.Keys) == 0 {
			c.logger.Info("empty list skipped", "list", list.Name)
			res.Lists = append(res.Lists, ListResult{Name: list.Name, Skipped: true})
			continue
		}

		c.opts.Events.Publish(notify.Status("", i+1, len(lists),
			fmt.Sprintf("List %d/%d: %s (%d keys)", i+1, len(lists), list.Name, len(list.Keys))))
		c.logger.Info("list started", "list", list.Name, "keys", len(list.Keys))

		report, err := c.runner.Run(ctx, list.Keys)
		lr := ListResult{Name: list.Name, Report: report}
		if err != nil || report == nil || report.State != engine.StateCompleted {
			res.Lists = append(res.Lists, lr)
			res.State = engine.StateFailed
			if report != nil {
				res.State = report.State
			}
			c.logger.Info("batch ended early", "list", list.Name, "state", string(res.State))
			return res, err
		}

		moved, err := c.relocate(list)
		lr.Dir, lr.Moved = c.ListDir(list.Name), moved
		res.Lists = append(res.Lists, lr)
		if err != nil {
			res.State = engine.StateFailed
			return res, fmt.Errorf("relocate %s: %w", list.Name, err)
		}
		c.logger.Info("list finished", "list", list.Name, "moved", moved, "dir", lr.Dir)
	}
	return res, nil
}

// relocate moves the list's own artifacts out of the output directory.
// Keys with no artifact are left alone.
func (c *Coordinator) relocate(list keys.List) (int, error) {
	dir := c.ListDir(list.Name)
	if err := c.opts.FS.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	moved := 0
	for _, key := range list.Keys {
		src := filepath.Join(c.opts.OutputDir, key.ArtifactName())
		if _, err := c.opts.FS.Stat(src); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return moved, err
		}
		dst := filepath.Join(dir, key.ArtifactName())
		if err := c.opts.FS.Rename(src, dst); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}
