// Package detect decides whether a retrieval attempt produced output by
// polling for the expected artifact file.
//
// The portal gives no confirmation, so the only success signal is
// "<outputDir>/<key>.xml" appearing within a bounded window.
package detect

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/roach88/nfefetch/internal/clock"
	"github.com/roach88/nfefetch/internal/model"
)

// DefaultTimeout is the detection window in seconds.
const DefaultTimeout = 10

// PollInterval is the delay between checks.
const PollInterval = time.Second

// Detector polls an output directory for artifacts.
type Detector struct {
	fs     afero.Fs
	dir    string
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a detector watching dir on fs.
func New(fs afero.Fs, dir string, clk clock.Clock, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Detector{fs: fs, dir: dir, clock: clk, logger: logger}
}

// Dir returns the watched directory.
func (d *Detector) Dir() string { return d.dir }

// ArtifactPath is where key's output is expected.
func (d *Detector) ArtifactPath(key model.DocumentKey) string {
	return filepath.Join(d.dir, key.ArtifactName())
}

// Exists checks once for key's artifact.
func (d *Detector) Exists(key model.DocumentKey) bool {
	ok, err := afero.Exists(d.fs, d.ArtifactPath(key))
	if err != nil {
		d.logger.Debug("artifact stat failed", "key", key.Short(), "error", err)
		return false
	}
	return ok
}

// AwaitOutput returns true as soon as key's artifact exists. It checks
// once per PollInterval and a final time at the deadline, so false is
// only returned after the full timeout has elapsed. A timeout <= 0 uses
// DefaultTimeout. The error is non-nil only when ctx ends the wait.
func (d *Detector) AwaitOutput(ctx context.Context, key model.DocumentKey, timeoutSeconds int) (bool, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultTimeout
	}

	for i := 0; i < timeoutSeconds; i++ {
		if d.Exists(key) {
			d.logger.Info("xml found", "key", key.Short(), "after_seconds", i)
			return true, nil
		}
		if err := d.clock.Sleep(ctx, PollInterval); err != nil {
			return false, err
		}
	}
	if d.Exists(key) {
		d.logger.Info("xml found", "key", key.Short(), "after_seconds", timeoutSeconds)
		return true, nil
	}

	d.logger.Warn("xml not found", "key", key.Short(), "timeout_seconds", timeoutSeconds)
	return false, nil
}
