package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/nfefetch/internal/engine"
	"github.com/roach88/nfefetch/internal/keys"
	"github.com/roach88/nfefetch/internal/model"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	replaySettings
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <key-file>...",
		Short: "Download the XML of every key in the given files",
		Long: `Replay the recorded portal interaction for each 44-digit access key
found in the given files, in order.

Keys are merged across files and deduplicated. Keys whose XML never
appears are appended to the missing-documents log. Press Ctrl-C once to
stop after the current key, twice to abort immediately.

Example:
  nfefetch run keys.txt
  nfefetch run --backend locator --captcha auto --speed 4 jan.txt feb.txt`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyFiles(opts, args, cmd)
		},
	}
	addReplayFlags(cmd, &opts.replaySettings)
	return cmd
}

func addReplayFlags(cmd *cobra.Command, s *replaySettings) {
	cmd.Flags().StringVar(&s.Backend, "backend", "", "replay backend (coordinate|locator)")
	cmd.Flags().StringVar(&s.Captcha, "captcha", "", "captcha handling (manual|auto)")
	cmd.Flags().IntVar(&s.Speed, "speed", 0, "speed level 1 (slowest) to 5 (fastest)")
}

func runKeyFiles(opts *RunOptions, files []string, cmd *cobra.Command) error {
	a, err := newApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	var merged []model.DocumentKey
	for _, path := range files {
		list, err := keys.ParseFile(a.FS, path, a.Config.MaxKeys)
		if err != nil {
			return a.out.Fail("failed to read key list", err)
		}
		if len(list.Keys) == 0 {
			a.Logger.Warn("no keys in file", "file", path)
			continue
		}
		if list.Dropped > 0 {
			a.Logger.Warn("key list truncated", "file", path, "dropped", list.Dropped, "max", a.Config.MaxKeys)
		}
		merged = append(merged, list.Keys...)
	}
	merged, dropped := keys.Truncate(model.Dedupe(merged), a.Config.MaxKeys)
	if dropped > 0 {
		a.Logger.Warn("merged key list truncated", "dropped", dropped, "max", a.Config.MaxKeys)
	}
	if err := keys.Validate(merged, a.Config.MaxKeys); err != nil {
		return a.out.Fail("invalid key list", err)
	}

	return a.replay(cmd, opts.replaySettings, merged)
}

// runOutput is the JSON payload of run and retry.
type runOutput struct {
	RunID      string `json:"run_id"`
	State      string `json:"state"`
	Total      int    `json:"total"`
	Processed  int    `json:"processed"`
	Delivered  int    `json:"delivered"`
	NotFound   int    `json:"not_found"`
	Errors     int    `json:"errors"`
	Summary    string `json:"summary"`
	MissingLog string `json:"missing_log"`
}

func newRunOutput(r *engine.Report, missingLog string) runOutput {
	return runOutput{
		RunID:      r.RunID,
		State:      string(r.State),
		Total:      r.Total,
		Processed:  r.Processed(),
		Delivered:  r.Count(model.OutcomeDelivered),
		NotFound:   r.Count(model.OutcomeNotFound),
		Errors:     r.Count(model.OutcomeAttemptError),
		Summary:    r.Summary(),
		MissingLog: missingLog,
	}
}

// replay runs ks through a freshly wired engine under the supervisor.
func (a *App) replay(cmd *cobra.Command, s replaySettings, ks []model.DocumentKey) error {
	events, stopEvents := a.startEvents(cmd.Context(), cmd.OutOrStdout())
	eng, err := a.newEngine(cmd.Context(), s, events)
	if err != nil {
		stopEvents()
		return err
	}

	ctx, cleanup := withInterrupt(cmd.Context(), a.Logger, eng.Stop)
	var report *engine.Report
	runErr := a.supervise(ctx, "run", func(ctx context.Context) error {
		var err error
		report, err = eng.Run(ctx, ks)
		return err
	})
	cleanup()
	stopEvents()

	if runErr != nil {
		return a.out.Fail("run failed", runErr)
	}

	out := newRunOutput(report, a.Missing.Path())
	text := ""
	if out.NotFound > 0 {
		text = fmt.Sprintf("Missing keys appended to %s\n", out.MissingLog)
	}
	return a.out.Success(text, out)
}
