package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nfefetch/internal/batch"
	"github.com/roach88/nfefetch/internal/keys"
)

// BatchOptions holds flags for the batch command.
type BatchOptions struct {
	*RootOptions
	replaySettings
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch <key-file>...",
		Short: "Run several key lists one after another",
		Long: `Run each key file as its own list, in order. When a list completes,
its XMLs are moved from the output directory into XMLs_<name> under the
batch root, where <name> is the file name without extension.

Empty files are skipped. A stopped or failed list ends the batch.

Example:
  nfefetch batch lotes/jan.txt lotes/feb.txt`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args, cmd)
		},
	}
	addReplayFlags(cmd, &opts.replaySettings)
	return cmd
}

func runBatch(opts *BatchOptions, files []string, cmd *cobra.Command) error {
	a, err := newApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	lists := make([]keys.List, 0, len(files))
	for _, path := range files {
		list, err := keys.ParseFile(a.FS, path, a.Config.MaxKeys)
		if err != nil {
			return a.out.Fail("failed to read key list", err)
		}
		if list.Dropped > 0 {
			a.Logger.Warn("key list truncated", "file", path, "dropped", list.Dropped, "max", a.Config.MaxKeys)
		}
		lists = append(lists, list)
	}

	events, stopEvents := a.startEvents(cmd.Context(), cmd.OutOrStdout())
	eng, err := a.newEngine(cmd.Context(), opts.replaySettings, events)
	if err != nil {
		stopEvents()
		return err
	}
	coord := batch.NewCoordinator(eng, batch.Options{
		FS:        a.FS,
		OutputDir: a.Config.OutputDir,
		Root:      a.Config.BatchRoot,
		Events:    events,
		Logger:    a.Logger,
	})

	ctx, cleanup := withInterrupt(cmd.Context(), a.Logger, eng.Stop)
	var res *batch.Result
	runErr := a.supervise(ctx, "batch", func(ctx context.Context) error {
		var err error
		res, err = coord.Run(ctx, lists)
		return err
	})
	cleanup()
	stopEvents()

	if runErr != nil {
		return a.out.Fail("batch failed", runErr)
	}
	return a.out.Success(formatBatch(res), res)
}

func formatBatch(res *batch.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Batch %s\n", res.State)
	for _, l := range res.Lists {
		switch {
		case l.Skipped:
			fmt.Fprintf(&sb, "  %s: skipped (no keys)\n", l.Name)
		case l.Dir != "":
			fmt.Fprintf(&sb, "  %s: %s, %d moved to %s\n", l.Name, l.Report.Summary(), l.Moved, l.Dir)
		case l.Report != nil:
			fmt.Fprintf(&sb, "  %s: %s\n", l.Name, l.Report.Summary())
		}
	}
	return sb.String()
}
