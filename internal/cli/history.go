package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/nfefetch/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past runs, or the per-key outcomes of one run",
		Long: `Without arguments, list the most recent runs with their outcome tallies.
With a run ID, list that run's outcome for every attempted key.

Example:
  nfefetch history --limit 5
  nfefetch history 0192f0c4-7b1e-7c3a-9d2e-5b7f1a2c3d4e`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args, cmd)
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list (0 for all)")
	return cmd
}

func runHistory(opts *HistoryOptions, args []string, cmd *cobra.Command) error {
	a, err := newApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		outcomes, err := a.Store.RunOutcomes(cmd.Context(), args[0])
		if err != nil {
			return a.out.Fail("failed to read run", err)
		}
		if len(outcomes) == 0 {
			return a.out.Success(fmt.Sprintf("No outcomes recorded for run: %s\n", args[0]), outcomes)
		}
		return a.out.Success(formatOutcomes(args[0], outcomes), outcomes)
	}

	runs, err := a.Store.ListRuns(cmd.Context(), opts.Limit)
	if err != nil {
		return a.out.Fail("failed to list runs", err)
	}
	if len(runs) == 0 {
		return a.out.Success("No runs recorded.\n", runs)
	}
	return a.out.Success(formatRuns(runs), runs)
}

func formatRuns(runs []store.RunRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-36s  %-19s  %-10s  %-9s  %5s  %9s  %9s  %6s\n",
		"RUN", "STARTED", "BACKEND", "STATE", "KEYS", "DELIVERED", "NOT FOUND", "ERRORS")
	for _, r := range runs {
		fmt.Fprintf(&sb, "%-36s  %-19s  %-10s  %-9s  %5d  %9d  %9d  %6d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Backend, r.State,
			r.Total, r.Delivered, r.NotFound, r.Errors)
	}
	return sb.String()
}

func formatOutcomes(runID string, outcomes []store.OutcomeRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run: %s\n", runID)
	for _, o := range outcomes {
		fmt.Fprintf(&sb, "  %4d  %s  %-13s", o.Index, o.Key, o.Outcome)
		if o.Detail != "" {
			fmt.Fprintf(&sb, "  %s", o.Detail)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
