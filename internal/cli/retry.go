package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/nfefetch/internal/keys"
)

// RetryOptions holds flags for the retry command.
type RetryOptions struct {
	*RootOptions
	replaySettings
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RetryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Run again every key in the missing-documents log",
		Long: `Rebuild a key list from the missing-documents log and replay it.

The log is append-only: keys that are still missing after the retry are
appended again.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(opts, cmd)
		},
	}
	addReplayFlags(cmd, &opts.replaySettings)
	return cmd
}

func runRetry(opts *RetryOptions, cmd *cobra.Command) error {
	a, err := newApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ks, err := a.Missing.Keys()
	if err != nil {
		return a.out.Fail("failed to read missing-documents log", err)
	}
	if len(ks) == 0 {
		return a.out.Success("No missing documents to retry.\n", map[string]any{"keys": 0})
	}
	ks, dropped := keys.Truncate(ks, a.Config.MaxKeys)
	if dropped > 0 {
		a.Logger.Warn("retry list truncated", "dropped", dropped, "max", a.Config.MaxKeys)
	}
	a.Logger.Info("retrying missing documents", "keys", len(ks), "log", a.Missing.Path())
	return a.replay(cmd, opts.replaySettings, ks)
}
