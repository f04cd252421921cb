package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roach88/nfefetch/internal/backend"
	"github.com/roach88/nfefetch/internal/capture"
	"github.com/roach88/nfefetch/internal/clock"
	"github.com/roach88/nfefetch/internal/config"
	"github.com/roach88/nfefetch/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	LogFile    string

	// The fields below replace real collaborators in tests. Nil means
	// the production implementation.
	FS          afero.Fs
	Env         config.Env
	Clock       clock.Clock
	RunIDs      engine.RunIDGenerator
	NewOperator func(a *App, kind backend.Kind) (backend.Operator, error)
	NewRecorder func(a *App) (capture.Recorder, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the nfefetch CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(&RootOptions{})
}

// NewRootCommandWith creates the root command around opts.
func NewRootCommandWith(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nfefetch",
		Short: "nfefetch - NF-e XML downloader",
		Long: `Download NF-e XML documents from the national portal by replaying
recorded browser interactions for each 44-digit access key.

Record the portal's controls once with "nfefetch capture", then run key
lists with "nfefetch run". Keys whose XML never appears are appended to
the missing-documents log and can be retried with "nfefetch retry".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default "+config.DefaultFile+")")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "also write logs to this file")

	cmd.AddCommand(NewCaptureCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewBatchCommand(opts))
	cmd.AddCommand(NewRetryCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewStepsCommand(opts))
	cmd.AddCommand(NewSpeedCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
