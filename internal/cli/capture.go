package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nfefetch/internal/capture"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/timing"
)

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	Cancelled bool
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record the portal's controls from your clicks",
		Long: `Open the portal in a visible browser and record the position of each
step as you click it. Positions are saved only after the last step; press
Ctrl-C to abort and keep the previous configuration.

With --cancelled, record the two optional steps used to dismiss the
"cancelled document" popup instead of the main flow.

See "nfefetch steps" for the list of steps.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Cancelled, "cancelled", false, "record the cancelled-document steps")
	return cmd
}

// captureOutput is the JSON payload of capture.
type captureOutput struct {
	Flow      string                    `json:"flow"`
	Positions map[string]model.Position `json:"positions"`
}

func runCapture(opts *CaptureOptions, cmd *cobra.Command) error {
	a, err := newApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.newRecorder()
	if err != nil {
		return a.out.Fail("failed to start recorder", err)
	}

	events, stopEvents := a.startEvents(cmd.Context(), cmd.OutOrStdout())
	profile := timing.ComputeFrom(a.Config.TimingBase(), a.Speed(cmd.Context(), 0))
	ctrl := capture.New(rec, a.Positions, capture.Options{
		Clock:    a.Clock,
		Settle:   capture.DefaultSettle,
		PageLoad: profile.Wait(timing.StageBrowserOpen),
		Events:   events,
		Logger:   a.Logger,
	})

	ctx, cleanup := withInterrupt(cmd.Context(), a.Logger, ctrl.Stop)
	out := captureOutput{Flow: "main", Positions: map[string]model.Position{}}
	steps := model.MainFlow
	if opts.Cancelled {
		out.Flow, steps = "cancelled", model.CancelledFlow
	}

	runErr := a.supervise(ctx, "capture", func(ctx context.Context) error {
		if opts.Cancelled {
			cfg, err := ctrl.CaptureCancelled(ctx)
			if err != nil {
				return err
			}
			out.Positions[model.StepCancelledAck.Name()] = cfg.Ack
			out.Positions[model.StepCancelledReload.Name()] = cfg.Reload
			return nil
		}
		got, err := ctrl.CaptureMain(ctx)
		for step, pos := range got {
			out.Positions[step.Name()] = pos
		}
		return err
	})
	cleanup()
	stopEvents()

	if runErr != nil {
		if isAbort(runErr) {
			runErr = capture.ErrAborted
		}
		return a.out.Fail("capture not saved", runErr)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Saved %d positions:\n", len(steps))
	for _, step := range steps {
		fmt.Fprintf(&sb, "  %-3s %-17s %s\n", step.Label(), step.Name(), out.Positions[step.Name()])
	}
	return a.out.Success(sb.String(), out)
}
