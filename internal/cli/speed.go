package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nfefetch/internal/timing"
)

// speedOutput is the JSON payload of speed.
type speedOutput struct {
	Speed      int            `json:"speed"`
	Multiplier float64        `json:"multiplier"`
	Saved      bool           `json:"saved"`
	Waits      []timing.Entry `json:"waits"`
}

// NewSpeedCommand creates the speed command.
func NewSpeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "speed [level]",
		Short: "Show or save the replay speed",
		Long: fmt.Sprintf(`Show the effective speed and the wait of every replay stage, or save a
new speed level. Level %d is the slowest, %d the fastest; out of range values
are clamped.`, timing.MinSpeed, timing.MaxSpeed),
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpeed(rootOpts, args, cmd)
		},
	}
}

func runSpeed(opts *RootOptions, args []string, cmd *cobra.Command) error {
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	out := speedOutput{}
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid speed %q: must be a number", args[0]))
		}
		out.Speed = timing.ClampSpeed(n)
		if err := a.Positions.SaveSpeed(cmd.Context(), out.Speed); err != nil {
			return a.out.Fail("failed to save speed", err)
		}
		out.Saved = true
		a.Logger.Info("speed saved", "speed", out.Speed)
	} else {
		out.Speed = a.Speed(cmd.Context(), 0)
	}

	profile := timing.ComputeFrom(a.Config.TimingBase(), out.Speed)
	out.Multiplier = timing.Multiplier(out.Speed)
	out.Waits = profile.Entries()
	return a.out.Success(formatSpeed(out), out)
}

func formatSpeed(s speedOutput) string {
	var sb strings.Builder
	if s.Saved {
		fmt.Fprintf(&sb, "Speed set to %d (x%.2f)\n", s.Speed, s.Multiplier)
	} else {
		fmt.Fprintf(&sb, "Speed: %d (x%.2f)\n", s.Speed, s.Multiplier)
	}
	for _, e := range s.Waits {
		fmt.Fprintf(&sb, "  %-13s %s\n", e.Stage, e.Wait)
	}
	return sb.String()
}
