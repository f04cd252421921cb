package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nfefetch/internal/model"
)

// stepStatus is one step's recorded position, if any.
type stepStatus struct {
	Label    string          `json:"label"`
	Name     string          `json:"name"`
	Position *model.Position `json:"position,omitempty"`
}

// statusOutput is the JSON payload of status.
type statusOutput struct {
	MainFlowComplete  bool         `json:"main_flow_complete"`
	CancelledComplete bool         `json:"cancelled_complete"`
	Steps             []stepStatus `json:"steps"`
	Backend           string       `json:"backend"`
	Captcha           string       `json:"captcha"`
	Speed             int          `json:"speed"`
	OutputDir         string       `json:"output_dir"`
	MissingLog        string       `json:"missing_log"`
	MissingEntries    int          `json:"missing_entries"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show recorded positions and effective settings",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.status(cmd.Context())
	if err != nil {
		return a.out.Fail("failed to read settings", err)
	}
	return a.out.Success(formatStatus(st), st)
}

func (a *App) status(ctx context.Context) (statusOutput, error) {
	st := statusOutput{
		Backend:   a.Config.Backend,
		Captcha:   a.Config.Captcha,
		Speed:     a.Speed(ctx, 0),
		OutputDir: a.Config.OutputDir,
	}

	complete, err := a.Positions.HasCompleteSet(ctx, model.MainFlow)
	if err != nil {
		return st, err
	}
	st.MainFlowComplete = complete
	_, st.CancelledComplete, err = a.Positions.LoadCancelledConfig(ctx)
	if err != nil {
		return st, err
	}

	for _, step := range append(append([]model.StepID{}, model.MainFlow...), model.CancelledFlow...) {
		pos, ok, err := a.Positions.Load(ctx, step)
		if err != nil {
			return st, err
		}
		ss := stepStatus{Label: step.Label(), Name: step.Name()}
		if ok {
			ss.Position = &pos
		}
		st.Steps = append(st.Steps, ss)
	}

	st.MissingLog = a.Missing.Path()
	if st.MissingEntries, err = a.Missing.Lines(); err != nil {
		return st, err
	}
	return st, nil
}

func formatStatus(st statusOutput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Main flow:  %s\n", completeness(st.MainFlowComplete))
	fmt.Fprintf(&sb, "Cancelled:  %s\n", completeness(st.CancelledComplete))
	sb.WriteString("\n")
	for _, s := range st.Steps {
		pos := "(not recorded)"
		if s.Position != nil {
			pos = s.Position.String()
		}
		fmt.Fprintf(&sb, "  %-3s %-17s %s\n", s.Label, s.Name, pos)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Backend:    %s\n", st.Backend)
	fmt.Fprintf(&sb, "Captcha:    %s\n", st.Captcha)
	fmt.Fprintf(&sb, "Speed:      %d\n", st.Speed)
	fmt.Fprintf(&sb, "Output:     %s\n", st.OutputDir)
	fmt.Fprintf(&sb, "Missing:    %d in %s\n", st.MissingEntries, st.MissingLog)
	return sb.String()
}

func completeness(ok bool) string {
	if ok {
		return "complete"
	}
	return "not configured"
}
