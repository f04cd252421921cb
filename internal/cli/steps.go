package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nfefetch/internal/model"
)

// stepInfo is the JSON form of one step.
type stepInfo struct {
	Label       string `json:"label"`
	Name        string `json:"name"`
	Instruction string `json:"instruction"`
	Optional    bool   `json:"optional,omitempty"`
}

// NewStepsCommand creates the steps command.
func NewStepsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "steps",
		Short:         "List the portal steps recorded by capture",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			infos := listSteps()
			return out.Success(formatSteps(infos), infos)
		},
	}
}

func listSteps() []stepInfo {
	all := append(append([]model.StepID{}, model.MainFlow...), model.CancelledFlow...)
	infos := make([]stepInfo, 0, len(all))
	for _, s := range all {
		infos = append(infos, stepInfo{
			Label:       s.Label(),
			Name:        s.Name(),
			Instruction: s.Instruction(),
			Optional:    s.Cancelled(),
		})
	}
	return infos
}

func formatSteps(infos []stepInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-5s %-17s %s\n", "STEP", "NAME", "INSTRUCTION")
	for _, s := range infos {
		fmt.Fprintf(&sb, "%-5s %-17s %s\n", s.Label, s.Name, s.Instruction)
	}
	sb.WriteString("\nSteps 7' and 8' are optional (capture --cancelled).\n")
	return sb.String()
}
