package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/nfefetch/internal/notify"
)

// Snapshot renders the deterministic parts of a result as text.
func Snapshot(name string, r *Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "scenario: %s\n", name)
	fmt.Fprintf(&sb, "state: %s\n", r.State)

	if len(r.Lists) > 0 {
		sb.WriteString("\nlists:\n")
		for _, l := range r.Lists {
			switch {
			case l.Skipped:
				fmt.Fprintf(&sb, "  %s: skipped\n", l.Name)
			case l.Dir != "":
				fmt.Fprintf(&sb, "  %s: %s, %d moved to %s\n", l.Name, l.State, l.Moved, l.Dir)
			default:
				fmt.Fprintf(&sb, "  %s: %s\n", l.Name, l.State)
			}
		}
	}

	sb.WriteString("\noutcomes:\n")
	for i, o := range r.Outcomes {
		fmt.Fprintf(&sb, "  %d %s %s\n", i+1, o.Key, o.Outcome)
	}

	sb.WriteString("\ncalls:\n")
	for _, c := range r.CallStrings() {
		fmt.Fprintf(&sb, "  %s\n", c)
	}

	sb.WriteString("\nevents:\n")
	for _, e := range r.Events {
		if line := eventLine(e); line != "" {
			fmt.Fprintf(&sb, "  %s\n", line)
		}
	}

	sb.WriteString("\nmissing_log:\n")
	if len(r.MissingKeys) == 0 {
		sb.WriteString("  (empty)\n")
	}
	for _, k := range r.MissingKeys {
		fmt.Fprintf(&sb, "  %s\n", k)
	}
	return sb.String()
}

// eventLine renders the events that define a run's shape. Status text is
// left out: it is display copy, not behaviour.
func eventLine(e notify.Event) string {
	switch e.Kind {
	case notify.KindProgress:
		return fmt.Sprintf("progress %d/%d %d%%", e.Index, e.Total, e.Percent)
	case notify.KindNotFound:
		return fmt.Sprintf("not_found %d %s", e.Index, e.Key)
	case notify.KindError:
		first, _, _ := strings.Cut(e.Text, "\n")
		return "error " + first
	case notify.KindDone:
		return fmt.Sprintf("done %s %s", e.State, e.Text)
	}
	return ""
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/<scenario.Name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Assertion failures and
// golden mismatches fail t.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(Snapshot(name, result)))
}
