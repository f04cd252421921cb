package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/nfefetch/internal/model"
)

// AssertionError is returned when an assertion fails.
// It includes the operator calls to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Calls    []string // Operator calls for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Calls) > 0 {
		fmt.Fprintf(&buf, "\nOperator calls:\n")
		for i, c := range e.Calls {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, c)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages. All assertions are evaluated; the first failure does not
// hide later ones.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertFinalState:
		return assertFinalState(result, a)
	case AssertOutcomes:
		return assertOutcomes(result, a)
	case AssertCallCount:
		return assertCallCount(result, a)
	case AssertCallsOrder:
		return assertCallsOrder(result, a)
	case AssertMissingLog:
		return assertMissingLog(result, a)
	case AssertArtifact:
		return assertArtifact(result, a)
	}
	return fmt.Errorf("unknown assertion type: %s", a.Type)
}

func assertFinalState(result *Result, a Assertion) error {
	if result.State == a.State {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: a.State,
		Actual:   fmt.Sprintf("%s (error: %q)", result.State, result.RunErr),
		Calls:    result.CallStrings(),
	}
}

func assertOutcomes(result *Result, a Assertion) error {
	got := make([]string, len(result.Outcomes))
	for i, o := range result.Outcomes {
		got[i] = o.Outcome
	}
	if slices.Equal(got, a.Outcomes) {
		return nil
	}
	return &AssertionError{
		Type:     AssertOutcomes,
		Expected: fmt.Sprintf("%v", a.Outcomes),
		Actual:   fmt.Sprintf("%v", got),
		Calls:    result.CallStrings(),
	}
}

// assertCallCount checks that op (on step, if given) was called exactly
// Count times.
func assertCallCount(result *Result, a Assertion) error {
	var step model.StepID
	if a.Step != "" {
		step, _ = model.StepByName(a.Step)
	}
	count := 0
	for _, c := range result.Calls {
		if c.Op == a.Op && (step == 0 || c.Step == step) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	target := a.Op
	if a.Step != "" {
		target += " " + a.Step
	}
	return &AssertionError{
		Type:     AssertCallCount,
		Expected: fmt.Sprintf("%s called %d times", target, a.Count),
		Actual:   fmt.Sprintf("called %d times", count),
		Calls:    result.CallStrings(),
	}
}

// assertCallsOrder checks that the calls appear in order. They need not
// be consecutive; each is matched after the previous match.
func assertCallsOrder(result *Result, a Assertion) error {
	calls := result.CallStrings()
	pos := 0
	for _, want := range a.Calls {
		idx := slices.Index(calls[pos:], want)
		if idx < 0 {
			return &AssertionError{
				Type:     AssertCallsOrder,
				Expected: fmt.Sprintf("calls in order: %v", a.Calls),
				Actual:   fmt.Sprintf("%q not found after position %d", want, pos),
				Calls:    calls,
			}
		}
		pos += idx + 1
	}
	return nil
}

func assertMissingLog(result *Result, a Assertion) error {
	want := a.Keys
	if want == nil {
		want = []string{}
	}
	if slices.Equal(result.MissingKeys, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertMissingLog,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", result.MissingKeys),
	}
}

func assertArtifact(result *Result, a Assertion) error {
	if result.artifacts == nil {
		return fmt.Errorf("result has no filesystem to inspect")
	}
	got := result.artifacts(a.Path)
	if got == *a.Exists {
		return nil
	}
	return &AssertionError{
		Type:     AssertArtifact,
		Expected: fmt.Sprintf("%s exists=%t", a.Path, *a.Exists),
		Actual:   fmt.Sprintf("exists=%t", got),
	}
}
