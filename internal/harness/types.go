package harness

import (
	"github.com/roach88/nfefetch/internal/notify"
	"github.com/roach88/nfefetch/internal/testutil"
)

// KeyOutcome is the decided outcome of one attempted key.
type KeyOutcome struct {
	List    string `json:"list"`
	Key     string `json:"key"`
	Outcome string `json:"outcome"`
}

// ListSummary is what happened to one list of a batch.
type ListSummary struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Skipped bool   `json:"skipped,omitempty"`
	Dir     string `json:"dir,omitempty"`
	Moved   int    `json:"moved"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// State is the terminal state of the run, or of the batch.
	State string `json:"state"`

	// RunErr is the run-stopping error text, if any.
	RunErr string `json:"run_error,omitempty"`

	Outcomes []KeyOutcome    `json:"outcomes"`
	Lists    []ListSummary   `json:"lists,omitempty"`
	Calls    []testutil.Call `json:"-"`
	Events   []notify.Event  `json:"events"`

	// MissingKeys is the parsed missing-documents log.
	MissingKeys []string `json:"missing_keys"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// artifacts answers artifact assertions after the run.
	artifacts func(path string) bool
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Outcomes:    []KeyOutcome{},
		MissingKeys: []string{},
		Errors:      []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// CallStrings renders the operator calls one per entry.
func (r *Result) CallStrings() []string {
	out := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = c.String()
	}
	return out
}
