package testutil

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/roach88/nfefetch/internal/backend"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/position"
)

// Behaviour scripts what happens when a key's download is clicked.
type Behaviour string

const (
	// Deliver writes "<key>.xml" into the output directory.
	Deliver Behaviour = "deliver"
	// Missing produces nothing, as for a cancelled document.
	Missing Behaviour = "missing"
	// Fail makes the download click return an error.
	Fail Behaviour = "error"
	// Timeout makes the download click fail the way an element wait
	// does when the selector never shows up.
	Timeout Behaviour = "timeout"
	// Crash kills the session: the click fails and Alive fails from
	// then on.
	Crash Behaviour = "fatal"
)

// ElementError is the error Fail returns, so error-type logging has a
// distinctive type name to report.
type ElementError struct {
	Selector string
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("element %s is not clickable", e.Selector)
}

// ErrBrowserGone is what a crashed session reports.
var ErrBrowserGone = errors.New("browser disconnected")

// Call is one recorded operator interaction.
type Call struct {
	Op   string
	Step model.StepID
	Key  model.DocumentKey
	Name string
}

func (c Call) String() string {
	parts := []string{c.Op}
	if c.Step != 0 {
		parts = append(parts, c.Step.Name())
	}
	if c.Key != "" {
		parts = append(parts, c.Key.Short())
	}
	if c.Name != "" {
		parts = append(parts, c.Name)
	}
	return strings.Join(parts, " ")
}

// ScriptedOperator is a backend.Operator that simulates the portal.
// Downloads "arrive" instantly in fs, so it pairs with a FakeClock and a
// detector over the same fs.
type ScriptedOperator struct {
	mu         sync.Mutex
	kind       backend.Kind
	fs         afero.Fs
	outputDir  string
	behaviours map[model.DocumentKey]Behaviour
	cancelled  bool

	// Default applies to keys without a scripted behaviour.
	Default Behaviour
	// MissingStep, when set, makes Prepare report that step unrecorded.
	MissingStep model.StepID
	// OpenErr is returned by Open.
	OpenErr error
	// CaptchaSolves controls SolveCaptcha's answer.
	CaptchaSolves bool

	current    model.DocumentKey
	dead       bool
	aliveCalls int
	closed     int
	calls      []Call
}

var _ backend.Operator = (*ScriptedOperator)(nil)

// NewScriptedOperator creates an operator delivering into outputDir on fs.
func NewScriptedOperator(kind backend.Kind, fs afero.Fs, outputDir string) *ScriptedOperator {
	return &ScriptedOperator{
		kind:       kind,
		fs:         fs,
		outputDir:  outputDir,
		behaviours: make(map[model.DocumentKey]Behaviour),
		Default:    Deliver,
	}
}

// Script sets key's behaviour.
func (o *ScriptedOperator) Script(key model.DocumentKey, b Behaviour) *ScriptedOperator {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.behaviours[key] = b
	return o
}

// WithCancelledConfig makes Prepare report the cancelled-document steps.
func (o *ScriptedOperator) WithCancelledConfig(on bool) *ScriptedOperator {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled = on
	return o
}

func (o *ScriptedOperator) record(c Call) {
	o.calls = append(o.calls, c)
}

func (o *ScriptedOperator) Kind() backend.Kind { return o.kind }

func (o *ScriptedOperator) Prepare(context.Context) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(Call{Op: "prepare"})
	if o.MissingStep != 0 {
		return false, &position.MissingStepError{Step: o.MissingStep}
	}
	return o.cancelled, nil
}

func (o *ScriptedOperator) Open(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(Call{Op: "open"})
	return o.OpenErr
}

func (o *ScriptedOperator) Alive(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.aliveCalls++
	if o.dead {
		return ErrBrowserGone
	}
	return nil
}

func (o *ScriptedOperator) TypeKey(_ context.Context, step model.StepID, key model.DocumentKey) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(Call{Op: "type_key", Step: step, Key: key})
	o.current = key
	return nil
}

func (o *ScriptedOperator) Click(_ context.Context, step model.StepID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(Call{Op: "click", Step: step})
	if step != model.StepDownload {
		return nil
	}

	b, ok := o.behaviours[o.current]
	if !ok {
		b = o.Default
	}
	switch b {
	case Deliver:
		path := filepath.Join(o.outputDir, o.current.ArtifactName())
		if err := o.fs.MkdirAll(o.outputDir, 0o755); err != nil {
			return err
		}
		return afero.WriteFile(o.fs, path, []byte("<nfeProc/>"), 0o644)
	case Fail:
		return &ElementError{Selector: step.Name()}
	case Timeout:
		return fmt.Errorf("find %q: %w", "#btnDownload", context.DeadlineExceeded)
	case Crash:
		o.dead = true
		return fmt.Errorf("click %s: %w", step.Name(), ErrBrowserGone)
	}
	return nil
}

func (o *ScriptedOperator) Reload(_ context.Context, step model.StepID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(Call{Op: "reload", Step: step})
	return nil
}

func (o *ScriptedOperator) SolveCaptcha(context.Context) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(Call{Op: "solve_captcha"})
	return o.CaptchaSolves, nil
}

func (o *ScriptedOperator) Snapshot(_ context.Context, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(Call{Op: "snapshot", Name: name})
}

func (o *ScriptedOperator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record(Call{Op: "close"})
	o.closed++
	return nil
}

// Calls returns a copy of the recorded interactions.
func (o *ScriptedOperator) Calls() []Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Call, len(o.calls))
	copy(out, o.calls)
	return out
}

// Trace renders the calls one per line.
func (o *ScriptedOperator) Trace() string {
	var b strings.Builder
	for _, c := range o.Calls() {
		b.WriteString(c.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Count returns how many calls match op and step (step 0 matches any).
func (o *ScriptedOperator) Count(op string, step model.StepID) int {
	n := 0
	for _, c := range o.Calls() {
		if c.Op == op && (step == 0 || c.Step == step) {
			n++
		}
	}
	return n
}

// Attempted lists the keys typed, in order.
func (o *ScriptedOperator) Attempted() []model.DocumentKey {
	var out []model.DocumentKey
	for _, c := range o.Calls() {
		if c.Op == "type_key" {
			out = append(out, c.Key)
		}
	}
	return out
}

// Closed returns how many times Close was called.
func (o *ScriptedOperator) Closed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// AliveCalls returns how many liveness checks were made.
func (o *ScriptedOperator) AliveCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.aliveCalls
}
