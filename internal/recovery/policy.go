// Package recovery chooses what to do after an attempt that did not
// deliver a document.
//
// The choice is static: if the cancelled-document configuration was
// captured, every NotFound is assumed to be showing the cancelled popup
// and is dismissed before reloading. Otherwise the main-flow reload
// control is used. Any popup the user never configured for takes the
// generic reload path.
package recovery

import (
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/timing"
)

// Kind is the type of one recovery step.
type Kind int

const (
	// Dismiss clicks an acknowledgement control.
	Dismiss Kind = iota + 1
	// Reload brings the portal back to a fresh query page.
	Reload
)

func (k Kind) String() string {
	switch k {
	case Dismiss:
		return "dismiss"
	case Reload:
		return "reload"
	default:
		return "unknown"
	}
}

// Step is one recovery interaction and the wait that follows it.
type Step struct {
	Kind   Kind
	Target model.StepID
	Wait   timing.Stage
}

// Action is the ordered list of steps to run.
type Action struct {
	Reason model.Outcome
	Steps  []Step
}

// Empty reports whether there is nothing to do.
func (a Action) Empty() bool { return len(a.Steps) == 0 }

var (
	dismissCancelled = Step{Kind: Dismiss, Target: model.StepCancelledAck, Wait: timing.StagePopup}
	reloadCancelled  = Step{Kind: Reload, Target: model.StepCancelledReload, Wait: timing.StageBrowserOpen}
	reloadMain       = Step{Kind: Reload, Target: model.StepReload, Wait: timing.StageBrowserOpen}
)

// Recover returns the action for outcome.
//
//	NotFound + cancelled config  -> dismiss(7'), reload(8')
//	NotFound, no cancelled config -> reload(7)
//	AttemptError                  -> reload(7)
//	Delivered                     -> nothing
func Recover(outcome model.Outcome, hasCancelledConfig bool) Action {
	a := Action{Reason: outcome}
	switch outcome {
	case model.OutcomeNotFound:
		if hasCancelledConfig {
			a.Steps = []Step{dismissCancelled, reloadCancelled}
		} else {
			a.Steps = []Step{reloadMain}
		}
	case model.OutcomeAttemptError:
		a.Steps = []Step{reloadMain}
	}
	return a
}
