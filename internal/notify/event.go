package notify

import (
	"fmt"

	"github.com/roach88/nfefetch/internal/model"
)

// Kind distinguishes notification types.
type Kind string

const (
	KindProgress         Kind = "progress"
	KindStatus           Kind = "status"
	KindNotFound         Kind = "not_found"
	KindError            Kind = "error"
	KindDone             Kind = "done"
	KindCaptureStep      Kind = "capture_step"
	KindPositionRecorded Kind = "position_recorded"
)

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Seq   int64  `json:"seq"`
	Kind  Kind   `json:"kind"`
	RunID string `json:"run_id,omitempty"`

	// Progress and status.
	Index   int `json:"index,omitempty"`
	Total   int `json:"total,omitempty"`
	Percent int `json:"percent,omitempty"`

	Key  string `json:"key,omitempty"`
	Text string `json:"text,omitempty"`

	// Capture.
	Step     model.StepID    `json:"step,omitempty"`
	Position *model.Position `json:"position,omitempty"`

	// Done: terminal state name, e.g. "completed" or "failed".
	State string `json:"state,omitempty"`
}

// Progress reports index of total keys processed.
func Progress(runID string, index, total int) Event {
	pct := 0
	if total > 0 {
		pct = index * 100 / total
	}
	return Event{Kind: KindProgress, RunID: runID, Index: index, Total: total, Percent: pct}
}

// Status is free text about the key currently being processed.
func Status(runID string, index, total int, text string) Event {
	return Event{Kind: KindStatus, RunID: runID, Index: index, Total: total, Text: text}
}

// NotFound reports a key whose output never appeared.
func NotFound(runID string, index int, key model.DocumentKey) Event {
	return Event{Kind: KindNotFound, RunID: runID, Index: index, Key: key.String()}
}

// Failure is a run-stopping error with remediation text for the user.
func Failure(runID, text string) Event {
	return Event{Kind: KindError, RunID: runID, Text: text}
}

// Done is the terminal signal of a run or capture.
func Done(runID, state, text string) Event {
	return Event{Kind: KindDone, RunID: runID, State: state, Text: text}
}

// CaptureStep prompts the user to perform step.
func CaptureStep(step model.StepID) Event {
	return Event{
		Kind: KindCaptureStep,
		Step: step,
		Text: fmt.Sprintf("STEP %s: %s", step.Label(), step.Instruction()),
	}
}

// PositionRecorded confirms the position captured for step.
func PositionRecorded(step model.StepID, pos model.Position) Event {
	return Event{
		Kind:     KindPositionRecorded,
		Step:     step,
		Position: &pos,
		Text:     fmt.Sprintf("Step %s recorded at %s", step.Label(), pos),
	}
}
