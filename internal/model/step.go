package model

import "fmt"

// StepID identifies one recorded interaction point of the portal flow.
//
// Steps 1 through 7 form the main flow. The two cancelled steps are only
// used when a key's output never appears and the portal is showing the
// "cancelled document" popup.
type StepID int

const (
	StepKeyField StepID = iota + 1
	StepCaptcha
	StepContinue
	StepDownload
	StepPopupOK
	StepNewQuery
	StepReload
	StepCancelledAck
	StepCancelledReload
)

// MainFlow lists the steps every replay needs, in capture order.
var MainFlow = []StepID{
	StepKeyField,
	StepCaptcha,
	StepContinue,
	StepDownload,
	StepPopupOK,
	StepNewQuery,
	StepReload,
}

// CancelledFlow lists the optional steps of the cancelled-document
// configuration, in capture order.
var CancelledFlow = []StepID{StepCancelledAck, StepCancelledReload}

type stepInfo struct {
	name        string
	prefix      string
	label       string
	instruction string
}

var steps = map[StepID]stepInfo{
	StepKeyField:        {"key_field", "step_1", "1", "Click the field where the NF-e access key is typed"},
	StepCaptcha:         {"captcha", "step_2", "2", "Click the captcha area"},
	StepContinue:        {"continue", "step_3", "3", "Click the Continue button"},
	StepDownload:        {"download", "step_4", "4", "Click the Download Document button"},
	StepPopupOK:         {"popup_ok", "step_5", "5", "Click OK on the download popup"},
	StepNewQuery:        {"new_query", "step_6", "6", "Click the New Query button"},
	StepReload:          {"reload", "step_7", "7", "Click the control that reloads the page"},
	StepCancelledAck:    {"cancelled_ack", "step_canceled_7", "7'", "Click OK on the CANCELLED document popup"},
	StepCancelledReload: {"cancelled_reload", "step_canceled_8", "8'", "Click the control that reloads the page after a cancelled document"},
}

// Valid reports whether s is one of the known steps.
func (s StepID) Valid() bool {
	_, ok := steps[s]
	return ok
}

// Name is the stable identifier used in configuration files.
func (s StepID) Name() string {
	if info, ok := steps[s]; ok {
		return info.name
	}
	return fmt.Sprintf("step_%d", int(s))
}

// SettingsPrefix is the key prefix under which the step's coordinates are
// persisted; the stored keys are prefix+"_x" and prefix+"_y".
func (s StepID) SettingsPrefix() string {
	return steps[s].prefix
}

// Label is the ordinal shown to the user, e.g. "3" or "7'".
func (s StepID) Label() string {
	if info, ok := steps[s]; ok {
		return info.label
	}
	return fmt.Sprintf("%d", int(s))
}

// Instruction is the capture prompt for the step.
func (s StepID) Instruction() string {
	return steps[s].instruction
}

// Cancelled reports whether s belongs to the cancelled-document flow.
func (s StepID) Cancelled() bool {
	return s == StepCancelledAck || s == StepCancelledReload
}

func (s StepID) String() string {
	return fmt.Sprintf("step %s (%s)", s.Label(), s.Name())
}

// StepByName resolves a configuration name such as "download".
func StepByName(name string) (StepID, bool) {
	for id, info := range steps {
		if info.name == name {
			return id, true
		}
	}
	return 0, false
}
