// Package timing turns a single speed level into the set of waits used
// between portal interactions.
//
// Every wait is a base duration (the value at speed 3) scaled by a fixed
// multiplier. Slower speeds give the portal more time to settle and the
// user more time to solve the captcha by hand.
package timing

import (
	"fmt"
	"time"
)

// Stage names one wait of the replay sequence.
type Stage string

const (
	StageBrowserOpen Stage = "browser_open"
	StageStepWait    Stage = "step_wait"
	StageCaptcha     Stage = "captcha"
	StageContinue    Stage = "continue"
	StageDownload    Stage = "download"
	StagePopup       Stage = "popup"
	StageNewQuery    Stage = "new_query"
	StageBetweenKeys Stage = "between_keys"
)

// Stages lists every stage in replay order.
var Stages = []Stage{
	StageBrowserOpen,
	StageStepWait,
	StageCaptcha,
	StageContinue,
	StageDownload,
	StagePopup,
	StageNewQuery,
	StageBetweenKeys,
}

// Speed bounds.
const (
	MinSpeed     = 1
	MaxSpeed     = 5
	DefaultSpeed = 3
)

// Fixed waits that do not scale with speed.
const (
	// CaptchaSettle follows the click on the captcha area.
	CaptchaSettle = 1 * time.Second
	// CaptchaSolved follows a successful automatic solve.
	CaptchaSolved = 3 * time.Second
	// ReliefPause is the pause taken during periodic memory relief.
	ReliefPause = 2 * time.Second
)

var multipliers = map[int]float64{
	1: 2.0,
	2: 1.5,
	3: 1.0,
	4: 0.75,
	5: 0.5,
}

// Base maps each stage to its duration at speed 3.
type Base map[Stage]time.Duration

// DefaultBase returns the built-in base table.
func DefaultBase() Base {
	return Base{
		StageBrowserOpen: 5 * time.Second,
		StageStepWait:    1 * time.Second,
		StageCaptcha:     3 * time.Second,
		StageContinue:    5 * time.Second,
		StageDownload:    3 * time.Second,
		StagePopup:       2 * time.Second,
		StageNewQuery:    3 * time.Second,
		StageBetweenKeys: 2 * time.Second,
	}
}

// Validate rejects unknown stages and negative durations.
func (b Base) Validate() error {
	known := make(map[Stage]bool, len(Stages))
	for _, s := range Stages {
		known[s] = true
	}
	for s, d := range b {
		if !known[s] {
			return fmt.Errorf("unknown timing stage %q", s)
		}
		if d < 0 {
			return fmt.Errorf("timing stage %q: negative duration %s", s, d)
		}
	}
	return nil
}

// ClampSpeed forces speed into [MinSpeed, MaxSpeed].
func ClampSpeed(speed int) int {
	if speed < MinSpeed {
		return MinSpeed
	}
	if speed > MaxSpeed {
		return MaxSpeed
	}
	return speed
}

// Multiplier returns the scale factor for speed after clamping.
func Multiplier(speed int) float64 {
	return multipliers[ClampSpeed(speed)]
}

// Profile is an immutable stage→duration table for one speed.
type Profile struct {
	speed int
	waits map[Stage]time.Duration
}

// Compute derives the profile for speed from the default base table.
// Out of range speeds are clamped silently.
func Compute(speed int) Profile {
	return ComputeFrom(DefaultBase(), speed)
}

// ComputeFrom derives a profile from a custom base table. Stages missing
// from base fall back to the default table; negative entries become zero.
func ComputeFrom(base Base, speed int) Profile {
	speed = ClampSpeed(speed)
	m := multipliers[speed]

	waits := make(map[Stage]time.Duration, len(Stages))
	defaults := DefaultBase()
	for _, s := range Stages {
		d, ok := base[s]
		if !ok {
			d = defaults[s]
		}
		if d < 0 {
			d = 0
		}
		waits[s] = time.Duration(float64(d) * m)
	}
	return Profile{speed: speed, waits: waits}
}

// Speed is the clamped speed the profile was computed for.
func (p Profile) Speed() int { return p.speed }

// Wait returns the duration for stage, or zero for an unknown stage.
func (p Profile) Wait(s Stage) time.Duration {
	return p.waits[s]
}

// Entry is one row of a profile listing.
type Entry struct {
	Stage Stage         `json:"stage"`
	Wait  time.Duration `json:"wait"`
}

// Entries lists the profile in replay order.
func (p Profile) Entries() []Entry {
	out := make([]Entry, 0, len(p.waits))
	for _, s := range Stages {
		out = append(out, Entry{Stage: s, Wait: p.waits[s]})
	}
	return out
}
