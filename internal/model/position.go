package model

import "fmt"

// Position is a screen coordinate recorded for a step, in CSS pixels
// relative to the portal viewport.
type Position struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}

// CancelledConfig holds the two positions used to dismiss the cancelled
// document popup and reload the portal afterwards.
type CancelledConfig struct {
	Ack    Position `json:"ack"`
	Reload Position `json:"reload"`
}
