package engine

import (
	"runtime"
	"runtime/debug"
)

// DefaultReliefEvery is the number of processed keys between two memory
// relief pauses.
const DefaultReliefEvery = 50

// reliefSchedule decides when a long run pauses to release memory.
//
// Relief happens before a key whenever the number of keys already
// processed is a positive multiple of the interval, so a 50-key interval
// relieves before keys 51, 101, and so on, and never after the last key.
type reliefSchedule struct {
	every int
}

func newReliefSchedule(every int) reliefSchedule {
	return reliefSchedule{every: every}
}

// Due reports whether relief is due with processed keys done.
// A non-positive interval disables relief.
func (r reliefSchedule) Due(processed int) bool {
	return r.every > 0 && processed > 0 && processed%r.every == 0
}

// releaseMemory runs a collection and hands freed pages back to the OS.
func releaseMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
