package sequencer

import (
	"time"

	"github.com/roman-kulish/awg-sweeper/internal/awg"
)

const (
	StateIdle State = iota
	StateConnected
	StateEnabled
	StateRunning
	StateFaulted
)

// State is the sequencer position in the sweep lifecycle
type State int

var stateNames = [...]string{
	StateIdle:      "idle",
	StateConnected: "connected",
	StateEnabled:   "enabled",
	StateRunning:   "running",
	StateFaulted:   "faulted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Transition is emitted on every state change
type Transition struct {
	Channel   int
	From      State
	To        State
	Point     int     // index of the current point, -1 outside the point loop
	Amplitude float64 // current amplitude, 0 outside the point loop
	At        time.Time
}

// PointResult is the outcome of one (point, amplitude) cycle
type PointResult struct {
	Channel   int
	Index     int
	Point     Point
	Amplitude float64
	Setting   awg.Setting
	Err       error
	Started   time.Time
	Finished  time.Time
}

// Failed reports whether the cycle recorded a fault
func (r PointResult) Failed() bool {
	return r.Err != nil
}

// Observer receives sequencer progress. Calls are made from the goroutine
// running the sweep and must not block.
type Observer interface {
	OnTransition(t Transition)
	OnPoint(r PointResult)
}
