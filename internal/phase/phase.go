// Package phase is the explicit state machine sequencing one autonomous
// cycle: Planning → Executing → Scoring → Continuing → (Planning|Executing).
// Every mutation goes through a guarded transition so an illegal phase
// change is a typed error instead of silent corruption, and the current
// phase is always a valid resume point after a crash.
package phase

import (
	"fmt"
	"sync"
)

// State is one phase of the autonomous loop.
type State string

const (
	Planning   State = "planning"
	Executing  State = "executing"
	Scoring    State = "scoring"
	Continuing State = "continuing"
	Paused     State = "paused"
	Completed  State = "completed"
	Failed     State = "failed"
	Halted     State = "halted"
)

// Category is the coarse classification of a state.
type Category string

const (
	CategoryActive   Category = "active"
	CategoryPaused   Category = "paused"
	CategoryTerminal Category = "terminal"
)

// transitions declares every legal edge. Continuing is reachable only
// from Scoring; from Continuing the loop re-enters Planning or Executing.
// Paused can resume into Planning or Executing. Terminal states have no
// outgoing edges.
var transitions = map[State][]State{
	Planning:   {Executing, Paused, Completed, Failed, Halted},
	Executing:  {Scoring, Paused, Failed, Halted},
	Scoring:    {Continuing, Paused, Completed, Failed, Halted},
	Continuing: {Planning, Executing, Paused, Halted},
	Paused:     {Planning, Executing, Failed, Halted},
}

// IsValidTransition reports whether from→to is a declared edge. Any
// undeclared pair, including self-transitions, is invalid.
func IsValidTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CategoryOf classifies a state for dashboards and resume logic.
func CategoryOf(s State) Category {
	switch s {
	case Planning, Executing, Scoring, Continuing:
		return CategoryActive
	case Paused:
		return CategoryPaused
	default:
		return CategoryTerminal
	}
}

// TransitionError reports an attempted illegal phase change.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("phase: invalid transition %s -> %s", e.From, e.To)
}

// Machine tracks the current phase of one session. It is safe for
// concurrent readers; transitions are serialized.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine starts in Planning.
func NewMachine() *Machine {
	return &Machine{state: Planning}
}

// Resume constructs a machine at a persisted phase. A terminal phase is
// a legal resume point: callers read it and decide not to run.
func Resume(s State) *Machine {
	return &Machine{state: s}
}

// Current returns the present phase.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To transitions the machine, rejecting undeclared edges.
func (m *Machine) To(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !IsValidTransition(m.state, next) {
		return &TransitionError{From: m.state, To: next}
	}
	m.state = next
	return nil
}

// Terminal reports whether the machine has reached a terminal state.
func (m *Machine) Terminal() bool {
	return CategoryOf(m.Current()) == CategoryTerminal
}
