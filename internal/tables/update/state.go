// Package update refreshes the active tables from a file or HTTP source.
// Each attempt walks an explicit state machine and talks to the engine only
// through tables.Store.Swap.
package update

import "fmt"

// State is a step of an update attempt.
type State string

const (
	StateIdle           State = "idle"
	StateChecking       State = "checking"
	StateDownloading    State = "downloading"
	StateSuccess        State = "success"
	StateError          State = "error"
	StateNoUpdateNeeded State = "no_update_needed"
)

var transitions = map[State][]State{
	StateIdle:           {StateChecking},
	StateChecking:       {StateDownloading, StateNoUpdateNeeded, StateError},
	StateDownloading:    {StateSuccess, StateNoUpdateNeeded, StateError},
	StateSuccess:        {StateChecking},
	StateError:          {StateChecking},
	StateNoUpdateNeeded: {StateChecking},
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError || s == StateNoUpdateNeeded
}

// CanTransition reports whether the machine may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal update transition %s -> %s", e.From, e.To)
}
