package controller

import "fmt"

// State is a state of the event submission flow.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

// transitions lists the allowed successors of each state. success and
// failed end one user action; the next submission starts validating again.
var transitions = map[State][]State{
	StateIdle:       {StateValidating},
	StateValidating: {StateIdle, StateSubmitting},
	StateSubmitting: {StateSuccess, StateFailed},
	StateSuccess:    {StateValidating, StateIdle},
	StateFailed:     {StateValidating, StateIdle},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports a transition the table does not allow.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("controller: invalid transition %s -> %s", e.From, e.To)
}
