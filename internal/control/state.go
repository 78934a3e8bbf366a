package control

import (
	"errors"
	"time"
)

// State is a named stage of the search state machine.
type State string

const (
	StateSearching     State = "searching"
	StateAwaitingToken State = "awaiting_token"
	StateVerifying     State = "verifying"
	StateAccessing     State = "accessing_privileged_resource"
	StateTerminated    State = "terminated"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	StateSearching: {
		StateAwaitingToken,
		StateVerifying,
		StateTerminated,
	},
	StateAwaitingToken: {StateVerifying, StateTerminated},
	StateVerifying: {
		StateSearching,
		StateAccessing,
		StateTerminated,
	},
	StateAccessing: {StateSearching, StateTerminated},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}

	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case StateSearching:
		return "Searching - selecting the next candidate"
	case StateAwaitingToken:
		return "Awaiting token - acquiring or rotating the session token"
	case StateVerifying:
		return "Verifying - probing the credential check endpoint"
	case StateAccessing:
		return "Accessing - requesting the privileged resource"
	case StateTerminated:
		return "Terminated - run finished"
	default:
		return "Unknown state"
	}
}
