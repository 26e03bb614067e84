package call

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a call session
type State uint8

const (
	StateDialing State = iota + 1
	StateBridging
	StateClosing
	StateClosed
)

var transitions = map[State][]State{
	StateDialing:  {StateBridging, StateClosing},
	StateBridging: {StateClosing},
	StateClosing:  {StateClosed},
}

// CanTransition reports whether moving from s to next is allowed
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateClosed
}

func (s State) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateBridging:
		return "bridging"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition records one state change
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}
