package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for an id the manager does not know
	ErrSessionNotFound = errors.New("session not found")
	// ErrCapacity is returned when the session limit is reached
	ErrCapacity = errors.New("session limit reached")
)

// AlreadyActiveError is returned by Acquire for a session that already has a worker
type AlreadyActiveError struct {
	SessionID string
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("session %s already has an active worker", e.SessionID)
}

// DialError reports that the operator leg could not be established
type DialError struct {
	SessionID string
	Timeout   bool
	Status    string // telephony call status when reported by a callback
	Err       error
}

func (e *DialError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("dial for session %s timed out", e.SessionID)
	case e.Status != "" && e.Err != nil:
		return fmt.Sprintf("dial for session %s failed with status %s: %v", e.SessionID, e.Status, e.Err)
	case e.Status != "":
		return fmt.Sprintf("dial for session %s failed with status %s", e.SessionID, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("dial for session %s failed: %v", e.SessionID, e.Err)
	default:
		return fmt.Sprintf("dial for session %s failed", e.SessionID)
	}
}

func (e *DialError) Unwrap() error {
	return e.Err
}
