package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/call-translator/internal/audio"
)

var (
	// ErrLegAttached is returned when a role already has a leg
	ErrLegAttached = errors.New("leg already attached for role")
	// ErrInvalidTransition is returned for a state change the lifecycle does not allow
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// Leg is a duplex handle to one telephony leg.
// Frames yields inbound µ-law frames and is closed when the leg hangs up.
type Leg interface {
	Frames() <-chan audio.Frame
	Send(ctx context.Context, f audio.Frame) error
	Done() <-chan struct{}
	Close() error
}

// Session represents one client<->operator call
type Session struct {
	ID             string
	ClientNumber   string
	OperatorNumber string
	SourceLanguage string // spoken by the client
	TargetLanguage string // spoken by the operator
	CreatedAt      time.Time

	state        State
	history      []Transition
	closeReason  string
	legs         map[Role]Leg
	changed      chan struct{}
	lastActivity time.Time

	mu sync.RWMutex
}

// Info is a point-in-time view of a session for monitoring
type Info struct {
	ID             string       `json:"id"`
	State          State        `json:"state"`
	ClientNumber   string       `json:"client_number,omitempty"`
	OperatorNumber string       `json:"operator_number,omitempty"`
	SourceLanguage string       `json:"source_language"`
	TargetLanguage string       `json:"target_language"`
	Legs           []Role       `json:"legs"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivity   time.Time    `json:"last_activity"`
	Duration       string       `json:"duration"`
	CloseReason    string       `json:"close_reason,omitempty"`
	History        []Transition `json:"history"`
}

// NewSession creates a session in the Dialing state with a fresh id
func NewSession(clientNumber, operatorNumber, sourceLanguage, targetLanguage string) *Session {
	now := time.Now()
	return &Session{
		ID:             uuid.NewString(),
		ClientNumber:   clientNumber,
		OperatorNumber: operatorNumber,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		CreatedAt:      now,
		state:          StateDialing,
		legs:           make(map[Role]Leg, 2),
		changed:        make(chan struct{}),
		lastActivity:   now,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Transition moves the session to the given state.
// The first transition into Closing or Closed records reason as the close reason.
func (s *Session) Transition(to State, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}

	now := time.Now()
	s.history = append(s.history, Transition{From: s.state, To: to, Reason: reason, At: now})
	s.state = to
	s.lastActivity = now
	if (to == StateClosing || to == StateClosed) && s.closeReason == "" {
		s.closeReason = reason
	}

	close(s.changed)
	s.changed = make(chan struct{})
	return nil
}

// Changed returns a channel that is closed on the next state transition
func (s *Session) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// AttachLeg binds a telephony leg to a role
func (s *Session) AttachLeg(role Role, leg Leg) error {
	if !role.Valid() {
		return fmt.Errorf("attach leg: invalid role %s", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosing || s.state == StateClosed {
		return fmt.Errorf("attach %s leg: session is %s", role, s.state)
	}
	if _, exists := s.legs[role]; exists {
		return fmt.Errorf("%w: %s", ErrLegAttached, role)
	}
	s.legs[role] = leg
	s.lastActivity = time.Now()
	return nil
}

// Leg returns the leg attached for role
func (s *Session) Leg(role Role) (Leg, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	leg, ok := s.legs[role]
	return leg, ok
}

// Legs returns a copy of the attached legs
func (s *Session) Legs() map[Role]Leg {
	s.mu.RLock()
	defer s.mu.RUnlock()

	legs := make(map[Role]Leg, len(s.legs))
	for role, leg := range s.legs {
		legs[role] = leg
	}
	return legs
}

// Language returns the language spoken by the given role
func (s *Session) Language(role Role) string {
	if role == RoleOperator {
		return s.TargetLanguage
	}
	return s.SourceLanguage
}

// Touch records activity on the session
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the last recorded activity
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// History returns a copy of the recorded transitions
func (s *Session) History() []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Transition(nil), s.history...)
}

// CloseReason returns the reason recorded when the session started closing
func (s *Session) CloseReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closeReason
}

// Info returns a monitoring snapshot of the session
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	legs := make([]Role, 0, len(s.legs))
	for _, role := range Roles {
		if _, ok := s.legs[role]; ok {
			legs = append(legs, role)
		}
	}

	return Info{
		ID:             s.ID,
		State:          s.state,
		ClientNumber:   s.ClientNumber,
		OperatorNumber: s.OperatorNumber,
		SourceLanguage: s.SourceLanguage,
		TargetLanguage: s.TargetLanguage,
		Legs:           legs,
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.lastActivity,
		Duration:       time.Since(s.CreatedAt).Round(time.Second).String(),
		CloseReason:    s.closeReason,
		History:        append([]Transition(nil), s.history...),
	}
}
