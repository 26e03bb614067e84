package transcript

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/skypro1111/call-translator/internal/call"
)

// Action tells observers whether an utterance is still in progress
type Action uint8

const (
	ActionPartial Action = iota + 1
	ActionFinal
)

func (a Action) String() string {
	switch a {
	case ActionPartial:
		return "partial"
	case ActionFinal:
		return "final"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(a))
	}
}

// MarshalText encodes the action by name
func (a Action) MarshalText() ([]byte, error) {
	switch a {
	case ActionPartial, ActionFinal:
		return []byte(a.String()), nil
	default:
		return nil, fmt.Errorf("invalid action %d", uint8(a))
	}
}

// UnmarshalText decodes an action name
func (a *Action) UnmarshalText(text []byte) error {
	switch string(text) {
	case "partial":
		*a = ActionPartial
	case "final":
		*a = ActionFinal
	default:
		return fmt.Errorf("unknown action %q", text)
	}
	return nil
}

// Event is one transcription update for an utterance.
// TranslatedText stays nil until the translation arrives.
type Event struct {
	SessionID        string
	TranscriptionID  string
	Role             call.Role
	Action           Action
	OriginalText     string
	TranslatedText   *string
	OriginalLanguage string
	Timestamp        time.Time
}

type wireEvent struct {
	Type             string    `json:"type"`
	Action           Action    `json:"action"`
	TranscriptionID  string    `json:"transcription_id"`
	SessionID        string    `json:"session_id"`
	Role             call.Role `json:"role"`
	OriginalText     string    `json:"original_text"`
	TranslatedText   *string   `json:"translated_text"`
	OriginalLanguage string    `json:"original_language"`
	Timestamp        time.Time `json:"timestamp"`
}

const wireType = "transcription"

// MarshalJSON encodes the event in the observer wire format
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		Type:             wireType,
		Action:           e.Action,
		TranscriptionID:  e.TranscriptionID,
		SessionID:        e.SessionID,
		Role:             e.Role,
		OriginalText:     e.OriginalText,
		TranslatedText:   e.TranslatedText,
		OriginalLanguage: e.OriginalLanguage,
		Timestamp:        e.Timestamp,
	})
}

// UnmarshalJSON decodes the observer wire format
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type != wireType {
		return fmt.Errorf("unexpected event type %q", w.Type)
	}
	*e = Event{
		SessionID:        w.SessionID,
		TranscriptionID:  w.TranscriptionID,
		Role:             w.Role,
		Action:           w.Action,
		OriginalText:     w.OriginalText,
		TranslatedText:   w.TranslatedText,
		OriginalLanguage: w.OriginalLanguage,
		Timestamp:        w.Timestamp,
	}
	return nil
}

// Publisher accepts transcript events
type Publisher interface {
	Publish(e Event)
}
