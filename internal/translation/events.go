package translation

import (
	"fmt"

	"github.com/skypro1111/call-translator/internal/call"
)

// Event is a message received from the translation service for one role.
// It is one of AudioEvent, TextEvent or ErrorEvent.
type Event interface {
	EventRole() call.Role
	event()
}

// AudioEvent carries translated speech synthesized for audio spoken by Role.
// PCM is 16-bit little-endian mono at 24 kHz and need not be frame aligned.
type AudioEvent struct {
	Role call.Role
	PCM  []byte
}

// TextKind distinguishes the transcription stages reported by the service
type TextKind uint8

const (
	TextPartial TextKind = iota + 1
	TextValidated
	TextTranslated
)

func (k TextKind) String() string {
	switch k {
	case TextPartial:
		return "partial_transcription"
	case TextValidated:
		return "validated_transcription"
	case TextTranslated:
		return "translated_transcription"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// TextEvent carries recognized or translated text for speech by Role
type TextEvent struct {
	Role      call.Role
	Kind      TextKind
	Text      string
	Language  string
	SegmentID string
}

// ErrorEvent is an error reported in-band by the service
type ErrorEvent struct {
	Role        call.Role
	Code        string
	Description string
}

func (e AudioEvent) EventRole() call.Role { return e.Role }
func (e TextEvent) EventRole() call.Role  { return e.Role }
func (e ErrorEvent) EventRole() call.Role { return e.Role }

func (AudioEvent) event() {}
func (TextEvent) event()  {}
func (ErrorEvent) event() {}

// InputFrame is one 20 ms PCM frame of speech by Role, sent for translation
type InputFrame struct {
	Role     call.Role
	Sequence uint32
	PCM      []byte
}
