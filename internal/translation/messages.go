package translation

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skypro1111/call-translator/internal/call"
)

var (
	// ErrMalformedMessage is returned for messages that cannot be decoded
	ErrMalformedMessage = errors.New("malformed translation message")
	// ErrUnknownMessage is returned for well-formed messages of an unsupported type
	ErrUnknownMessage = errors.New("unknown translation message type")
)

// Message types exchanged with the translation service
const (
	MsgSetTask              = "set_task"
	MsgEndTask              = "end_task"
	MsgInputAudio           = "input_audio_data"
	MsgCurrentTask          = "current_task"
	MsgOutputAudio          = "output_audio_data"
	MsgPartialTranscript    = "partial_transcription"
	MsgValidatedTranscript  = "validated_transcription"
	MsgTranslatedTranscript = "translated_transcription"
	MsgError                = "error"
)

// Message is the envelope of every WebSocket message
type Message struct {
	MessageType string          `json:"message_type"`
	Data        json.RawMessage `json:"data,omitempty"`
}

type audioPayload struct {
	Data string `json:"data"`
}

type endTaskPayload struct {
	Force bool `json:"force"`
}

type transcriptionPayload struct {
	Transcription struct {
		TranscriptionID string `json:"transcription_id"`
		Text            string `json:"text"`
		Language        string `json:"language"`
	} `json:"transcription"`
}

type errorPayload struct {
	Code        string `json:"code"`
	Description string `json:"desc"`
}

// EncodeSetTask builds the set_task message that configures a role's pipeline
func EncodeSetTask(task TaskSettings) ([]byte, error) {
	return encode(MsgSetTask, task)
}

// EncodeInputAudio builds an input_audio_data message carrying base64 PCM
func EncodeInputAudio(pcm []byte) ([]byte, error) {
	return encode(MsgInputAudio, audioPayload{Data: base64.StdEncoding.EncodeToString(pcm)})
}

// EncodeEndTask builds the end_task message
func EncodeEndTask(force bool) ([]byte, error) {
	return encode(MsgEndTask, endTaskPayload{Force: force})
}

func encode(messageType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", messageType, err)
	}
	return json.Marshal(Message{MessageType: messageType, Data: raw})
}

// DecodeMessage parses the envelope of a service message.
// The data field is sometimes delivered as a JSON-encoded string; it is
// unwrapped so Data always holds the inner JSON.
func DecodeMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.MessageType == "" {
		return Message{}, fmt.Errorf("%w: missing message_type", ErrMalformedMessage)
	}

	data := bytes.TrimSpace(msg.Data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return Message{}, fmt.Errorf("%w: data string: %v", ErrMalformedMessage, err)
		}
		if !json.Valid([]byte(inner)) {
			return Message{}, fmt.Errorf("%w: data string is not JSON", ErrMalformedMessage)
		}
		data = []byte(inner)
	}
	msg.Data = data
	return msg, nil
}

// ParseMessage converts a raw service message received on role's connection
// into an Event. Control messages that carry nothing for the bridge, and
// audio or text messages with empty content, return a nil Event.
func ParseMessage(role call.Role, raw []byte) (Event, error) {
	msg, err := DecodeMessage(raw)
	if err != nil {
		return nil, err
	}
	return msg.Event(role)
}

// Event converts a decoded message received on role's connection into an Event
func (msg Message) Event(role call.Role) (Event, error) {
	switch msg.MessageType {
	case MsgCurrentTask:
		return nil, nil

	case MsgOutputAudio:
		var p audioPayload
		if err := unmarshalData(msg, &p); err != nil {
			return nil, err
		}
		if p.Data == "" {
			return nil, nil
		}
		pcm, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: audio payload: %v", ErrMalformedMessage, err)
		}
		return AudioEvent{Role: role, PCM: pcm}, nil

	case MsgPartialTranscript, MsgValidatedTranscript, MsgTranslatedTranscript:
		var p transcriptionPayload
		if err := unmarshalData(msg, &p); err != nil {
			return nil, err
		}
		if p.Transcription.Text == "" {
			return nil, nil
		}
		return TextEvent{
			Role:      role,
			Kind:      textKind(msg.MessageType),
			Text:      p.Transcription.Text,
			Language:  p.Transcription.Language,
			SegmentID: p.Transcription.TranscriptionID,
		}, nil

	case MsgError:
		var p errorPayload
		if err := unmarshalData(msg, &p); err != nil {
			return nil, err
		}
		return ErrorEvent{Role: role, Code: p.Code, Description: p.Description}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.MessageType)
	}
}

func unmarshalData(msg Message, v interface{}) error {
	if len(msg.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformedMessage, msg.MessageType)
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedMessage, msg.MessageType, err)
	}
	return nil
}

func textKind(messageType string) TextKind {
	switch messageType {
	case MsgPartialTranscript:
		return TextPartial
	case MsgValidatedTranscript:
		return TextValidated
	default:
		return TextTranslated
	}
}
