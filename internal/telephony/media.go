package telephony

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Media stream events
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
)

// MediaEncodingMulaw is the only media format the service accepts
const MediaEncodingMulaw = "audio/x-mulaw"

// ErrInvalidMessage is returned for media stream messages that cannot be used
var ErrInvalidMessage = errors.New("invalid media stream message")

// Message is one media stream WebSocket message in either direction
type Message struct {
	Event          string      `json:"event"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSID      string      `json:"streamSid,omitempty"`
	Protocol       string      `json:"protocol,omitempty"`
	Version        string      `json:"version,omitempty"`
	Start          *StartInfo  `json:"start,omitempty"`
	Media          *MediaChunk `json:"media,omitempty"`
	Stop           *StopInfo   `json:"stop,omitempty"`
	Mark           *Mark       `json:"mark,omitempty"`
}

// StartInfo describes the stream; sent once before any media
type StartInfo struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

// MediaFormat is the audio format of the stream
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaChunk carries base64 µ-law audio
type MediaChunk struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopInfo is sent when the call ends or the stream is stopped
type StopInfo struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// Mark names a position in the outbound audio
type Mark struct {
	Name string `json:"name"`
}

// ParseMessage decodes an inbound media stream message and checks the
// fields its event requires
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch msg.Event {
	case EventConnected, EventStop, EventMark, EventDTMF:
	case EventStart:
		if msg.Start == nil || msg.Start.StreamSID == "" {
			return nil, fmt.Errorf("%w: start without streamSid", ErrInvalidMessage)
		}
		if enc := msg.Start.MediaFormat.Encoding; enc != "" && enc != MediaEncodingMulaw {
			return nil, fmt.Errorf("%w: unsupported media encoding %q", ErrInvalidMessage, enc)
		}
	case EventMedia:
		if msg.Media == nil || msg.Media.Payload == "" {
			return nil, fmt.Errorf("%w: media without payload", ErrInvalidMessage)
		}
	case "":
		return nil, fmt.Errorf("%w: missing event", ErrInvalidMessage)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidMessage, msg.Event)
	}
	return &msg, nil
}

// Audio decodes the µ-law payload of a media message
func (m *Message) Audio() ([]byte, error) {
	if m.Media == nil {
		return nil, fmt.Errorf("%w: no media", ErrInvalidMessage)
	}
	payload, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidMessage, err)
	}
	return payload, nil
}

// ChunkNumber returns the media chunk counter, or 0 if absent
func (m *Message) ChunkNumber() uint32 {
	if m.Media == nil || m.Media.Chunk == "" {
		return 0
	}
	n, err := strconv.ParseUint(m.Media.Chunk, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// EncodeMedia builds an outbound media message for a stream
func EncodeMedia(streamSID string, mulaw []byte) ([]byte, error) {
	return json.Marshal(Message{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaChunk{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	})
}
