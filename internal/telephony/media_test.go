package telephony

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		event   string
		wantErr bool
	}{
		{
			name:  "connected",
			input: `{"event":"connected","protocol":"Call","version":"1.0.0"}`,
			event: EventConnected,
		},
		{
			name:  "start",
			input: `{"event":"start","sequenceNumber":"1","start":{"streamSid":"MZ1","callSid":"CA1","tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}},"streamSid":"MZ1"}`,
			event: EventStart,
		},
		{
			name:  "media",
			input: `{"event":"media","streamSid":"MZ1","media":{"track":"inbound","chunk":"3","timestamp":"40","payload":"//8="}}`,
			event: EventMedia,
		},
		{
			name:  "stop",
			input: `{"event":"stop","streamSid":"MZ1","stop":{"accountSid":"AC1","callSid":"CA1"}}`,
			event: EventStop,
		},
		{
			name:  "mark",
			input: `{"event":"mark","streamSid":"MZ1","mark":{"name":"greeting"}}`,
			event: EventMark,
		},
		{name: "invalid json", input: `{"event":`, wantErr: true},
		{name: "missing event", input: `{}`, wantErr: true},
		{name: "unknown event", input: `{"event":"transcript"}`, wantErr: true},
		{name: "start without sid", input: `{"event":"start","start":{}}`, wantErr: true},
		{
			name:    "start with linear audio",
			input:   `{"event":"start","start":{"streamSid":"MZ1","mediaFormat":{"encoding":"audio/x-l16"}}}`,
			wantErr: true,
		},
		{name: "media without payload", input: `{"event":"media","media":{}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.event, msg.Event)
		})
	}
}

func TestMessageAudio(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"event":"media","media":{"chunk":"7","payload":"AAEC"}}`))
	require.NoError(t, err)

	payload, err := msg.Audio()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, payload)
	assert.Equal(t, uint32(7), msg.ChunkNumber())

	msg.Media.Payload = "not base64!"
	_, err = msg.Audio()
	assert.ErrorIs(t, err, ErrInvalidMessage)

	msg.Media.Chunk = "x"
	assert.Zero(t, msg.ChunkNumber())
}

func TestEncodeMedia(t *testing.T) {
	data, err := EncodeMedia("MZ9", []byte{0xff, 0x7f})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "media", decoded["event"])
	assert.Equal(t, "MZ9", decoded["streamSid"])
	assert.Equal(t, map[string]interface{}{"payload": "/38="}, decoded["media"])
}
