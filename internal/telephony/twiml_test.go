package telephony

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/call-translator/internal/call"
)

func TestConnectStream(t *testing.T) {
	doc, err := ConnectStream("wss://example.com/voice/client/abc", Parameter{Name: "session_id", Value: "abc"})
	require.NoError(t, err)

	assert.Equal(t,
		`<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
			`<Response><Connect><Stream url="wss://example.com/voice/client/abc">`+
			`<Parameter name="session_id" value="abc"></Parameter></Stream></Connect></Response>`,
		string(doc))
}

func TestReject(t *testing.T) {
	doc, err := Reject("All lines are busy")
	require.NoError(t, err)
	assert.Contains(t, string(doc), `<Say>All lines are busy</Say><Hangup></Hangup>`)
}

func TestEndpoints(t *testing.T) {
	tests := []struct {
		name      string
		endpoints Endpoints
		stream    string
		callback  string
	}{
		{
			name:      "secure",
			endpoints: Endpoints{Host: "calls.example.com"},
			stream:    "wss://calls.example.com/voice/operator/s1",
			callback:  "https://calls.example.com/voice/callback/s1",
		},
		{
			name:      "insecure with port",
			endpoints: Endpoints{Host: "localhost:8080", Insecure: true},
			stream:    "ws://localhost:8080/voice/operator/s1",
			callback:  "http://localhost:8080/voice/callback/s1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.stream, tt.endpoints.StreamURL(call.RoleOperator, "s1"))
			assert.Equal(t, tt.callback, tt.endpoints.StatusCallbackURL("s1"))
		})
	}
}
