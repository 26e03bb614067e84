package translation

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/call-translator/internal/call"
)

func TestParseMessage(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	b64 := base64.StdEncoding.EncodeToString(pcm)

	tests := []struct {
		name    string
		raw     string
		want    Event
		wantErr error
	}{
		{
			name: "output audio",
			raw:  `{"message_type":"output_audio_data","data":{"data":"` + b64 + `"}}`,
			want: AudioEvent{Role: call.RoleClient, PCM: pcm},
		},
		{
			name: "output audio with string data",
			raw:  `{"message_type":"output_audio_data","data":"{\"data\":\"` + b64 + `\"}"}`,
			want: AudioEvent{Role: call.RoleClient, PCM: pcm},
		},
		{
			name: "empty audio ignored",
			raw:  `{"message_type":"output_audio_data","data":{"data":""}}`,
		},
		{
			name: "partial transcription",
			raw:  `{"message_type":"partial_transcription","data":{"transcription":{"transcription_id":"t1","text":"hello","language":"en"}}}`,
			want: TextEvent{Role: call.RoleClient, Kind: TextPartial, Text: "hello", Language: "en", SegmentID: "t1"},
		},
		{
			name: "validated transcription",
			raw:  `{"message_type":"validated_transcription","data":{"transcription":{"text":"hello there","language":"en"}}}`,
			want: TextEvent{Role: call.RoleClient, Kind: TextValidated, Text: "hello there", Language: "en"},
		},
		{
			name: "translated transcription as string",
			raw:  `{"message_type":"translated_transcription","data":"{\"transcription\":{\"text\":\"cześć\",\"language\":\"pl\"}}"}`,
			want: TextEvent{Role: call.RoleClient, Kind: TextTranslated, Text: "cześć", Language: "pl"},
		},
		{
			name: "empty text ignored",
			raw:  `{"message_type":"partial_transcription","data":{"transcription":{"text":""}}}`,
		},
		{
			name: "current task",
			raw:  `{"message_type":"current_task","data":{"pipeline":{}}}`,
		},
		{
			name: "service error",
			raw:  `{"message_type":"error","data":{"code":"VALIDATION_ERROR","desc":"bad task"}}`,
			want: ErrorEvent{Role: call.RoleClient, Code: "VALIDATION_ERROR", Description: "bad task"},
		},
		{
			name:    "unknown type",
			raw:     `{"message_type":"pipeline_timings","data":{}}`,
			wantErr: ErrUnknownMessage,
		},
		{
			name:    "not json",
			raw:     `hello`,
			wantErr: ErrMalformedMessage,
		},
		{
			name:    "missing type",
			raw:     `{"data":{}}`,
			wantErr: ErrMalformedMessage,
		},
		{
			name:    "string data not json",
			raw:     `{"message_type":"output_audio_data","data":"oops"}`,
			wantErr: ErrMalformedMessage,
		},
		{
			name:    "bad base64",
			raw:     `{"message_type":"output_audio_data","data":{"data":"***"}}`,
			wantErr: ErrMalformedMessage,
		},
		{
			name:    "transcription without data",
			raw:     `{"message_type":"partial_transcription"}`,
			wantErr: ErrMalformedMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMessage(call.RoleClient, []byte(tt.raw))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeMessages(t *testing.T) {
	raw, err := EncodeInputAudio([]byte{9, 8, 7})
	require.NoError(t, err)

	msg, err := DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, MsgInputAudio, msg.MessageType)

	var payload struct {
		Data string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{9, 8, 7}), payload.Data)

	raw, err = EncodeEndTask(false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message_type":"end_task","data":{"force":false}}`, string(raw))
}

func TestNewTaskSettings(t *testing.T) {
	opts := DefaultTaskOptions()
	opts.ExtraDetectableLanguage = []string{"en", "uk"}

	task := NewTaskSettings("en", "pl", opts)
	raw, err := EncodeSetTask(task)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "set_task", decoded["message_type"])

	data := decoded["data"].(map[string]interface{})
	pipeline := data["pipeline"].(map[string]interface{})
	transcription := pipeline["transcription"].(map[string]interface{})
	assert.Equal(t, "en", transcription["source_language"])
	assert.Equal(t, []interface{}{"en", "pl", "uk"}, transcription["detectable_languages"])
	assert.Equal(t, "auto", transcription["asr_model"])
	assert.Equal(t, 0.7, transcription["segment_confirmation_silence_threshold"])

	translations := pipeline["translations"].([]interface{})
	require.Len(t, translations, 1)
	assert.Equal(t, "pl", translations[0].(map[string]interface{})["target_language"])

	input := data["input_stream"].(map[string]interface{})["source"].(map[string]interface{})
	assert.Equal(t, "pcm_s16le", input["format"])
	assert.Equal(t, 24000.0, input["sample_rate"])

	queue := data["translation_queue_configs"].(map[string]interface{})["global"].(map[string]interface{})
	assert.Equal(t, 10000.0, queue["desired_queue_level_ms"])
}
