package realtime

import (
	"encoding/json"
	"testing"

	"github.com/normanking/lumi/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ClientMessage
	}{
		{"start", `{"type":"start_session"}`, StartSession{}},
		{"end", `{"type":"end_session"}`, EndSession{}},
		{"pause", `{"type":"pause_session"}`, PauseSession{}},
		{"resume", `{"type":"resume_session"}`, ResumeSession{}},
		{"listen", `{"type":"start_listening"}`, StartListening{}},
		{"stop", `{"type":"stop_listening"}`, StopListening{}},
		{"barge", `{"type":"barge_in"}`, BargeIn{}},
		{"voice", `{"type":"enable_voice"}`, EnableVoice{}},
		{"audio", `{"type":"audio_chunk","audio":"AAEAAg=="}`, AudioChunk{PCM: []byte{0, 1, 0, 2}}},
		{"text", `{"type":"text_input","text":"hello"}`, TextInput{Text: "hello"}},
		{"ack", `{"type":"playback_complete","clip_id":"c1"}`, PlaybackComplete{ClipID: "c1"}},
		{"unknown", `{"type":"dance"}`, Unrecognized{Type: "dance"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{}`,
		`{"type":"audio_chunk","audio":"***"}`,
		`{"type":"audio_chunk","audio":"AA=="}`,
		`{"type":"playback_complete"}`,
	} {
		_, err := Decode([]byte(in))
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestEventMessage_MirrorsType(t *testing.T) {
	ev := events.New(events.TypeStateChange, "s1").WithTransition("idle", "listening")
	data, err := json.Marshal(eventMessage(ev))
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "state_change", out["type"])
	inner := out["event"].(map[string]any)
	assert.Equal(t, "listening", inner["to"])
	assert.Equal(t, "s1", inner["session_id"])
}
