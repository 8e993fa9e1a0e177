package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/lumi/internal/conversation"
	"github.com/normanking/lumi/internal/playback"
	"github.com/normanking/lumi/internal/reply"
	"github.com/normanking/lumi/internal/store"
	"github.com/normanking/lumi/internal/stt"
	"github.com/normanking/lumi/internal/tts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSTT struct{}

func (stubSTT) Transcribe(context.Context, *stt.TranscribeRequest) (*stt.TranscribeResponse, error) {
	return &stt.TranscribeResponse{Text: "spoken words", Confidence: 1}, nil
}

type stubTTS struct{}

func (stubTTS) Synthesize(_ context.Context, req *tts.SynthesizeRequest) (*tts.SynthesizeResponse, error) {
	return &tts.SynthesizeResponse{Audio: []byte(req.Text), Format: "mp3"}, nil
}

type archive struct {
	mu   sync.Mutex
	recs []*store.Conversation
}

func (a *archive) AppendConversation(_ context.Context, c *store.Conversation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, c)
	return nil
}

func (a *archive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recs)
}

func newTestServer(t *testing.T, arch *archive) *httptest.Server {
	t.Helper()
	factory := func(player playback.Player, mic conversation.Microphone) *conversation.Runtime {
		cfg := conversation.DefaultConfig()
		return conversation.New(zerolog.Nop(), cfg, conversation.Deps{
			Transcriber: stubSTT{},
			Synthesizer: stubTTS{},
			Generator: reply.GeneratorFunc(func(_ context.Context, req *reply.Request) (*reply.Response, error) {
				return &reply.Response{Response: "I hear: " + req.Transcript}, nil
			}),
			Player:     player,
			Archive:    arch,
			Microphone: mic,
		})
	}
	h := NewHandler(zerolog.Nop(), 16000, factory)
	h.PlaybackWait = 5 * time.Second
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readUntil reads server messages until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func stateChangeTo(state string) func(ServerMessage) bool {
	return func(m ServerMessage) bool {
		return m.Type == "state_change" && m.Event != nil && m.Event.To == state
	}
}

func TestHandler_TextTurnOverWebSocket(t *testing.T) {
	arch := &archive{}
	srv := newTestServer(t, arch)
	conn := dial(t, srv)

	send(t, conn, map[string]string{"type": TypeStartSession})
	readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "session_start" })
	readUntil(t, conn, stateChangeTo("listening"))

	send(t, conn, map[string]string{"type": TypeTextInput, "text": "hello"})
	rep := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "reply" })
	assert.Equal(t, "I hear: hello", rep.Event.Message)

	clip := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypeAudio })
	assert.Equal(t, "mp3", clip.Format)
	send(t, conn, map[string]string{"type": TypePlaybackComplete, "clip_id": clip.ClipID})
	readUntil(t, conn, stateChangeTo("waiting_for_user"))

	send(t, conn, map[string]string{"type": TypeEndSession})
	readUntil(t, conn, func(m ServerMessage) bool { return m.Type == "session_end" })
	assert.Equal(t, 1, arch.count())
	conn.Close()
}

func TestHandler_UnrecognizedAndMalformed(t *testing.T) {
	srv := newTestServer(t, &archive{})
	conn := dial(t, srv)
	defer conn.Close()

	send(t, conn, map[string]string{"type": "dance"})
	msg := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypeError })
	assert.Contains(t, msg.Error, "dance")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	msg = readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypeError })
	assert.Contains(t, msg.Error, "malformed")
}

func TestHandler_ListeningWithoutSession(t *testing.T) {
	srv := newTestServer(t, &archive{})
	conn := dial(t, srv)
	defer conn.Close()

	send(t, conn, map[string]string{"type": TypeStartListening})
	msg := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypeError })
	assert.Contains(t, msg.Error, "start a session")

	send(t, conn, map[string]string{"type": TypeAudioChunk, "audio": "AAA="})
	msg = readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypeError })
	assert.Contains(t, msg.Error, "not listening")
}

func TestHandler_DisconnectPersistsSession(t *testing.T) {
	arch := &archive{}
	srv := newTestServer(t, arch)
	conn := dial(t, srv)

	send(t, conn, map[string]string{"type": TypeStartSession})
	readUntil(t, conn, stateChangeTo("listening"))
	send(t, conn, map[string]string{"type": TypeTextInput, "text": "goodbye"})
	clip := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypeAudio })
	send(t, conn, map[string]string{"type": TypePlaybackComplete, "clip_id": clip.ClipID})
	readUntil(t, conn, stateChangeTo("waiting_for_user"))
	conn.Close()

	require.Eventually(t, func() bool { return arch.count() == 1 }, 3*time.Second, 10*time.Millisecond)
}
