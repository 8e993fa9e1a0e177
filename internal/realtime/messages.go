// Package realtime serves one conversation per websocket connection.
package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/normanking/lumi/internal/events"
)

// Client message types.
const (
	TypeStartSession     = "start_session"
	TypeEndSession       = "end_session"
	TypePauseSession     = "pause_session"
	TypeResumeSession    = "resume_session"
	TypeStartListening   = "start_listening"
	TypeStopListening    = "stop_listening"
	TypeAudioChunk       = "audio_chunk"
	TypeTextInput        = "text_input"
	TypeBargeIn          = "barge_in"
	TypePlaybackComplete = "playback_complete"
	TypeEnableVoice      = "enable_voice"
)

// Server message types besides mirrored bus events.
const (
	TypeAudio     = "audio"
	TypeStopAudio = "stop_audio"
	TypeError     = "error"
)

// ClientMessage is one decoded client message. The concrete types below
// are the only implementations.
type ClientMessage interface {
	clientMessage()
}

type (
	StartSession   struct{}
	EndSession     struct{}
	PauseSession   struct{}
	ResumeSession  struct{}
	StartListening struct{}
	StopListening  struct{}
	BargeIn        struct{}
	EnableVoice    struct{}

	// AudioChunk carries 16-bit little-endian mono PCM.
	AudioChunk struct {
		PCM []byte
	}

	TextInput struct {
		Text string
	}

	// PlaybackComplete acknowledges the end of an audio clip.
	PlaybackComplete struct {
		ClipID string
	}

	// Unrecognized is a well-formed message with an unknown type.
	Unrecognized struct {
		Type string
	}
)

func (StartSession) clientMessage()     {}
func (EndSession) clientMessage()       {}
func (PauseSession) clientMessage()     {}
func (ResumeSession) clientMessage()    {}
func (StartListening) clientMessage()   {}
func (StopListening) clientMessage()    {}
func (BargeIn) clientMessage()          {}
func (EnableVoice) clientMessage()      {}
func (AudioChunk) clientMessage()       {}
func (TextInput) clientMessage()        {}
func (PlaybackComplete) clientMessage() {}
func (Unrecognized) clientMessage()     {}

// ErrMalformed is returned for messages that are not valid JSON envelopes.
var ErrMalformed = errors.New("malformed message")

type envelope struct {
	Type   string `json:"type"`
	Audio  string `json:"audio,omitempty"`
	Text   string `json:"text,omitempty"`
	ClipID string `json:"clip_id,omitempty"`
}

// Decode parses a client message. Unknown types decode to Unrecognized.
func Decode(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	case TypeStartSession:
		return StartSession{}, nil
	case TypeEndSession:
		return EndSession{}, nil
	case TypePauseSession:
		return PauseSession{}, nil
	case TypeResumeSession:
		return ResumeSession{}, nil
	case TypeStartListening:
		return StartListening{}, nil
	case TypeStopListening:
		return StopListening{}, nil
	case TypeBargeIn:
		return BargeIn{}, nil
	case TypeEnableVoice:
		return EnableVoice{}, nil
	case TypeAudioChunk:
		pcm, err := base64.StdEncoding.DecodeString(env.Audio)
		if err != nil {
			return nil, fmt.Errorf("%w: audio is not base64: %v", ErrMalformed, err)
		}
		if len(pcm)%2 != 0 {
			return nil, fmt.Errorf("%w: odd PCM length %d", ErrMalformed, len(pcm))
		}
		return AudioChunk{PCM: pcm}, nil
	case TypeTextInput:
		return TextInput{Text: env.Text}, nil
	case TypePlaybackComplete:
		if env.ClipID == "" {
			return nil, fmt.Errorf("%w: playback_complete without clip_id", ErrMalformed)
		}
		return PlaybackComplete{ClipID: env.ClipID}, nil
	default:
		return Unrecognized{Type: env.Type}, nil
	}
}

// ServerMessage is sent to the client. Bus events are mirrored with Type
// set to the event type.
type ServerMessage struct {
	Type   string        `json:"type"`
	Event  *events.Event `json:"event,omitempty"`
	ClipID string        `json:"clip_id,omitempty"`
	Audio  string        `json:"audio,omitempty"`
	Format string        `json:"format,omitempty"`
	Text   string        `json:"text,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func eventMessage(ev events.Event) ServerMessage {
	return ServerMessage{Type: string(ev.Type), Event: &ev}
}

func errorMessage(msg string) ServerMessage {
	return ServerMessage{Type: TypeError, Error: msg}
}
