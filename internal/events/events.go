// Package events distributes conversation notifications to observers.
// Delivery is asynchronous: publishers never wait for handlers.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies an event.
type Type string

const (
	TypeStateChange    Type = "state_change"
	TypeSessionStart   Type = "session_start"
	TypeSessionEnd     Type = "session_end"
	TypeSessionPause   Type = "session_pause"
	TypeSessionResume  Type = "session_resume"
	TypeSessionTimeout Type = "session_timeout"
	TypeStateTimeout   Type = "state_timeout"
	TypeTurnViolation  Type = "turn_violation"
	TypeError          Type = "error"
	TypeNotice         Type = "notice"
	TypeTranscript     Type = "transcript"
	TypeReply          Type = "reply"
	TypeSpeechStart    Type = "speech_start"
	TypeBargeIn        Type = "barge_in"
)

// Event is one notification.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	State     string         `json:"state,omitempty"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// New creates an event stamped with a fresh id and the current time.
func New(t Type, sessionID string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now(),
		SessionID: sessionID,
	}
}

// WithTransition sets From and To.
func (e Event) WithTransition(from, to string) Event {
	e.From = from
	e.To = to
	return e
}

// WithReason sets Reason.
func (e Event) WithReason(reason string) Event {
	e.Reason = reason
	return e
}

// WithMessage sets Message.
func (e Event) WithMessage(msg string) Event {
	e.Message = msg
	return e
}

// WithData merges key/value pairs into Data.
func (e Event) WithData(kv map[string]any) Event {
	if len(kv) == 0 {
		return e
	}
	data := make(map[string]any, len(e.Data)+len(kv))
	for k, v := range e.Data {
		data[k] = v
	}
	for k, v := range kv {
		data[k] = v
	}
	e.Data = data
	return e
}
