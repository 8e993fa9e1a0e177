// Package tts is the client for the speech-synthesis service.
package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a synthesis failure.
type Code string

const (
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeRateLimit          Code = "RATE_LIMIT"
	CodeAuth               Code = "AUTH_ERROR"
	CodeTextTooLong        Code = "TEXT_TOO_LONG"
	CodeAllAttemptsFailed  Code = "ALL_ATTEMPTS_FAILED"
	CodeNetwork            Code = "NETWORK"
	CodeUnknown            Code = "UNKNOWN"
)

// ErrEmptyText is returned for empty or whitespace-only input.
var ErrEmptyText = errors.New("text is empty")

// Error is a classified synthesis failure.
type Error struct {
	Code    Code
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("synthesis %s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("synthesis %s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("synthesis %s", e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the code of err. Errors that are not *Error count as
// network failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeNetwork
}

func codeForStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuth
	case status == http.StatusTooManyRequests:
		return CodeRateLimit
	case status == http.StatusRequestEntityTooLarge:
		return CodeTextTooLong
	case status >= 500:
		return CodeServiceUnavailable
	default:
		return CodeUnknown
	}
}

// SynthesizeRequest is one utterance to voice.
type SynthesizeRequest struct {
	Text    string
	VoiceID string
}

// SynthesizeResponse holds decoded audio.
type SynthesizeResponse struct {
	Audio  []byte
	Format string
}

// Synthesizer converts text to speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)
}
