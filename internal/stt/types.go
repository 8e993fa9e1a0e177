// Package stt is the client for the transcription service.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a transcription failure.
type Code string

const (
	CodeNoAudio            Code = "NO_AUDIO"
	CodeNoSpeech           Code = "NO_SPEECH"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeAuth               Code = "AUTH_ERROR"
	CodeRateLimit          Code = "RATE_LIMIT"
	CodeFileTooLarge       Code = "FILE_TOO_LARGE"
	CodeNetwork            Code = "NETWORK"
	CodeUnknown            Code = "UNKNOWN"
)

// Error is a classified transcription failure.
type Error struct {
	Code    Code
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("transcription %s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("transcription %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("transcription %s", e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the code of err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// codeForStatus maps an HTTP status to a code when the body carries none.
func codeForStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuth
	case status == http.StatusTooManyRequests:
		return CodeRateLimit
	case status == http.StatusRequestEntityTooLarge:
		return CodeFileTooLarge
	case status == http.StatusUnprocessableEntity:
		return CodeNoSpeech
	case status == http.StatusBadRequest:
		return CodeNoAudio
	case status >= 500:
		return CodeServiceUnavailable
	default:
		return CodeUnknown
	}
}

// TranscribeRequest is one utterance to transcribe.
type TranscribeRequest struct {
	Audio      []byte // 16-bit little-endian mono PCM
	SampleRate int
	Language   string
}

// TranscribeResponse is the service result.
type TranscribeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error)
}
