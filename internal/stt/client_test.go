package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(zerolog.Nop(), &Config{URL: url, APIKey: "k", Language: "en-US"})
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(zerolog.Nop(), nil)
	assert.Equal(t, "http://localhost:8788/transcribe", c.config.URL)
	assert.Equal(t, "en-US", c.config.Language)
}

func TestTranscribe_Success(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, base64.StdEncoding.EncodeToString(pcm), body["audio"])
		assert.Equal(t, "en-US", body["language"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello there","confidence":0.91}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Transcribe(context.Background(), &TranscribeRequest{Audio: pcm, SampleRate: 16000})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.InDelta(t, 0.91, resp.Confidence, 1e-9)
}

func TestTranscribe_EmptyAudioMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Transcribe(context.Background(), &TranscribeRequest{})
	assert.True(t, IsCode(err, CodeNoAudio))
	assert.Equal(t, int32(0), calls.Load())
}

func TestTranscribe_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Code
	}{
		{"body code wins", http.StatusBadRequest, `{"error":"silence","code":"NO_SPEECH"}`, CodeNoSpeech},
		{"unauthorized", http.StatusUnauthorized, ``, CodeAuth},
		{"forbidden", http.StatusForbidden, `{"error":"nope"}`, CodeAuth},
		{"rate limited", http.StatusTooManyRequests, ``, CodeRateLimit},
		{"too large", http.StatusRequestEntityTooLarge, ``, CodeFileTooLarge},
		{"unavailable", http.StatusServiceUnavailable, `oops`, CodeServiceUnavailable},
		{"teapot", http.StatusTeapot, ``, CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Transcribe(context.Background(), &TranscribeRequest{Audio: []byte{1, 2}})
			require.Error(t, err)
			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.want, e.Code)
			assert.Equal(t, tt.status, e.Status)
		})
	}
}

func TestTranscribe_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(url).Transcribe(context.Background(), &TranscribeRequest{Audio: []byte{1, 2}})
	assert.Equal(t, CodeNetwork, CodeOf(err))
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(server.URL).Transcribe(ctx, &TranscribeRequest{Audio: []byte{1, 2}})
	assert.ErrorIs(t, err, context.Canceled)
}
