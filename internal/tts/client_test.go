package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesize_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hello", body["text"])
		assert.Equal(t, "lumi-warm", body["voiceId"])

		_ = json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString([]byte("mp3-bytes")),
			"audioFormat":  "mp3",
		})
	}))
	defer server.Close()

	c := NewClient(zerolog.Nop(), &Config{URL: server.URL, VoiceID: "lumi-warm"})
	resp, err := c.Synthesize(context.Background(), &SynthesizeRequest{Text: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), resp.Audio)
	assert.Equal(t, "mp3", resp.Format)
}

func TestSynthesize_EmptyText(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls.Add(1) }))
	defer server.Close()

	c := NewClient(zerolog.Nop(), &Config{URL: server.URL})
	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := c.Synthesize(context.Background(), &SynthesizeRequest{Text: text})
		assert.ErrorIs(t, err, ErrEmptyText)
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestSynthesize_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Code
	}{
		{"body code", http.StatusInternalServerError, `{"error":"all voices failed","code":"ALL_ATTEMPTS_FAILED"}`, CodeAllAttemptsFailed},
		{"auth", http.StatusUnauthorized, ``, CodeAuth},
		{"rate", http.StatusTooManyRequests, ``, CodeRateLimit},
		{"too long", http.StatusBadRequest, `{"code":"TEXT_TOO_LONG"}`, CodeTextTooLong},
		{"payload too large", http.StatusRequestEntityTooLarge, ``, CodeTextTooLong},
		{"unavailable", http.StatusBadGateway, `<html>`, CodeServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(zerolog.Nop(), &Config{URL: server.URL}).Synthesize(context.Background(), &SynthesizeRequest{Text: "hi"})
			assert.Equal(t, tt.want, CodeOf(err))
		})
	}
}

func TestSynthesize_EmptyAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"audioContent":"","audioFormat":"mp3"}`))
	}))
	defer server.Close()

	_, err := NewClient(zerolog.Nop(), &Config{URL: server.URL}).Synthesize(context.Background(), &SynthesizeRequest{Text: "hi"})
	assert.Equal(t, CodeAllAttemptsFailed, CodeOf(err))
}

func TestSynthesize_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(zerolog.Nop(), &Config{URL: url}).Synthesize(context.Background(), &SynthesizeRequest{Text: "hi"})
	assert.Equal(t, CodeNetwork, CodeOf(err))
}
