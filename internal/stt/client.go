package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/normanking/lumi/internal/audio"
	"github.com/rs/zerolog"
)

// Config configures the HTTP transcription client.
type Config struct {
	URL      string
	APIKey   string
	Language string
	Timeout  time.Duration
}

// DefaultConfig returns local-service defaults.
func DefaultConfig() *Config {
	return &Config{
		URL:      "http://localhost:8788/transcribe",
		Language: "en-US",
		Timeout:  30 * time.Second,
	}
}

// Client posts base64 PCM to the transcription endpoint.
type Client struct {
	config *Config
	client *http.Client
	logger zerolog.Logger
}

// NewClient creates a transcription client.
func NewClient(logger zerolog.Logger, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With().Str("provider", "stt-http").Logger(),
	}
}

type wireRequest struct {
	Audio      string `json:"audio"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

type wireError struct {
	Error string `json:"error"`
	Code  Code   `json:"code"`
}

// Transcribe implements Transcriber. Empty audio is rejected without a
// request. Every failure is an *Error.
func (c *Client) Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error) {
	if req == nil || len(req.Audio) == 0 {
		return nil, &Error{Code: CodeNoAudio, Message: "audio is empty"}
	}
	lang := req.Language
	if lang == "" {
		lang = c.config.Language
	}

	body, err := json.Marshal(wireRequest{
		Audio:      audio.EncodeBase64(req.Audio),
		Language:   lang,
		SampleRate: req.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	c.logger.Debug().Int("audioBytes", len(req.Audio)).Msg("Sending audio for transcription")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Code: CodeNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Code: CodeNetwork, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var we wireError
		_ = json.Unmarshal(raw, &we)
		code := we.Code
		if code == "" {
			code = codeForStatus(resp.StatusCode)
		}
		c.logger.Warn().Int("status", resp.StatusCode).Str("code", string(code)).Msg("Transcription failed")
		return nil, &Error{Code: code, Status: resp.StatusCode, Message: we.Error}
	}

	var out TranscribeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Code: CodeUnknown, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	c.logger.Info().Dur("time", time.Since(start)).Int("chars", len(out.Text)).Msg("Transcription complete")
	return &out, nil
}

var _ Transcriber = (*Client)(nil)

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
