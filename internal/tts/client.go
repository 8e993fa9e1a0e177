package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config configures the HTTP synthesis client.
type Config struct {
	URL     string
	APIKey  string
	VoiceID string
	Timeout time.Duration
}

// DefaultConfig returns local-service defaults.
func DefaultConfig() *Config {
	return &Config{
		URL:     "http://localhost:8788/synthesize",
		VoiceID: "lumi-warm",
		Timeout: 30 * time.Second,
	}
}

// Client posts text to the synthesis endpoint.
type Client struct {
	config *Config
	client *http.Client
	logger zerolog.Logger
}

// NewClient creates a synthesis client.
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
		logger: logger.With().Str("provider", "tts-http").Logger(),
	}
}

type wireRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
}

type wireResponse struct {
	AudioContent string `json:"audioContent"`
	AudioFormat  string `json:"audioFormat"`
	Error        string `json:"error"`
	Code         Code   `json:"code"`
}

// Synthesize implements Synthesizer.
func (c *Client) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	voice := req.VoiceID
	if voice == "" {
		voice = c.config.VoiceID
	}

	body, err := json.Marshal(wireRequest{Text: req.Text, VoiceID: voice})
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

	var wr wireResponse
	decodeErr := json.Unmarshal(raw, &wr)

	if resp.StatusCode != http.StatusOK {
		code := wr.Code
		if code == "" {
			code = codeForStatus(resp.StatusCode)
		}
		c.logger.Warn().Int("status", resp.StatusCode).Str("code", string(code)).Msg("Synthesis failed")
		return nil, &Error{Code: code, Status: resp.StatusCode, Message: wr.Error}
	}
	if decodeErr != nil {
		return nil, &Error{Code: CodeUnknown, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}

	audioBytes, err := base64.StdEncoding.DecodeString(wr.AudioContent)
	if err != nil {
		return nil, &Error{Code: CodeUnknown, Status: resp.StatusCode, Err: fmt.Errorf("decode audio: %w", err)}
	}
	if len(audioBytes) == 0 {
		return nil, &Error{Code: CodeAllAttemptsFailed, Status: resp.StatusCode, Message: "no audio returned"}
	}

	c.logger.Debug().Int("bytes", len(audioBytes)).Dur("time", time.Since(start)).Msg("Synthesis complete")
	return &SynthesizeResponse{Audio: audioBytes, Format: wr.AudioFormat}, nil
}

var _ Synthesizer = (*Client)(nil)
