// Package reply is the client for the reply-generation service, the
// language model that writes Lumi's reflections.
package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrEmptyTranscript is returned when there is nothing to reply to.
var ErrEmptyTranscript = errors.New("transcript is empty")

// Request asks for a reply to a user transcript.
type Request struct {
	Transcript     string `json:"transcript"`
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId,omitempty"`
	IsSessionEnd   bool   `json:"isSessionEnd,omitempty"`
}

// Response is the generated reply.
type Response struct {
	Response         string   `json:"response"`
	FollowUpQuestion string   `json:"followUpQuestion,omitempty"`
	Insights         []string `json:"insights,omitempty"`
}

// Generator produces replies.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req *Request) (*Response, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Config configures the HTTP reply client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// DefaultConfig returns local-service defaults.
func DefaultConfig() *Config {
	return &Config{
		URL:     "http://localhost:8788/reply",
		Timeout: 60 * time.Second,
	}
}

// Client posts transcripts to the reply endpoint.
type Client struct {
	config *Config
	client *http.Client
	logger zerolog.Logger
}

// NewClient creates a reply client.
func NewClient(logger zerolog.Logger, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &Client{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With().Str("provider", "reply-http").Logger(),
	}
}

// StatusError is a non-200 answer from the service.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("reply service returned %d", e.Status)
	}
	return fmt.Sprintf("reply service returned %d: %s", e.Status, e.Message)
}

// Generate implements Generator.
func (c *Client) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || strings.TrimSpace(req.Transcript) == "" {
		return nil, ErrEmptyTranscript
	}
	body, err := json.Marshal(req)
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
		return nil, fmt.Errorf("reply request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var we struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &we)
		c.logger.Warn().Int("status", resp.StatusCode).Msg("Reply generation failed")
		return nil, &StatusError{Status: resp.StatusCode, Message: we.Error}
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	c.logger.Debug().Dur("time", time.Since(start)).Bool("sessionEnd", req.IsSessionEnd).Msg("Reply generated")
	return &out, nil
}

var _ Generator = (*Client)(nil)
