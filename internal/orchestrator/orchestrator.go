// Package orchestrator sequences one conversational turn: audio to text,
// text to reply, reply to speech, with retry and fallback-to-text.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/normanking/lumi/internal/playback"
	"github.com/normanking/lumi/internal/retry"
	"github.com/normanking/lumi/internal/stt"
	"github.com/normanking/lumi/internal/tts"
	"github.com/rs/zerolog"
)

// Stage names a step of a turn.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageReply      Stage = "reply"
	StageSynthesize Stage = "synthesize"
	StagePlayback   Stage = "playback"
	StageState      Stage = "state"
)

// DefaultPlaceholder stands in for a transcript that could not be produced.
const DefaultPlaceholder = "[inaudible]"

// Config configures an Orchestrator.
type Config struct {
	SampleRate        int
	Language          string
	VoiceID           string
	MaxAttempts       int           // transcription attempts, default 2
	RetryDelay        time.Duration // default 500ms
	SynthesisAttempts int           // default 1
	Placeholder       string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:        16000,
		Language:          "en-US",
		VoiceID:           "lumi-warm",
		MaxAttempts:       2,
		RetryDelay:        500 * time.Millisecond,
		SynthesisAttempts: 1,
		Placeholder:       DefaultPlaceholder,
	}
}

// Hooks observe the orchestrator. They must not block.
type Hooks struct {
	OnNotice func(Notice)
	OnStage  func(stage Stage, took time.Duration, err error)
}

// Orchestrator owns the synthesis queue and the audio player. Only one
// clip plays at a time.
type Orchestrator struct {
	cfg    Config
	logger zerolog.Logger
	stt    stt.Transcriber
	tts    tts.Synthesizer
	player playback.Player
	hooks  Hooks

	sttPolicy retry.Policy
	ttsPolicy retry.Policy

	voiceMu      sync.RWMutex
	voiceEnabled bool

	queueMu   sync.Mutex
	queue     []*speechItem
	epoch     uint64
	running   bool
	current   *speechItem
	cancelCur context.CancelFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New creates an Orchestrator. Zero config fields take defaults.
func New(logger zerolog.Logger, cfg Config, transcriber stt.Transcriber, synth tts.Synthesizer, player playback.Player, hooks Hooks) *Orchestrator {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.SynthesisAttempts <= 0 {
		cfg.SynthesisAttempts = def.SynthesisAttempts
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = def.Placeholder
	}
	if player == nil {
		player = playback.DiscardPlayer{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:          cfg,
		logger:       logger.With().Str("component", "orchestrator").Logger(),
		stt:          transcriber,
		tts:          synth,
		player:       player,
		hooks:        hooks,
		voiceEnabled: true,
		sttPolicy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			Delay:       cfg.RetryDelay,
			Retryable:   transcriptionRetryable,
		},
		ttsPolicy: retry.Policy{
			MaxAttempts: cfg.SynthesisAttempts,
			Delay:       cfg.RetryDelay,
			Retryable:   synthesisRetryable,
		},
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// transcriptionRetryable: no-speech, rate limits and unclassified transport
// failures get another attempt.
func transcriptionRetryable(err error) bool {
	switch stt.CodeOf(err) {
	case stt.CodeNoSpeech, stt.CodeRateLimit, stt.CodeNetwork, stt.CodeUnknown:
		return true
	default:
		return false
	}
}

func transcriptionFallsBack(code stt.Code) bool {
	switch code {
	case stt.CodeServiceUnavailable, stt.CodeAuth, stt.CodeFileTooLarge, stt.CodeNoAudio:
		return true
	default:
		return false
	}
}

func synthesisRetryable(err error) bool {
	switch tts.CodeOf(err) {
	case tts.CodeRateLimit, tts.CodeNetwork:
		return true
	default:
		return false
	}
}

// TranscriptResult is the outcome of Transcribe.
type TranscriptResult struct {
	Text           string   `json:"text"`
	Confidence     float64  `json:"confidence"`
	Attempts       int      `json:"attempts"`
	Placeholder    bool     `json:"placeholder,omitempty"`
	FallbackToText bool     `json:"fallback_to_text,omitempty"`
	Code           stt.Code `json:"code,omitempty"`
}

// Transcribe converts PCM to text. Empty audio is rejected before any
// request. Remote failures never surface as errors: they end in either a
// fallback-to-text result or a placeholder transcript. Only validation and
// context errors are returned.
func (o *Orchestrator) Transcribe(ctx context.Context, pcm []byte) (TranscriptResult, error) {
	if len(pcm) == 0 {
		return TranscriptResult{Code: stt.CodeNoAudio}, &stt.Error{Code: stt.CodeNoAudio, Message: "audio is empty"}
	}

	start := time.Now()
	var resp *stt.TranscribeResponse
	res := o.sttPolicy.Do(ctx, func(ctx context.Context, attempt int) error {
		r, err := o.stt.Transcribe(ctx, &stt.TranscribeRequest{
			Audio:      pcm,
			SampleRate: o.cfg.SampleRate,
			Language:   o.cfg.Language,
		})
		if err != nil {
			if ctx.Err() == nil {
				o.logger.Warn().Err(err).Int("attempt", attempt).Msg("Transcription attempt failed")
			}
			return err
		}
		resp = r
		return nil
	})
	o.stage(StageTranscribe, start, res.Err)

	if res.Err == nil {
		return TranscriptResult{Text: resp.Text, Confidence: resp.Confidence, Attempts: res.Attempts}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return TranscriptResult{Attempts: res.Attempts}, ctxErr
	}

	code := stt.CodeOf(res.Err)
	if transcriptionFallsBack(code) {
		o.notify(Notice{Code: string(code), Message: UserMessage(string(code))})
		return TranscriptResult{Attempts: res.Attempts, FallbackToText: true, Code: code}, nil
	}

	o.logger.Warn().Str("code", string(code)).Int("attempts", res.Attempts).Msg("Transcription exhausted retries, using placeholder")
	o.notify(Notice{Code: "PLACEHOLDER", Message: UserMessage("PLACEHOLDER")})
	return TranscriptResult{
		Text:        o.cfg.Placeholder,
		Attempts:    res.Attempts,
		Placeholder: true,
		Code:        code,
	}, nil
}

// SynthesisResult is the outcome of Synthesize.
type SynthesisResult struct {
	Clip     *playback.Clip
	TextOnly bool
	Code     tts.Code
}

// Synthesize voices text. Empty text is an error. A disabled voice or a
// remote failure yields a text-only result. An auth failure also disables
// voice until EnableVoice.
func (o *Orchestrator) Synthesize(ctx context.Context, text string) (SynthesisResult, error) {
	if isBlank(text) {
		return SynthesisResult{}, tts.ErrEmptyText
	}
	if !o.VoiceEnabled() || o.tts == nil {
		return SynthesisResult{TextOnly: true}, nil
	}

	start := time.Now()
	var resp *tts.SynthesizeResponse
	res := o.ttsPolicy.Do(ctx, func(ctx context.Context, _ int) error {
		r, err := o.tts.Synthesize(ctx, &tts.SynthesizeRequest{Text: text, VoiceID: o.cfg.VoiceID})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	o.stage(StageSynthesize, start, res.Err)

	if res.Err == nil {
		return SynthesisResult{Clip: &playback.Clip{Audio: resp.Audio, Format: resp.Format, Text: text}}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return SynthesisResult{}, ctxErr
	}

	code := tts.CodeOf(res.Err)
	if code == tts.CodeAuth {
		o.setVoice(false)
		o.logger.Error().Err(res.Err).Msg("Synthesis auth failed, voice disabled for session")
		o.notify(Notice{Code: string(code), Message: UserMessage(string(code)), Persistent: true})
	} else {
		o.logger.Warn().Err(res.Err).Str("code", string(code)).Msg("Synthesis failed, continuing in text")
		o.notify(Notice{Code: string(code), Message: UserMessage(string(code))})
	}
	return SynthesisResult{TextOnly: true, Code: code}, nil
}

// VoiceEnabled reports whether synthesis is on.
func (o *Orchestrator) VoiceEnabled() bool {
	o.voiceMu.RLock()
	defer o.voiceMu.RUnlock()
	return o.voiceEnabled
}

// EnableVoice turns synthesis back on after an auth failure.
func (o *Orchestrator) EnableVoice() {
	o.setVoice(true)
}

// DisableVoice turns synthesis off.
func (o *Orchestrator) DisableVoice() {
	o.setVoice(false)
}

func (o *Orchestrator) setVoice(on bool) {
	o.voiceMu.Lock()
	changed := o.voiceEnabled != on
	o.voiceEnabled = on
	o.voiceMu.Unlock()
	if changed {
		o.logger.Info().Bool("enabled", on).Msg("Voice synthesis toggled")
	}
}

// Close stops speech and cancels any in-flight work.
func (o *Orchestrator) Close() {
	o.StopSpeaking()
	o.baseCancel()
}

func (o *Orchestrator) notify(n Notice) {
	if o.hooks.OnNotice != nil {
		o.hooks.OnNotice(n)
	}
}

func (o *Orchestrator) stage(s Stage, start time.Time, err error) {
	if o.hooks.OnStage != nil {
		o.hooks.OnStage(s, time.Since(start), err)
	}
}

// StageError wraps the failure of one stage of a turn. The turn result
// returned alongside it holds whatever the earlier stages produced.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return string(e.Stage) + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// ErrStopped is delivered for speech cancelled by StopSpeaking.
var ErrStopped = errors.New("speech stopped")

// ErrTextOnly is delivered for speech that was not voiced.
var ErrTextOnly = errors.New("reply delivered as text only")
