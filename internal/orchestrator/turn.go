package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/normanking/lumi/internal/reply"
	"github.com/normanking/lumi/internal/tts"
	"github.com/normanking/lumi/internal/turn"
)

// StateRequester commits state changes on the orchestrator's behalf. The
// orchestrator never moves the state machine itself.
type StateRequester interface {
	RequestState(to turn.State, reason string) error
}

// StateRequesterFunc adapts a function to StateRequester.
type StateRequesterFunc func(to turn.State, reason string) error

// RequestState implements StateRequester.
func (f StateRequesterFunc) RequestState(to turn.State, reason string) error { return f(to, reason) }

// GenerateFunc produces the reply to a transcript.
type GenerateFunc func(ctx context.Context, transcript string) (*reply.Response, error)

// TurnResult is everything a turn produced, even when a later stage failed.
type TurnResult struct {
	Transcript     TranscriptResult `json:"transcript"`
	Reply          *reply.Response  `json:"reply,omitempty"`
	Spoken         bool             `json:"spoken"`
	TextOnly       bool             `json:"text_only,omitempty"`
	Interrupted    bool             `json:"interrupted,omitempty"`
	FallbackToText bool             `json:"fallback_to_text,omitempty"`
	Duration       time.Duration    `json:"duration"`
}

// ProcessConversationTurn runs transcribe, reply, synthesize and play for
// one utterance. Transcription and reply generation happen in processing,
// synthesis and playback in speaking; each is requested through req and a
// rejected request ends the turn. A failing stage returns a *StageError
// together with the partial result.
func (o *Orchestrator) ProcessConversationTurn(ctx context.Context, pcm []byte, generate GenerateFunc, req StateRequester) (TurnResult, error) {
	start := time.Now()
	var res TurnResult
	finish := func(err error) (TurnResult, error) {
		res.Duration = time.Since(start)
		return res, err
	}

	if err := req.RequestState(turn.StateProcessing, "user_turn_end"); err != nil {
		return finish(&StageError{Stage: StageState, Err: err})
	}

	tr, err := o.Transcribe(ctx, pcm)
	res.Transcript = tr
	if err != nil {
		o.yield(req, "transcription_failed")
		return finish(&StageError{Stage: StageTranscribe, Err: err})
	}
	if tr.FallbackToText {
		res.FallbackToText = true
		o.yield(req, "fallback_to_text")
		return finish(nil)
	}
	// A placeholder still gets a reply so the user is not left in silence.
	return o.respond(ctx, &res, tr.Text, generate, req, finish)
}

// ProcessTextTurn is the typed-input path: it skips transcription and
// otherwise behaves like ProcessConversationTurn.
func (o *Orchestrator) ProcessTextTurn(ctx context.Context, text string, generate GenerateFunc, req StateRequester) (TurnResult, error) {
	start := time.Now()
	res := TurnResult{Transcript: TranscriptResult{Text: text, Confidence: 1}}
	finish := func(err error) (TurnResult, error) {
		res.Duration = time.Since(start)
		return res, err
	}
	if isBlank(text) {
		return finish(&StageError{Stage: StageTranscribe, Err: reply.ErrEmptyTranscript})
	}
	if err := req.RequestState(turn.StateProcessing, "text_input"); err != nil {
		return finish(&StageError{Stage: StageState, Err: err})
	}
	return o.respond(ctx, &res, text, generate, req, finish)
}

func (o *Orchestrator) respond(ctx context.Context, res *TurnResult, transcript string, generate GenerateFunc, req StateRequester, finish func(error) (TurnResult, error)) (TurnResult, error) {
	start := time.Now()
	rep, err := generate(ctx, transcript)
	o.stage(StageReply, start, err)
	if err == nil && (rep == nil || isBlank(rep.Response)) {
		err = errors.New("empty reply")
	}
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn().Err(err).Msg("Reply generation failed")
			o.notify(Notice{Code: "REPLY_FAILED", Message: UserMessage("REPLY_FAILED")})
			o.yield(req, "reply_failed")
		}
		return finish(&StageError{Stage: StageReply, Err: err})
	}
	res.Reply = rep

	// A barge-in right after the speaking transition must still drop this
	// reply, so the clip is tied to the epoch read before the transition.
	epoch := o.speechEpoch()
	if err := req.RequestState(turn.StateSpeaking, "reply_ready"); err != nil {
		return finish(&StageError{Stage: StageState, Err: err})
	}

	text := rep.Response
	if rep.FollowUpQuestion != "" {
		text += " " + rep.FollowUpQuestion
	}

	var spokeErr error
	select {
	case spokeErr = <-o.enqueue(text, epoch, true):
	case <-ctx.Done():
		o.StopSpeaking()
		return finish(&StageError{Stage: StagePlayback, Err: ctx.Err()})
	}

	switch {
	case spokeErr == nil:
		res.Spoken = true
	case errors.Is(spokeErr, ErrTextOnly):
		res.TextOnly = true
	case errors.Is(spokeErr, ErrStopped):
		// Barge-in: the controller already moved the turn back to the user.
		res.Interrupted = true
		return finish(nil)
	case errors.Is(spokeErr, tts.ErrEmptyText):
		res.TextOnly = true
	default:
		res.TextOnly = true
		o.logger.Warn().Err(spokeErr).Msg("Playback failed")
		_ = req.RequestState(turn.StateWaitingForUser, "playback_failed")
		return finish(&StageError{Stage: StagePlayback, Err: spokeErr})
	}

	if err := req.RequestState(turn.StateWaitingForUser, "reply_complete"); err != nil {
		return finish(&StageError{Stage: StageState, Err: err})
	}
	return finish(nil)
}

// yield hands the turn back to the user from processing. The AI's notice
// counts as its (text-only) speaking turn, so the path is
// processing -> speaking -> waiting_for_user.
func (o *Orchestrator) yield(req StateRequester, reason string) {
	if err := req.RequestState(turn.StateSpeaking, reason); err != nil {
		o.logger.Debug().Err(err).Str("reason", reason).Msg("Yield rejected")
		return
	}
	if err := req.RequestState(turn.StateWaitingForUser, reason); err != nil {
		o.logger.Debug().Err(err).Str("reason", reason).Msg("Yield rejected")
	}
}
