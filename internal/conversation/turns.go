package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/normanking/lumi/internal/events"
	"github.com/normanking/lumi/internal/metrics"
	"github.com/normanking/lumi/internal/orchestrator"
	"github.com/normanking/lumi/internal/reply"
	"github.com/normanking/lumi/internal/turn"
)

// RequestState asks the state machine to move to. Requesting the current
// state is a no-op. Rejections are published and returned.
func (r *Runtime) RequestState(to turn.State, reason string) error {
	from := r.machine.Current()
	if from == to {
		return nil
	}
	rec, ok, err := r.machine.CompareAndTransition(from, to, reason, false)
	if !ok {
		// The state moved underneath us; validate against the new one.
		rec, err = r.machine.Transition(to, reason)
	}
	r.afterTransition(rec)
	return err
}

// afterTransition publishes a transition record and re-arms the state
// timer when it was applied.
func (r *Runtime) afterTransition(rec turn.Transition) {
	metrics.ObserveTransition(string(rec.From), string(rec.To), rec.Valid, rec.Violation)
	sid := r.currentSessionID()

	if !rec.Valid {
		if rec.Violation {
			r.logger.Warn().Str("from", string(rec.From)).Str("to", string(rec.To)).Str("reason", rec.Reason).Msg("Turn violation")
			r.publish(events.New(events.TypeTurnViolation, sid).
				WithTransition(string(rec.From), string(rec.To)).
				WithReason(rec.Reason).
				WithMessage(orchestrator.UserMessage("TURN_VIOLATION")).
				WithData(map[string]any{"error": rec.Error}))
			return
		}
		r.logger.Debug().Str("from", string(rec.From)).Str("to", string(rec.To)).Str("reason", rec.Reason).Msg("Transition rejected")
		r.publish(events.New(events.TypeError, sid).
			WithTransition(string(rec.From), string(rec.To)).
			WithReason(rec.Reason).
			WithMessage(orchestrator.UserMessage("STATE_REJECTED")).
			WithData(map[string]any{"stage": "state", "error": rec.Error}))
		return
	}

	r.logger.Debug().
		Str("from", string(rec.From)).
		Str("to", string(rec.To)).
		Str("reason", rec.Reason).
		Bool("forced", rec.Forced).
		Msg("State changed")
	ev := events.New(events.TypeStateChange, sid).
		WithTransition(string(rec.From), string(rec.To)).
		WithReason(rec.Reason).
		WithData(map[string]any{"owner": string(rec.TurnOwner), "forced": rec.Forced})
	ev.State = string(rec.To)
	r.publish(ev)
	r.armStateTimer(rec.To)
}

// armStateTimer replaces the state timer with one for s.
func (r *Runtime) armStateTimer(s turn.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armStateTimerLocked(s)
}

func (r *Runtime) armStateTimerLocked(s turn.State) {
	r.stateGen++
	if r.stateTimer != nil {
		r.stateTimer.Stop()
		r.stateTimer = nil
	}
	d := r.cfg.Timeouts[s]
	if d <= 0 || s == turn.StateIdle || s == turn.StateSpeaking || r.closed {
		return
	}
	gen := r.stateGen
	r.stateTimer = time.AfterFunc(d, func() { r.onStateTimeout(gen, s) })
}

func (r *Runtime) onStateTimeout(gen uint64, s turn.State) {
	r.mu.Lock()
	if gen != r.stateGen {
		r.mu.Unlock()
		return
	}
	r.stateTimer = nil
	// Listening only times out without activity: while the user is
	// mid-utterance the timer starts over.
	if s == turn.StateListening && r.recorder.Detector().InSpeech() && r.machine.Current() == s {
		r.armStateTimerLocked(s)
		r.mu.Unlock()
		return
	}
	cancel := r.jobCancel
	r.mu.Unlock()

	next := turn.NextStateOnTimeout(s)
	rec, ok, err := r.machine.CompareAndTransition(s, next, "timeout", true)
	if !ok || err != nil {
		return
	}

	r.logger.Info().Str("state", string(s)).Str("next", string(next)).Msg("State timed out")
	metrics.StateTimeouts.WithLabelValues(string(s)).Inc()
	ev := events.New(events.TypeStateTimeout, r.currentSessionID()).
		WithTransition(string(s), string(next)).
		WithReason("timeout")
	ev.State = string(next)
	r.publish(ev)
	r.afterTransition(rec)

	switch s {
	case turn.StateProcessing:
		if cancel != nil {
			cancel()
		}
	case turn.StateListening:
		// Whatever the user said so far is handed to Lumi.
		r.recorder.Flush()
	}
}

// job is one queued user turn: recorded audio or typed text.
type job struct {
	pcm  []byte
	text string
}

func (j job) typed() bool { return j.pcm == nil }

// SubmitText queues typed input as a user turn. While Lumi is speaking the
// input interrupts it.
func (r *Runtime) SubmitText(text string) error {
	if !r.sessions.Active() {
		return ErrNoActiveSession
	}
	if strings.TrimSpace(text) == "" {
		return reply.ErrEmptyTranscript
	}
	switch r.machine.Current() {
	case turn.StateProcessing, turn.StateWaitingForAI:
		return ErrTurnInProgress
	case turn.StateSpeaking:
		r.BargeIn()
	}
	r.enqueue(job{text: text})
	return nil
}

func (r *Runtime) enqueue(j job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.jobs = append(r.jobs, j)
	if !r.jobRunning {
		r.jobRunning = true
		go r.runJobs()
	}
	r.notifyLocked()
}

// cancelTurns drops queued turns and cancels the one in progress.
func (r *Runtime) cancelTurns() {
	r.mu.Lock()
	dropped := len(r.jobs)
	r.jobs = nil
	cancel := r.jobCancel
	r.notifyLocked()
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if dropped > 0 || cancel != nil {
		r.logger.Debug().Int("dropped", dropped).Msg("Turns cancelled")
	}
}

func (r *Runtime) runJobs() {
	for {
		r.mu.Lock()
		if len(r.jobs) == 0 || r.closed {
			r.jobRunning = false
			r.jobCancel = nil
			r.notifyLocked()
			r.mu.Unlock()
			return
		}
		j := r.jobs[0]
		r.jobs = r.jobs[1:]
		ctx, cancel := context.WithCancel(r.baseCtx)
		r.jobCancel = cancel
		r.mu.Unlock()

		r.runTurn(ctx, j)
		cancel()

		r.mu.Lock()
		r.jobCancel = nil
		r.mu.Unlock()
	}
}

func (r *Runtime) runTurn(ctx context.Context, j job) {
	// A queued turn may start after Lumi already handed the turn back.
	switch r.machine.Current() {
	case turn.StateIdle, turn.StateWaitingForUser:
		if err := r.RequestState(turn.StateListening, "user_turn"); err != nil {
			return
		}
	}

	var (
		res orchestrator.TurnResult
		err error
	)
	if j.typed() {
		res, err = r.orch.ProcessTextTurn(ctx, j.text, r.generate, r)
	} else {
		res, err = r.orch.ProcessConversationTurn(ctx, j.pcm, r.generate, r)
	}

	r.logger.Debug().
		Dur("duration", res.Duration).
		Bool("spoken", res.Spoken).
		Bool("text_only", res.TextOnly).
		Bool("interrupted", res.Interrupted).
		Msg("Turn finished")

	if err != nil && ctx.Err() == nil {
		var se *orchestrator.StageError
		stage := "turn"
		if errors.As(err, &se) {
			stage = string(se.Stage)
		}
		r.logger.Warn().Err(err).Str("stage", stage).Msg("Turn failed")
		code := "TURN_FAILED"
		if stage == string(orchestrator.StageReply) {
			code = "REPLY_FAILED"
		}
		r.publish(events.New(events.TypeError, r.currentSessionID()).
			WithMessage(orchestrator.UserMessage(code)).
			WithData(map[string]any{"stage": stage, "error": err.Error()}))
	}
}

// generate calls the reply service on behalf of the orchestrator.
func (r *Runtime) generate(ctx context.Context, transcript string) (*reply.Response, error) {
	sid := r.currentSessionID()
	r.sessions.UpdateActivity()
	ev := events.New(events.TypeTranscript, sid).WithMessage(transcript)
	r.publish(ev)

	if r.gen == nil {
		return nil, errors.New("no reply generator configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	resp, err := r.gen.Generate(ctx, &reply.Request{
		Transcript:     transcript,
		UserID:         r.cfg.UserID,
		ConversationID: sid,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || strings.TrimSpace(resp.Response) == "" {
		return resp, nil
	}

	data := map[string]any{}
	if resp.FollowUpQuestion != "" {
		data["follow_up"] = resp.FollowUpQuestion
	}
	if len(resp.Insights) > 0 {
		data["insights"] = resp.Insights
	}
	r.recordExchange(transcript, resp)
	r.publish(events.New(events.TypeReply, sid).WithMessage(resp.Response).WithData(data))
	return resp, nil
}
