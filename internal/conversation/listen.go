package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/normanking/lumi/internal/audio"
	"github.com/normanking/lumi/internal/events"
	"github.com/normanking/lumi/internal/turn"
)

// StartListening opens the microphone and starts the capture loop. It
// requires an active session and is a no-op while capture is running.
func (r *Runtime) StartListening(ctx context.Context) error {
	if !r.sessions.Active() {
		return ErrNoActiveSession
	}
	if r.mic == nil {
		return ErrNoMicrophone
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrNoActiveSession
	}
	if r.restartTimer != nil {
		r.restartTimer.Stop()
		r.restartTimer = nil
	}
	if r.captureActive {
		r.mu.Unlock()
		return r.enterListening("start_listening")
	}
	r.mu.Unlock()

	src, err := r.mic(ctx)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	if err := r.enterListening("start_listening"); err != nil {
		src.Close()
		return err
	}

	r.mu.Lock()
	if r.captureActive {
		// Lost a race with a concurrent start.
		r.mu.Unlock()
		src.Close()
		return nil
	}
	r.captureGen++
	gen := r.captureGen
	capCtx, cancel := context.WithCancel(r.baseCtx)
	r.captureCancel = cancel
	r.captureActive = true
	r.notifyLocked()
	r.mu.Unlock()

	r.logger.Debug().Uint64("capture", gen).Int("sample_rate", src.SampleRate()).Msg("Capture started")
	go func() {
		err := r.capture.Run(capCtx, src, r.recorder.Handle)
		src.Close()
		r.onCaptureEnded(gen, err)
	}()
	return nil
}

// enterListening moves to listening from any state that hands the turn to
// the user. Already listening is fine.
func (r *Runtime) enterListening(reason string) error {
	switch r.machine.Current() {
	case turn.StateListening:
		return nil
	case turn.StateSpeaking:
		r.BargeIn()
		return nil
	default:
		return r.RequestState(turn.StateListening, reason)
	}
}

// StopListening ends capture without scheduling a restart. Audio buffered
// mid-utterance is submitted as a turn; otherwise the user keeps the turn
// in waiting_for_user.
func (r *Runtime) StopListening() {
	if !r.stopCapture(true) {
		return
	}
	if r.recorder.Flush() {
		return
	}
	if r.machine.Current() == turn.StateListening {
		_ = r.RequestState(turn.StateWaitingForUser, "stop_listening")
	}
}

// stopCapture cancels the capture loop and any pending restart. It reports
// whether capture was running.
func (r *Runtime) stopCapture(manual bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.restartTimer != nil {
		r.restartTimer.Stop()
		r.restartTimer = nil
	}
	if !r.captureActive {
		return false
	}
	// Bumping the generation detaches the running loop from the runtime.
	r.captureGen++
	r.captureCancel()
	r.captureCancel = nil
	r.captureActive = false
	r.notifyLocked()
	r.logger.Debug().Bool("manual", manual).Msg("Capture stopped")
	return true
}

func (r *Runtime) onCaptureEnded(gen uint64, err error) {
	clean := err == nil || errors.Is(err, context.Canceled)

	r.mu.Lock()
	current := gen == r.captureGen
	r.mu.Unlock()
	if !current {
		return
	}
	// Flush before capture reads as stopped so Wait sees the queued turn.
	if clean {
		r.recorder.Flush()
	}

	r.mu.Lock()
	if gen != r.captureGen {
		r.mu.Unlock()
		return
	}
	r.captureCancel()
	r.captureCancel = nil
	r.captureActive = false
	r.notifyLocked()
	r.mu.Unlock()

	if !clean {
		r.logger.Error().Err(err).Msg("Capture failed")
		r.publish(events.New(events.TypeError, r.currentSessionID()).
			WithMessage("Microphone stopped unexpectedly.").
			WithData(map[string]any{"stage": "capture", "error": err.Error()}))
		return
	}
	if r.cfg.AlwaysListening && r.sessions.Active() {
		r.scheduleRestart()
	}
}

// scheduleRestart arms a single restart of the capture loop.
func (r *Runtime) scheduleRestart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.restartTimer != nil || r.closed {
		return
	}
	r.restartTimer = time.AfterFunc(r.cfg.RestartDelay, func() {
		r.mu.Lock()
		r.restartTimer = nil
		r.mu.Unlock()
		if !r.sessions.Active() {
			return
		}
		if err := r.StartListening(r.baseCtx); err != nil {
			r.logger.Warn().Err(err).Msg("Capture restart failed")
		}
	})
	r.logger.Debug().Dur("delay", r.cfg.RestartDelay).Msg("Capture restart scheduled")
}

// BargeIn interrupts Lumi while it is speaking and gives the turn to the
// user. It reports whether anything was interrupted.
func (r *Runtime) BargeIn() bool {
	rec, ok, err := r.machine.CompareAndTransition(turn.StateSpeaking, turn.StateListening, "barge_in", true)
	if !ok {
		return false
	}
	r.afterTransition(rec)
	if err != nil {
		return false
	}
	r.orch.StopSpeaking()
	r.logger.Info().Msg("Barge-in")
	r.publish(events.New(events.TypeBargeIn, r.currentSessionID()).WithTransition(string(rec.From), string(rec.To)))
	return true
}

func (r *Runtime) onSpeechStart(c audio.Chunk) {
	if !r.sessions.Active() {
		return
	}
	r.publish(events.New(events.TypeSpeechStart, r.currentSessionID()))

	switch r.machine.Current() {
	case turn.StateSpeaking:
		r.BargeIn()
	case turn.StateIdle, turn.StateWaitingForUser:
		_ = r.RequestState(turn.StateListening, "speech_start")
	}
}

func (r *Runtime) onUtterance(u audio.Utterance) {
	if !r.sessions.Active() {
		r.logger.Debug().Msg("Utterance dropped: no active session")
		return
	}
	r.logger.Debug().Dur("duration", u.Duration()).Msg("Utterance captured")
	r.enqueue(job{pcm: u.PCM16()})
}
