package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/normanking/lumi/internal/events"
	"github.com/normanking/lumi/internal/metrics"
	"github.com/normanking/lumi/internal/orchestrator"
	"github.com/normanking/lumi/internal/reply"
	"github.com/normanking/lumi/internal/session"
	"github.com/normanking/lumi/internal/store"
)

const archiveTimeout = 10 * time.Second

func (r *Runtime) recordExchange(userText string, resp *reply.Response) {
	r.mu.Lock()
	r.exchanges = append(r.exchanges, Exchange{
		UserText: userText,
		LumiText: resp.Response,
		FollowUp: resp.FollowUpQuestion,
		At:       time.Now(),
	})
	r.mu.Unlock()
}

// Exchanges returns the exchanges of the current session.
func (r *Runtime) Exchanges() []Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Exchange, len(r.exchanges))
	copy(out, r.exchanges)
	return out
}

func (r *Runtime) currentSessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Runtime) publish(ev events.Event) {
	if ev.State == "" {
		ev.State = string(r.machine.Current())
	}
	if err := r.bus.Publish(ev); err != nil {
		r.logger.Debug().Err(err).Str("type", string(ev.Type)).Msg("Event not published")
	}
}

func (r *Runtime) onSessionStart(s session.Session) {
	r.mu.Lock()
	r.sessionID = s.ID
	r.exchanges = nil
	r.mu.Unlock()
	// Voice disabled by an auth failure only stays off for that session.
	r.orch.EnableVoice()
	metrics.SessionsStarted.Inc()
	r.publish(events.New(events.TypeSessionStart, s.ID))
}

func (r *Runtime) onSessionPause(s session.Session) {
	r.teardown("session_paused")
	r.publish(events.New(events.TypeSessionPause, s.ID))
}

func (r *Runtime) onSessionResume(s session.Session) {
	r.publish(events.New(events.TypeSessionResume, s.ID))
	if r.cfg.AlwaysListening && r.mic != nil {
		if err := r.StartListening(r.baseCtx); err != nil {
			r.logger.Warn().Err(err).Msg("Could not resume listening")
		}
	}
}

func (r *Runtime) onSessionTimeout(s session.Session, reason session.EndReason) {
	r.publish(events.New(events.TypeSessionTimeout, s.ID).WithReason(string(reason)))
}

// onSessionEnd runs for every ending, including idle and max-duration
// timeouts the manager detects on its own.
func (r *Runtime) onSessionEnd(s session.Session, reason session.EndReason) {
	r.teardown("session_end")
	metrics.SessionsEnded.WithLabelValues(string(reason)).Inc()

	r.mu.Lock()
	exchanges := r.exchanges
	r.exchanges = nil
	r.mu.Unlock()

	r.persist(s, exchanges)
	r.publish(events.New(events.TypeSessionEnd, s.ID).
		WithReason(string(reason)).
		WithData(map[string]any{
			"duration_ms": s.TotalDuration.Milliseconds(),
			"messages":    s.MessageCount,
			"exchanges":   len(exchanges),
		}))
}

func (r *Runtime) persist(s session.Session, exchanges []Exchange) {
	if r.archive == nil || len(exchanges) == 0 {
		return
	}
	last := exchanges[len(exchanges)-1]
	rec := &store.Conversation{
		ID:             s.ID,
		UserID:         r.cfg.UserID,
		Transcript:     FormatTranscript(exchanges),
		LumiReflection: last.LumiText,
		LumiQuestion:   last.FollowUp,
		Duration:       s.TotalDuration,
		CreatedAt:      s.StartTime,
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := r.archive.AppendConversation(ctx, rec); err != nil {
		r.logger.Error().Err(err).Str("session_id", s.ID).Msg("Failed to save conversation")
		r.publish(events.New(events.TypeError, s.ID).
			WithMessage("Your conversation could not be saved.").
			WithData(map[string]any{"stage": "store", "error": err.Error()}))
		return
	}
	r.logger.Info().Str("session_id", s.ID).Int("exchanges", len(exchanges)).Msg("Conversation saved")
}

// FormatTranscript renders exchanges as alternating speaker lines.
func FormatTranscript(exchanges []Exchange) string {
	var b strings.Builder
	for _, ex := range exchanges {
		b.WriteString("User: ")
		b.WriteString(ex.UserText)
		b.WriteString("\nLumi: ")
		b.WriteString(ex.LumiText)
		if ex.FollowUp != "" {
			b.WriteByte(' ')
			b.WriteString(ex.FollowUp)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Runtime) onNotice(n orchestrator.Notice) {
	metrics.Notices.WithLabelValues(n.Code).Inc()
	r.publish(events.New(events.TypeNotice, r.currentSessionID()).
		WithMessage(n.Message).
		WithData(map[string]any{"code": n.Code, "persistent": n.Persistent}))
}

func (r *Runtime) onStage(stage orchestrator.Stage, took time.Duration, err error) {
	metrics.ObserveStage(string(stage), took, err)
}
