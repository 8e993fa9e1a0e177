// Package session manages the lifecycle of a single conversation session:
// start, pause, resume and end, with idle and max-duration timeouts.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusEnded      Status = "ended"
)

// EndReason explains why a session ended.
type EndReason string

const (
	ReasonUserEnded   EndReason = "user_ended"
	ReasonTimeout     EndReason = "timeout"
	ReasonMaxDuration EndReason = "max_duration"
	ReasonError       EndReason = "error"
	ReasonCleanup     EndReason = "cleanup"
)

// Session is a snapshot of a conversation session. Only the Manager
// mutates the underlying session; callers always hold copies.
type Session struct {
	ID            string        `json:"id"`
	Status        Status        `json:"state"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time,omitempty"`
	PauseTime     time.Time     `json:"pause_time,omitempty"`
	LastActivity  time.Time     `json:"last_activity"`
	MessageCount  int           `json:"message_count"`
	TotalDuration time.Duration `json:"total_duration"`
	EndReason     EndReason     `json:"end_reason,omitempty"`
}

// Transition is one entry of the session history.
type Transition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Config bounds a session.
type Config struct {
	IdleTimeout  time.Duration // default 5m
	MaxDuration  time.Duration // default 30m
	CleanupDelay time.Duration // default 5s
	HistorySize  int           // default 20
}

// DefaultConfig returns the production session limits.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:  5 * time.Minute,
		MaxDuration:  30 * time.Minute,
		CleanupDelay: 5 * time.Second,
		HistorySize:  20,
	}
}

// Hooks are lifecycle notifications. They run on the calling goroutine
// (or the timer goroutine) after the Manager has released its lock.
type Hooks struct {
	OnStart   func(Session)
	OnEnd     func(Session, EndReason)
	OnPause   func(Session)
	OnResume  func(Session)
	OnTimeout func(Session, EndReason)
}

// Manager owns at most one session at a time.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	hooks  Hooks
	logger zerolog.Logger

	sess        *Session
	activeSince time.Time
	activeAccum time.Duration

	idleTimer    *time.Timer
	maxTimer     *time.Timer
	cleanupTimer *time.Timer
	idleGen      uint64
	maxGen       uint64
	cleanupGen   uint64

	history []Transition
}

// NewManager creates a Manager. Zero config fields take defaults.
func NewManager(logger zerolog.Logger, cfg Config, hooks Hooks) *Manager {
	def := DefaultConfig()
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = def.MaxDuration
	}
	if cfg.CleanupDelay <= 0 {
		cfg.CleanupDelay = def.CleanupDelay
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	return &Manager{
		cfg:    cfg,
		hooks:  hooks,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// StartSession creates a new session, or returns the held one when it is
// active or paused.
func (m *Manager) StartSession() Session {
	m.mu.Lock()
	if m.sess != nil && (m.sess.Status == StatusActive || m.sess.Status == StatusPaused) {
		snap := *m.sess
		m.mu.Unlock()
		m.logger.Debug().Str("session_id", snap.ID).Str("status", string(snap.Status)).Msg("Session already in progress")
		return snap
	}

	m.stopCleanupLocked()
	now := time.Now()
	m.sess = &Session{
		ID:           uuid.NewString(),
		Status:       StatusActive,
		StartTime:    now,
		LastActivity: now,
	}
	m.activeSince = now
	m.activeAccum = 0
	m.history = nil
	m.recordLocked(StatusNotStarted, StatusActive, "start")
	m.armIdleLocked()
	m.armMaxLocked(m.cfg.MaxDuration)
	snap := *m.sess
	m.mu.Unlock()

	m.logger.Info().Str("session_id", snap.ID).Msg("Session started")
	if m.hooks.OnStart != nil {
		m.hooks.OnStart(snap)
	}
	return snap
}

// UpdateActivity records user or AI activity and re-arms the idle timer.
// It is a no-op unless the session is active.
func (m *Manager) UpdateActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil || m.sess.Status != StatusActive {
		m.logger.Debug().Msg("UpdateActivity ignored: no active session")
		return
	}
	m.sess.LastActivity = time.Now()
	m.sess.MessageCount++
	m.armIdleLocked()
}

// PauseSession suspends an active session and cancels its timers.
func (m *Manager) PauseSession() {
	m.mu.Lock()
	if m.sess == nil || m.sess.Status != StatusActive {
		m.mu.Unlock()
		m.logger.Warn().Msg("PauseSession ignored: no active session")
		return
	}
	now := time.Now()
	m.stopTimersLocked()
	m.activeAccum += now.Sub(m.activeSince)
	m.sess.Status = StatusPaused
	m.sess.PauseTime = now
	m.recordLocked(StatusActive, StatusPaused, "pause")
	snap := *m.sess
	m.mu.Unlock()

	m.logger.Info().Str("session_id", snap.ID).Msg("Session paused")
	if m.hooks.OnPause != nil {
		m.hooks.OnPause(snap)
	}
}

// ResumeSession reactivates a paused session. The idle timer restarts and
// the max-duration timer is re-armed with the remaining active budget.
func (m *Manager) ResumeSession() {
	m.mu.Lock()
	if m.sess == nil || m.sess.Status != StatusPaused {
		m.mu.Unlock()
		m.logger.Warn().Msg("ResumeSession ignored: session is not paused")
		return
	}
	remaining := m.cfg.MaxDuration - m.activeAccum
	if remaining <= 0 {
		m.mu.Unlock()
		m.EndSession(ReasonMaxDuration)
		return
	}
	now := time.Now()
	m.sess.Status = StatusActive
	m.sess.PauseTime = time.Time{}
	m.sess.LastActivity = now
	m.activeSince = now
	m.recordLocked(StatusPaused, StatusActive, "resume")
	m.armIdleLocked()
	m.armMaxLocked(remaining)
	snap := *m.sess
	m.mu.Unlock()

	m.logger.Info().Str("session_id", snap.ID).Dur("remaining", remaining).Msg("Session resumed")
	if m.hooks.OnResume != nil {
		m.hooks.OnResume(snap)
	}
}

// EndSession ends the held session. It is a no-op when there is no session
// or it has already ended. The ended snapshot stays visible through Current
// until CleanupDelay elapses.
func (m *Manager) EndSession(reason EndReason) {
	snap, ok := m.end(reason, timerNone, 0)
	if !ok {
		return
	}
	m.notifyEnd(snap, reason)
}

func (m *Manager) notifyEnd(snap Session, reason EndReason) {
	m.logger.Info().
		Str("session_id", snap.ID).
		Str("reason", string(reason)).
		Dur("duration", snap.TotalDuration).
		Int("messages", snap.MessageCount).
		Msg("Session ended")

	if (reason == ReasonTimeout || reason == ReasonMaxDuration) && m.hooks.OnTimeout != nil {
		m.hooks.OnTimeout(snap, reason)
	}
	if m.hooks.OnEnd != nil {
		m.hooks.OnEnd(snap, reason)
	}
}

type timerKind int

const (
	timerNone timerKind = iota
	timerIdle
	timerMax
)

// end performs the transition. A timer-initiated end only proceeds while
// gen is still the current generation of that timer.
func (m *Manager) end(reason EndReason, kind timerKind, gen uint64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil || m.sess.Status == StatusEnded {
		return Session{}, false
	}
	switch kind {
	case timerIdle:
		if gen != m.idleGen {
			return Session{}, false
		}
	case timerMax:
		if gen != m.maxGen {
			return Session{}, false
		}
	}

	now := time.Now()
	m.stopTimersLocked()
	if m.sess.Status == StatusActive {
		m.activeAccum += now.Sub(m.activeSince)
	}
	from := m.sess.Status
	m.sess.Status = StatusEnded
	m.sess.EndTime = now
	m.sess.PauseTime = time.Time{}
	m.sess.TotalDuration = m.activeAccum
	m.sess.EndReason = reason
	m.recordLocked(from, StatusEnded, string(reason))
	m.scheduleCleanupLocked(m.sess.ID)
	return *m.sess, true
}

// Current returns the held session, including an ended one awaiting cleanup.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return Session{}, false
	}
	return *m.sess, true
}

// Active reports whether a session is currently active.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil && m.sess.Status == StatusActive
}

// History returns the session transitions, oldest first.
func (m *Manager) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Close stops every timer without firing hooks.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimersLocked()
	m.stopCleanupLocked()
}

func (m *Manager) armIdleLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.idleGen++
	gen := m.idleGen
	m.idleTimer = time.AfterFunc(m.cfg.IdleTimeout, func() {
		if snap, ok := m.end(ReasonTimeout, timerIdle, gen); ok {
			m.notifyEnd(snap, ReasonTimeout)
		}
	})
}

func (m *Manager) armMaxLocked(d time.Duration) {
	if m.maxTimer != nil {
		m.maxTimer.Stop()
	}
	m.maxGen++
	gen := m.maxGen
	m.maxTimer = time.AfterFunc(d, func() {
		if snap, ok := m.end(ReasonMaxDuration, timerMax, gen); ok {
			m.notifyEnd(snap, ReasonMaxDuration)
		}
	})
}

// stopTimersLocked cancels the idle and max timers. Bumping the
// generations invalidates callbacks that already started running.
func (m *Manager) stopTimersLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	if m.maxTimer != nil {
		m.maxTimer.Stop()
		m.maxTimer = nil
	}
	m.idleGen++
	m.maxGen++
}

func (m *Manager) scheduleCleanupLocked(id string) {
	m.stopCleanupLocked()
	gen := m.cleanupGen
	m.cleanupTimer = time.AfterFunc(m.cfg.CleanupDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.cleanupGen || m.sess == nil || m.sess.ID != id {
			return
		}
		m.sess = nil
		m.cleanupTimer = nil
		m.logger.Debug().Str("session_id", id).Msg("Session released")
	})
}

func (m *Manager) stopCleanupLocked() {
	if m.cleanupTimer != nil {
		m.cleanupTimer.Stop()
		m.cleanupTimer = nil
	}
	m.cleanupGen++
}

func (m *Manager) recordLocked(from, to Status, reason string) {
	m.history = append(m.history, Transition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
}
