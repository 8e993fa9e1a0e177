package turn

import (
	"sync"
	"time"
)

// Transition is an immutable record of one transition attempt.
type Transition struct {
	From      State         `json:"from"`
	To        State         `json:"to"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"` // time spent in From
	Reason    string        `json:"reason,omitempty"`
	TurnOwner Owner         `json:"turn_owner"`
	Valid     bool          `json:"valid"`
	Forced    bool          `json:"forced,omitempty"`
	Violation bool          `json:"violation,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// MachineConfig configures a Machine.
type MachineConfig struct {
	Strict      bool
	HistorySize int // default 100
}

// Machine owns the current conversation state. Every attempt, valid or
// rejected, is appended to a bounded history; rejected attempts are never
// applied.
type Machine struct {
	mu        sync.RWMutex
	strict    bool
	current   State
	enteredAt time.Time
	history   []Transition
	maxHist   int
}

// NewMachine returns a machine in the idle state.
func NewMachine(cfg MachineConfig) *Machine {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return &Machine{
		strict:    cfg.Strict,
		current:   StateIdle,
		enteredAt: time.Now(),
		maxHist:   cfg.HistorySize,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Owner returns the turn owner of the current state.
func (m *Machine) Owner() Owner {
	return m.Current().Owner()
}

// Strict reports whether turn ownership is enforced.
func (m *Machine) Strict() bool {
	return m.strict
}

// Transition validates and commits a move to the target state using the
// machine's strictness. The record is returned regardless of outcome.
func (m *Machine) Transition(to State, reason string) (Transition, error) {
	return m.apply(to, reason, m.strict, false)
}

// Force commits a move that the successor table allows without checking
// turn ownership. Barge-in and timeout fallbacks use it.
func (m *Machine) Force(to State, reason string) (Transition, error) {
	return m.apply(to, reason, false, true)
}

// ForceIdle moves to idle from any state. It is a no-op when already idle.
func (m *Machine) ForceIdle(reason string) (Transition, bool) {
	if m.Current() == StateIdle {
		return Transition{}, false
	}
	rec, err := m.Force(StateIdle, reason)
	return rec, err == nil
}

// CompareAndTransition commits only if the machine is still in from.
// It returns ok=false without recording anything when the state has moved.
func (m *Machine) CompareAndTransition(from, to State, reason string, force bool) (Transition, bool, error) {
	m.mu.Lock()
	if m.current != from {
		m.mu.Unlock()
		return Transition{}, false, nil
	}
	rec, err := m.applyLocked(to, reason, m.strict && !force, force)
	m.mu.Unlock()
	return rec, true, err
}

func (m *Machine) apply(to State, reason string, strict, forced bool) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(to, reason, strict, forced)
}

func (m *Machine) applyLocked(to State, reason string, strict, forced bool) (Transition, error) {
	now := time.Now()
	from := m.current
	v := ValidateTransition(from, to, strict)

	rec := Transition{
		From:      from,
		To:        to,
		Timestamp: now,
		Duration:  now.Sub(m.enteredAt),
		Reason:    reason,
		Valid:     v.Valid,
		Forced:    forced,
		Violation: v.TurnViolation,
	}
	if v.Valid {
		rec.TurnOwner = to.Owner()
		m.current = to
		m.enteredAt = now
	} else {
		rec.TurnOwner = from.Owner()
		rec.Error = v.Err.Error()
	}

	m.history = append(m.history, rec)
	if len(m.history) > m.maxHist {
		m.history = m.history[len(m.history)-m.maxHist:]
	}

	if !v.Valid {
		return rec, v.Err
	}
	return rec, nil
}

// History returns a copy of the recorded attempts, oldest first.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// TimeInState returns how long the machine has been in the current state.
func (m *Machine) TimeInState() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.enteredAt)
}
