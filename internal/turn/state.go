// Package turn implements the conversation turn state machine.
//
// Every state has a turn owner. A transition is legal when the target is in
// the source's successor set; in strict mode a transition that moves the
// turn between user and AI is additionally rejected unless it is one of the
// whitelisted handoffs.
package turn

import (
	"errors"
	"fmt"
	"strings"
)

// State is a conversation state.
type State string

const (
	StateIdle           State = "idle"
	StateListening      State = "listening"
	StateProcessing     State = "processing"
	StateSpeaking       State = "speaking"
	StateWaitingForUser State = "waiting_for_user"
	StateWaitingForAI   State = "waiting_for_ai"
)

// States lists every state in declaration order.
var States = []State{
	StateIdle,
	StateListening,
	StateProcessing,
	StateSpeaking,
	StateWaitingForUser,
	StateWaitingForAI,
}

// Owner is the party entitled to act in a state.
type Owner string

const (
	OwnerNone Owner = "none"
	OwnerUser Owner = "user"
	OwnerAI   Owner = "ai"
)

var owners = map[State]Owner{
	StateIdle:           OwnerNone,
	StateListening:      OwnerUser,
	StateProcessing:     OwnerAI,
	StateSpeaking:       OwnerAI,
	StateWaitingForUser: OwnerUser,
	StateWaitingForAI:   OwnerAI,
}

// Owner returns the turn owner of s. Unknown states are owned by nobody.
func (s State) Owner() Owner {
	if o, ok := owners[s]; ok {
		return o
	}
	return OwnerNone
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := owners[s]
	return ok
}

var successors = map[State][]State{
	StateIdle:           {StateListening, StateWaitingForUser, StateWaitingForAI},
	StateListening:      {StateProcessing, StateWaitingForUser, StateWaitingForAI, StateIdle},
	StateProcessing:     {StateSpeaking, StateWaitingForUser, StateIdle},
	StateSpeaking:       {StateWaitingForUser, StateListening, StateIdle},
	StateWaitingForUser: {StateListening, StateIdle},
	StateWaitingForAI:   {StateProcessing, StateSpeaking, StateIdle},
}

type edge struct{ from, to State }

// handoffs are the transitions allowed to cross turn ownership in strict mode.
var handoffs = map[edge]bool{
	{StateListening, StateProcessing}:     true,
	{StateSpeaking, StateWaitingForUser}:  true,
	{StateWaitingForUser, StateListening}: true,
	{StateWaitingForAI, StateProcessing}:  true,
	{StateWaitingForAI, StateSpeaking}:    true,
}

// Successors returns a copy of the allowed successor set of s.
func Successors(s State) []State {
	out := make([]State, len(successors[s]))
	copy(out, successors[s])
	return out
}

// Allowed reports whether to is in the successor set of from.
func Allowed(from, to State) bool {
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsHandoff reports whether from->to is a whitelisted ownership handoff.
func IsHandoff(from, to State) bool {
	return handoffs[edge{from, to}]
}

var (
	// ErrIllegalTransition is returned when the target is not a successor.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrTurnViolation is returned when a strict transition crosses ownership.
	ErrTurnViolation = errors.New("turn ownership violation")
)

// Validation is the outcome of ValidateTransition.
type Validation struct {
	Valid         bool
	Err           error
	TurnViolation bool
}

// ValidateTransition checks from->to against the successor table and, when
// strict, against turn ownership. It has no side effects.
func ValidateTransition(from, to State, strict bool) Validation {
	if !Allowed(from, to) {
		return Validation{
			Err: fmt.Errorf("%w: %s -> %s (allowed from %s: %s)",
				ErrIllegalTransition, from, to, from, joinStates(successors[from])),
		}
	}

	if strict {
		fromOwner, toOwner := from.Owner(), to.Owner()
		crosses := fromOwner != OwnerNone && toOwner != OwnerNone && fromOwner != toOwner
		if crosses && !IsHandoff(from, to) {
			err := fmt.Errorf("%w: %s (%s) -> %s (%s)", ErrTurnViolation, from, fromOwner, to, toOwner)
			return Validation{Err: err, TurnViolation: true}
		}
	}

	return Validation{Valid: true}
}

// NextStateOnTimeout returns the fallback state when s times out.
func NextStateOnTimeout(s State) State {
	switch s {
	case StateSpeaking:
		return StateWaitingForUser
	case StateListening:
		return StateWaitingForAI
	case StateProcessing:
		return StateWaitingForUser
	case StateWaitingForUser, StateWaitingForAI:
		return StateIdle
	default:
		return StateIdle
	}
}

func joinStates(states []State) string {
	if len(states) == 0 {
		return "none"
	}
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
