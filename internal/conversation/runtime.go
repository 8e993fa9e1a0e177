// Package conversation ties the session manager, the turn state machine,
// audio capture and the orchestrator into one running conversation.
package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/normanking/lumi/internal/audio"
	"github.com/normanking/lumi/internal/events"
	"github.com/normanking/lumi/internal/orchestrator"
	"github.com/normanking/lumi/internal/playback"
	"github.com/normanking/lumi/internal/reply"
	"github.com/normanking/lumi/internal/session"
	"github.com/normanking/lumi/internal/store"
	"github.com/normanking/lumi/internal/stt"
	"github.com/normanking/lumi/internal/tts"
	"github.com/normanking/lumi/internal/turn"
	"github.com/rs/zerolog"
)

var (
	// ErrNoActiveSession is returned by operations that need a running
	// session.
	ErrNoActiveSession = errors.New("no active session: start a session before you begin talking")

	// ErrNoMicrophone is returned by StartListening when no audio input is
	// configured.
	ErrNoMicrophone = errors.New("no microphone configured")

	// ErrTurnInProgress is returned when typed input arrives while the AI
	// holds the turn.
	ErrTurnInProgress = errors.New("Lumi is still thinking, try again in a moment")
)

// Microphone opens a fresh audio source for one capture run.
type Microphone func(ctx context.Context) (audio.Source, error)

// Archive persists finished conversations.
type Archive interface {
	AppendConversation(ctx context.Context, c *store.Conversation) error
}

// DefaultTimeouts are the per-state limits. Idle and speaking are unbounded.
func DefaultTimeouts() map[turn.State]time.Duration {
	return map[turn.State]time.Duration{
		turn.StateListening:      30 * time.Second,
		turn.StateProcessing:     20 * time.Second,
		turn.StateWaitingForUser: 2 * time.Minute,
		turn.StateWaitingForAI:   15 * time.Second,
	}
}

// Config configures a Runtime.
type Config struct {
	UserID          string
	Strict          bool
	HistorySize     int
	AlwaysListening bool
	RestartDelay    time.Duration // default 1s
	Timeouts        map[turn.State]time.Duration

	SampleRate      int
	VADThreshold    float64
	SilenceDuration time.Duration

	EventHistory int // events kept by an owned bus

	Session      session.Config
	Orchestrator orchestrator.Config
}

// DefaultConfig returns the production runtime settings.
func DefaultConfig() Config {
	return Config{
		UserID:          "local",
		Strict:          true,
		HistorySize:     100,
		AlwaysListening: true,
		RestartDelay:    time.Second,
		Timeouts:        DefaultTimeouts(),
		SampleRate:      16000,
		VADThreshold:    audio.DefaultVADThreshold,
		SilenceDuration: audio.DefaultSilenceDuration,
		Session:         session.DefaultConfig(),
		Orchestrator:    orchestrator.DefaultConfig(),
	}
}

// Deps are the collaborators of a Runtime. Archive, Bus and Microphone are
// optional; without a Bus the Runtime creates and owns one.
type Deps struct {
	Transcriber stt.Transcriber
	Synthesizer tts.Synthesizer
	Generator   reply.Generator
	Player      playback.Player
	Archive     Archive
	Bus         *events.Bus
	Microphone  Microphone
}

// Exchange is one user turn and Lumi's answer.
type Exchange struct {
	UserText string    `json:"user_text"`
	LumiText string    `json:"lumi_text"`
	FollowUp string    `json:"follow_up,omitempty"`
	At       time.Time `json:"at"`
}

// Runtime is one conversation: a single session at a time, one state
// machine, one capture loop and one speech queue.
type Runtime struct {
	cfg    Config
	logger zerolog.Logger

	machine  *turn.Machine
	sessions *session.Manager
	orch     *orchestrator.Orchestrator
	capture  *audio.Capture
	recorder *audio.Recorder

	gen     reply.Generator
	archive Archive
	mic     Microphone
	bus     *events.Bus
	ownBus  bool

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu sync.Mutex

	// capture loop
	captureGen    uint64
	captureCancel context.CancelFunc
	captureActive bool
	restartTimer  *time.Timer

	// state timeouts
	stateGen   uint64
	stateTimer *time.Timer

	// turn queue
	jobs       []job
	jobRunning bool
	jobCancel  context.CancelFunc

	sessionID string
	exchanges []Exchange

	changed chan struct{}
	closed  bool
	done    chan struct{}
}

// New builds a Runtime. Zero config fields take defaults.
func New(logger zerolog.Logger, cfg Config, deps Deps) *Runtime {
	def := DefaultConfig()
	if cfg.UserID == "" {
		cfg.UserID = def.UserID
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = def.RestartDelay
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = def.Timeouts
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.VADThreshold <= 0 {
		cfg.VADThreshold = def.VADThreshold
	}
	if cfg.Orchestrator.SampleRate <= 0 {
		cfg.Orchestrator.SampleRate = cfg.SampleRate
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		cfg:        cfg,
		logger:     logger.With().Str("component", "conversation").Logger(),
		machine:    turn.NewMachine(turn.MachineConfig{Strict: cfg.Strict, HistorySize: cfg.HistorySize}),
		capture:    audio.NewCapture(audio.NewVAD(cfg.VADThreshold)),
		gen:        deps.Generator,
		archive:    deps.Archive,
		mic:        deps.Microphone,
		bus:        deps.Bus,
		baseCtx:    ctx,
		baseCancel: cancel,
		changed:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	if r.bus == nil {
		r.bus = events.NewBus(cfg.EventHistory)
		r.ownBus = true
	}

	r.sessions = session.NewManager(logger, cfg.Session, session.Hooks{
		OnStart:   r.onSessionStart,
		OnEnd:     r.onSessionEnd,
		OnPause:   r.onSessionPause,
		OnResume:  r.onSessionResume,
		OnTimeout: r.onSessionTimeout,
	})
	r.orch = orchestrator.New(logger, cfg.Orchestrator, deps.Transcriber, deps.Synthesizer, deps.Player, orchestrator.Hooks{
		OnNotice: r.onNotice,
		OnStage:  r.onStage,
	})
	r.recorder = audio.NewRecorder(audio.RecorderConfig{
		SampleRate:      cfg.SampleRate,
		SilenceDuration: cfg.SilenceDuration,
	}, audio.RecorderCallbacks{
		OnSpeechStart: r.onSpeechStart,
		OnUtterance:   r.onUtterance,
	})
	return r
}

// Bus returns the event bus observers subscribe to.
func (r *Runtime) Bus() *events.Bus {
	return r.bus
}

// State returns the current conversation state.
func (r *Runtime) State() turn.State {
	return r.machine.Current()
}

// Transitions returns the state machine history.
func (r *Runtime) Transitions() []turn.Transition {
	return r.machine.History()
}

// StartSession starts a session, or returns the one in progress. With
// AlwaysListening and a microphone, capture starts immediately; a capture
// error is returned alongside the started session.
func (r *Runtime) StartSession(ctx context.Context) (session.Session, error) {
	snap := r.sessions.StartSession()
	if r.cfg.AlwaysListening && r.mic != nil {
		if err := r.StartListening(ctx); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

// EndSession stops capture and speech, returns the machine to idle, ends
// the session and persists the conversation.
func (r *Runtime) EndSession(reason session.EndReason) {
	r.teardown("session_end")
	r.sessions.EndSession(reason)
}

// PauseSession suspends the session. Capture and speech stop.
func (r *Runtime) PauseSession() {
	r.sessions.PauseSession()
}

// ResumeSession resumes a paused session.
func (r *Runtime) ResumeSession() {
	r.sessions.ResumeSession()
}

// EnableVoice turns synthesis back on after an authentication failure
// disabled it.
func (r *Runtime) EnableVoice() {
	r.orch.EnableVoice()
}

// ApplyAudio updates the VAD threshold and the silence window of a
// running conversation.
func (r *Runtime) ApplyAudio(threshold float64, silence time.Duration) {
	if threshold > 0 {
		r.capture.VAD().SetThreshold(threshold)
	}
	r.recorder.Detector().SetSilence(silence)
}

// Snapshot is a point-in-time view of the conversation.
type Snapshot struct {
	Session      *session.Session `json:"session,omitempty"`
	State        turn.State       `json:"state"`
	Owner        turn.Owner       `json:"owner"`
	Listening    bool             `json:"listening"`
	Speaking     bool             `json:"speaking"`
	VoiceEnabled bool             `json:"voice_enabled"`
	Exchanges    int              `json:"exchanges"`
	PendingTurns int              `json:"pending_turns"`
}

// Snapshot returns the current view.
func (r *Runtime) Snapshot() Snapshot {
	state := r.machine.Current()
	snap := Snapshot{
		State:        state,
		Owner:        state.Owner(),
		Speaking:     r.orch.IsSpeaking(),
		VoiceEnabled: r.orch.VoiceEnabled(),
	}
	if s, ok := r.sessions.Current(); ok {
		snap.Session = &s
	}
	r.mu.Lock()
	snap.Listening = r.captureActive
	snap.Exchanges = len(r.exchanges)
	snap.PendingTurns = len(r.jobs)
	if r.jobRunning {
		snap.PendingTurns++
	}
	r.mu.Unlock()
	return snap
}

// Wait blocks until capture has ended and every queued turn has finished.
func (r *Runtime) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		busy := r.captureActive || r.jobRunning || len(r.jobs) > 0
		ch := r.changed
		r.mu.Unlock()
		if !busy && !r.orch.IsSpeaking() {
			return nil
		}
		select {
		case <-ch:
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close ends any session and releases every resource. The Runtime cannot
// be used afterwards.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	// A paused session still holds exchanges worth saving.
	if s, ok := r.sessions.Current(); ok && s.Status != session.StatusEnded {
		r.EndSession(session.ReasonCleanup)
	} else {
		r.teardown("close")
	}
	r.sessions.Close()
	r.orch.Close()
	r.baseCancel()
	if r.ownBus {
		r.bus.Close()
	}
	close(r.done)
}

// Done is closed once Close has finished.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

// teardown stops capture, pending turns and speech, and forces idle. It is
// idempotent.
func (r *Runtime) teardown(reason string) {
	r.stopCapture(false)
	r.recorder.Reset()
	r.cancelTurns()
	r.orch.StopSpeaking()
	if rec, ok := r.machine.ForceIdle(reason); ok {
		r.afterTransition(rec)
	}
}

// notifyLocked wakes Wait callers.
func (r *Runtime) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}
