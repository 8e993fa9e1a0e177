package main

import (
	"sync"
	"time"

	"github.com/normanking/lumi/internal/config"
	"github.com/normanking/lumi/internal/conversation"
	"github.com/normanking/lumi/internal/orchestrator"
	"github.com/normanking/lumi/internal/reply"
	"github.com/normanking/lumi/internal/session"
	"github.com/normanking/lumi/internal/stt"
	"github.com/normanking/lumi/internal/tts"
	"github.com/normanking/lumi/internal/turn"
)

type services struct {
	transcriber stt.Transcriber
	synthesizer tts.Synthesizer
	generator   reply.Generator
}

func newServices(c *config.Config) services {
	return services{
		transcriber: stt.NewClient(logs.Component("stt"), &stt.Config{
			URL:      c.STT.URL,
			APIKey:   c.STT.APIKey,
			Language: c.STT.Language,
			Timeout:  c.STT.Timeout,
		}),
		synthesizer: tts.NewClient(logs.Component("tts"), &tts.Config{
			URL:     c.TTS.URL,
			APIKey:  c.TTS.APIKey,
			VoiceID: c.TTS.VoiceID,
			Timeout: c.TTS.Timeout,
		}),
		generator: reply.NewClient(logs.Component("reply"), &reply.Config{
			URL:     c.Reply.URL,
			APIKey:  c.Reply.APIKey,
			Timeout: c.Reply.Timeout,
		}),
	}
}

func orchestratorConfig(c *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.SampleRate = c.Audio.SampleRate
	oc.Language = c.STT.Language
	oc.VoiceID = c.TTS.VoiceID
	oc.MaxAttempts = c.STT.MaxAttempts
	oc.RetryDelay = c.STT.RetryDelay
	return oc
}

// runtimeConfig maps the file configuration onto one conversation.
func runtimeConfig(c *config.Config) conversation.Config {
	timeouts := map[turn.State]time.Duration{}
	set := func(s turn.State, d time.Duration) {
		if d > 0 {
			timeouts[s] = d
		}
	}
	set(turn.StateListening, c.Turn.Timeouts.Listening)
	set(turn.StateProcessing, c.Turn.Timeouts.Processing)
	set(turn.StateWaitingForUser, c.Turn.Timeouts.WaitingForUser)
	set(turn.StateWaitingForAI, c.Turn.Timeouts.WaitingForAI)

	return conversation.Config{
		UserID:          c.User.ID,
		Strict:          c.Turn.Strict,
		HistorySize:     c.Turn.HistorySize,
		AlwaysListening: c.Turn.AlwaysListening,
		RestartDelay:    c.Turn.RestartDelay,
		Timeouts:        timeouts,
		SampleRate:      c.Audio.SampleRate,
		VADThreshold:    c.Audio.VADThreshold,
		SilenceDuration: c.Audio.SilenceDuration,
		EventHistory:    c.Events.HistorySize,
		Session: session.Config{
			IdleTimeout:  c.Session.IdleTimeout,
			MaxDuration:  c.Session.MaxDuration,
			CleanupDelay: c.Session.CleanupDelay,
			HistorySize:  c.Session.HistorySize,
		},
		Orchestrator: orchestratorConfig(c),
	}
}

// registry tracks the conversations of live connections.
type registry struct {
	mu   sync.Mutex
	live map[*conversation.Runtime]struct{}
}

func newRegistry() *registry {
	return &registry{live: make(map[*conversation.Runtime]struct{})}
}

// add tracks rt until it closes, then calls onDone.
func (r *registry) add(rt *conversation.Runtime, onDone func()) {
	r.mu.Lock()
	r.live[rt] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-rt.Done()
		r.mu.Lock()
		delete(r.live, rt)
		r.mu.Unlock()
		if onDone != nil {
			onDone()
		}
	}()
}

func (r *registry) each(fn func(*conversation.Runtime)) {
	r.mu.Lock()
	list := make([]*conversation.Runtime, 0, len(r.live))
	for rt := range r.live {
		list = append(list, rt)
	}
	r.mu.Unlock()
	for _, rt := range list {
		fn(rt)
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
