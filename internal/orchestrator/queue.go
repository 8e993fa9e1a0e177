package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/normanking/lumi/internal/tts"
)

type speechItem struct {
	text  string
	epoch uint64
	done  chan error
}

// Speak queues text for synthesis and playback and returns a channel that
// receives exactly one value: nil once the audio finished playing,
// ErrTextOnly when it was not voiced, ErrStopped when StopSpeaking dropped
// it, or a playback error. Items play strictly in submission order.
func (o *Orchestrator) Speak(text string) <-chan error {
	return o.enqueue(text, 0, false)
}

// speechEpoch returns the current stop generation.
func (o *Orchestrator) speechEpoch() uint64 {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	return o.epoch
}

// enqueue queues text. With pinned set the item belongs to epoch and is
// dropped if StopSpeaking ran since that epoch was read.
func (o *Orchestrator) enqueue(text string, epoch uint64, pinned bool) <-chan error {
	done := make(chan error, 1)
	if isBlank(text) {
		done <- tts.ErrEmptyText
		return done
	}

	o.queueMu.Lock()
	if !pinned {
		epoch = o.epoch
	}
	if epoch != o.epoch {
		o.queueMu.Unlock()
		done <- ErrStopped
		return done
	}
	o.queue = append(o.queue, &speechItem{text: text, epoch: epoch, done: done})
	if !o.running {
		o.running = true
		go o.drain()
	}
	o.queueMu.Unlock()
	return done
}

// StopSpeaking drops every queued item and cancels the one in progress.
// It returns without waiting for the player and is a no-op when idle.
func (o *Orchestrator) StopSpeaking() {
	o.queueMu.Lock()
	dropped := o.queue
	o.queue = nil
	o.epoch++
	cancel := o.cancelCur
	o.queueMu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, item := range dropped {
		item.done <- ErrStopped
	}
	if cancel != nil || len(dropped) > 0 {
		o.logger.Debug().Int("dropped", len(dropped)).Bool("interrupted", cancel != nil).Msg("Speech stopped")
	}
}

// IsSpeaking reports whether an item is being synthesized or played, or
// is waiting in the queue.
func (o *Orchestrator) IsSpeaking() bool {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	return o.current != nil || len(o.queue) > 0
}

func (o *Orchestrator) drain() {
	for {
		o.queueMu.Lock()
		if len(o.queue) == 0 {
			o.running = false
			o.queueMu.Unlock()
			return
		}
		item := o.queue[0]
		o.queue = o.queue[1:]
		if item.epoch != o.epoch {
			o.queueMu.Unlock()
			item.done <- ErrStopped
			continue
		}
		ctx, cancel := context.WithCancel(o.baseCtx)
		o.current = item
		o.cancelCur = cancel
		o.queueMu.Unlock()

		err := o.speakOne(ctx, item)
		cancel()

		o.queueMu.Lock()
		o.current = nil
		o.cancelCur = nil
		o.queueMu.Unlock()
		item.done <- err
	}
}

func (o *Orchestrator) speakOne(ctx context.Context, item *speechItem) error {
	res, err := o.Synthesize(ctx, item.text)
	if ctx.Err() != nil {
		return ErrStopped
	}
	if err != nil {
		return err
	}
	if res.TextOnly {
		return ErrTextOnly
	}

	start := time.Now()
	err = o.player.Play(ctx, *res.Clip)
	if ctx.Err() != nil {
		o.stage(StagePlayback, start, ErrStopped)
		return ErrStopped
	}
	o.stage(StagePlayback, start, err)
	return err
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
