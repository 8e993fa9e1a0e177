package audio

import (
	"sync"
	"time"
)

// DefaultSilenceDuration is how long silence must last to end a turn.
const DefaultSilenceDuration = 1500 * time.Millisecond

// TurnEvent is what a TurnDetector concluded from a chunk.
type TurnEvent int

const (
	TurnNone TurnEvent = iota
	TurnSpeechStart
	TurnEnd
)

func (e TurnEvent) String() string {
	switch e {
	case TurnSpeechStart:
		return "speech_start"
	case TurnEnd:
		return "turn_end"
	default:
		return "none"
	}
}

// TurnDetector declares a speech start on the first speech chunk and a turn
// end once silence has persisted for the configured duration. Time is taken
// from chunk timestamps, so replayed files behave like live input.
type TurnDetector struct {
	mu           sync.Mutex
	silence      time.Duration
	inSpeech     bool
	silenceStart time.Time
}

// NewTurnDetector creates a detector. A non-positive silence uses
// DefaultSilenceDuration.
func NewTurnDetector(silence time.Duration) *TurnDetector {
	if silence <= 0 {
		silence = DefaultSilenceDuration
	}
	return &TurnDetector{silence: silence}
}

// Observe feeds one classified chunk.
func (d *TurnDetector) Observe(c Chunk) TurnEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c.IsSpeech {
		d.silenceStart = time.Time{}
		if !d.inSpeech {
			d.inSpeech = true
			return TurnSpeechStart
		}
		return TurnNone
	}

	if !d.inSpeech {
		return TurnNone
	}
	if d.silenceStart.IsZero() {
		d.silenceStart = c.Timestamp
	}
	if c.Timestamp.Sub(d.silenceStart) >= d.silence {
		d.inSpeech = false
		d.silenceStart = time.Time{}
		return TurnEnd
	}
	return TurnNone
}

// InSpeech reports whether a turn is in progress.
func (d *TurnDetector) InSpeech() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inSpeech
}

// SetSilence changes the silence window. Non-positive values are ignored.
func (d *TurnDetector) SetSilence(silence time.Duration) {
	if silence <= 0 {
		return
	}
	d.mu.Lock()
	d.silence = silence
	d.mu.Unlock()
}

// Reset forgets any in-progress turn.
func (d *TurnDetector) Reset() {
	d.mu.Lock()
	d.inSpeech = false
	d.silenceStart = time.Time{}
	d.mu.Unlock()
}
