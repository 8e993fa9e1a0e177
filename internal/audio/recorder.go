package audio

import (
	"sync"
	"time"
)

// Utterance is the audio of one user turn.
type Utterance struct {
	Samples    []float32
	SampleRate int
	Start      time.Time
	End        time.Time
}

// PCM16 returns the utterance as 16-bit little-endian PCM.
func (u Utterance) PCM16() []byte {
	return EncodePCM16(u.Samples)
}

// Duration returns the audio length.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	SampleRate      int
	SilenceDuration time.Duration
	MaxUtterance    time.Duration // default 60s
}

// RecorderCallbacks receive turn boundaries. They are called without the
// recorder lock held.
type RecorderCallbacks struct {
	OnSpeechStart func(Chunk)
	OnUtterance   func(Utterance)
}

// Recorder buffers chunks between a speech start and a turn end and hands
// the result to OnUtterance. Its Handle method is a Capture sink.
type Recorder struct {
	cfg      RecorderConfig
	detector *TurnDetector
	cb       RecorderCallbacks

	mu    sync.Mutex
	buf   []float32
	start time.Time
	last  time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(cfg RecorderConfig, cb RecorderCallbacks) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = 60 * time.Second
	}
	return &Recorder{
		cfg:      cfg,
		detector: NewTurnDetector(cfg.SilenceDuration),
		cb:       cb,
	}
}

// Detector exposes the turn detector for live reconfiguration.
func (r *Recorder) Detector() *TurnDetector {
	return r.detector
}

// Handle consumes one chunk.
func (r *Recorder) Handle(c Chunk) {
	event := r.detector.Observe(c)

	var (
		started bool
		done    *Utterance
	)
	r.mu.Lock()
	switch event {
	case TurnSpeechStart:
		r.buf = append(r.buf[:0], c.Data...)
		r.start = c.Timestamp
		started = true
	case TurnEnd:
		r.buf = append(r.buf, c.Data...)
		done = r.takeLocked(c.Timestamp)
	default:
		if r.detector.InSpeech() {
			r.buf = append(r.buf, c.Data...)
			if time.Duration(len(r.buf))*time.Second/time.Duration(r.cfg.SampleRate) >= r.cfg.MaxUtterance {
				r.detector.Reset()
				done = r.takeLocked(c.Timestamp)
			}
		}
	}
	r.last = c.Timestamp
	r.mu.Unlock()

	if started && r.cb.OnSpeechStart != nil {
		r.cb.OnSpeechStart(c)
	}
	if done != nil && r.cb.OnUtterance != nil {
		r.cb.OnUtterance(*done)
	}
}

// Flush emits a turn still in progress, for example when the source ends
// mid-sentence. It reports whether anything was emitted.
func (r *Recorder) Flush() bool {
	if !r.detector.InSpeech() {
		return false
	}
	r.detector.Reset()
	r.mu.Lock()
	done := r.takeLocked(r.last)
	r.mu.Unlock()
	if done == nil {
		return false
	}
	if r.cb.OnUtterance != nil {
		r.cb.OnUtterance(*done)
	}
	return true
}

// Reset drops any buffered audio without emitting it.
func (r *Recorder) Reset() {
	r.detector.Reset()
	r.mu.Lock()
	r.buf = nil
	r.mu.Unlock()
}

func (r *Recorder) takeLocked(end time.Time) *Utterance {
	if len(r.buf) == 0 {
		return nil
	}
	u := &Utterance{
		Samples:    r.buf,
		SampleRate: r.cfg.SampleRate,
		Start:      r.start,
		End:        end,
	}
	r.buf = nil
	return u
}
