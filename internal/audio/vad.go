// Package audio captures microphone frames, classifies them with an energy
// gate and encodes them for the transcription service.
package audio

import (
	"math"
	"sync"
	"time"
)

// DefaultVADThreshold is the RMS level above which a chunk counts as speech.
const DefaultVADThreshold = 0.01

// Chunk is one captured frame. It is consumed once and never persisted.
type Chunk struct {
	Data      []float32
	Timestamp time.Time
	IsSpeech  bool
}

// RMS returns the root-mean-square energy of samples in [-1, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// VAD is an RMS energy gate. It is not a trained classifier; background
// noise can read as speech and soft speech can read as silence.
type VAD struct {
	mu        sync.RWMutex
	threshold float64
}

// NewVAD creates a VAD. A non-positive threshold uses DefaultVADThreshold.
func NewVAD(threshold float64) *VAD {
	if threshold <= 0 {
		threshold = DefaultVADThreshold
	}
	return &VAD{threshold: threshold}
}

// IsSpeech reports whether the chunk energy exceeds the threshold.
func (v *VAD) IsSpeech(samples []float32) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return RMS(samples) > v.threshold
}

// Threshold returns the current threshold.
func (v *VAD) Threshold() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.threshold
}

// SetThreshold changes the threshold. Non-positive values are ignored.
func (v *VAD) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}
	v.mu.Lock()
	v.threshold = threshold
	v.mu.Unlock()
}
