package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Source produces mono float32 frames. ReadFrame returns io.EOF when the
// source is exhausted and ctx.Err() when cancelled.
type Source interface {
	ReadFrame(ctx context.Context) ([]float32, error)
	SampleRate() int
	Close() error
}

// Capture reads a Source, tags every non-empty frame with a speech flag and
// forwards it. Non-speech frames are forwarded too; filtering is left to
// the consumer.
type Capture struct {
	vad *VAD
}

// NewCapture creates a Capture using vad for classification.
func NewCapture(vad *VAD) *Capture {
	if vad == nil {
		vad = NewVAD(DefaultVADThreshold)
	}
	return &Capture{vad: vad}
}

// VAD returns the classifier in use.
func (c *Capture) VAD() *VAD {
	return c.vad
}

// Run pumps frames from src to sink until the source ends or ctx is
// cancelled. Chunk timestamps advance with the audio position rather than
// the wall clock. A clean end of stream returns nil.
func (c *Capture) Run(ctx context.Context, src Source, sink func(Chunk)) error {
	rate := src.SampleRate()
	if rate <= 0 {
		return fmt.Errorf("invalid sample rate %d", rate)
	}
	start := time.Now()
	var position int64

	for {
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(frame) == 0 {
			continue
		}

		offset := time.Duration(position) * time.Second / time.Duration(rate)
		position += int64(len(frame))
		sink(Chunk{
			Data:      frame,
			Timestamp: start.Add(offset),
			IsSpeech:  c.vad.IsSpeech(frame),
		})
	}
}
