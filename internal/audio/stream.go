package audio

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrStreamClosed is returned by Push after Close.
var ErrStreamClosed = errors.New("audio stream closed")

// StreamSource is a Source fed by a remote client, one frame per Push.
type StreamSource struct {
	rate   int
	frames chan []float32

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewStreamSource creates a stream with room for buffer pending frames.
func NewStreamSource(sampleRate, buffer int) *StreamSource {
	if buffer <= 0 {
		buffer = 64
	}
	return &StreamSource{
		rate:   sampleRate,
		frames: make(chan []float32, buffer),
		done:   make(chan struct{}),
	}
}

// Push queues a frame. It blocks while the buffer is full and fails once
// the stream is closed or ctx ends.
func (s *StreamSource) Push(ctx context.Context, frame []float32) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrStreamClosed
	}
	select {
	case s.frames <- frame:
		return nil
	case <-s.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushPCM16 decodes little-endian 16-bit PCM and queues it.
func (s *StreamSource) PushPCM16(ctx context.Context, pcm []byte) error {
	return s.Push(ctx, DecodePCM16(pcm))
}

// ReadFrame implements Source. Frames queued before Close are still
// delivered; after that it returns io.EOF.
func (s *StreamSource) ReadFrame(ctx context.Context) ([]float32, error) {
	select {
	case f := <-s.frames:
		return f, nil
	default:
	}
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		select {
		case f := <-s.frames:
			return f, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SampleRate implements Source.
func (s *StreamSource) SampleRate() int {
	return s.rate
}

// Close ends the stream. It is safe to call more than once.
func (s *StreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
