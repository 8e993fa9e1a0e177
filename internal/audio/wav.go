package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrUnsupportedWAV is returned for anything but 16-bit integer PCM.
var ErrUnsupportedWAV = errors.New("unsupported wav format")

// WAVSource replays a 16-bit PCM WAV file as frames. Multi-channel files
// are downmixed to mono.
type WAVSource struct {
	samples   []float32
	rate      int
	frameSize int
	pos       int
}

// OpenWAV loads a WAV file from disk.
func OpenWAV(path string, frameSize int) (*WAVSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	return ParseWAV(data, frameSize)
}

// ParseWAV decodes an in-memory WAV file.
func ParseWAV(data []byte, frameSize int) (*WAVSource, error) {
	if frameSize <= 0 {
		frameSize = 1600
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedWAV)
	}

	r := bytes.NewReader(data[12:])
	var (
		channels, bits uint16
		rate           uint32
		pcm            []byte
		sawFmt         bool
	)
	for {
		var id [4]byte
		var size uint32
		if _, err := io.ReadFull(r, id[:]); err != nil {
			break
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("%w: truncated chunk header", ErrUnsupportedWAV)
		}
		if int64(size) > int64(r.Len()) {
			return nil, fmt.Errorf("%w: truncated %q chunk", ErrUnsupportedWAV, id[:])
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("%w: truncated %q chunk", ErrUnsupportedWAV, id[:])
		}
		if size%2 == 1 {
			_, _ = r.ReadByte()
		}

		switch string(id[:]) {
		case "fmt ":
			if len(body) < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels = binary.LittleEndian.Uint16(body[2:4])
			rate = binary.LittleEndian.Uint32(body[4:8])
			bits = binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != 16 || channels == 0 {
				return nil, fmt.Errorf("%w: format=%d bits=%d channels=%d", ErrUnsupportedWAV, format, bits, channels)
			}
			sawFmt = true
		case "data":
			pcm = body
		}
	}
	if !sawFmt || pcm == nil {
		return nil, fmt.Errorf("%w: missing fmt or data chunk", ErrUnsupportedWAV)
	}

	interleaved := DecodePCM16(pcm)
	ch := int(channels)
	mono := make([]float32, len(interleaved)/ch)
	for i := range mono {
		var sum float32
		for c := 0; c < ch; c++ {
			sum += interleaved[i*ch+c]
		}
		mono[i] = sum / float32(ch)
	}

	return &WAVSource{samples: mono, rate: int(rate), frameSize: frameSize}, nil
}

// ReadFrame implements Source.
func (w *WAVSource) ReadFrame(ctx context.Context) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.pos >= len(w.samples) {
		return nil, io.EOF
	}
	end := min(w.pos+w.frameSize, len(w.samples))
	frame := w.samples[w.pos:end]
	w.pos = end
	return frame, nil
}

// SampleRate implements Source.
func (w *WAVSource) SampleRate() int {
	return w.rate
}

// Samples returns the decoded mono samples.
func (w *WAVSource) Samples() []float32 {
	return w.samples
}

// Close implements Source.
func (w *WAVSource) Close() error {
	return nil
}

// EncodeWAV wraps mono 16-bit PCM in a minimal WAV container.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
