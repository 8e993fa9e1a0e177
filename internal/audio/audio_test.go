package audio

import (
	"context"
	"encoding/base64"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amp * float32(math.Sin(float64(i)/8))
	}
	return out
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	assert.InDelta(t, 0.5, RMS([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)
}

func TestVAD(t *testing.T) {
	vad := NewVAD(0)
	assert.Equal(t, DefaultVADThreshold, vad.Threshold())
	assert.False(t, vad.IsSpeech(make([]float32, 160)))
	assert.False(t, vad.IsSpeech([]float32{0.005, -0.005}))
	assert.True(t, vad.IsSpeech(tone(160, 0.3)))

	vad.SetThreshold(0.5)
	assert.False(t, vad.IsSpeech(tone(160, 0.3)))
	vad.SetThreshold(-1)
	assert.Equal(t, 0.5, vad.Threshold())
}

func TestTurnDetector(t *testing.T) {
	d := NewTurnDetector(time.Second)
	base := time.Unix(0, 0)
	at := func(ms int, speech bool) Chunk {
		return Chunk{Timestamp: base.Add(time.Duration(ms) * time.Millisecond), IsSpeech: speech}
	}

	assert.Equal(t, TurnNone, d.Observe(at(0, false)))
	assert.Equal(t, TurnSpeechStart, d.Observe(at(100, true)))
	assert.Equal(t, TurnNone, d.Observe(at(200, true)))
	assert.Equal(t, TurnNone, d.Observe(at(300, false)))
	assert.Equal(t, TurnNone, d.Observe(at(900, false)))
	// Speech inside the window resets the silence clock.
	assert.Equal(t, TurnNone, d.Observe(at(1000, true)))
	assert.Equal(t, TurnNone, d.Observe(at(1100, false)))
	assert.Equal(t, TurnNone, d.Observe(at(2000, false)))
	assert.Equal(t, TurnEnd, d.Observe(at(2100, false)))
	assert.False(t, d.InSpeech())
	assert.Equal(t, TurnNone, d.Observe(at(2200, false)))
}

func TestEncodePCM16(t *testing.T) {
	pcm := EncodePCM16([]float32{0, 1, -1, 2, -2, 0.5})
	require.Len(t, pcm, 12)
	assert.Equal(t, []byte{0x00, 0x00}, pcm[0:2])
	assert.Equal(t, []byte{0xff, 0x7f}, pcm[2:4])  // 32767
	assert.Equal(t, []byte{0x00, 0x80}, pcm[4:6])  // -32768
	assert.Equal(t, []byte{0xff, 0x7f}, pcm[6:8])  // clamped
	assert.Equal(t, []byte{0x00, 0x80}, pcm[8:10]) // clamped

	back := DecodePCM16(pcm)
	assert.InDelta(t, 0.5, back[5], 0.001)
	assert.InDelta(t, -1, back[2], 1e-6)
}

func TestEncodeBase64_MatchesSingleShot(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, Base64ChunkSize - 1, Base64ChunkSize, Base64ChunkSize*2 + 7} {
		pcm := make([]byte, n)
		for i := range pcm {
			pcm[i] = byte(i * 31)
		}
		assert.Equal(t, base64.StdEncoding.EncodeToString(pcm), EncodeBase64(pcm), "n=%d", n)
	}
}

type sliceSource struct {
	frames [][]float32
	rate   int
	err    error
}

func (s *sliceSource) ReadFrame(ctx context.Context) ([]float32, error) {
	if len(s.frames) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *sliceSource) SampleRate() int { return s.rate }
func (s *sliceSource) Close() error    { return nil }

func TestCapture_ForwardsEveryNonEmptyChunk(t *testing.T) {
	src := &sliceSource{rate: 1000, frames: [][]float32{
		make([]float32, 100),
		{},
		tone(100, 0.4),
		make([]float32, 100),
	}}
	var got []Chunk
	err := NewCapture(nil).Run(context.Background(), src, func(c Chunk) { got = append(got, c) })
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.False(t, got[0].IsSpeech)
	assert.True(t, got[1].IsSpeech)
	assert.False(t, got[2].IsSpeech)
	assert.Equal(t, 100*time.Millisecond, got[1].Timestamp.Sub(got[0].Timestamp))
}

func TestCapture_PropagatesSourceError(t *testing.T) {
	src := &sliceSource{rate: 1000, err: io.ErrUnexpectedEOF}
	err := NewCapture(nil).Run(context.Background(), src, func(Chunk) {})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRecorder_EmitsUtteranceAtTurnEnd(t *testing.T) {
	var (
		starts     int
		utterances []Utterance
	)
	rec := NewRecorder(RecorderConfig{SampleRate: 1000, SilenceDuration: 300 * time.Millisecond}, RecorderCallbacks{
		OnSpeechStart: func(Chunk) { starts++ },
		OnUtterance:   func(u Utterance) { utterances = append(utterances, u) },
	})

	frames := [][]float32{make([]float32, 100)}
	for i := 0; i < 5; i++ {
		frames = append(frames, tone(100, 0.3))
	}
	for i := 0; i < 5; i++ {
		frames = append(frames, make([]float32, 100))
	}
	src := &sliceSource{rate: 1000, frames: frames}
	require.NoError(t, NewCapture(nil).Run(context.Background(), src, rec.Handle))

	assert.Equal(t, 1, starts)
	require.Len(t, utterances, 1)
	// Five speech frames plus silence up to and including the turn-ending frame.
	assert.Equal(t, 900, len(utterances[0].Samples))
	assert.Equal(t, 900*time.Millisecond, utterances[0].Duration())
	assert.Len(t, utterances[0].PCM16(), 1800)
	assert.False(t, rec.Flush())
}

func TestRecorder_FlushPartialTurn(t *testing.T) {
	var got []Utterance
	rec := NewRecorder(RecorderConfig{SampleRate: 1000}, RecorderCallbacks{
		OnUtterance: func(u Utterance) { got = append(got, u) },
	})
	rec.Handle(Chunk{Data: tone(100, 0.3), IsSpeech: true, Timestamp: time.Now()})
	assert.True(t, rec.Flush())
	require.Len(t, got, 1)
	assert.Len(t, got[0].Samples, 100)
}

func TestStreamSource(t *testing.T) {
	ctx := context.Background()
	s := NewStreamSource(16000, 2)
	require.NoError(t, s.Push(ctx, []float32{0.1}))
	require.NoError(t, s.PushPCM16(ctx, EncodePCM16([]float32{0.5})))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Push(ctx, []float32{1}), ErrStreamClosed)

	f, err := s.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1}, f)
	f, err = s.ReadFrame(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, f[0], 0.001)
	_, err = s.ReadFrame(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamSource_ReadHonorsContext(t *testing.T) {
	s := NewStreamSource(16000, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ReadFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWAVRoundTrip(t *testing.T) {
	samples := tone(2500, 0.25)
	data := EncodeWAV(EncodePCM16(samples), 8000)

	src, err := ParseWAV(data, 1000)
	require.NoError(t, err)
	assert.Equal(t, 8000, src.SampleRate())
	assert.Len(t, src.Samples(), 2500)

	var frames int
	for {
		f, err := src.ReadFrame(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		frames++
		assert.LessOrEqual(t, len(f), 1000)
	}
	assert.Equal(t, 3, frames)
}

func TestParseWAV_Rejects(t *testing.T) {
	_, err := ParseWAV([]byte("nope"), 0)
	assert.ErrorIs(t, err, ErrUnsupportedWAV)

	data := EncodeWAV(EncodePCM16(tone(10, 0.1)), 8000)
	data[34] = 8 // bits per sample
	_, err = ParseWAV(data, 0)
	assert.ErrorIs(t, err, ErrUnsupportedWAV)
}
