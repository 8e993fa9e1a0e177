package audio

import (
	"encoding/base64"
	"encoding/binary"
	"strings"
)

// Base64ChunkSize is the number of PCM bytes encoded per step. It is a
// multiple of 3 so chunk boundaries never introduce padding.
const Base64ChunkSize = 3 * 8192

// EncodePCM16 converts samples to 16-bit signed little-endian PCM.
// Samples outside [-1, 1] are clamped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian PCM to samples.
// A trailing odd byte is dropped.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / 32768
	}
	return out
}

// EncodeBase64 encodes pcm in Base64ChunkSize steps. The result equals a
// single-shot standard encoding.
func EncodeBase64(pcm []byte) string {
	var b strings.Builder
	b.Grow(base64.StdEncoding.EncodedLen(len(pcm)))
	buf := make([]byte, base64.StdEncoding.EncodedLen(Base64ChunkSize))
	for start := 0; start < len(pcm); start += Base64ChunkSize {
		end := min(start+Base64ChunkSize, len(pcm))
		n := base64.StdEncoding.EncodedLen(end - start)
		base64.StdEncoding.Encode(buf[:n], pcm[start:end])
		b.Write(buf[:n])
	}
	return b.String()
}
