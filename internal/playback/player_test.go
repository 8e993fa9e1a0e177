package playback

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscardPlayer_Cancelled(t *testing.T) {
	p := DiscardPlayer{Duration: func(Clip) time.Duration { return time.Hour }}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	assert.ErrorIs(t, p.Play(ctx, Clip{}), context.Canceled)
}

func TestDiscardPlayer_Completes(t *testing.T) {
	p := DiscardPlayer{Duration: func(Clip) time.Duration { return time.Millisecond }}
	assert.NoError(t, p.Play(context.Background(), Clip{}))
	assert.NoError(t, DiscardPlayer{}.Play(context.Background(), Clip{}))
}

func TestFilePlayer(t *testing.T) {
	p := &FilePlayer{Dir: t.TempDir()}
	require.NoError(t, p.Play(context.Background(), Clip{Audio: []byte("a"), Format: "mp3"}))
	require.NoError(t, p.Play(context.Background(), Clip{Audio: []byte("b")}))

	paths := p.Paths()
	require.Len(t, paths, 2)
	assert.Contains(t, paths[0], "reply_001.mp3")
	assert.Contains(t, paths[1], "reply_002.bin")

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))
}

func TestPlayerFunc(t *testing.T) {
	var got string
	p := PlayerFunc(func(_ context.Context, c Clip) error { got = c.Text; return nil })
	require.NoError(t, p.Play(context.Background(), Clip{Text: "hi"}))
	assert.Equal(t, "hi", got)
}
