package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/normanking/lumi/internal/audio"
	"github.com/normanking/lumi/internal/playback"
)

var (
	// ErrConnectionClosed is returned by Play once the connection is gone.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrPlaybackTimeout is returned when the client never acknowledges a clip.
	ErrPlaybackTimeout = errors.New("playback not acknowledged")
)

// DefaultPlaybackWait bounds how long Play waits for playback_complete.
const DefaultPlaybackWait = 2 * time.Minute

// RemotePlayer plays clips on the client: it sends an audio message and
// waits for the matching playback_complete.
type RemotePlayer struct {
	send    func(ServerMessage) error
	maxWait time.Duration

	mu      sync.Mutex
	pending map[string]chan struct{}
	closed  chan struct{}
	once    sync.Once
}

var _ playback.Player = (*RemotePlayer)(nil)

// NewRemotePlayer creates a player writing through send.
func NewRemotePlayer(send func(ServerMessage) error, maxWait time.Duration) *RemotePlayer {
	if maxWait <= 0 {
		maxWait = DefaultPlaybackWait
	}
	return &RemotePlayer{
		send:    send,
		maxWait: maxWait,
		pending: make(map[string]chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Play implements playback.Player. Cancelling ctx tells the client to stop.
func (p *RemotePlayer) Play(ctx context.Context, clip playback.Clip) error {
	id := uuid.NewString()
	done := make(chan struct{})

	p.mu.Lock()
	select {
	case <-p.closed:
		p.mu.Unlock()
		return ErrConnectionClosed
	default:
	}
	p.pending[id] = done
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.send(ServerMessage{
		Type:   TypeAudio,
		ClipID: id,
		Audio:  audio.EncodeBase64(clip.Audio),
		Format: clip.Format,
		Text:   clip.Text,
	}); err != nil {
		return err
	}

	timer := time.NewTimer(p.maxWait)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		_ = p.send(ServerMessage{Type: TypeStopAudio, ClipID: id})
		return ctx.Err()
	case <-p.closed:
		return ErrConnectionClosed
	case <-timer.C:
		return ErrPlaybackTimeout
	}
}

// Complete acknowledges a clip. It reports whether the clip was pending.
func (p *RemotePlayer) Complete(clipID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	done, ok := p.pending[clipID]
	if !ok {
		return false
	}
	delete(p.pending, clipID)
	close(done)
	return true
}

// Close fails every pending and future Play.
func (p *RemotePlayer) Close() {
	p.once.Do(func() { close(p.closed) })
}
