package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/lumi/internal/audio"
	"github.com/normanking/lumi/internal/conversation"
	"github.com/normanking/lumi/internal/events"
	"github.com/normanking/lumi/internal/metrics"
	"github.com/normanking/lumi/internal/playback"
	"github.com/normanking/lumi/internal/session"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
	pushTimeout    = time.Second
)

// RuntimeFactory builds the conversation for one connection from the
// connection's player and microphone.
type RuntimeFactory func(player playback.Player, mic conversation.Microphone) *conversation.Runtime

// Handler upgrades requests to websockets and runs a conversation per
// connection.
type Handler struct {
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
	newRuntime RuntimeFactory
	sampleRate int

	mu    sync.Mutex
	conns map[*connection]struct{}

	// PlaybackWait bounds how long a clip may play on the client.
	PlaybackWait time.Duration
}

// NewHandler creates a Handler.
func NewHandler(logger zerolog.Logger, sampleRate int, newRuntime RuntimeFactory) *Handler {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Handler{
		logger: logger.With().Str("component", "realtime").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		newRuntime: newRuntime,
		sampleRate: sampleRate,
		conns:      make(map[*connection]struct{}),
	}
}

// CloseAll disconnects every client. Each connection then ends its
// conversation as if the client had left.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		_ = c.ws.Close()
	}
}

func (h *Handler) track(c *connection, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if on {
		h.conns[c] = struct{}{}
	} else {
		delete(h.conns, c)
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &connection{
		ws:         ws,
		logger:     h.logger.With().Str("remote", r.RemoteAddr).Logger(),
		send:       make(chan ServerMessage, sendBuffer),
		done:       make(chan struct{}),
		sampleRate: h.sampleRate,
	}
	c.player = NewRemotePlayer(c.enqueue, h.PlaybackWait)
	c.rt = h.newRuntime(c.player, c.openMicrophone)

	h.track(c, true)
	defer h.track(c, false)
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()
	c.logger.Info().Msg("Client connected")
	c.run()
	c.logger.Info().Msg("Client disconnected")
}

type connection struct {
	ws         *websocket.Conn
	logger     zerolog.Logger
	rt         *conversation.Runtime
	player     *RemotePlayer
	sampleRate int

	send      chan ServerMessage
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	stream *audio.StreamSource
}

func (c *connection) run() {
	sub, err := c.rt.Bus().SubscribeAll(func(ev events.Event) {
		_ = c.enqueue(eventMessage(ev))
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Event subscription failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	c.readPump(ctx)

	cancel()
	c.player.Close()
	c.rt.Close()
	if sub != "" {
		_ = c.rt.Bus().Unsubscribe(sub)
	}
	c.shutdown()
	wg.Wait()
	c.ws.Close()
}

func (c *connection) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue hands a message to the write pump without blocking. A full
// buffer drops the message.
func (c *connection) enqueue(msg ServerMessage) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn().Str("type", msg.Type).Msg("Send buffer full, dropping message")
		return errors.New("send buffer full")
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed")
				c.shutdown()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, then sends a close frame.
func (c *connection) flush() {
	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		default:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *connection) readPump(ctx context.Context) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Rejected client message")
			_ = c.enqueue(errorMessage(err.Error()))
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *connection) dispatch(ctx context.Context, msg ClientMessage) {
	switch m := msg.(type) {
	case StartSession:
		if _, err := c.rt.StartSession(ctx); err != nil {
			c.reject(err)
		}
	case EndSession:
		c.rt.EndSession(session.ReasonUserEnded)
	case PauseSession:
		c.rt.PauseSession()
	case ResumeSession:
		c.rt.ResumeSession()
	case StartListening:
		if err := c.rt.StartListening(ctx); err != nil {
			c.reject(err)
		}
	case StopListening:
		c.rt.StopListening()
	case AudioChunk:
		c.pushAudio(ctx, m.PCM)
	case TextInput:
		if err := c.rt.SubmitText(m.Text); err != nil {
			c.reject(err)
		}
	case BargeIn:
		if c.rt.BargeIn() {
			if err := c.rt.StartListening(ctx); err != nil {
				c.logger.Debug().Err(err).Msg("Listening after barge-in failed")
			}
		}
	case PlaybackComplete:
		if !c.player.Complete(m.ClipID) {
			c.logger.Debug().Str("clip_id", m.ClipID).Msg("Playback ack for unknown clip")
		}
	case EnableVoice:
		c.rt.EnableVoice()
	case Unrecognized:
		c.logger.Warn().Str("type", m.Type).Msg("Unrecognized client message")
		_ = c.enqueue(errorMessage("unrecognized message type: " + m.Type))
	}
}

func (c *connection) reject(err error) {
	c.logger.Debug().Err(err).Msg("Request rejected")
	_ = c.enqueue(errorMessage(err.Error()))
}

// openMicrophone is the runtime's Microphone: every capture run gets a
// fresh stream fed by audio_chunk messages.
func (c *connection) openMicrophone(context.Context) (audio.Source, error) {
	s := audio.NewStreamSource(c.sampleRate, 128)
	c.mu.Lock()
	if c.stream != nil {
		c.stream.Close()
	}
	c.stream = s
	c.mu.Unlock()
	return s, nil
}

func (c *connection) pushAudio(ctx context.Context, pcm []byte) {
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s == nil {
		_ = c.enqueue(errorMessage("not listening: send start_listening first"))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := s.PushPCM16(ctx, pcm); err != nil {
		if errors.Is(err, audio.ErrStreamClosed) {
			_ = c.enqueue(errorMessage("not listening: send start_listening first"))
			return
		}
		c.logger.Warn().Err(err).Msg("Audio chunk dropped")
	}
}
