package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig configures the Redis stream mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string // default "lumi:events"
	MaxLen   int64  // approximate stream cap, default 10000
}

// RedisMirror copies bus events into a Redis stream with XADD so other
// services can follow conversations.
type RedisMirror struct {
	rdb    *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[*Bus]SubscriptionID
}

// NewRedisMirror connects and verifies the server with PING.
func NewRedisMirror(logger zerolog.Logger, cfg RedisConfig) (*RedisMirror, error) {
	if cfg.Stream == "" {
		cfg.Stream = "lumi:events"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 10000
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisMirror{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger.With().Str("component", "redis-mirror").Str("stream", cfg.Stream).Logger(),
		subs:   make(map[*Bus]SubscriptionID),
	}, nil
}

// Attach subscribes the mirror to every event on bus. One mirror may
// serve many buses.
func (m *RedisMirror) Attach(bus *Bus) error {
	id, err := bus.SubscribeAll(func(ev Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := m.Publish(ctx, ev); err != nil {
			m.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("Event mirror failed")
		}
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.subs[bus] = id
	m.mu.Unlock()
	return nil
}

// Detach stops mirroring bus.
func (m *RedisMirror) Detach(bus *Bus) {
	m.mu.Lock()
	id, ok := m.subs[bus]
	delete(m.subs, bus)
	m.mu.Unlock()
	if ok {
		_ = bus.Unsubscribe(id)
	}
}

// Publish appends one event to the stream and returns its stream id.
func (m *RedisMirror) Publish(ctx context.Context, ev Event) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	id, err := m.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: m.cfg.Stream,
		MaxLen: m.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":       string(ev.Type),
			"session_id": ev.SessionID,
			"payload":    string(payload),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd failed: %w", err)
	}
	return id, nil
}

// Client exposes the underlying client for tests and tooling.
func (m *RedisMirror) Client() *redis.Client {
	return m.rdb
}

// Close detaches from every bus and closes the connection.
func (m *RedisMirror) Close() error {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[*Bus]SubscriptionID)
	m.mu.Unlock()
	for bus, id := range subs {
		_ = bus.Unsubscribe(id)
	}
	return m.rdb.Close()
}
