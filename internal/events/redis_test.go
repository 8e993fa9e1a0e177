package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMirror connects to LUMI_TEST_REDIS (default localhost:6379) or skips.
func setupMirror(t *testing.T) *RedisMirror {
	addr := os.Getenv("LUMI_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}
	m, err := NewRedisMirror(zerolog.Nop(), RedisConfig{Addr: addr, Stream: "lumi:test:" + t.Name()})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return m
}

func TestRedisMirror_Publish(t *testing.T) {
	m := setupMirror(t)
	defer m.Close()
	ctx := context.Background()
	defer m.Client().Del(ctx, m.cfg.Stream)

	ev := New(TypeSessionStart, "s-1")
	id, err := m.Publish(ctx, ev)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := m.Client().XRange(ctx, m.cfg.Stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "session_start", msgs[0].Values["type"])

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
}

func TestRedisMirror_Attach(t *testing.T) {
	m := setupMirror(t)
	defer m.Close()
	ctx := context.Background()
	defer m.Client().Del(ctx, m.cfg.Stream)

	b := NewBus(0)
	defer b.Close()
	require.NoError(t, m.Attach(b))
	require.NoError(t, b.Publish(New(TypeNotice, "s-2")))

	require.Eventually(t, func() bool {
		n, err := m.Client().XLen(ctx, m.cfg.Stream).Result()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
}
