package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(zerolog.Nop(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_HealthAndReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(zerolog.Nop(), dir)
	require.NoError(t, err)
	require.NoError(t, s.Health(context.Background()))
	require.NoError(t, s.Close())

	// Migrations are idempotent across reopen.
	s, err = Open(zerolog.Nop(), dir)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate())
}

func TestAppendAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := &Conversation{
		UserID:         "u1",
		Transcript:     "User: hello\nLumi: hi there",
		LumiReflection: "You sound upbeat.",
		LumiQuestion:   "What made today good?",
		Duration:       95*time.Second + 400*time.Millisecond,
	}
	require.NoError(t, s.AppendConversation(ctx, c))
	require.NotEmpty(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())
	assert.Equal(t, int64(95), c.DurationSecs)

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Transcript, got.Transcript)
	assert.Equal(t, "You sound upbeat.", got.LumiReflection)
	assert.Equal(t, "What made today good?", got.LumiQuestion)
	assert.Empty(t, got.SessionSummary)
	assert.Equal(t, 95*time.Second, got.Duration)
	assert.Equal(t, c.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())
}

func TestAppend_Validation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	assert.Error(t, s.AppendConversation(ctx, &Conversation{Transcript: "x"}))
	assert.Error(t, s.AppendConversation(ctx, &Conversation{UserID: "u", Transcript: "  "}))
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversations_NewestFirstPerUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, user := range []string{"u1", "u2", "u1", "u1"} {
		require.NoError(t, s.AppendConversation(ctx, &Conversation{
			UserID:     user,
			Transcript: "entry",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := s.ListConversations(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))
	assert.True(t, list[1].CreatedAt.After(list[2].CreatedAt))

	limited, err := s.ListConversations(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSetSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &Conversation{UserID: "u", Transcript: "a", CreatedAt: time.Now().Add(-2 * time.Minute)}
	b := &Conversation{UserID: "u", Transcript: "b", CreatedAt: time.Now().Add(-time.Minute)}
	require.NoError(t, s.AppendConversation(ctx, a))
	require.NoError(t, s.AppendConversation(ctx, b))

	pending, err := s.ListUnsummarized(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID)

	require.NoError(t, s.SetSummary(ctx, a.ID, "first summary"))
	// Existing summaries are kept.
	require.NoError(t, s.SetSummary(ctx, a.ID, "second summary"))

	got, err := s.GetConversation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "first summary", got.SessionSummary)

	pending, err = s.ListUnsummarized(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)

	assert.ErrorIs(t, s.SetSummary(ctx, "missing", "x"), ErrNotFound)
}
