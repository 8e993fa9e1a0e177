package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("conversation not found")

// Conversation is one persisted session.
type Conversation struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	Transcript     string        `json:"transcript"`
	SessionSummary string        `json:"session_summary,omitempty"`
	LumiReflection string        `json:"lumi_reflection,omitempty"`
	LumiQuestion   string        `json:"lumi_question,omitempty"`
	Duration       time.Duration `json:"-"`
	DurationSecs   int64         `json:"conversation_duration"`
	CreatedAt      time.Time     `json:"created_at"`
}

// AppendConversation inserts a record. ID and CreatedAt are filled in when
// empty. Duration is stored in whole seconds.
func (s *Store) AppendConversation(ctx context.Context, c *Conversation) error {
	if c.UserID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	if strings.TrimSpace(c.Transcript) == "" {
		return fmt.Errorf("transcript cannot be empty")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.DurationSecs = int64(c.Duration.Round(time.Second) / time.Second)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (
			id, user_id, transcript, session_summary,
			lumi_reflection, lumi_question, conversation_duration, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Transcript, nullString(c.SessionSummary),
		nullString(c.LumiReflection), nullString(c.LumiQuestion),
		c.DurationSecs, c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

const selectColumns = `id, user_id, transcript, session_summary, lumi_reflection,
	lumi_question, conversation_duration, created_at`

// GetConversation loads one record.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns a user's records, newest first.
func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM conversations WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return scanAll(rows)
}

// ListUnsummarized returns the oldest records without a session summary.
func (s *Store) ListUnsummarized(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM conversations WHERE session_summary IS NULL ORDER BY created_at ASC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list unsummarized: %w", err)
	}
	return scanAll(rows)
}

// SetSummary stores a summary for a record that has none. Records are
// otherwise immutable, so an existing summary is never overwritten.
func (s *Store) SetSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET session_summary = ? WHERE id = ? AND session_summary IS NULL`,
		summary, id)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	if n == 0 {
		if _, err := s.GetConversation(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var (
		c                          Conversation
		summary, reflect, question sql.NullString
		createdMillis              int64
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Transcript, &summary, &reflect,
		&question, &c.DurationSecs, &createdMillis); err != nil {
		return nil, err
	}
	c.SessionSummary = summary.String
	c.LumiReflection = reflect.String
	c.LumiQuestion = question.String
	c.Duration = time.Duration(c.DurationSecs) * time.Second
	c.CreatedAt = time.UnixMilli(createdMillis)
	return &c, nil
}

func scanAll(rows *sql.Rows) ([]*Conversation, error) {
	defer rows.Close()
	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
