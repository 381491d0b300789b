package databases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mnemo/internal/domain"
	"mnemo/internal/persistence"
)

// NewPostgresConversationStore returns a Postgres-backed conversation store.
func NewPostgresConversationStore(pool *pgxpool.Pool) *PgConversationStore {
	return &PgConversationStore{pool: pool}
}

type PgConversationStore struct {
	pool *pgxpool.Pool
}

func (s *PgConversationStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres conversation store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS conversations (
    conversation_id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    importance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    content TEXT NOT NULL DEFAULT '',
    proactive_greeting TEXT NOT NULL DEFAULT '',
    forward_looking_context JSONB,
    start_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS conversation_messages (
    id UUID PRIMARY KEY,
    conversation_id UUID NOT NULL REFERENCES conversations(conversation_id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS conversations_user_status_idx ON conversations(user_id, status);
CREATE INDEX IF NOT EXISTS conversation_messages_conv_created_idx ON conversation_messages(conversation_id, created_at);
`)
	return err
}

func (s *PgConversationStore) Get(ctx context.Context, userID, conversationID string) (domain.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
SELECT conversation_id, user_id, title, status, importance_score, content,
       proactive_greeting, COALESCE(forward_looking_context, 'null'::jsonb), start_time, updated_at
FROM conversations
WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID)
	var c domain.Conversation
	var flc []byte
	var status string
	if err := row.Scan(&c.ConversationID, &c.UserID, &c.Title, &status, &c.ImportanceScore,
		&c.Content, &c.ProactiveGreeting, &flc, &c.StartTime, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, persistence.ErrNotFound
		}
		return domain.Conversation{}, err
	}
	c.Status = domain.ConversationStatus(status)
	if len(flc) > 0 && string(flc) != "null" {
		_ = json.Unmarshal(flc, &c.ForwardLookingContext)
	}
	return c, nil
}

func (s *PgConversationStore) Transcript(ctx context.Context, userID, conversationID string) (string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT role, content FROM conversation_messages
WHERE conversation_id = $1 AND user_id = $2
ORDER BY created_at ASC`, conversationID, userID)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var b strings.Builder
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%s: %s\n", role, content)
	}
	return b.String(), rows.Err()
}

func (s *PgConversationStore) Finalize(ctx context.Context, conv domain.Conversation) error {
	flc, err := json.Marshal(conv.ForwardLookingContext)
	if err != nil {
		return fmt.Errorf("marshal forward looking context: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE conversations
SET title = $3, status = $4, importance_score = $5, content = $6,
    proactive_greeting = $7, forward_looking_context = $8, updated_at = NOW()
WHERE conversation_id = $1 AND user_id = $2`,
		conv.ConversationID, conv.UserID, conv.Title, string(conv.Status),
		conv.ImportanceScore, conv.Content, conv.ProactiveGreeting, flc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *PgConversationStore) MarkFailed(ctx context.Context, userID, conversationID, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE conversations
SET status = 'failed', content = $3, updated_at = NOW()
WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID, errMsg)
	return err
}

func (s *PgConversationStore) SummariesBetween(ctx context.Context, userID string, from, to time.Time) ([]domain.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
SELECT conversation_id, user_id, title, status, importance_score, content, start_time, updated_at
FROM conversations
WHERE user_id = $1 AND status = 'processed' AND updated_at >= $2 AND updated_at < $3
ORDER BY updated_at ASC`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		var status string
		if err := rows.Scan(&c.ConversationID, &c.UserID, &c.Title, &status,
			&c.ImportanceScore, &c.Content, &c.StartTime, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Status = domain.ConversationStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}
