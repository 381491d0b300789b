package databases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mnemo/internal/domain"
	"mnemo/internal/persistence"
)

// NewPostgresUserStore returns a Postgres-backed user store.
func NewPostgresUserStore(pool *pgxpool.Pool) *PgUserStore {
	return &PgUserStore{pool: pool}
}

type PgUserStore struct {
	pool *pgxpool.Pool
}

func (s *PgUserStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres user store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    memory_profile TEXT NOT NULL DEFAULT '',
    next_conversation_context JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
	return err
}

func (s *PgUserStore) Get(ctx context.Context, userID string) (domain.User, error) {
	row := s.pool.QueryRow(ctx, `
SELECT user_id, name, memory_profile, COALESCE(next_conversation_context, 'null'::jsonb), created_at, updated_at
FROM users WHERE user_id = $1`, userID)
	var u domain.User
	var pkg []byte
	if err := row.Scan(&u.UserID, &u.Name, &u.MemoryProfile, &pkg, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, persistence.ErrNotFound
		}
		return domain.User{}, err
	}
	if len(pkg) > 0 && string(pkg) != "null" {
		_ = json.Unmarshal(pkg, &u.NextConversationContext)
	}
	return u, nil
}

func (s *PgUserStore) UpdateMemoryProfile(ctx context.Context, userID, profile string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE users SET memory_profile = $2, updated_at = NOW() WHERE user_id = $1`, userID, profile)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *PgUserStore) UpdateNextConversationContext(ctx context.Context, userID string, pkg map[string]any) error {
	b, err := json.Marshal(pkg)
	if err != nil {
		return fmt.Errorf("marshal context package: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE users SET next_conversation_context = $2, updated_at = NOW() WHERE user_id = $1`, userID, b)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
