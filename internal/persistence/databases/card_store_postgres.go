package databases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"mnemo/internal/domain"
)

// NewPostgresCardStore returns the Postgres-backed card store.
func NewPostgresCardStore(pool *pgxpool.Pool) *PgCardStore {
	return &PgCardStore{pool: pool}
}

type PgCardStore struct {
	pool *pgxpool.Pool
}

func (s *PgCardStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres card store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS cards (
    card_id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    source_entity_id UUID NOT NULL,
    source_entity_type TEXT NOT NULL,
    card_type TEXT NOT NULL,
    display_data JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS cards_source_unique_idx
    ON cards(user_id, source_entity_id, source_entity_type);
`)
	return err
}

// Insert creates the card; the unique index makes re-delivery a no-op.
// Returns true when a row was actually created.
func (s *PgCardStore) Insert(ctx context.Context, card domain.Card) (bool, error) {
	var data []byte
	if card.DisplayData != nil {
		b, err := json.Marshal(card.DisplayData)
		if err != nil {
			return false, fmt.Errorf("marshal display data: %w", err)
		}
		data = b
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO cards (card_id, user_id, source_entity_id, source_entity_type, card_type, display_data, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, source_entity_id, source_entity_type) DO NOTHING`,
		card.CardID, card.UserID, card.SourceEntityID, string(card.SourceEntityType),
		card.CardType, data, card.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PgCardStore) Exists(ctx context.Context, userID, sourceEntityID string, t domain.EntityType) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM cards
    WHERE user_id = $1 AND source_entity_id = $2 AND source_entity_type = $3
)`, userID, sourceEntityID, string(t)).Scan(&exists)
	return exists, err
}
