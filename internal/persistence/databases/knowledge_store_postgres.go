package databases

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mnemo/internal/domain"
	"mnemo/internal/persistence"
)

// NewPostgresKnowledgeStore returns the Postgres store for memory units,
// concepts, and growth events.
func NewPostgresKnowledgeStore(pool *pgxpool.Pool) *PgKnowledgeStore {
	return &PgKnowledgeStore{pool: pool}
}

type PgKnowledgeStore struct {
	pool *pgxpool.Pool
}

func (s *PgKnowledgeStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres knowledge store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS memory_units (
    entity_id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    importance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    sentiment_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    source_conversation_id UUID,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS concepts (
    entity_id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    concept_type TEXT NOT NULL DEFAULT 'theme',
    content TEXT NOT NULL DEFAULT '',
    importance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'active',
    merged_into_concept_id UUID,
    community_id UUID,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS growth_events (
    entity_id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    dimension TEXT NOT NULL,
    delta_value DOUBLE PRECISION NOT NULL DEFAULT 0,
    content TEXT NOT NULL DEFAULT '',
    source_memory_unit_ids TEXT[] NOT NULL DEFAULT '{}',
    source_concept_ids TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS memory_units_user_created_idx ON memory_units(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS concepts_user_status_idx ON concepts(user_id, status);
CREATE INDEX IF NOT EXISTS concepts_user_updated_idx ON concepts(user_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS growth_events_user_created_idx ON growth_events(user_id, created_at DESC);
`)
	return err
}

func (s *PgKnowledgeStore) InsertMemoryUnit(ctx context.Context, mu domain.MemoryUnit) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO memory_units (entity_id, user_id, title, content, importance_score, sentiment_score, source_conversation_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		mu.ID, mu.UserID, mu.Title, mu.Content, mu.ImportanceScore, mu.SentimentScore,
		nilIfEmpty(mu.SourceConversationID), mu.CreatedAt)
	return err
}

func (s *PgKnowledgeStore) AppendMemoryUnitContent(ctx context.Context, userID, id, addition string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE memory_units
SET content = content || E'\n' || $3, updated_at = NOW()
WHERE entity_id = $1 AND user_id = $2`, id, userID, addition)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *PgKnowledgeStore) MemoryUnitsBetween(ctx context.Context, userID string, from, to time.Time) ([]domain.MemoryUnit, error) {
	rows, err := s.pool.Query(ctx, `
SELECT entity_id, user_id, title, content, importance_score, sentiment_score,
       COALESCE(source_conversation_id::text, ''), created_at, updated_at
FROM memory_units
WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.MemoryUnit
	for rows.Next() {
		var mu domain.MemoryUnit
		if err := rows.Scan(&mu.ID, &mu.UserID, &mu.Title, &mu.Content, &mu.ImportanceScore,
			&mu.SentimentScore, &mu.SourceConversationID, &mu.CreatedAt, &mu.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, mu)
	}
	return out, rows.Err()
}

func (s *PgKnowledgeStore) InsertConcept(ctx context.Context, c domain.Concept) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO concepts (entity_id, user_id, title, concept_type, content, importance_score, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		c.ID, c.UserID, c.Title, c.ConceptType, c.Content, c.ImportanceScore, string(c.Status), c.CreatedAt)
	return err
}

func (s *PgKnowledgeStore) scanConcept(row pgx.Row) (domain.Concept, error) {
	var c domain.Concept
	var status string
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.ConceptType, &c.Content,
		&c.ImportanceScore, &status, &c.MergedIntoConceptID, &c.CommunityID,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Concept{}, err
	}
	c.Status = domain.ConceptStatus(status)
	return c, nil
}

const conceptColumns = `entity_id, user_id, title, concept_type, content, importance_score, status,
       COALESCE(merged_into_concept_id::text, ''), COALESCE(community_id::text, ''), created_at, updated_at`

func (s *PgKnowledgeStore) GetConcept(ctx context.Context, userID, id string) (domain.Concept, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+conceptColumns+` FROM concepts WHERE entity_id = $1 AND user_id = $2`, id, userID)
	c, err := s.scanConcept(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Concept{}, persistence.ErrNotFound
	}
	return c, err
}

func (s *PgKnowledgeStore) ActiveConcepts(ctx context.Context, userID string) ([]domain.Concept, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+conceptColumns+` FROM concepts
WHERE user_id = $1 AND status = 'active'
ORDER BY importance_score DESC, updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectConcepts(rows)
}

func (s *PgKnowledgeStore) ConceptsUpdatedSince(ctx context.Context, userID string, since time.Time) ([]domain.Concept, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+conceptColumns+` FROM concepts
WHERE user_id = $1 AND status = 'active' AND updated_at >= $2
ORDER BY updated_at DESC`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectConcepts(rows)
}

func (s *PgKnowledgeStore) collectConcepts(rows pgx.Rows) ([]domain.Concept, error) {
	var out []domain.Concept
	for rows.Next() {
		c, err := s.scanConcept(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PgKnowledgeStore) AppendConceptContent(ctx context.Context, userID, id, addition string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE concepts
SET content = content || E'\n' || $3, updated_at = NOW()
WHERE entity_id = $1 AND user_id = $2 AND status = 'active'`, id, userID, addition)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *PgKnowledgeStore) RenameConcept(ctx context.Context, userID, id, title, description string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE concepts SET title = $3, content = $4, updated_at = NOW()
WHERE entity_id = $1 AND user_id = $2 AND status = 'active'`, id, userID, title, description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *PgKnowledgeStore) UpdateConceptDescription(ctx context.Context, userID, id, description string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE concepts SET content = $3, updated_at = NOW()
WHERE entity_id = $1 AND user_id = $2 AND status = 'active'`, id, userID, description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// MarkConceptMerged is a one-way transition; an already merged or archived
// concept is left untouched and reported as ErrNotFound.
func (s *PgKnowledgeStore) MarkConceptMerged(ctx context.Context, userID, id, mergedInto string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE concepts SET status = 'merged', merged_into_concept_id = $3, updated_at = NOW()
WHERE entity_id = $1 AND user_id = $2 AND status = 'active'`, id, userID, mergedInto)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *PgKnowledgeStore) MarkConceptArchived(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE concepts SET status = 'archived', updated_at = NOW()
WHERE entity_id = $1 AND user_id = $2 AND status = 'active'`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *PgKnowledgeStore) SetConceptCommunity(ctx context.Context, userID, conceptID, communityID string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE concepts SET community_id = $3, updated_at = NOW()
WHERE entity_id = $1 AND user_id = $2 AND status = 'active'`, conceptID, userID, communityID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *PgKnowledgeStore) InsertGrowthEvent(ctx context.Context, ge domain.GrowthEvent) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO growth_events (entity_id, user_id, title, dimension, delta_value, content, source_memory_unit_ids, source_concept_ids, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ge.ID, ge.UserID, ge.Title, ge.Dimension, ge.DeltaValue, ge.Content,
		ge.SourceMemoryUnitIDs, ge.SourceConceptIDs, ge.CreatedAt)
	return err
}

func (s *PgKnowledgeStore) RecentGrowthEvents(ctx context.Context, userID string, limit int) ([]domain.GrowthEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT entity_id, user_id, title, dimension, delta_value, content, source_memory_unit_ids, source_concept_ids, created_at
FROM growth_events
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.GrowthEvent
	for rows.Next() {
		var ge domain.GrowthEvent
		if err := rows.Scan(&ge.ID, &ge.UserID, &ge.Title, &ge.Dimension, &ge.DeltaValue,
			&ge.Content, &ge.SourceMemoryUnitIDs, &ge.SourceConceptIDs, &ge.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ge)
	}
	return out, rows.Err()
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
