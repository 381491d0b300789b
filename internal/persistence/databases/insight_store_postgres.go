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

// NewPostgresInsightStore returns the Postgres store for derived artifacts,
// proactive prompts, and communities.
func NewPostgresInsightStore(pool *pgxpool.Pool) *PgInsightStore {
	return &PgInsightStore{pool: pool}
}

type PgInsightStore struct {
	pool *pgxpool.Pool
}

func (s *PgInsightStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres insight store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS derived_artifacts (
    entity_id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    cycle_id UUID NOT NULL,
    artifact_type TEXT NOT NULL,
    title TEXT NOT NULL,
    content_narrative TEXT NOT NULL DEFAULT '',
    content_data JSONB,
    source_concept_ids TEXT[] NOT NULL DEFAULT '{}',
    source_memory_unit_ids TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS proactive_prompts (
    entity_id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    cycle_id UUID NOT NULL,
    prompt_text TEXT NOT NULL,
    source_agent TEXT NOT NULL DEFAULT '',
    prompt_type TEXT NOT NULL DEFAULT '',
    timing_suggestion TEXT NOT NULL DEFAULT '',
    priority_level INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS communities (
    entity_id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    member_concept_ids TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS derived_artifacts_user_cycle_idx ON derived_artifacts(user_id, cycle_id);
CREATE INDEX IF NOT EXISTS proactive_prompts_user_cycle_idx ON proactive_prompts(user_id, cycle_id);
CREATE INDEX IF NOT EXISTS communities_user_idx ON communities(user_id);
`)
	return err
}

func (s *PgInsightStore) InsertArtifact(ctx context.Context, a domain.DerivedArtifact) error {
	var data []byte
	if a.ContentData != nil {
		b, err := json.Marshal(a.ContentData)
		if err != nil {
			return fmt.Errorf("marshal content data: %w", err)
		}
		data = b
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO derived_artifacts (entity_id, user_id, cycle_id, artifact_type, title, content_narrative, content_data, source_concept_ids, source_memory_unit_ids, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.UserID, a.CycleID, a.ArtifactType, a.Title, a.ContentNarrative,
		data, a.SourceConceptIDs, a.SourceMemoryUnitIDs, a.CreatedAt)
	return err
}

func (s *PgInsightStore) InsertPrompt(ctx context.Context, p domain.ProactivePrompt) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO proactive_prompts (entity_id, user_id, cycle_id, prompt_text, source_agent, prompt_type, timing_suggestion, priority_level, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.UserID, p.CycleID, p.PromptText, p.SourceAgent,
		p.Metadata.PromptType, p.Metadata.TimingSuggestion, p.Metadata.PriorityLevel, p.CreatedAt)
	return err
}

func (s *PgInsightStore) InsertCommunity(ctx context.Context, c domain.Community) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO communities (entity_id, user_id, title, content, member_concept_ids, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.UserID, c.Title, c.Content, c.MemberConceptIDs, c.CreatedAt)
	return err
}

// NewPostgresCycleStore returns the Postgres store for user cycles.
func NewPostgresCycleStore(pool *pgxpool.Pool) *PgCycleStore {
	return &PgCycleStore{pool: pool}
}

type PgCycleStore struct {
	pool *pgxpool.Pool
}

func (s *PgCycleStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres cycle store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS user_cycles (
    cycle_id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'running',
    cycle_start_date TIMESTAMPTZ NOT NULL,
    cycle_end_date TIMESTAMPTZ NOT NULL,
    artifacts_created INTEGER NOT NULL DEFAULT 0,
    prompts_created INTEGER NOT NULL DEFAULT 0,
    concepts_merged INTEGER NOT NULL DEFAULT 0,
    relationships_created INTEGER NOT NULL DEFAULT 0,
    processing_duration_ms BIGINT NOT NULL DEFAULT 0,
    error_count INTEGER NOT NULL DEFAULT 0,
    dashboard_ready BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS user_cycles_user_status_idx ON user_cycles(user_id, status);
`)
	return err
}

func (s *PgCycleStore) Create(ctx context.Context, c domain.UserCycle) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO user_cycles (cycle_id, user_id, status, cycle_start_date, cycle_end_date)
VALUES ($1, $2, $3, $4, $5)`,
		c.CycleID, c.UserID, string(c.Status), c.CycleStartDate, c.CycleEndDate)
	return err
}

// Close writes the terminal state. The status guard makes the running ->
// terminal transition happen exactly once.
func (s *PgCycleStore) Close(ctx context.Context, c domain.UserCycle) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE user_cycles
SET status = $3, artifacts_created = $4, prompts_created = $5, concepts_merged = $6,
    relationships_created = $7, processing_duration_ms = $8, error_count = $9,
    dashboard_ready = $10, completed_at = NOW()
WHERE cycle_id = $1 AND user_id = $2 AND status = 'running'`,
		c.CycleID, c.UserID, string(c.Status), c.ArtifactsCreated, c.PromptsCreated,
		c.ConceptsMerged, c.RelationshipsCreated, c.ProcessingDurationMS, c.ErrorCount,
		c.DashboardReady)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *PgCycleStore) LatestCompleted(ctx context.Context, userID string) (domain.UserCycle, error) {
	row := s.pool.QueryRow(ctx, `
SELECT cycle_id, user_id, status, cycle_start_date, cycle_end_date, artifacts_created,
       prompts_created, concepts_merged, relationships_created, processing_duration_ms,
       error_count, dashboard_ready, completed_at
FROM user_cycles
WHERE user_id = $1 AND status = 'completed'
ORDER BY completed_at DESC
LIMIT 1`, userID)
	var c domain.UserCycle
	var status string
	if err := row.Scan(&c.CycleID, &c.UserID, &status, &c.CycleStartDate, &c.CycleEndDate,
		&c.ArtifactsCreated, &c.PromptsCreated, &c.ConceptsMerged, &c.RelationshipsCreated,
		&c.ProcessingDurationMS, &c.ErrorCount, &c.DashboardReady, &c.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserCycle{}, persistence.ErrNotFound
		}
		return domain.UserCycle{}, err
	}
	c.Status = domain.CycleStatus(status)
	return c, nil
}
