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

// NewPostgresProjectionStore returns the Postgres-backed projection store.
// One row per user; each run replaces the previous projection.
func NewPostgresProjectionStore(pool *pgxpool.Pool) *PgProjectionStore {
	return &PgProjectionStore{pool: pool}
}

type PgProjectionStore struct {
	pool *pgxpool.Pool
}

func (s *PgProjectionStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres projection store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS graph_projections (
    user_id TEXT PRIMARY KEY,
    nodes JSONB NOT NULL,
    edges JSONB NOT NULL,
    algorithm TEXT NOT NULL,
    node_count INTEGER NOT NULL,
    generated_at TIMESTAMPTZ NOT NULL
);
`)
	return err
}

func (s *PgProjectionStore) Upsert(ctx context.Context, p domain.GraphProjection) error {
	nodes, err := json.Marshal(p.Nodes)
	if err != nil {
		return fmt.Errorf("marshal projection nodes: %w", err)
	}
	edges, err := json.Marshal(p.Edges)
	if err != nil {
		return fmt.Errorf("marshal projection edges: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO graph_projections (user_id, nodes, edges, algorithm, node_count, generated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id) DO UPDATE
SET nodes = EXCLUDED.nodes, edges = EXCLUDED.edges, algorithm = EXCLUDED.algorithm,
    node_count = EXCLUDED.node_count, generated_at = EXCLUDED.generated_at`,
		p.UserID, nodes, edges, p.Metadata.Algorithm, p.Metadata.NodeCount, p.Metadata.GeneratedAt)
	return err
}

func (s *PgProjectionStore) Get(ctx context.Context, userID string) (domain.GraphProjection, error) {
	row := s.pool.QueryRow(ctx, `
SELECT user_id, nodes, edges, algorithm, node_count, generated_at
FROM graph_projections WHERE user_id = $1`, userID)
	var p domain.GraphProjection
	var nodes, edges []byte
	if err := row.Scan(&p.UserID, &nodes, &edges, &p.Metadata.Algorithm,
		&p.Metadata.NodeCount, &p.Metadata.GeneratedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GraphProjection{}, persistence.ErrNotFound
		}
		return domain.GraphProjection{}, err
	}
	if err := json.Unmarshal(nodes, &p.Nodes); err != nil {
		return domain.GraphProjection{}, fmt.Errorf("unmarshal projection nodes: %w", err)
	}
	if err := json.Unmarshal(edges, &p.Edges); err != nil {
		return domain.GraphProjection{}, fmt.Errorf("unmarshal projection edges: %w", err)
	}
	return p, nil
}
