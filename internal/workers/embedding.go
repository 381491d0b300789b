package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"mnemo/internal/domain"
	"mnemo/internal/observability"
	"mnemo/internal/persistence"
)

// EmbeddingWorker produces and stores a vector for each textual entity.
type EmbeddingWorker struct {
	Embedder Embedder
	Vectors  persistence.VectorStore
}

func (w *EmbeddingWorker) Handle(ctx context.Context, payload []byte) error {
	var job domain.EmbeddingJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decode embedding job: %w", err)
	}
	if job.EntityID == "" || job.UserID == "" {
		return fmt.Errorf("embedding job missing entity or user id")
	}
	return w.Process(ctx, job)
}

func (w *EmbeddingWorker) Process(ctx context.Context, job domain.EmbeddingJob) error {
	vector, err := w.Embedder.Embed(ctx, job.TextContent)
	if err != nil {
		return fmt.Errorf("embed entity %s: %w", job.EntityID, err)
	}
	err = w.Vectors.Upsert(ctx, persistence.VectorRecord{
		EntityID:   job.EntityID,
		UserID:     job.UserID,
		EntityType: job.EntityType,
		Vector:     vector,
		Status:     string(domain.ConceptActive),
	})
	if err != nil {
		return fmt.Errorf("upsert vector %s: %w", job.EntityID, err)
	}
	observability.LoggerWithTrace(ctx).Debug().
		Str("entity_id", job.EntityID).
		Str("entity_type", string(job.EntityType)).
		Int("dimensions", len(vector)).
		Msg("embedding stored")
	return nil
}
