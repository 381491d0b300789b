package workers

import (
	"context"
	"time"

	"mnemo/internal/domain"
	"mnemo/internal/similarity"
	"mnemo/internal/synthesis"
)

// EventPublisher is the fan-out surface. *broker.Publisher satisfies it.
// Publish failures never roll back committed entities; callers log and move on.
type EventPublisher interface {
	PublishEmbeddingJob(ctx context.Context, job domain.EmbeddingJob) error
	PublishCardEvent(ctx context.Context, ev domain.EntityEvent) error
	PublishGraphEvent(ctx context.Context, ev domain.EntityEvent) error
}

// ConversationLocks serializes ingestion per conversation and clears the
// frontend's timeout marker. *cache.Client satisfies it.
type ConversationLocks interface {
	AcquireIngestionLock(ctx context.Context, userID, conversationID string, ttl time.Duration) (bool, error)
	ReleaseIngestionLock(ctx context.Context, userID, conversationID string)
	ClearConversationTimeout(ctx context.Context, userID, conversationID string)
}

// HolisticSynthesizer runs the per-conversation synthesis capability.
type HolisticSynthesizer interface {
	Synthesize(ctx context.Context, in synthesis.HolisticInput) (synthesis.HolisticResult, error)
}

// StrategicSynthesizer runs the per-cycle synthesis capability.
type StrategicSynthesizer interface {
	Synthesize(ctx context.Context, in synthesis.StrategicInput) (synthesis.StrategicResult, error)
}

// SimilarityResolver answers semantic-dedup queries.
type SimilarityResolver interface {
	BestMatches(ctx context.Context, userID string, entityType domain.EntityType, candidates []string) ([]similarity.Match, error)
}

// Embedder produces one vector per text. *embedder.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reducer maps vectors to 3D coordinates. *reducer.Client satisfies it.
type Reducer interface {
	Algorithm() string
	Reduce(ctx context.Context, vectors [][]float32) ([]domain.Position, error)
}
