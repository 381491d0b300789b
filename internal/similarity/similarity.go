package similarity

import (
	"context"
	"fmt"
	"time"

	"mnemo/internal/domain"
	"mnemo/internal/observability"
	"mnemo/internal/persistence"
)

const embeddingCacheTTL = time.Hour

// Embedder produces one vector for a candidate phrase.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingCache is the user-scoped shared-embedding cache. *cache.Client
// satisfies it.
type EmbeddingCache interface {
	GetSharedEmbedding(ctx context.Context, userID, phrase string) ([]float32, error)
	SetSharedEmbedding(ctx context.Context, userID, phrase string, vec []float32, ttl time.Duration) error
}

// Match is the best existing entity for one candidate, if any.
type Match struct {
	CandidateName   string
	EntityID        string
	SimilarityScore float64
	Found           bool
}

// Service answers "does this user already have an entity like this?" by
// embedding the candidate phrase and searching the user's vectors.
type Service struct {
	Embedder Embedder
	Vectors  persistence.VectorStore
	// Cache is optional; when set, candidate embeddings are shared across
	// jobs of the same user.
	Cache EmbeddingCache
}

func (s *Service) embed(ctx context.Context, userID, phrase string) ([]float32, error) {
	if s.Cache != nil {
		if vec, err := s.Cache.GetSharedEmbedding(ctx, userID, phrase); err == nil && vec != nil {
			return vec, nil
		}
	}
	vec, err := s.Embedder.Embed(ctx, phrase)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		_ = s.Cache.SetSharedEmbedding(ctx, userID, phrase, vec, embeddingCacheTTL)
	}
	return vec, nil
}

// BestMatches resolves each candidate against the user's existing entities of
// the given type. A candidate that cannot be embedded or searched yields a
// not-found match rather than failing the batch; dedup degrading to "create
// new" is always safe.
func (s *Service) BestMatches(ctx context.Context, userID string, entityType domain.EntityType, candidates []string) ([]Match, error) {
	if userID == "" {
		return nil, fmt.Errorf("similarity search requires user id")
	}
	out := make([]Match, 0, len(candidates))
	for _, name := range candidates {
		m := Match{CandidateName: name}
		vec, err := s.embed(ctx, userID, name)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("candidate", name).Msg("candidate embedding failed, treating as new")
			out = append(out, m)
			continue
		}
		hits, err := s.Vectors.SimilaritySearch(ctx, userID, vec, entityType, 1)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("candidate", name).Msg("similarity search failed, treating as new")
			out = append(out, m)
			continue
		}
		if len(hits) > 0 {
			m.EntityID = hits[0].EntityID
			m.SimilarityScore = hits[0].Score
			m.Found = true
		}
		out = append(out, m)
	}
	return out, nil
}
