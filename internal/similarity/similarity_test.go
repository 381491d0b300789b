package similarity_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/domain"
	"mnemo/internal/persistence"
	"mnemo/internal/similarity"
	"mnemo/internal/testhelpers"
)

func TestBestMatchesReturnsTopHit(t *testing.T) {
	vectors := testhelpers.NewFakeVectorStore()
	vectors.NextResults = []persistence.VectorResult{
		{EntityID: "existing-1", Score: 0.86},
	}
	svc := &similarity.Service{Embedder: &testhelpers.FakeEmbedder{}, Vectors: vectors}

	matches, err := svc.BestMatches(context.Background(), "u1", domain.TypeConcept, []string{"fitness goals"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].Found)
	assert.Equal(t, "existing-1", matches[0].EntityID)
	assert.InDelta(t, 0.86, matches[0].SimilarityScore, 1e-9)
}

func TestBestMatchesNoHit(t *testing.T) {
	svc := &similarity.Service{Embedder: &testhelpers.FakeEmbedder{}, Vectors: testhelpers.NewFakeVectorStore()}
	matches, err := svc.BestMatches(context.Background(), "u1", domain.TypeMemoryUnit, []string{"brand new idea"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.False(t, matches[0].Found)
}

func TestBestMatchesEmbedFailureDegradesToNew(t *testing.T) {
	svc := &similarity.Service{
		Embedder: &testhelpers.FakeEmbedder{Err: fmt.Errorf("embedding service unavailable")},
		Vectors:  testhelpers.NewFakeVectorStore(),
	}
	matches, err := svc.BestMatches(context.Background(), "u1", domain.TypeConcept, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.False(t, m.Found)
	}
}

type memoryEmbeddingCache struct {
	store map[string][]float32
	hits  int
}

func (c *memoryEmbeddingCache) GetSharedEmbedding(_ context.Context, userID, phrase string) ([]float32, error) {
	v, ok := c.store[userID+":"+phrase]
	if ok {
		c.hits++
	}
	return v, nil
}

func (c *memoryEmbeddingCache) SetSharedEmbedding(_ context.Context, userID, phrase string, vec []float32, _ time.Duration) error {
	c.store[userID+":"+phrase] = vec
	return nil
}

func TestBestMatchesSharesEmbeddingsViaCache(t *testing.T) {
	embed := &testhelpers.FakeEmbedder{}
	cache := &memoryEmbeddingCache{store: map[string][]float32{}}
	svc := &similarity.Service{Embedder: embed, Vectors: testhelpers.NewFakeVectorStore(), Cache: cache}

	_, err := svc.BestMatches(context.Background(), "u1", domain.TypeConcept, []string{"fitness goals"})
	require.NoError(t, err)
	_, err = svc.BestMatches(context.Background(), "u1", domain.TypeConcept, []string{"fitness goals"})
	require.NoError(t, err)

	assert.Len(t, embed.Calls, 1, "second lookup should come from the cache")
	assert.Equal(t, 1, cache.hits)
}

func TestBestMatchesRequiresUserID(t *testing.T) {
	svc := &similarity.Service{Embedder: &testhelpers.FakeEmbedder{}, Vectors: testhelpers.NewFakeVectorStore()}
	_, err := svc.BestMatches(context.Background(), "", domain.TypeConcept, []string{"a"})
	require.Error(t, err)
}
