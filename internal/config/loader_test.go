package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/mnemo")
	t.Setenv("OPENAI_API_KEY", "test-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1.0, cfg.IngestionMinImportanceThreshold)
	assert.Equal(t, 0.8, cfg.SimilarityReuseThreshold)
	assert.Equal(t, 2, cfg.InsightCycleDurationDays)
	assert.Equal(t, "umap", cfg.Reducer.Algorithm)
	assert.Equal(t, 60, cfg.LLM.TimeoutSeconds)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.Equal(t, "openai", cfg.LLM.Provider)

	assert.Equal(t, 2, cfg.Workers.IngestionConcurrency)
	assert.Equal(t, 1, cfg.Workers.InsightConcurrency)
	assert.Equal(t, 5, cfg.Workers.CardConcurrency)
	assert.Equal(t, 2, cfg.Workers.GraphConcurrency)
	assert.Equal(t, 4, cfg.Workers.EmbeddingConcurrency)
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("INGESTION_MIN_IMPORTANCE_THRESHOLD", "3")
	t.Setenv("SEMANTIC_SIMILARITY_REUSE_THRESHOLD", "0.9")
	t.Setenv("INSIGHT_CYCLE_DURATION_DAYS", "7")
	t.Setenv("REDUCER_DEFAULT_ALGORITHM", "pca")
	t.Setenv("INGESTION_CONCURRENCY", "6")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.IngestionMinImportanceThreshold)
	assert.Equal(t, 0.9, cfg.SimilarityReuseThreshold)
	assert.Equal(t, 7, cfg.InsightCycleDurationDays)
	assert.Equal(t, "pca", cfg.Reducer.Algorithm)
	assert.Equal(t, 6, cfg.Workers.IngestionConcurrency)
}

func TestLoadZeroThresholdStaysZero(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("INGESTION_MIN_IMPORTANCE_THRESHOLD", "0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.IngestionMinImportanceThreshold)
}

func TestLoadRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("OPENAI_API_KEY", "test-key")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadRequiresProviderKey(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/mnemo")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LLM_PROVIDER", "mainframe")
	_, err := Load()
	require.Error(t, err)
}
