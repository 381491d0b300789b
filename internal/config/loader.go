package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration from the environment plus optional .env files.
// Precedence: process env > .env.development > .env.local > .env > config.yaml
// > defaults. godotenv.Load never overrides variables that are already set,
// so loading the files most-specific-first yields exactly that order.
func Load() (Config, error) {
	_ = godotenv.Load(".env.development")
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := Config{}

	cfg.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))
	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))

	cfg.Postgres.DSN = firstNonEmpty(
		strings.TrimSpace(os.Getenv("DATABASE_URL")),
		strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
	)
	cfg.Neo4j.URI = strings.TrimSpace(os.Getenv("NEO4J_URI"))
	cfg.Neo4j.User = strings.TrimSpace(os.Getenv("NEO4J_USER"))
	cfg.Neo4j.Password = strings.TrimSpace(os.Getenv("NEO4J_PASSWORD"))
	cfg.Neo4j.Database = strings.TrimSpace(os.Getenv("NEO4J_DATABASE"))
	cfg.Qdrant.DSN = strings.TrimSpace(os.Getenv("QDRANT_DSN"))
	cfg.Qdrant.Collection = strings.TrimSpace(os.Getenv("QDRANT_COLLECTION"))
	if v := strings.TrimSpace(os.Getenv("QDRANT_DIMENSIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Qdrant.Dimensions = n
		}
	}
	cfg.Qdrant.Metric = strings.TrimSpace(os.Getenv("QDRANT_METRIC"))
	cfg.Redis.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.Redis.Password = strings.TrimSpace(os.Getenv("REDIS_PASSWORD"))
	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	cfg.Kafka.Brokers = firstNonEmpty(
		strings.TrimSpace(os.Getenv("JOB_BROKER_URL")),
		strings.TrimSpace(os.Getenv("KAFKA_BROKERS")),
	)
	cfg.Kafka.GroupID = strings.TrimSpace(os.Getenv("KAFKA_GROUP_ID"))

	cfg.LLM.Provider = strings.TrimSpace(os.Getenv("LLM_PROVIDER"))
	cfg.LLM.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.LLM.OpenAI.Model = firstNonEmpty(
		strings.TrimSpace(os.Getenv("LLM_CHAT_MODEL")),
		strings.TrimSpace(os.Getenv("OPENAI_MODEL")),
	)
	cfg.LLM.OpenAI.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	cfg.LLM.Anthropic.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.LLM.Anthropic.Model = firstNonEmpty(
		strings.TrimSpace(os.Getenv("LLM_FALLBACK_MODEL")),
		strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")),
	)
	cfg.LLM.Anthropic.BaseURL = strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
	if v := strings.TrimSpace(os.Getenv("LLM_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.TimeoutSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LLM_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LLM_FALLBACK_ON_RETRY")); v != "" {
		cfg.LLM.FallbackOnRetry = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv("LLM_MAX_TOKENS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxTokens = n
		}
	}

	cfg.Embedding.BaseURL = strings.TrimSpace(os.Getenv("EMBED_BASE_URL"))
	cfg.Embedding.Path = strings.TrimSpace(os.Getenv("EMBED_PATH"))
	cfg.Embedding.Model = strings.TrimSpace(os.Getenv("EMBED_MODEL"))
	cfg.Embedding.APIKey = strings.TrimSpace(os.Getenv("EMBED_API_KEY"))
	cfg.Embedding.APIHeader = strings.TrimSpace(os.Getenv("EMBED_API_HEADER"))
	if v := strings.TrimSpace(os.Getenv("EMBED_TIMEOUT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.TimeoutSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("EMBED_DIMENSIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimensions = n
		}
	}

	cfg.Reducer.URL = strings.TrimSpace(os.Getenv("REDUCER_URL"))
	cfg.Reducer.Algorithm = strings.TrimSpace(os.Getenv("REDUCER_DEFAULT_ALGORITHM"))
	if v := strings.TrimSpace(os.Getenv("REDUCER_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reducer.TimeoutSeconds = n
		}
	}

	cfg.Workers.IngestionConcurrency = envInt("INGESTION_CONCURRENCY", 0)
	cfg.Workers.InsightConcurrency = envInt("INSIGHT_CONCURRENCY", 0)
	cfg.Workers.CardConcurrency = envInt("CARD_CONCURRENCY", 0)
	cfg.Workers.GraphConcurrency = envInt("GRAPH_CONCURRENCY", 0)
	cfg.Workers.EmbeddingConcurrency = envInt("EMBEDDING_CONCURRENCY", 0)

	if v := strings.TrimSpace(os.Getenv("INGESTION_MIN_IMPORTANCE_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.IngestionMinImportanceThreshold = f
		}
	} else {
		cfg.IngestionMinImportanceThreshold = -1 // sentinel, default applied below
	}
	if v := strings.TrimSpace(os.Getenv("SEMANTIC_SIMILARITY_REUSE_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SimilarityReuseThreshold = f
		}
	}
	cfg.InsightCycleDurationDays = envInt("INSIGHT_CYCLE_DURATION_DAYS", 0)
	cfg.DrainTimeoutSeconds = envInt("DRAIN_TIMEOUT_SECONDS", 0)

	cfg.Obs.ServiceName = strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME"))
	cfg.Obs.ServiceVersion = strings.TrimSpace(os.Getenv("SERVICE_VERSION"))
	cfg.Obs.Environment = strings.TrimSpace(os.Getenv("ENVIRONMENT"))
	cfg.Obs.OTLP = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))

	if err := mergeYAML(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeYAML fills still-empty fields from an optional config.yaml. The file is
// an overlay beneath the environment, never above it.
func mergeYAML(cfg *Config) error {
	path := strings.TrimSpace(os.Getenv("MNEMO_CONFIG"))
	paths := []string{"config.yaml", "config.yml"}
	if path != "" {
		paths = []string{path}
	}
	var data []byte
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data = b
			break
		}
		if os.IsNotExist(err) {
			continue
		}
		return fmt.Errorf("read %s: %w", p, err)
	}
	if len(data) == 0 {
		return nil
	}
	type yamlFile struct {
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
		Neo4j struct {
			URI      string `yaml:"uri"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Database string `yaml:"database"`
		} `yaml:"neo4j"`
		Qdrant struct {
			DSN        string `yaml:"dsn"`
			Collection string `yaml:"collection"`
			Dimensions int    `yaml:"dimensions"`
			Metric     string `yaml:"metric"`
		} `yaml:"qdrant"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers string `yaml:"brokers"`
			GroupID string `yaml:"groupID"`
		} `yaml:"kafka"`
		Reducer struct {
			URL       string `yaml:"url"`
			Algorithm string `yaml:"algorithm"`
		} `yaml:"reducer"`
	}
	var y yamlFile
	if err := yaml.Unmarshal(data, &y); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		cfg.Postgres.DSN = y.Postgres.DSN
	}
	if cfg.Neo4j.URI == "" {
		cfg.Neo4j.URI = y.Neo4j.URI
	}
	if cfg.Neo4j.User == "" {
		cfg.Neo4j.User = y.Neo4j.User
	}
	if cfg.Neo4j.Password == "" {
		cfg.Neo4j.Password = y.Neo4j.Password
	}
	if cfg.Neo4j.Database == "" {
		cfg.Neo4j.Database = y.Neo4j.Database
	}
	if cfg.Qdrant.DSN == "" {
		cfg.Qdrant.DSN = y.Qdrant.DSN
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = y.Qdrant.Collection
	}
	if cfg.Qdrant.Dimensions == 0 {
		cfg.Qdrant.Dimensions = y.Qdrant.Dimensions
	}
	if cfg.Qdrant.Metric == "" {
		cfg.Qdrant.Metric = y.Qdrant.Metric
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = y.Redis.Addr
	}
	if cfg.Redis.Password == "" {
		cfg.Redis.Password = y.Redis.Password
	}
	if cfg.Redis.DB == 0 {
		cfg.Redis.DB = y.Redis.DB
	}
	if cfg.Kafka.Brokers == "" {
		cfg.Kafka.Brokers = y.Kafka.Brokers
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = y.Kafka.GroupID
	}
	if cfg.Reducer.URL == "" {
		cfg.Reducer.URL = y.Reducer.URL
	}
	if cfg.Reducer.Algorithm == "" {
		cfg.Reducer.Algorithm = y.Reducer.Algorithm
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Kafka.Brokers == "" {
		cfg.Kafka.Brokers = "localhost:9092"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "mnemo-pipeline"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Neo4j.URI == "" {
		cfg.Neo4j.URI = "neo4j://localhost:7687"
	}
	if cfg.Qdrant.DSN == "" {
		cfg.Qdrant.DSN = "http://localhost:6334"
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "mnemo_entities"
	}
	if cfg.Qdrant.Dimensions == 0 {
		cfg.Qdrant.Dimensions = 1536
	}
	if cfg.Qdrant.Metric == "" {
		cfg.Qdrant.Metric = "cosine"
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if provider == "" {
		provider = "openai"
	}
	cfg.LLM.Provider = provider
	if cfg.LLM.OpenAI.Model == "" {
		cfg.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Anthropic.Model == "" {
		cfg.LLM.Anthropic.Model = "claude-3-5-haiku-latest"
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = 60
	}
	if cfg.LLM.MaxAttempts <= 0 {
		cfg.LLM.MaxAttempts = 3
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = 8192
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com"
	}
	if cfg.Embedding.Path == "" {
		cfg.Embedding.Path = "/v1/embeddings"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.APIHeader == "" {
		cfg.Embedding.APIHeader = "Authorization"
	}
	if cfg.Embedding.TimeoutSeconds <= 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = cfg.Qdrant.Dimensions
	}
	if cfg.Reducer.URL == "" {
		cfg.Reducer.URL = "http://localhost:8000"
	}
	if cfg.Reducer.Algorithm == "" {
		cfg.Reducer.Algorithm = "umap"
	}
	if cfg.Reducer.TimeoutSeconds <= 0 {
		cfg.Reducer.TimeoutSeconds = 60
	}
	if cfg.Workers.IngestionConcurrency <= 0 {
		cfg.Workers.IngestionConcurrency = 2
	}
	if cfg.Workers.InsightConcurrency <= 0 {
		cfg.Workers.InsightConcurrency = 1
	}
	if cfg.Workers.CardConcurrency <= 0 {
		cfg.Workers.CardConcurrency = 5
	}
	if cfg.Workers.GraphConcurrency <= 0 {
		cfg.Workers.GraphConcurrency = 2
	}
	if cfg.Workers.EmbeddingConcurrency <= 0 {
		cfg.Workers.EmbeddingConcurrency = 4
	}
	if cfg.IngestionMinImportanceThreshold < 0 {
		cfg.IngestionMinImportanceThreshold = 1
	}
	if cfg.SimilarityReuseThreshold <= 0 {
		cfg.SimilarityReuseThreshold = 0.8
	}
	if cfg.InsightCycleDurationDays <= 0 {
		cfg.InsightCycleDurationDays = 2
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = 30
	}
	if cfg.Obs.ServiceName == "" {
		cfg.Obs.ServiceName = "mnemo"
	}
	if cfg.Obs.Environment == "" {
		cfg.Obs.Environment = "dev"
	}
}

func validate(cfg *Config) error {
	if cfg.Postgres.DSN == "" {
		return errors.New("DATABASE_URL is required (set in .env or environment)")
	}
	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.OpenAI.APIKey == "" {
			return errors.New("OPENAI_API_KEY is required for llm provider openai")
		}
	case "anthropic":
		if cfg.LLM.Anthropic.APIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required for llm provider anthropic")
		}
	default:
		return fmt.Errorf("llm provider must be openai or anthropic (got %q)", cfg.LLM.Provider)
	}
	if cfg.SimilarityReuseThreshold <= 0 || cfg.SimilarityReuseThreshold > 1 {
		return fmt.Errorf("similarity reuse threshold must be in (0,1] (got %v)", cfg.SimilarityReuseThreshold)
	}
	return nil
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func truthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
