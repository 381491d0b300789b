package config

// Config is the process-wide configuration snapshot. It is loaded once by
// Load and treated as read-only afterwards.
type Config struct {
	LogPath  string
	LogLevel string

	Postgres  PostgresConfig
	Neo4j     Neo4jConfig
	Qdrant    QdrantConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Reducer   ReducerConfig
	Workers   WorkersConfig
	Obs       ObsConfig

	// IngestionMinImportanceThreshold gates entity creation per conversation.
	IngestionMinImportanceThreshold float64
	// SimilarityReuseThreshold is the semantic-dedup score above which an
	// existing entity is reused instead of created.
	SimilarityReuseThreshold float64
	// InsightCycleDurationDays is the lookback window of an insight cycle.
	InsightCycleDurationDays int
	// DrainTimeoutSeconds bounds the graceful-shutdown wait for in-flight jobs.
	DrainTimeoutSeconds int
}

type PostgresConfig struct {
	DSN string
}

type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
}

type QdrantConfig struct {
	DSN        string
	Collection string
	Dimensions int
	Metric     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers string
	GroupID string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type LLMConfig struct {
	Provider       string // "openai" | "anthropic"
	OpenAI         OpenAIConfig
	Anthropic      AnthropicConfig
	TimeoutSeconds int
	MaxAttempts    int
	// FallbackOnRetry switches to the secondary provider after the first
	// transient failure.
	FallbackOnRetry bool
	MaxTokens       int
}

type EmbeddingConfig struct {
	BaseURL        string
	Path           string
	Model          string
	APIKey         string
	APIHeader      string
	TimeoutSeconds int
	Dimensions     int
}

type ReducerConfig struct {
	URL            string
	Algorithm      string
	TimeoutSeconds int
}

type WorkersConfig struct {
	IngestionConcurrency int
	InsightConcurrency   int
	CardConcurrency      int
	GraphConcurrency     int
	EmbeddingConcurrency int
}

type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string
}
