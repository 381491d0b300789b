package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"mnemo/internal/broker"
	"mnemo/internal/cache"
	"mnemo/internal/config"
	"mnemo/internal/domain"
	"mnemo/internal/embedder"
	"mnemo/internal/llm"
	"mnemo/internal/observability"
	"mnemo/internal/persistence/databases"
	"mnemo/internal/reducer"
	"mnemo/internal/similarity"
	"mnemo/internal/synthesis"
	"mnemo/internal/workers"
)

func main() {
	workerFlag := flag.String("worker", "all", "comma-separated workers to run: ingestion,insight,card,graph,embedding or all")
	flag.Parse()
	if err := run(*workerFlag); err != nil {
		log.Fatal().Err(err).Msg("pipelined")
	}
}

func run(workerFlag string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	baseCtx := context.Background()

	selected := map[string]bool{}
	for _, w := range strings.Split(workerFlag, ",") {
		w = strings.TrimSpace(strings.ToLower(w))
		if w != "" {
			selected[w] = true
		}
	}
	if selected["all"] {
		for _, w := range []string{"ingestion", "insight", "card", "graph", "embedding"} {
			selected[w] = true
		}
	}

	if shutdown, err := observability.InitOTel(baseCtx, cfg.Obs); err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without tracing")
	} else {
		defer func() { _ = shutdown(context.Background()) }()
	}

	brokers := broker.ParseBrokers(cfg.Kafka.Brokers)
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}

	pool, err := databases.OpenPool(baseCtx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	defer pool.Close()

	conversations := databases.NewPostgresConversationStore(pool)
	users := databases.NewPostgresUserStore(pool)
	knowledge := databases.NewPostgresKnowledgeStore(pool)
	insights := databases.NewPostgresInsightStore(pool)
	cycles := databases.NewPostgresCycleStore(pool)
	cards := databases.NewPostgresCardStore(pool)
	projections := databases.NewPostgresProjectionStore(pool)
	for name, init := range map[string]func(context.Context) error{
		"conversations": conversations.Init,
		"users":         users.Init,
		"knowledge":     knowledge.Init,
		"insights":      insights.Init,
		"cycles":        cycles.Init,
		"cards":         cards.Init,
		"projections":   projections.Init,
	} {
		if err := init(baseCtx); err != nil {
			return fmt.Errorf("init %s store: %w", name, err)
		}
	}

	graph, err := databases.NewNeo4jGraphStore(baseCtx, cfg.Neo4j)
	if err != nil {
		return fmt.Errorf("init neo4j: %w", err)
	}
	defer func() {
		if cerr := graph.Close(context.Background()); cerr != nil {
			log.Error().Err(cerr).Msg("error closing neo4j driver")
		}
	}()

	vectors, err := databases.NewQdrantVector(cfg.Qdrant)
	if err != nil {
		return fmt.Errorf("init qdrant: %w", err)
	}
	defer func() {
		if cerr := vectors.Close(context.Background()); cerr != nil {
			log.Error().Err(cerr).Msg("error closing qdrant client")
		}
	}()

	cacheClient, err := cache.NewClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer func() {
		if cerr := cacheClient.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("error closing redis client")
		}
	}()

	publisher := broker.NewPublisher(brokers)
	defer func() {
		if cerr := publisher.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("error closing producer")
		}
	}()

	retrier := buildRetrier(cfg.LLM)
	embedClient := embedder.NewClient(cfg.Embedding)
	reduceClient := reducer.NewClient(cfg.Reducer)
	sim := &similarity.Service{Embedder: embedClient, Vectors: vectors, Cache: cacheClient}

	ingestionWorker := &workers.IngestionWorker{
		Conversations:       conversations,
		Users:               users,
		Knowledge:           knowledge,
		Graph:               graph,
		Synthesizer:         &synthesis.Holistic{LLM: retrier, Cache: cacheClient, MaxTokens: cfg.LLM.MaxTokens},
		Similarity:          sim,
		Publisher:           publisher,
		Locks:               cacheClient,
		ImportanceThreshold: cfg.IngestionMinImportanceThreshold,
		ReuseThreshold:      cfg.SimilarityReuseThreshold,
	}
	insightWorker := &workers.InsightWorker{
		Users:             users,
		Conversations:     conversations,
		Knowledge:         knowledge,
		Insights:          insights,
		Cycles:            cycles,
		Graph:             graph,
		Vectors:           vectors,
		Synthesizer:       &synthesis.Strategic{LLM: retrier, Cache: cacheClient, MaxTokens: cfg.LLM.MaxTokens},
		Publisher:         publisher,
		CycleDurationDays: cfg.InsightCycleDurationDays,
	}
	cardWorker := &workers.CardWorker{Cards: cards}
	projectionWorker := &workers.ProjectionWorker{
		Graph:       graph,
		Vectors:     vectors,
		Reducer:     reduceClient,
		Projections: projections,
	}
	embeddingWorker := &workers.EmbeddingWorker{Embedder: embedClient, Vectors: vectors}

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ctxAdmin, cancelAdmin := context.WithTimeout(baseCtx, 5*time.Second)
	defer cancelAdmin()
	if err := broker.CheckBrokers(ctxAdmin, brokers, 3*time.Second); err != nil {
		return fmt.Errorf("reach kafka brokers: %w", err)
	}
	if err := broker.EnsureQueues(ctxAdmin, brokers); err != nil {
		return fmt.Errorf("ensure queues: %w", err)
	}

	type consumerSpec struct {
		queue       string
		concurrency int
		handler     broker.Handler
	}
	specs := map[string]consumerSpec{
		"ingestion": {domain.QueueIngestion, cfg.Workers.IngestionConcurrency, ingestionWorker.Handle},
		"insight":   {domain.QueueInsight, cfg.Workers.InsightConcurrency, insightWorker.Handle},
		"card":      {domain.QueueCard, cfg.Workers.CardConcurrency, cardWorker.Handle},
		"graph":     {domain.QueueGraph, cfg.Workers.GraphConcurrency, projectionWorker.Handle},
		"embedding": {domain.QueueEmbedding, cfg.Workers.EmbeddingConcurrency, embeddingWorker.Handle},
	}

	g := new(errgroup.Group)
	running := 0
	for name, spec := range specs {
		if !selected[name] {
			continue
		}
		name, spec := name, spec
		running++
		log.Info().Str("worker", name).Str("queue", spec.queue).Int("concurrency", spec.concurrency).Msg("starting worker")
		g.Go(func() error {
			return broker.Consume(ctx, brokers, cfg.Kafka.GroupID, spec.queue, spec.concurrency, spec.handler)
		})
	}
	if running == 0 {
		return fmt.Errorf("no workers selected (flag was %q)", workerFlag)
	}

	// Wait for all consumers; after a shutdown signal, give in-flight jobs
	// the drain timeout before giving up on them.
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-ctx.Done():
		drain := time.Duration(cfg.DrainTimeoutSeconds) * time.Second
		log.Info().Dur("drain", drain).Msg("shutdown signal received, draining")
		select {
		case <-done:
		case <-time.After(drain):
			log.Warn().Msg("drain timeout exceeded, aborting in-flight jobs")
		}
	}

	log.Info().Msg("pipelined stopped")
	return nil
}

// buildRetrier wires the primary provider and, when configured, the fallback
// model used from the second attempt on.
func buildRetrier(cfg config.LLMConfig) *llm.Retrier {
	var primary, fallback llm.Provider
	switch cfg.Provider {
	case "anthropic":
		primary = llm.NewAnthropicProvider(cfg.Anthropic)
		if cfg.FallbackOnRetry && cfg.OpenAI.APIKey != "" {
			fallback = llm.NewOpenAIProvider(cfg.OpenAI)
		}
	default:
		primary = llm.NewOpenAIProvider(cfg.OpenAI)
		if cfg.FallbackOnRetry && cfg.Anthropic.APIKey != "" {
			fallback = llm.NewAnthropicProvider(cfg.Anthropic)
		}
	}
	return &llm.Retrier{
		Primary:     primary,
		Fallback:    fallback,
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}
