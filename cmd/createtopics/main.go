package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"mnemo/internal/broker"
	"mnemo/internal/config"
	"mnemo/internal/observability"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("createtopics")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	brokers := broker.ParseBrokers(cfg.Kafka.Brokers)
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := broker.CheckBrokers(ctx, brokers, 5*time.Second); err != nil {
		return fmt.Errorf("reach kafka brokers: %w", err)
	}
	if err := broker.EnsureQueues(ctx, brokers); err != nil {
		return err
	}
	log.Info().Strs("queues", broker.Queues()).Msg("queues ready")
	return nil
}
