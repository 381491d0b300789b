package broker

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/segmentio/kafka-go"

	"mnemo/internal/domain"
	"mnemo/internal/observability"
)

// Queues lists every topic the pipeline consumes or produces.
func Queues() []string {
	return []string{
		domain.QueueIngestion,
		domain.QueueInsight,
		domain.QueueCard,
		domain.QueueGraph,
		domain.QueueEmbedding,
	}
}

// CheckBrokers attempts to dial the provided brokers to verify reachability.
func CheckBrokers(ctx context.Context, brokers []string, timeout time.Duration) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers provided")
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		for _, b := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", b)
			if err == nil {
				_ = conn.Close()
				return nil
			}
			lastErr = err
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to reach any broker within %s: last error: %v", timeout, lastErr)
}

// EnsureQueues creates each pipeline topic that does not already exist, using
// the cluster controller.
func EnsureQueues(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers provided")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}
	controllerAddr := net.JoinHostPort(controller.Host, fmt.Sprint(controller.Port))

	ctrlConn, err := kafka.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		return fmt.Errorf("failed to dial controller %s: %w", controllerAddr, err)
	}
	defer ctrlConn.Close()

	log := observability.LoggerWithTrace(ctx)
	for _, queue := range Queues() {
		parts, err := ctrlConn.ReadPartitions(queue)
		if err != nil {
			log.Warn().Err(err).Str("queue", queue).Msg("read partitions")
		}
		if len(parts) > 0 {
			continue
		}
		cfg := kafka.TopicConfig{Topic: queue, NumPartitions: 1, ReplicationFactor: 1}
		if err := ctrlConn.CreateTopics(cfg); err != nil {
			return fmt.Errorf("create topic %s: %w", queue, err)
		}
		log.Info().Str("queue", queue).Msg("created topic")
	}
	return nil
}
