package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"mnemo/internal/domain"
)

// Writer abstracts the kafka writer behavior needed by the publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher enqueues jobs and events onto the named queues. Enqueue failures
// are the caller's to log; the publisher never retries (broker outages do not
// roll back committed entities).
type Publisher struct {
	writer Writer
}

// NewPublisher builds a publisher over the given brokers. Topic is left empty
// on the writer so individual messages carry their own queue name.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{writer: kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.LeastBytes{},
	})}
}

// NewPublisherWithWriter is the test seam.
func NewPublisherWithWriter(w Writer) *Publisher {
	return &Publisher{writer: w}
}

func (p *Publisher) publish(ctx context.Context, queue, key string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", queue, err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Topic: queue, Key: []byte(key), Value: b})
}

func (p *Publisher) PublishIngestionJob(ctx context.Context, job domain.IngestionJob) error {
	return p.publish(ctx, domain.QueueIngestion, job.ConversationID, job)
}

func (p *Publisher) PublishInsightJob(ctx context.Context, job domain.InsightJob) error {
	return p.publish(ctx, domain.QueueInsight, job.UserID, job)
}

func (p *Publisher) PublishEmbeddingJob(ctx context.Context, job domain.EmbeddingJob) error {
	return p.publish(ctx, domain.QueueEmbedding, job.EntityID, job)
}

func (p *Publisher) PublishCardEvent(ctx context.Context, ev domain.EntityEvent) error {
	return p.publish(ctx, domain.QueueCard, ev.UserID, ev)
}

func (p *Publisher) PublishGraphEvent(ctx context.Context, ev domain.EntityEvent) error {
	return p.publish(ctx, domain.QueueGraph, ev.UserID, ev)
}

func (p *Publisher) Close() error {
	if c, ok := p.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(csv string) []string {
	var out []string
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}
