package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/domain"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestPublisherRoutesToQueues(t *testing.T) {
	w := &captureWriter{}
	p := NewPublisherWithWriter(w)
	ctx := context.Background()

	require.NoError(t, p.PublishIngestionJob(ctx, domain.IngestionJob{ConversationID: "c1", UserID: "u1"}))
	require.NoError(t, p.PublishInsightJob(ctx, domain.InsightJob{UserID: "u1"}))
	require.NoError(t, p.PublishEmbeddingJob(ctx, domain.EmbeddingJob{EntityID: "e1", EntityType: domain.TypeConcept, TextContent: "t", UserID: "u1"}))
	ev := domain.EntityEvent{Type: domain.EventNewEntitiesCreated, UserID: "u1", Source: domain.SourceIngestion, Timestamp: time.Now()}
	require.NoError(t, p.PublishCardEvent(ctx, ev))
	require.NoError(t, p.PublishGraphEvent(ctx, ev))

	require.Len(t, w.msgs, 5)
	topics := make([]string, 0, len(w.msgs))
	for _, m := range w.msgs {
		topics = append(topics, m.Topic)
	}
	assert.Equal(t, []string{"ingestion", "insight", "embedding", "card", "graph"}, topics)
}

func TestPublisherEmbeddingJobWireShape(t *testing.T) {
	w := &captureWriter{}
	p := NewPublisherWithWriter(w)

	job := domain.EmbeddingJob{EntityID: "e1", EntityType: domain.TypeMemoryUnit, TextContent: "title\nbody", UserID: "u1"}
	require.NoError(t, p.PublishEmbeddingJob(context.Background(), job))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "e1", decoded["entityId"])
	assert.Equal(t, "MemoryUnit", decoded["entityType"])
	assert.Equal(t, "title\nbody", decoded["textContent"])
	assert.Equal(t, "u1", decoded["userId"])
	assert.Equal(t, "e1", string(w.msgs[0].Key))
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, b:9092 ,"))
	assert.Empty(t, ParseBrokers(""))
}
