package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"mnemo/internal/observability"
)

// Handler processes one raw queue message. Any returned error is terminal for
// that job: queues run with attempts=1, so the offset is committed either way.
// LLM retries live inside the synthesis boundary, and data errors are
// deterministic — re-delivery would only repeat the failure.
type Handler func(ctx context.Context, payload []byte) error

// Consume reads the given queue and processes messages with a pool of
// workerCount goroutines. It returns when ctx is canceled and all in-flight
// jobs have drained.
func Consume(ctx context.Context, brokers []string, groupID, queue string, workerCount int, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID + "-" + queue,
		Topic:    queue,
		MinBytes: 1,
		MaxBytes: 10e6, // ~10MB
	})
	defer func() {
		if err := reader.Close(); err != nil {
			observability.LoggerWithTrace(ctx).Error().Err(err).Str("queue", queue).Msg("error closing reader")
		}
	}()

	if workerCount <= 0 {
		workerCount = 1
	}
	jobs := make(chan kafka.Message, workerCount*4)

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			for msg := range jobs {
				if err := handler(ctx, msg.Value); err != nil {
					observability.LoggerWithTrace(ctx).Error().Err(err).
						Str("queue", queue).
						Int("partition", msg.Partition).
						Int64("offset", msg.Offset).
						Msg("job failed (not retried)")
				}
				// Commit regardless of outcome: jobs are attempted once.
				if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
					observability.LoggerWithTrace(ctx).Error().Err(err).
						Str("queue", queue).
						Int64("offset", msg.Offset).
						Msg("commit failed")
				}
			}
		}()
	}

	// Reader loop: fetch messages and enqueue into the jobs channel.
	go func() {
		defer close(jobs)
		for {
			if ctx.Err() != nil {
				return
			}
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				observability.LoggerWithTrace(ctx).Warn().Err(err).Str("queue", queue).Msg("fetch error")
				t := time.NewTimer(500 * time.Millisecond)
				select {
				case <-t.C:
				case <-ctx.Done():
					if !t.Stop() {
						<-t.C
					}
					return
				}
				continue
			}
			select {
			case jobs <- m:
			case <-ctx.Done():
				// Not committed; the message is re-fetched after restart.
				return
			}
		}
	}()

	wg.Wait()
	return ctx.Err()
}
