// Package kafka wraps the franz-go client for the two streams this service
// touches: inbound sensor readings and outbound alert events.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"gatepass/internal/platform/config"
)

// NewConsumer builds a group consumer for the given topics.
func NewConsumer(cfg config.Kafka, topics ...string) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	return kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
}

// NewProducer builds a plain producer client.
func NewProducer(cfg config.Kafka) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	return kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.AllowAutoTopicCreation(),
	)
}

// EnsureTopics creates the topics if the cluster does not have them yet.
// Already-existing topics are not an error.
func EnsureTopics(ctx context.Context, client *kgo.Client, topics ...string) error {
	adm := kadm.NewClient(client)
	resps, err := adm.CreateTopics(ctx, 1, 1, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, resp := range resps {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

// Handler processes one consumed record. Returning an error leaves the
// record uncommitted so it is redelivered.
type Handler func(ctx context.Context, record *kgo.Record) error

// Consume polls until ctx is cancelled, dispatching each record to handle
// and committing after each clean batch. Per-record failures are logged and
// skipped rather than wedging the partition; the payloads are telemetry, not
// transactions.
func Consume(ctx context.Context, client *kgo.Client, logger *slog.Logger, handle Handler) error {
	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			logger.ErrorContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})
		fetches.EachRecord(func(record *kgo.Record) {
			if err := handle(ctx, record); err != nil {
				logger.WarnContext(ctx, "record dropped",
					"topic", record.Topic,
					"offset", record.Offset,
					"error", err,
				)
			}
		})
		if err := client.CommitUncommittedOffsets(ctx); err != nil {
			logger.ErrorContext(ctx, "kafka commit failed", "error", err)
		}
	}
}
