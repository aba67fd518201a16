package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"gatepass/internal/platform/kafka"
)

// Consumer feeds the gateway from the sensor readings topic.
type Consumer struct {
	client  *kgo.Client
	gateway *Gateway
	logger  *slog.Logger
}

func NewConsumer(client *kgo.Client, gateway *Gateway, logger *slog.Logger) *Consumer {
	return &Consumer{client: client, gateway: gateway, logger: logger}
}

// Run consumes until ctx is cancelled. Malformed or incomplete records are
// logged and skipped by the underlying loop; a telemetry stream must never
// wedge on one bad record.
func (c *Consumer) Run(ctx context.Context) error {
	return kafka.Consume(ctx, c.client, c.logger, func(ctx context.Context, record *kgo.Record) error {
		var raw RawReading
		if err := json.Unmarshal(record.Value, &raw); err != nil {
			return err
		}
		_, err := c.gateway.Ingest(ctx, raw)
		return err
	})
}
