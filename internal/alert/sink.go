package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"gatepass/internal/domain"
)

// Sink receives every open and resolved alert event. Broadcast mechanics
// (SMS, PA systems, dashboards) live behind external consumers of the sinks.
type Sink interface {
	Publish(ctx context.Context, event domain.AlertEvent) error
}

// LogSink writes alert events to the structured log. Always wired; it is the
// floor for observability when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, event domain.AlertEvent) error {
	level := slog.LevelWarn
	if event.Resolved {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "alert event",
		"alert_id", event.Alert.ID,
		"type", event.Alert.Type,
		"severity", event.Alert.Severity,
		"zone_id", event.Alert.ZoneID,
		"resolved", event.Resolved,
		"message", event.Alert.Message,
	)
	return nil
}

// KafkaSink publishes alert events to the alerts topic, keyed by dedup key so
// one alert's lifecycle stays in partition order.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

func NewKafkaSink(client *kgo.Client, topic string) *KafkaSink {
	return &KafkaSink{client: client, topic: topic}
}

func (s *KafkaSink) Publish(ctx context.Context, event domain.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.Alert.DedupKey),
		Value: payload,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce alert event: %w", err)
	}
	return nil
}
