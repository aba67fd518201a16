package alert

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"gatepass/internal/domain"
	"gatepass/internal/platform/redis"
)

const openAlertPrefix = "alert:open:"

// RedisOpenAlertStore shares the open-alert set across instances, so two
// alert engines evaluating the same zones do not both emit.
type RedisOpenAlertStore struct {
	client *redis.Client
}

func NewRedisOpenAlertStore(client *redis.Client) *RedisOpenAlertStore {
	return &RedisOpenAlertStore{client: client}
}

func (s *RedisOpenAlertStore) TryOpen(ctx context.Context, alert domain.Alert) (bool, error) {
	payload, err := json.Marshal(alert)
	if err != nil {
		return false, fmt.Errorf("marshal alert: %w", err)
	}
	opened, err := s.client.SetNX(ctx, openAlertPrefix+alert.DedupKey, payload, 0).Result()
	if err != nil {
		return false, fmt.Errorf("open alert %s: %w", alert.DedupKey, err)
	}
	return opened, nil
}

func (s *RedisOpenAlertStore) Resolve(ctx context.Context, dedupKey string) (*domain.Alert, error) {
	payload, err := s.client.GetDel(ctx, openAlertPrefix+dedupKey).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve alert %s: %w", dedupKey, err)
	}
	var alert domain.Alert
	if err := json.Unmarshal(payload, &alert); err != nil {
		return nil, fmt.Errorf("unmarshal alert %s: %w", dedupKey, err)
	}
	return &alert, nil
}

func (s *RedisOpenAlertStore) ListOpen(ctx context.Context) ([]domain.Alert, error) {
	var (
		alerts []domain.Alert
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, openAlertPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan open alerts: %w", err)
		}
		for _, key := range keys {
			payload, err := s.client.Get(ctx, key).Bytes()
			if err == goredis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("load open alert %s: %w", key, err)
			}
			var alert domain.Alert
			if err := json.Unmarshal(payload, &alert); err != nil {
				return nil, fmt.Errorf("unmarshal open alert %s: %w", key, err)
			}
			alerts = append(alerts, alert)
		}
		cursor = next
		if cursor == 0 {
			return alerts, nil
		}
	}
}
