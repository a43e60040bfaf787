package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"enricher-backend/internal/models"
)

// ProgressPublisher receives stage updates for a run.
type ProgressPublisher interface {
	PublishUpdate(ctx context.Context, runID uuid.UUID, msg models.WSMessage)
}

// RedisProgress publishes updates on the run's pub/sub channel, where the
// websocket hub picks them up.
type RedisProgress struct {
	redis *redis.Client
}

func NewRedisProgress(redisClient *redis.Client) *RedisProgress {
	return &RedisProgress{redis: redisClient}
}

func ProgressChannel(runID uuid.UUID) string {
	return fmt.Sprintf("ingest_updates:%s", runID.String())
}

// PublishUpdate sends a WebSocket update via Redis pub/sub
func (p *RedisProgress) PublishUpdate(ctx context.Context, runID uuid.UUID, msg models.WSMessage) {
	data, _ := json.Marshal(msg)
	p.redis.Publish(ctx, ProgressChannel(runID), string(data))
}

type noopProgress struct{}

func (noopProgress) PublishUpdate(context.Context, uuid.UUID, models.WSMessage) {}
