package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig sizes the clients for the work they carry.
type RedisConfig struct {
	// WorkerCount is the number of queue workers; each holds a connection
	// for its BLPOP and needs another for locks and progress publishes.
	WorkerCount int
	// CommandTimeout bounds non-blocking commands on the queue client.
	CommandTimeout time.Duration
}

// RedisClients splits blocking queue reads and pub/sub subscriptions onto
// separate connections so a BLPOP never starves event delivery.
type RedisClients struct {
	Queue  *redis.Client
	PubSub *redis.Client
}

func NewRedisClients(ctx context.Context, redisURL string, cfg RedisConfig) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	queueClient := redis.NewClient(queueOptions(opt, cfg))
	if err := queueClient.Ping(ctx).Err(); err != nil {
		queueClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (queue): %w", err)
	}

	pubsubClient := redis.NewClient(pubsubOptions(opt))
	if err := pubsubClient.Ping(ctx).Err(); err != nil {
		queueClient.Close()
		pubsubClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (pubsub): %w", err)
	}

	return &RedisClients{
		Queue:  queueClient,
		PubSub: pubsubClient,
	}, nil
}

// queueOptions keeps one idle connection per worker and enough headroom
// that lock and publish commands never wait behind parked BLPOPs.
func queueOptions(base *redis.Options, cfg RedisConfig) *redis.Options {
	opt := *base
	opt.ClientName = "enricher-queue"

	workers := cfg.WorkerCount
	if workers < 1 {
		workers = 1
	}
	if need := workers*2 + 4; opt.PoolSize < need {
		opt.PoolSize = need
	}
	opt.MinIdleConns = workers

	if cfg.CommandTimeout > 0 {
		opt.ReadTimeout = cfg.CommandTimeout
		opt.WriteTimeout = cfg.CommandTimeout
	}
	return &opt
}

// pubsubOptions names the subscriber connections apart from the queue.
func pubsubOptions(base *redis.Options) *redis.Options {
	opt := *base
	opt.ClientName = "enricher-pubsub"
	return &opt
}

func (r *RedisClients) Close() {
	if r == nil {
		return
	}
	r.Queue.Close()
	r.PubSub.Close()
}
