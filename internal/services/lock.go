package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrIngestInProgress is returned when another run holds the lock for the
// same source URL.
var ErrIngestInProgress = errors.New("an ingest for this URL is already running")

// URLLocker serialises runs per source URL so two runs never write the same
// object keys at once.
type URLLocker interface {
	Acquire(ctx context.Context, sourceURL string) (release func(), err error)
}

// lockStore is the slice of the Redis client the locker needs.
type lockStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the lock only while it still holds our token, so a
// run whose lock expired cannot free a newer run's lock.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type RedisLocker struct {
	redis lockStore
	ttl   time.Duration
}

func NewRedisLocker(redisClient *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{redis: redisClient, ttl: ttl}
}

func urlDigest(sourceURL string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(sourceURL)))
	return hex.EncodeToString(sum[:])
}

func lockKey(sourceURL string) string {
	return "ingest_lock:" + urlDigest(sourceURL)
}

func (l *RedisLocker) Acquire(ctx context.Context, sourceURL string) (func(), error) {
	key := lockKey(sourceURL)
	token := uuid.NewString()
	locked, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire ingest lock: %w", err)
	}
	if !locked {
		return nil, ErrIngestInProgress
	}
	return func() {
		if err := l.redis.Eval(context.Background(), releaseScript, []string{key}, token).Err(); err != nil {
			log.Printf("failed to release ingest lock %s: %v", key, err)
		}
	}, nil
}

// FileLocker holds an advisory file lock per source URL under dir. It covers
// every process on one host and is used when Redis is not configured.
type FileLocker struct {
	dir string
}

func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
	}
	return &FileLocker{dir: dir}, nil
}

func (l *FileLocker) Acquire(ctx context.Context, sourceURL string) (func(), error) {
	lock := flock.New(filepath.Join(l.dir, "ingest-"+urlDigest(sourceURL)+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire ingest lock: %w", err)
	}
	if !ok {
		return nil, ErrIngestInProgress
	}
	return func() {
		lock.Unlock()
	}, nil
}

type noopLocker struct{}

// NoopLocker never blocks; used when Redis is not configured.
func NoopLocker() URLLocker { return noopLocker{} }

func (noopLocker) Acquire(context.Context, string) (func(), error) { return func() {}, nil }
