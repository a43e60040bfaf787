package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// memLockStore keeps lock keys in memory and runs the release script as a
// compare-and-delete.
type memLockStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memLockStore) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]string{}
	}
	if _, ok := m.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.keys[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (m *memLockStore) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[keys[0]] == args[0].(string) {
		delete(m.keys, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

// expire drops a key as if its TTL ran out.
func (m *memLockStore) expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
}

func TestRedisLocker_ReleaseKeepsNewerLock(t *testing.T) {
	store := &memLockStore{}
	l := &RedisLocker{redis: store, ttl: time.Minute}
	ctx := context.Background()
	const src = "https://www.tiktok.com/@a/video/1"

	stale, err := l.Acquire(ctx, src)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, src); !errors.Is(err, ErrIngestInProgress) {
		t.Fatalf("expected ErrIngestInProgress, got %v", err)
	}

	store.expire(lockKey(src))
	current, err := l.Acquire(ctx, src)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}

	stale()
	if _, err := l.Acquire(ctx, src); !errors.Is(err, ErrIngestInProgress) {
		t.Fatalf("expired holder released the newer lock: %v", err)
	}

	current()
	again, err := l.Acquire(ctx, src)
	if err != nil {
		t.Fatalf("expected lock to be free after its holder released it: %v", err)
	}
	again()
}

func TestFileLocker(t *testing.T) {
	l, err := NewFileLocker(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLocker: %v", err)
	}
	ctx := context.Background()

	release, err := l.Acquire(ctx, "https://example.com/a.mp4")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := l.Acquire(ctx, "https://example.com/a.mp4"); !errors.Is(err, ErrIngestInProgress) {
		t.Fatalf("expected ErrIngestInProgress, got %v", err)
	}

	other, err := l.Acquire(ctx, "https://example.com/b.mp4")
	if err != nil {
		t.Fatalf("different URL should not conflict: %v", err)
	}
	other()

	release()
	again, err := l.Acquire(ctx, "https://example.com/a.mp4")
	if err != nil {
		t.Fatalf("expected lock to be free after release: %v", err)
	}
	again()
}

func TestLockKey(t *testing.T) {
	a := lockKey("https://example.com/a.mp4")
	if !strings.HasPrefix(a, "ingest_lock:") || len(a) != len("ingest_lock:")+64 {
		t.Errorf("unexpected key %q", a)
	}
	if lockKey("  https://example.com/a.mp4 ") != a {
		t.Error("expected surrounding whitespace to be ignored")
	}
	if lockKey("https://example.com/b.mp4") == a {
		t.Error("expected distinct keys for distinct URLs")
	}
}
