package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jeffconboy/statedge/internal/clock"
	redis "github.com/redis/go-redis/v9"
)

// Locker hands out single-holder leases. TryLock never blocks; Release only
// frees the lease when the caller still holds it, so an expired holder can
// never release its successor's lease.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type redisLocker struct {
	client *redis.Client
	script *redis.Script
}

// NewRedisLocker builds a Locker shared across instances through redis.
func NewRedisLocker(client *redis.Client) Locker {
	return &redisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *redisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *redisLocker) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

type memoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	clock  clock.Clock
}

// NewMemoryLocker builds a process-local Locker.
func NewMemoryLocker(c clock.Clock) Locker {
	return &memoryLocker{
		leases: make(map[string]memoryLease),
		clock:  c,
	}
}

func (l *memoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, held := l.leases[key]; held && now.Before(lease.expiresAt) {
		return "", false, nil
	}

	token := uuid.NewString()
	l.leases[key] = memoryLease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *memoryLocker) Release(_ context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, held := l.leases[key]; held && lease.token == token {
		delete(l.leases, key)
	}
	return nil
}
