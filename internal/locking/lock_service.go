package locking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LockService is the mutual-exclusion contract background jobs rely on for
// at-most-one-concurrent-run semantics. The ttl bounds the lease so a crashed
// holder cannot wedge the lock forever.
type LockService interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

const lockPrefix = "lock:"

// releaseScript deletes the lock only when the caller still owns it, so a
// holder that outlived its lease cannot release a successor's lock.
const releaseScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// RedisLockService implements LockService with SET NX and owner tokens.
type RedisLockService struct {
	client *redis.Client

	mu     sync.Mutex
	tokens map[string]string
}

func NewRedisLockService(client *redis.Client) *RedisLockService {
	return &RedisLockService{
		client: client,
		tokens: make(map[string]string),
	}
}

// TryAcquire attempts to take the lock without blocking. It returns false
// when another holder owns it.
func (ls *RedisLockService) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.New().String()

	acquired, err := ls.client.SetNX(ctx, lockPrefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !acquired {
		return false, nil
	}

	ls.mu.Lock()
	ls.tokens[key] = token
	ls.mu.Unlock()

	return true, nil
}

// Release frees a lock this instance acquired. Releasing a lock that expired
// and was re-acquired elsewhere is a no-op.
func (ls *RedisLockService) Release(ctx context.Context, key string) error {
	ls.mu.Lock()
	token, ok := ls.tokens[key]
	delete(ls.tokens, key)
	ls.mu.Unlock()

	if !ok {
		return fmt.Errorf("lock %s was not acquired by this instance", key)
	}

	if err := ls.client.Eval(ctx, releaseScript, []string{lockPrefix + key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}

	return nil
}
