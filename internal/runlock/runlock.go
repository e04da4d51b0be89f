package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrAlreadyLocked is returned by Acquire when another run holds the lock.
var ErrAlreadyLocked = errors.New("runlock: already held")

// releaseScript deletes the lock only when the caller still owns it.
const releaseScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`

// Lock serializes pipeline runs across replicas using a Redis key. The TTL
// bounds how long a crashed run can keep the lock.
type Lock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// New creates a distributed run lock on the given key.
func New(client *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

// Acquire takes the lock and returns an owner token for Release. It returns
// ErrAlreadyLocked when the key is held by another run.
func (l *Lock) Acquire(ctx context.Context) (string, error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("runlock acquire: %w", err)
	}
	if !ok {
		return "", ErrAlreadyLocked
	}
	return token, nil
}

// Release frees the lock if the given token still owns it. Releasing an
// expired or foreign lock is a no-op.
func (l *Lock) Release(ctx context.Context, token string) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("runlock release: %w", err)
	}
	return nil
}
