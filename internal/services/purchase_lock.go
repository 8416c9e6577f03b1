package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const purchaseLockPrefix = "pixaccess:purchase_lock:"

// PurchaseLocker serializes purchase creation per phone so a double submit does
// not open two pending purchases and two gateway charges.
type PurchaseLocker interface {
	Acquire(ctx context.Context, phone string) (release func(), acquired bool, err error)
}

// NoopPurchaseLocker always grants the lock. Used when Redis is not configured.
type NoopPurchaseLocker struct{}

// Acquire always succeeds.
func (NoopPurchaseLocker) Acquire(context.Context, string) (func(), bool, error) {
	return func() {}, true, nil
}

// releaseScript deletes the key only when it still holds our nonce, so a lock
// that expired and was re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisPurchaseLocker holds per-phone locks as expiring Redis keys.
type RedisPurchaseLocker struct {
	client redisLockClient
	ttl    time.Duration
}

type redisLockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// NewRedisPurchaseLocker builds a locker whose locks expire after ttl.
func NewRedisPurchaseLocker(client redisLockClient, ttl time.Duration) *RedisPurchaseLocker {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisPurchaseLocker{client: client, ttl: ttl}
}

// Acquire takes the lock for phone. acquired is false when another request holds it.
func (l *RedisPurchaseLocker) Acquire(ctx context.Context, phone string) (func(), bool, error) {
	key := purchaseLockPrefix + phone
	nonce := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, nonce, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire purchase lock: %w", err)
	}
	if !acquired {
		return func() {}, false, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, nonce).Err()
	}
	return release, true, nil
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
