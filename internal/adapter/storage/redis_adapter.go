package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	claimKeyPrefix  = "rollup:claim:"
	defaultClaimTTL = 30 * time.Second
)

// RedisClaimLocker hands out rollup claims shared by every process using the
// same Redis. A claim expires after its TTL if its owner dies.
type RedisClaimLocker struct {
	locker *redislock.Client
	ttl    time.Duration
}

var _ port.RollupLocker = (*RedisClaimLocker)(nil)

func NewRedisClaimLocker(client *redis.Client, ttl time.Duration) *RedisClaimLocker {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &RedisClaimLocker{locker: redislock.New(client), ttl: ttl}
}

func claimKey(key domain.InventoryKey) string {
	return fmt.Sprintf("%s%d:%s", claimKeyPrefix, key.WarehouseID, key.SkuCode)
}

func (r *RedisClaimLocker) TryClaim(ctx context.Context, key domain.InventoryKey, owner string) (port.RollupClaim, error) {
	// No retry strategy: a held key fails immediately.
	lock, err := r.locker.Obtain(ctx, claimKey(key), r.ttl, &redislock.Options{Metadata: owner})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, domain.ErrRollupContention
	}
	if err != nil {
		return nil, fmt.Errorf("obtain rollup claim: %w", err)
	}
	return &redisClaim{lock: lock}, nil
}

type redisClaim struct {
	lock *redislock.Lock
}

func (c *redisClaim) Release(ctx context.Context) error {
	err := c.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release rollup claim: %w", err)
	}
	return nil
}
