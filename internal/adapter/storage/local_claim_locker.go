package storage

import (
	"context"
	"sync"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// LocalClaimLocker hands out rollup claims within a single process.
type LocalClaimLocker struct {
	mu     sync.Mutex
	owners map[domain.InventoryKey]string
}

var _ port.RollupLocker = (*LocalClaimLocker)(nil)

func NewLocalClaimLocker() *LocalClaimLocker {
	return &LocalClaimLocker{owners: make(map[domain.InventoryKey]string)}
}

func (l *LocalClaimLocker) TryClaim(ctx context.Context, key domain.InventoryKey, owner string) (port.RollupClaim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.owners[key]; held {
		return nil, domain.ErrRollupContention
	}
	l.owners[key] = owner
	return &localClaim{locker: l, key: key, owner: owner}, nil
}

// Owner reports who currently holds the claim on key.
func (l *LocalClaimLocker) Owner(key domain.InventoryKey) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[key]
	return owner, ok
}

type localClaim struct {
	locker *LocalClaimLocker
	key    domain.InventoryKey
	owner  string
	once   sync.Once
}

func (c *localClaim) Release(ctx context.Context) error {
	c.once.Do(func() {
		c.locker.mu.Lock()
		defer c.locker.mu.Unlock()
		if c.locker.owners[c.key] == c.owner {
			delete(c.locker.owners, c.key)
		}
	})
	return nil
}
