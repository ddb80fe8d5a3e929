package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// RollupClaim is a held single-writer claim on a key.
type RollupClaim interface {
	Release(ctx context.Context) error
}

// RollupLocker hands out per-key rollup claims.
type RollupLocker interface {
	// TryClaim never waits. It returns domain.ErrRollupContention when another
	// owner already holds the key.
	TryClaim(ctx context.Context, key domain.InventoryKey, owner string) (RollupClaim, error)
}
