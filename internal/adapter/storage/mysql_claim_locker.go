package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// MySQLClaimLocker keeps rollup claims in the inventory_rollup_claim table.
// It is used when no Redis is configured.
type MySQLClaimLocker struct {
	db  *sqlx.DB
	ttl time.Duration
	now func() time.Time
}

var _ port.RollupLocker = (*MySQLClaimLocker)(nil)

func NewMySQLClaimLocker(db *sql.DB, ttl time.Duration) *MySQLClaimLocker {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}
	return &MySQLClaimLocker{
		db:  sqlx.NewDb(db, "mysql"),
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (m *MySQLClaimLocker) TryClaim(ctx context.Context, key domain.InventoryKey, owner string) (port.RollupClaim, error) {
	now := m.now()

	// Claims left behind by a dead worker.
	_, err := m.db.ExecContext(ctx, `
		DELETE FROM inventory_rollup_claim
		WHERE sku_code = ? AND warehouse_id = ? AND claimed_at < ?`,
		key.SkuCode, key.WarehouseID, now.Add(-m.ttl))
	if err != nil {
		return nil, fmt.Errorf("expire rollup claim: %w", err)
	}

	result, err := m.db.ExecContext(ctx, `
		INSERT IGNORE INTO inventory_rollup_claim (sku_code, warehouse_id, claimed_by, claimed_at)
		VALUES (?, ?, ?, ?)`,
		key.SkuCode, key.WarehouseID, owner, now)
	if err != nil {
		return nil, fmt.Errorf("insert rollup claim: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert rollup claim: %w", err)
	}
	if rows == 0 {
		return nil, domain.ErrRollupContention
	}
	return &mysqlClaim{db: m.db, key: key, owner: owner}, nil
}

type mysqlClaim struct {
	db    *sqlx.DB
	key   domain.InventoryKey
	owner string
}

func (c *mysqlClaim) Release(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		DELETE FROM inventory_rollup_claim
		WHERE sku_code = ? AND warehouse_id = ? AND claimed_by = ?`,
		c.key.SkuCode, c.key.WarehouseID, c.owner)
	if err != nil {
		return fmt.Errorf("release rollup claim: %w", err)
	}
	return nil
}
