package port

import (
	"context"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// InventoryTx is the transactional view handed to a RunInTx callback.
// Every write is discarded if the callback returns an error.
type InventoryTx interface {
	// GetInventory loads the record and locks it for the rest of the transaction.
	// It returns nil, nil when the key has no record.
	GetInventory(ctx context.Context, key domain.InventoryKey) (*domain.InventoryRecord, error)

	// SaveInventory inserts or replaces the record.
	SaveInventory(ctx context.Context, record domain.InventoryRecord) error

	// DeleteInventory removes the record. Missing records are not an error.
	DeleteInventory(ctx context.Context, key domain.InventoryKey) error

	// AppendJournal stores the entry and returns it with its sequence assigned.
	AppendJournal(ctx context.Context, entry domain.JournalEntry) (domain.JournalEntry, error)

	// PendingJournal returns the unretired entries of a key in sequence order.
	PendingJournal(ctx context.Context, key domain.InventoryKey) ([]domain.JournalEntry, error)

	// RetireJournal marks the given entries as folded into the record.
	RetireJournal(ctx context.Context, key domain.InventoryKey, sequences []int64) error

	// DeleteJournal removes every entry of a key, retired or not.
	DeleteJournal(ctx context.Context, key domain.InventoryKey) error

	// AfterCommit registers fn to run once the outermost transaction has
	// committed. fn is dropped when the transaction rolls back.
	AfterCommit(fn func())
}

// InventoryReader serves committed state outside of any transaction.
type InventoryReader interface {
	// GetInventories returns the records that exist among keys.
	GetInventories(ctx context.Context, keys []domain.InventoryKey) (map[domain.InventoryKey]domain.InventoryRecord, error)

	// GetInventoriesForSku returns every warehouse record of a SKU keyed by warehouse id.
	GetInventoriesForSku(ctx context.Context, skuCode string) (map[int64]domain.InventoryRecord, error)

	// GetInventoriesInWarehouse returns the records of the given SKUs in one warehouse keyed by SKU code.
	GetInventoriesInWarehouse(ctx context.Context, skuCodes []string, warehouseID int64) (map[string]domain.InventoryRecord, error)

	// PendingRollups sums the unretired journal entries of each key that has any.
	PendingRollups(ctx context.Context, keys []domain.InventoryKey) (map[domain.InventoryKey]domain.JournalRollup, error)
}

// JournalMaintenance is used by the rollup engine to find and compact work.
type JournalMaintenance interface {
	// PendingKeys lists up to limit keys with unretired entries created at or before the cutoff.
	PendingKeys(ctx context.Context, createdBefore time.Time, limit int) ([]domain.InventoryKey, error)

	// PurgeRetired deletes retired entries created before the cutoff and returns how many went.
	PurgeRetired(ctx context.Context, createdBefore time.Time) (int64, error)
}

// InventoryStore is the storage owned by an inventory strategy.
type InventoryStore interface {
	InventoryReader
	JournalMaintenance

	// RunInTx runs fn in a transaction. If ctx already carries a transaction of
	// this store, fn joins it and commit is left to the outer caller.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx InventoryTx) error) error

	// Snapshot runs fn against one consistent view of committed state.
	// Records and pending rollups read through r never straddle a commit.
	Snapshot(ctx context.Context, fn func(ctx context.Context, r InventoryReader) error) error

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}
