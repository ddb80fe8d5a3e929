package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		sku_code           VARCHAR(64) NOT NULL,
		warehouse_id       BIGINT      NOT NULL,
		quantity_on_hand   INT         NOT NULL DEFAULT 0,
		reserved_quantity  INT         NOT NULL DEFAULT 0,
		allocated_quantity INT         NOT NULL DEFAULT 0,
		reorder_minimum    INT         NOT NULL DEFAULT 0,
		reorder_quantity   INT         NOT NULL DEFAULT 0,
		restock_date       DATETIME(6) NULL,
		updated_at         DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		PRIMARY KEY (sku_code, warehouse_id),
		KEY idx_inventory_warehouse (warehouse_id)
	)`,
	`CREATE TABLE IF NOT EXISTS inventory_journal (
		id              BIGINT      NOT NULL AUTO_INCREMENT,
		sku_code        VARCHAR(64) NOT NULL,
		warehouse_id    BIGINT      NOT NULL,
		on_hand_delta   INT         NOT NULL DEFAULT 0,
		allocated_delta INT         NOT NULL DEFAULT 0,
		reserved_delta  INT         NOT NULL DEFAULT 0,
		command_name    VARCHAR(32) NOT NULL,
		applied         TINYINT(1)  NOT NULL DEFAULT 0,
		created_at      DATETIME(6) NOT NULL,
		PRIMARY KEY (id),
		KEY idx_journal_key (sku_code, warehouse_id, applied),
		KEY idx_journal_pending (applied, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS inventory_rollup_claim (
		sku_code     VARCHAR(64) NOT NULL,
		warehouse_id BIGINT      NOT NULL,
		claimed_by   VARCHAR(64) NOT NULL,
		claimed_at   DATETIME(6) NOT NULL,
		PRIMARY KEY (sku_code, warehouse_id)
	)`,
}

const inventoryColumns = `sku_code, warehouse_id, quantity_on_hand, reserved_quantity, allocated_quantity,
	reorder_minimum, reorder_quantity, restock_date`

const journalColumns = `id, sku_code, warehouse_id, on_hand_delta, allocated_delta, reserved_delta,
	command_name, applied, created_at`

type inventoryRow struct {
	SkuCode           string       `db:"sku_code"`
	WarehouseID       int64        `db:"warehouse_id"`
	QuantityOnHand    int          `db:"quantity_on_hand"`
	ReservedQuantity  int          `db:"reserved_quantity"`
	AllocatedQuantity int          `db:"allocated_quantity"`
	ReorderMinimum    int          `db:"reorder_minimum"`
	ReorderQuantity   int          `db:"reorder_quantity"`
	RestockDate       sql.NullTime `db:"restock_date"`
}

func (r inventoryRow) toDomain() domain.InventoryRecord {
	record := domain.InventoryRecord{
		Key:               domain.NewInventoryKey(r.SkuCode, r.WarehouseID),
		QuantityOnHand:    r.QuantityOnHand,
		ReservedQuantity:  r.ReservedQuantity,
		AllocatedQuantity: r.AllocatedQuantity,
		ReorderMinimum:    r.ReorderMinimum,
		ReorderQuantity:   r.ReorderQuantity,
	}
	if r.RestockDate.Valid {
		d := r.RestockDate.Time.UTC()
		record.RestockDate = &d
	}
	return record
}

type journalRow struct {
	ID             int64     `db:"id"`
	SkuCode        string    `db:"sku_code"`
	WarehouseID    int64     `db:"warehouse_id"`
	OnHandDelta    int       `db:"on_hand_delta"`
	AllocatedDelta int       `db:"allocated_delta"`
	ReservedDelta  int       `db:"reserved_delta"`
	CommandName    string    `db:"command_name"`
	Applied        bool      `db:"applied"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r journalRow) toDomain() domain.JournalEntry {
	return domain.JournalEntry{
		Sequence:       r.ID,
		Key:            domain.NewInventoryKey(r.SkuCode, r.WarehouseID),
		OnHandDelta:    r.OnHandDelta,
		AllocatedDelta: r.AllocatedDelta,
		ReservedDelta:  r.ReservedDelta,
		CommandName:    r.CommandName,
		Applied:        r.Applied,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

type rollupRow struct {
	SkuCode        string `db:"sku_code"`
	WarehouseID    int64  `db:"warehouse_id"`
	OnHandDelta    int    `db:"on_hand_delta"`
	AllocatedDelta int    `db:"allocated_delta"`
	ReservedDelta  int    `db:"reserved_delta"`
	Entries        int    `db:"entries"`
}

type mysqlTxKey struct {
	adapter *MySQLAdapter
}

// MySQLAdapter stores records and the journal in MySQL. Same-key commands
// serialize on the record row lock taken by GetInventory.
type MySQLAdapter struct {
	mysqlReader

	db  *sqlx.DB
	now func() time.Time
}

var _ port.InventoryStore = (*MySQLAdapter)(nil)

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	x := sqlx.NewDb(db, "mysql")
	return &MySQLAdapter{
		mysqlReader: mysqlReader{q: x},
		db:          x,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the ledger tables when they are missing.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQLAdapter) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.InventoryTx) error) error {
	if tx, ok := ctx.Value(mysqlTxKey{adapter: m}).(*mysqlTx); ok {
		return fn(ctx, tx)
	}

	sqlTx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &mysqlTx{tx: sqlTx, now: m.now}
	if err := fn(context.WithValue(ctx, mysqlTxKey{adapter: m}, tx), tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	for _, hook := range tx.afterCommit {
		hook()
	}
	return nil
}

// Snapshot runs fn in a read-only REPEATABLE READ transaction, so every
// read inside it sees the same committed state.
func (m *MySQLAdapter) Snapshot(ctx context.Context, fn func(ctx context.Context, r port.InventoryReader) error) error {
	sqlTx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, mysqlReader{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("end snapshot: %w", err)
	}
	return nil
}

// mysqlReader serves committed reads from the pool or from a snapshot
// transaction.
type mysqlReader struct {
	q sqlx.ExtContext
}

func groupByWarehouse(keys []domain.InventoryKey) map[int64][]string {
	groups := make(map[int64][]string)
	for _, key := range keys {
		groups[key.WarehouseID] = append(groups[key.WarehouseID], key.SkuCode)
	}
	return groups
}

func (r mysqlReader) GetInventories(ctx context.Context, keys []domain.InventoryKey) (map[domain.InventoryKey]domain.InventoryRecord, error) {
	result := make(map[domain.InventoryKey]domain.InventoryRecord, len(keys))
	for warehouseID, skus := range groupByWarehouse(keys) {
		found, err := r.GetInventoriesInWarehouse(ctx, skus, warehouseID)
		if err != nil {
			return nil, err
		}
		for _, record := range found {
			result[record.Key] = record
		}
	}
	return result, nil
}

func (r mysqlReader) GetInventoriesForSku(ctx context.Context, skuCode string) (map[int64]domain.InventoryRecord, error) {
	var rows []inventoryRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT `+inventoryColumns+`
		FROM inventory WHERE sku_code = ?`, skuCode)
	if err != nil {
		return nil, fmt.Errorf("query inventories for sku: %w", err)
	}

	result := make(map[int64]domain.InventoryRecord, len(rows))
	for _, row := range rows {
		result[row.WarehouseID] = row.toDomain()
	}
	return result, nil
}

func (r mysqlReader) GetInventoriesInWarehouse(ctx context.Context, skuCodes []string, warehouseID int64) (map[string]domain.InventoryRecord, error) {
	result := make(map[string]domain.InventoryRecord, len(skuCodes))
	if len(skuCodes) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`
		SELECT `+inventoryColumns+`
		FROM inventory WHERE warehouse_id = ? AND sku_code IN (?)`, warehouseID, skuCodes)
	if err != nil {
		return nil, fmt.Errorf("build inventory query: %w", err)
	}

	var rows []inventoryRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query inventories: %w", err)
	}
	for _, row := range rows {
		result[row.SkuCode] = row.toDomain()
	}
	return result, nil
}

func (r mysqlReader) PendingRollups(ctx context.Context, keys []domain.InventoryKey) (map[domain.InventoryKey]domain.JournalRollup, error) {
	result := make(map[domain.InventoryKey]domain.JournalRollup)
	for warehouseID, skus := range groupByWarehouse(keys) {
		query, args, err := sqlx.In(`
			SELECT sku_code, warehouse_id,
				CAST(SUM(on_hand_delta) AS SIGNED)   AS on_hand_delta,
				CAST(SUM(allocated_delta) AS SIGNED) AS allocated_delta,
				CAST(SUM(reserved_delta) AS SIGNED)  AS reserved_delta,
				COUNT(*)                             AS entries
			FROM inventory_journal
			WHERE applied = 0 AND warehouse_id = ? AND sku_code IN (?)
			GROUP BY sku_code, warehouse_id`, warehouseID, skus)
		if err != nil {
			return nil, fmt.Errorf("build rollup query: %w", err)
		}

		var rows []rollupRow
		if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("query pending rollups: %w", err)
		}
		for _, row := range rows {
			key := domain.NewInventoryKey(row.SkuCode, row.WarehouseID)
			result[key] = domain.JournalRollup{
				Key:            key,
				OnHandDelta:    row.OnHandDelta,
				AllocatedDelta: row.AllocatedDelta,
				ReservedDelta:  row.ReservedDelta,
				Entries:        row.Entries,
			}
		}
	}
	return result, nil
}

func (m *MySQLAdapter) PendingKeys(ctx context.Context, createdBefore time.Time, limit int) ([]domain.InventoryKey, error) {
	var rows []struct {
		SkuCode     string `db:"sku_code"`
		WarehouseID int64  `db:"warehouse_id"`
	}
	err := m.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT sku_code, warehouse_id
		FROM inventory_journal
		WHERE applied = 0 AND created_at <= ?
		ORDER BY warehouse_id, sku_code
		LIMIT ?`, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending keys: %w", err)
	}

	keys := make([]domain.InventoryKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, domain.NewInventoryKey(row.SkuCode, row.WarehouseID))
	}
	return keys, nil
}

func (m *MySQLAdapter) PurgeRetired(ctx context.Context, createdBefore time.Time) (int64, error) {
	result, err := m.db.ExecContext(ctx, `
		DELETE FROM inventory_journal
		WHERE applied = 1 AND created_at < ?`, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("purge retired journal: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge retired journal: %w", err)
	}
	return rows, nil
}

type mysqlTx struct {
	tx          *sqlx.Tx
	now         func() time.Time
	afterCommit []func()
}

func (t *mysqlTx) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

func (t *mysqlTx) GetInventory(ctx context.Context, key domain.InventoryKey) (*domain.InventoryRecord, error) {
	var row inventoryRow
	err := t.tx.GetContext(ctx, &row, `
		SELECT `+inventoryColumns+`
		FROM inventory WHERE sku_code = ? AND warehouse_id = ?
		FOR UPDATE`, key.SkuCode, key.WarehouseID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}

	record := row.toDomain()
	return &record, nil
}

func (t *mysqlTx) SaveInventory(ctx context.Context, record domain.InventoryRecord) error {
	var restock sql.NullTime
	if record.RestockDate != nil {
		restock = sql.NullTime{Time: record.RestockDate.UTC(), Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory (`+inventoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			quantity_on_hand = VALUES(quantity_on_hand),
			reserved_quantity = VALUES(reserved_quantity),
			allocated_quantity = VALUES(allocated_quantity),
			reorder_minimum = VALUES(reorder_minimum),
			reorder_quantity = VALUES(reorder_quantity),
			restock_date = VALUES(restock_date)`,
		record.Key.SkuCode, record.Key.WarehouseID,
		record.QuantityOnHand, record.ReservedQuantity, record.AllocatedQuantity,
		record.ReorderMinimum, record.ReorderQuantity, restock,
	)
	if err != nil {
		return fmt.Errorf("upsert inventory: %w", err)
	}
	return nil
}

func (t *mysqlTx) DeleteInventory(ctx context.Context, key domain.InventoryKey) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM inventory WHERE sku_code = ? AND warehouse_id = ?`,
		key.SkuCode, key.WarehouseID)
	if err != nil {
		return fmt.Errorf("delete inventory: %w", err)
	}
	return nil
}

func (t *mysqlTx) AppendJournal(ctx context.Context, entry domain.JournalEntry) (domain.JournalEntry, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.now()
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_journal
			(sku_code, warehouse_id, on_hand_delta, allocated_delta, reserved_delta, command_name, applied, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Key.SkuCode, entry.Key.WarehouseID,
		entry.OnHandDelta, entry.AllocatedDelta, entry.ReservedDelta,
		entry.CommandName, entry.Applied, entry.CreatedAt,
	)
	if err != nil {
		return entry, fmt.Errorf("insert journal entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return entry, fmt.Errorf("journal entry id: %w", err)
	}
	entry.Sequence = id
	return entry, nil
}

func (t *mysqlTx) PendingJournal(ctx context.Context, key domain.InventoryKey) ([]domain.JournalEntry, error) {
	var rows []journalRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+journalColumns+`
		FROM inventory_journal
		WHERE sku_code = ? AND warehouse_id = ? AND applied = 0
		ORDER BY id
		FOR UPDATE`, key.SkuCode, key.WarehouseID)
	if err != nil {
		return nil, fmt.Errorf("query pending journal: %w", err)
	}

	entries := make([]domain.JournalEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toDomain())
	}
	return entries, nil
}

func (t *mysqlTx) RetireJournal(ctx context.Context, key domain.InventoryKey, sequences []int64) error {
	if len(sequences) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`
		UPDATE inventory_journal SET applied = 1
		WHERE sku_code = ? AND warehouse_id = ? AND id IN (?)`,
		key.SkuCode, key.WarehouseID, sequences)
	if err != nil {
		return fmt.Errorf("build retire query: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("retire journal: %w", err)
	}
	return nil
}

func (t *mysqlTx) DeleteJournal(ctx context.Context, key domain.InventoryKey) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM inventory_journal WHERE sku_code = ? AND warehouse_id = ?`,
		key.SkuCode, key.WarehouseID)
	if err != nil {
		return fmt.Errorf("delete journal: %w", err)
	}
	return nil
}
