package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

type memoryTxKey struct {
	store *MemoryAdapter
}

// MemoryAdapter is an in-process InventoryStore. Write transactions run one at
// a time and buffer their changes, so readers only ever see committed state
// and never wait for a transaction to finish.
type MemoryAdapter struct {
	writeMu sync.Mutex

	mu      sync.RWMutex
	records map[domain.InventoryKey]domain.InventoryRecord
	journal map[domain.InventoryKey][]domain.JournalEntry
	seq     int64

	now func() time.Time
}

var _ port.InventoryStore = (*MemoryAdapter)(nil)

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		records: make(map[domain.InventoryKey]domain.InventoryRecord),
		journal: make(map[domain.InventoryKey][]domain.JournalEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used to stamp journal entries.
func (m *MemoryAdapter) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryAdapter) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryAdapter) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.InventoryTx) error) error {
	if tx, ok := ctx.Value(memoryTxKey{store: m}).(*memoryTx); ok {
		return fn(ctx, tx)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	tx := &memoryTx{
		store:   m,
		records: make(map[domain.InventoryKey]*domain.InventoryRecord),
		journal: make(map[domain.InventoryKey][]domain.JournalEntry),
		seq:     m.seq,
		now:     m.now,
	}
	m.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memoryTxKey{store: m}, tx), tx); err != nil {
		return err
	}

	m.commit(tx)
	for _, hook := range tx.afterCommit {
		hook()
	}
	return nil
}

func (m *MemoryAdapter) commit(tx *memoryTx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, record := range tx.records {
		if record == nil {
			delete(m.records, key)
			continue
		}
		m.records[key] = *record
	}
	for key, entries := range tx.journal {
		if len(entries) == 0 {
			delete(m.journal, key)
			continue
		}
		m.journal[key] = entries
	}
	m.seq = tx.seq
}

// memoryView reads a set of record and journal maps without locking. The
// caller either holds mu or owns the maps.
type memoryView struct {
	records map[domain.InventoryKey]domain.InventoryRecord
	journal map[domain.InventoryKey][]domain.JournalEntry
}

func (m *MemoryAdapter) live() memoryView {
	return memoryView{records: m.records, journal: m.journal}
}

func (m *MemoryAdapter) GetInventories(ctx context.Context, keys []domain.InventoryKey) (map[domain.InventoryKey]domain.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live().GetInventories(ctx, keys)
}

func (m *MemoryAdapter) GetInventoriesForSku(ctx context.Context, skuCode string) (map[int64]domain.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live().GetInventoriesForSku(ctx, skuCode)
}

func (m *MemoryAdapter) GetInventoriesInWarehouse(ctx context.Context, skuCodes []string, warehouseID int64) (map[string]domain.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live().GetInventoriesInWarehouse(ctx, skuCodes, warehouseID)
}

func (m *MemoryAdapter) PendingRollups(ctx context.Context, keys []domain.InventoryKey) (map[domain.InventoryKey]domain.JournalRollup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live().PendingRollups(ctx, keys)
}

// Snapshot copies the committed maps under one read lock and serves fn from
// the copy. Committed journal slices are replaced on commit, never mutated,
// so a shallow copy is enough.
func (m *MemoryAdapter) Snapshot(ctx context.Context, fn func(ctx context.Context, r port.InventoryReader) error) error {
	m.mu.RLock()
	snap := memoryView{
		records: make(map[domain.InventoryKey]domain.InventoryRecord, len(m.records)),
		journal: make(map[domain.InventoryKey][]domain.JournalEntry, len(m.journal)),
	}
	for key, record := range m.records {
		snap.records[key] = record
	}
	for key, entries := range m.journal {
		snap.journal[key] = entries
	}
	m.mu.RUnlock()

	return fn(ctx, snap)
}

func (v memoryView) GetInventories(ctx context.Context, keys []domain.InventoryKey) (map[domain.InventoryKey]domain.InventoryRecord, error) {
	result := make(map[domain.InventoryKey]domain.InventoryRecord, len(keys))
	for _, key := range keys {
		if record, ok := v.records[key]; ok {
			result[key] = record.Clone()
		}
	}
	return result, nil
}

func (v memoryView) GetInventoriesForSku(ctx context.Context, skuCode string) (map[int64]domain.InventoryRecord, error) {
	result := make(map[int64]domain.InventoryRecord)
	for key, record := range v.records {
		if key.SkuCode == skuCode {
			result[key.WarehouseID] = record.Clone()
		}
	}
	return result, nil
}

func (v memoryView) GetInventoriesInWarehouse(ctx context.Context, skuCodes []string, warehouseID int64) (map[string]domain.InventoryRecord, error) {
	result := make(map[string]domain.InventoryRecord, len(skuCodes))
	for _, sku := range skuCodes {
		if record, ok := v.records[domain.NewInventoryKey(sku, warehouseID)]; ok {
			result[sku] = record.Clone()
		}
	}
	return result, nil
}

func (v memoryView) PendingRollups(ctx context.Context, keys []domain.InventoryKey) (map[domain.InventoryKey]domain.JournalRollup, error) {
	result := make(map[domain.InventoryKey]domain.JournalRollup)
	for _, key := range keys {
		rollup := domain.JournalRollup{Key: key}
		for _, e := range v.journal[key] {
			if !e.Applied {
				rollup.Add(e)
			}
		}
		if rollup.Entries > 0 {
			result[key] = rollup
		}
	}
	return result, nil
}

func (m *MemoryAdapter) PendingKeys(ctx context.Context, createdBefore time.Time, limit int) ([]domain.InventoryKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]domain.InventoryKey, 0)
	for key, entries := range m.journal {
		for _, e := range entries {
			if !e.Applied && !e.CreatedAt.After(createdBefore) {
				keys = append(keys, key)
				break
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].WarehouseID != keys[j].WarehouseID {
			return keys[i].WarehouseID < keys[j].WarehouseID
		}
		return keys[i].SkuCode < keys[j].SkuCode
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (m *MemoryAdapter) PurgeRetired(ctx context.Context, createdBefore time.Time) (int64, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for key, entries := range m.journal {
		kept := entries[:0:0]
		for _, e := range entries {
			if e.Applied && e.CreatedAt.Before(createdBefore) {
				purged++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(m.journal, key)
		} else {
			m.journal[key] = kept
		}
	}
	return purged, nil
}

// Journal returns every stored entry of a key, retired ones included.
func (m *MemoryAdapter) Journal(key domain.InventoryKey) []domain.JournalEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.JournalEntry(nil), m.journal[key]...)
}

type memoryTx struct {
	store       *MemoryAdapter
	records     map[domain.InventoryKey]*domain.InventoryRecord
	journal     map[domain.InventoryKey][]domain.JournalEntry
	seq         int64
	now         func() time.Time
	afterCommit []func()
}

func (tx *memoryTx) GetInventory(ctx context.Context, key domain.InventoryKey) (*domain.InventoryRecord, error) {
	if record, ok := tx.records[key]; ok {
		if record == nil {
			return nil, nil
		}
		c := record.Clone()
		return &c, nil
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	record, ok := tx.store.records[key]
	if !ok {
		return nil, nil
	}
	c := record.Clone()
	return &c, nil
}

func (tx *memoryTx) SaveInventory(ctx context.Context, record domain.InventoryRecord) error {
	c := record.Clone()
	tx.records[record.Key] = &c
	return nil
}

func (tx *memoryTx) DeleteInventory(ctx context.Context, key domain.InventoryKey) error {
	tx.records[key] = nil
	return nil
}

// entries returns the transaction's private copy of a key's journal.
func (tx *memoryTx) entries(key domain.InventoryKey) []domain.JournalEntry {
	if entries, ok := tx.journal[key]; ok {
		return entries
	}
	tx.store.mu.RLock()
	entries := append([]domain.JournalEntry(nil), tx.store.journal[key]...)
	tx.store.mu.RUnlock()
	tx.journal[key] = entries
	return entries
}

func (tx *memoryTx) AppendJournal(ctx context.Context, entry domain.JournalEntry) (domain.JournalEntry, error) {
	tx.seq++
	entry.Sequence = tx.seq
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = tx.now()
	}
	tx.journal[entry.Key] = append(tx.entries(entry.Key), entry)
	return entry, nil
}

func (tx *memoryTx) PendingJournal(ctx context.Context, key domain.InventoryKey) ([]domain.JournalEntry, error) {
	pending := make([]domain.JournalEntry, 0)
	for _, e := range tx.entries(key) {
		if !e.Applied {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

func (tx *memoryTx) RetireJournal(ctx context.Context, key domain.InventoryKey, sequences []int64) error {
	retire := make(map[int64]struct{}, len(sequences))
	for _, s := range sequences {
		retire[s] = struct{}{}
	}
	entries := tx.entries(key)
	for i := range entries {
		if _, ok := retire[entries[i].Sequence]; ok {
			entries[i].Applied = true
		}
	}
	return nil
}

func (tx *memoryTx) DeleteJournal(ctx context.Context, key domain.InventoryKey) error {
	tx.journal[key] = nil
	return nil
}

func (tx *memoryTx) AfterCommit(fn func()) {
	tx.afterCommit = append(tx.afterCommit, fn)
}
