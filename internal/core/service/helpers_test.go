package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

var allStrategies = []StrategyKind{StrategySynchronous, StrategyJournaling}

type testEnv struct {
	store  *storage.MemoryAdapter
	facade *InventoryFacade
	logger *zap.Logger
	logs   *observer.ObservedLogs
}

func newTestEnv(t *testing.T, kind StrategyKind, policy domain.StockPolicy) *testEnv {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	store := storage.NewMemoryAdapter()
	strategy, err := NewStrategy(kind, store, policy)
	require.NoError(t, err)

	return &testEnv{
		store:  store,
		facade: NewInventoryFacade(strategy, logger),
		logger: logger,
		logs:   logs,
	}
}

func (e *testEnv) seed(t *testing.T, record domain.InventoryRecord) {
	t.Helper()
	_, err := e.facade.ExecuteCommand(context.Background(), e.facade.CommandFactory().CreateOrUpdate(record))
	require.NoError(t, err)
}

func (e *testEnv) get(t *testing.T, key domain.InventoryKey) domain.InventoryRecord {
	t.Helper()
	record, err := e.facade.GetInventory(context.Background(), key)
	require.NoError(t, err)
	return record
}

// stored returns the committed record without pending journal deltas.
func (e *testEnv) stored(t *testing.T, key domain.InventoryKey) domain.InventoryRecord {
	t.Helper()
	records, err := e.store.GetInventories(context.Background(), []domain.InventoryKey{key})
	require.NoError(t, err)
	record, ok := records[key]
	require.True(t, ok, "no stored record for %s", key)
	return record
}

func (e *testEnv) pending(key domain.InventoryKey) int {
	n := 0
	for _, entry := range e.store.Journal(key) {
		if !entry.Applied {
			n++
		}
	}
	return n
}

func newTestLocker() *storage.LocalClaimLocker {
	return storage.NewLocalClaimLocker()
}

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, value)
	require.NoError(t, err)
	return d
}

func (e *testEnv) rollupEngine(locker port.RollupLocker) *RollupEngine {
	return NewRollupEngine(e.store, locker, e.logger, RollupConfig{BatchSize: 100})
}

// gatedStore blocks every RunInTx until gate is closed and reports each
// entry on entered.
type gatedStore struct {
	*storage.MemoryAdapter
	entered chan struct{}
	gate    chan struct{}
}

func (s *gatedStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.InventoryTx) error) error {
	s.entered <- struct{}{}
	<-s.gate
	return s.MemoryAdapter.RunInTx(ctx, fn)
}

var errInjected = errors.New("injected failure")

// flakyStore fails RetireJournal after the record has been written, as
// many times as failures says.
type flakyStore struct {
	*storage.MemoryAdapter
	failures int
}

func (s *flakyStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.InventoryTx) error) error {
	return s.MemoryAdapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		return fn(ctx, &flakyTx{InventoryTx: tx, store: s})
	})
}

type flakyTx struct {
	port.InventoryTx
	store *flakyStore
}

func (tx *flakyTx) RetireJournal(ctx context.Context, key domain.InventoryKey, sequences []int64) error {
	if tx.store.failures > 0 {
		tx.store.failures--
		return errInjected
	}
	return tx.InventoryTx.RetireJournal(ctx, key, sequences)
}

// rollupMidReadStore folds every key a reader asks pending rollups for,
// right before the reader gets them.
type rollupMidReadStore struct {
	*storage.MemoryAdapter
	engine *RollupEngine
	folded int
}

func (s *rollupMidReadStore) Snapshot(ctx context.Context, fn func(ctx context.Context, r port.InventoryReader) error) error {
	return s.MemoryAdapter.Snapshot(ctx, func(ctx context.Context, r port.InventoryReader) error {
		return fn(ctx, &rollupMidReadReader{InventoryReader: r, store: s})
	})
}

type rollupMidReadReader struct {
	port.InventoryReader
	store *rollupMidReadStore
}

func (r *rollupMidReadReader) PendingRollups(ctx context.Context, keys []domain.InventoryKey) (map[domain.InventoryKey]domain.JournalRollup, error) {
	for _, key := range keys {
		task, err := r.store.engine.RollupKey(ctx, key)
		if err != nil {
			return nil, err
		}
		r.store.folded += task.Applied.Entries
	}
	return r.InventoryReader.PendingRollups(ctx, keys)
}
