package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

func seedMemory(t *testing.T, adapter *MemoryAdapter, record domain.InventoryRecord) {
	err := adapter.RunInTx(context.Background(), func(ctx context.Context, tx port.InventoryTx) error {
		return tx.SaveInventory(ctx, record)
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestMemorySaveAndGetInventory(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()
	key := domain.NewInventoryKey("MEM-1", 1)

	seedMemory(t, adapter, domain.InventoryRecord{Key: key, QuantityOnHand: 10, ReorderMinimum: 2})
	seedMemory(t, adapter, domain.InventoryRecord{Key: domain.NewInventoryKey("MEM-1", 2), QuantityOnHand: 4})

	found, err := adapter.GetInventories(ctx, []domain.InventoryKey{key, domain.NewInventoryKey("missing", 1)})
	if err != nil {
		t.Fatalf("GetInventories failed: %v", err)
	}
	if len(found) != 1 || found[key].QuantityOnHand != 10 {
		t.Errorf("expected one record with on-hand 10, got %v", found)
	}

	bySku, _ := adapter.GetInventoriesForSku(ctx, "MEM-1")
	if len(bySku) != 2 || bySku[2].QuantityOnHand != 4 {
		t.Errorf("expected two warehouses, got %v", bySku)
	}

	inWarehouse, _ := adapter.GetInventoriesInWarehouse(ctx, []string{"MEM-1", "missing"}, 1)
	if len(inWarehouse) != 1 {
		t.Errorf("expected 1 record, got %d", len(inWarehouse))
	}
}

func TestMemoryReadsReturnCopies(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()
	key := domain.NewInventoryKey("MEM-COPY", 1)
	restock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	seedMemory(t, adapter, domain.InventoryRecord{Key: key, QuantityOnHand: 10, RestockDate: &restock})

	found, _ := adapter.GetInventories(ctx, []domain.InventoryKey{key})
	mutated := found[key]
	*mutated.RestockDate = mutated.RestockDate.AddDate(1, 0, 0)

	again, _ := adapter.GetInventories(ctx, []domain.InventoryKey{key})
	if !again[key].RestockDate.Equal(restock) {
		t.Errorf("stored record was mutated through a read: %v", again[key].RestockDate)
	}
}

func TestMemoryRunInTx_RollsBack(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()
	key := domain.NewInventoryKey("MEM-RB", 1)
	seedMemory(t, adapter, domain.InventoryRecord{Key: key, QuantityOnHand: 10})
	boom := errors.New("boom")

	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		if err := tx.SaveInventory(ctx, domain.InventoryRecord{Key: key, QuantityOnHand: 99}); err != nil {
			return err
		}
		if _, err := tx.AppendJournal(ctx, domain.JournalEntry{Key: key, OnHandDelta: 89}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got: %v", err)
	}

	found, _ := adapter.GetInventories(ctx, []domain.InventoryKey{key})
	if found[key].QuantityOnHand != 10 {
		t.Errorf("expected on-hand 10 after rollback, got %d", found[key].QuantityOnHand)
	}
	if len(adapter.Journal(key)) != 0 {
		t.Error("expected no journal entries after rollback")
	}
}

func TestMemoryRunInTx_UncommittedWritesInvisible(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()
	key := domain.NewInventoryKey("MEM-ISO", 1)
	seedMemory(t, adapter, domain.InventoryRecord{Key: key, QuantityOnHand: 10})

	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		if err := tx.SaveInventory(ctx, domain.InventoryRecord{Key: key, QuantityOnHand: 20}); err != nil {
			return err
		}

		inside, _ := tx.GetInventory(ctx, key)
		if inside.QuantityOnHand != 20 {
			t.Errorf("expected tx to see its own write, got %d", inside.QuantityOnHand)
		}

		outside, _ := adapter.GetInventories(ctx, []domain.InventoryKey{key})
		if outside[key].QuantityOnHand != 10 {
			t.Errorf("expected readers to see committed 10, got %d", outside[key].QuantityOnHand)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, _ := adapter.GetInventories(ctx, []domain.InventoryKey{key})
	if found[key].QuantityOnHand != 20 {
		t.Errorf("expected committed 20, got %d", found[key].QuantityOnHand)
	}
}

func TestMemoryRunInTx_JoinsOuterTransaction(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()
	key := domain.NewInventoryKey("MEM-JOIN", 1)
	boom := errors.New("boom")

	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		inner := adapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			return tx.SaveInventory(ctx, domain.InventoryRecord{Key: key, QuantityOnHand: 3})
		})
		if inner != nil {
			return inner
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got: %v", err)
	}

	found, _ := adapter.GetInventories(ctx, []domain.InventoryKey{key})
	if len(found) != 0 {
		t.Error("inner write survived outer rollback")
	}
}

func TestMemoryJournalLifecycle(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()
	key := domain.NewInventoryKey("MEM-J", 1)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	adapter.SetClock(func() time.Time { return base })

	var sequences []int64
	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		for _, delta := range []int{5, -2, 4} {
			entry, err := tx.AppendJournal(ctx, domain.JournalEntry{Key: key, AllocatedDelta: delta})
			if err != nil {
				return err
			}
			sequences = append(sequences, entry.Sequence)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AppendJournal failed: %v", err)
	}
	if sequences[0] != 1 || sequences[2] != 3 {
		t.Errorf("expected sequences 1..3, got %v", sequences)
	}

	rollups, _ := adapter.PendingRollups(ctx, []domain.InventoryKey{key})
	if rollups[key].AllocatedDelta != 7 || rollups[key].Entries != 3 {
		t.Errorf("expected delta 7 over 3 entries, got %+v", rollups[key])
	}

	if keys, _ := adapter.PendingKeys(ctx, base.Add(-time.Second), 10); len(keys) != 0 {
		t.Errorf("expected no keys older than the cutoff, got %v", keys)
	}
	if keys, _ := adapter.PendingKeys(ctx, base, 10); len(keys) != 1 || keys[0] != key {
		t.Errorf("expected [%s], got %v", key, keys)
	}

	err = adapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		return tx.RetireJournal(ctx, key, sequences[:2])
	})
	if err != nil {
		t.Fatalf("RetireJournal failed: %v", err)
	}

	rollups, _ = adapter.PendingRollups(ctx, []domain.InventoryKey{key})
	if rollups[key].AllocatedDelta != 4 || rollups[key].Entries != 1 {
		t.Errorf("expected one pending entry of 4, got %+v", rollups[key])
	}

	purged, _ := adapter.PurgeRetired(ctx, base.Add(time.Second))
	if purged != 2 {
		t.Errorf("expected 2 purged entries, got %d", purged)
	}
	if remaining := adapter.Journal(key); len(remaining) != 1 || remaining[0].Applied {
		t.Errorf("expected one pending entry left, got %+v", remaining)
	}
}

func TestMemoryPendingKeys_OrderAndLimit(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()

	keys := []domain.InventoryKey{
		domain.NewInventoryKey("B", 2),
		domain.NewInventoryKey("A", 2),
		domain.NewInventoryKey("Z", 1),
	}
	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		for _, key := range keys {
			if _, err := tx.AppendJournal(ctx, domain.JournalEntry{Key: key, OnHandDelta: 1}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AppendJournal failed: %v", err)
	}

	got, _ := adapter.PendingKeys(ctx, time.Now().UTC().Add(time.Minute), 2)
	want := []domain.InventoryKey{domain.NewInventoryKey("Z", 1), domain.NewInventoryKey("A", 2)}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMemoryDeleteRemovesRecordAndJournal(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()
	key := domain.NewInventoryKey("MEM-DEL", 1)
	seedMemory(t, adapter, domain.InventoryRecord{Key: key, QuantityOnHand: 1})

	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		if _, err := tx.AppendJournal(ctx, domain.JournalEntry{Key: key, OnHandDelta: 1}); err != nil {
			return err
		}
		if err := tx.DeleteInventory(ctx, key); err != nil {
			return err
		}
		return tx.DeleteJournal(ctx, key)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, _ := adapter.GetInventories(ctx, []domain.InventoryKey{key})
	if len(found) != 0 {
		t.Error("expected record to be deleted")
	}
	if len(adapter.Journal(key)) != 0 {
		t.Error("expected journal to be deleted")
	}
}

func TestMemoryGetInventory_SerializesWriters(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()
	key := domain.NewInventoryKey("MEM-CONC", 1)
	seedMemory(t, adapter, domain.InventoryRecord{Key: key, QuantityOnHand: 20})

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
				record, err := tx.GetInventory(ctx, key)
				if err != nil {
					return err
				}
				if record.AvailableToSell() < 1 {
					return domain.ErrInsufficientStock
				}
				record.AllocatedQuantity++
				return tx.SaveInventory(ctx, *record)
			})
			if err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 20 {
		t.Errorf("expected 20 successes, got %d", successCount.Load())
	}
	found, _ := adapter.GetInventories(ctx, []domain.InventoryKey{key})
	if found[key].AllocatedQuantity != 20 {
		t.Errorf("expected allocated 20, got %d", found[key].AllocatedQuantity)
	}
}

func TestLocalClaimLocker(t *testing.T) {
	locker := NewLocalClaimLocker()
	ctx := context.Background()
	key := domain.NewInventoryKey("LOCAL", 1)

	claim, err := locker.TryClaim(ctx, key, "worker-a")
	if err != nil {
		t.Fatalf("TryClaim failed: %v", err)
	}
	if owner, _ := locker.Owner(key); owner != "worker-a" {
		t.Errorf("expected owner worker-a, got %q", owner)
	}

	if _, err := locker.TryClaim(ctx, key, "worker-b"); !errors.Is(err, domain.ErrRollupContention) {
		t.Errorf("expected ErrRollupContention, got: %v", err)
	}

	claim.Release(ctx)
	claim.Release(ctx)
	if _, held := locker.Owner(key); held {
		t.Error("expected claim to be released")
	}

	if _, err := locker.TryClaim(ctx, key, "worker-b"); err != nil {
		t.Errorf("expected claim after release, got: %v", err)
	}
}

func TestLocalClaimLocker_Concurrent(t *testing.T) {
	locker := NewLocalClaimLocker()
	ctx := context.Background()
	key := domain.NewInventoryKey("LOCAL-CONC", 1)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := locker.TryClaim(ctx, key, "worker"); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}

// foldPending writes the pending journal of key into its record the way a
// rollup does.
func foldPending(t *testing.T, store port.InventoryStore, key domain.InventoryKey) {
	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.InventoryTx) error {
		record, err := tx.GetInventory(ctx, key)
		if err != nil {
			return err
		}
		pending, err := tx.PendingJournal(ctx, key)
		if err != nil {
			return err
		}
		if err := tx.SaveInventory(ctx, domain.SumJournal(key, pending).ApplyTo(*record)); err != nil {
			return err
		}
		sequences := make([]int64, 0, len(pending))
		for _, e := range pending {
			sequences = append(sequences, e.Sequence)
		}
		return tx.RetireJournal(ctx, key, sequences)
	})
	if err != nil {
		t.Fatalf("fold failed: %v", err)
	}
}

func TestMemorySnapshot_IgnoresLaterCommits(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()
	key := domain.NewInventoryKey("MEM-SNAP", 1)
	seedMemory(t, adapter, domain.InventoryRecord{Key: key, QuantityOnHand: 10})

	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		_, err := tx.AppendJournal(ctx, domain.JournalEntry{Key: key, AllocatedDelta: 7})
		return err
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	err = adapter.Snapshot(ctx, func(ctx context.Context, r port.InventoryReader) error {
		before, err := r.GetInventories(ctx, []domain.InventoryKey{key})
		if err != nil {
			return err
		}

		foldPending(t, adapter, key)

		rollups, err := r.PendingRollups(ctx, []domain.InventoryKey{key})
		if err != nil {
			return err
		}
		if rollups[key].AllocatedDelta != 7 || rollups[key].Entries != 1 {
			t.Errorf("expected the pending allocation in the snapshot, got %+v", rollups[key])
		}
		after, _ := r.GetInventories(ctx, []domain.InventoryKey{key})
		if before[key].AllocatedQuantity != 0 || after[key].AllocatedQuantity != 0 {
			t.Errorf("snapshot record changed: before %d, after %d", before[key].AllocatedQuantity, after[key].AllocatedQuantity)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	live, _ := adapter.GetInventories(ctx, []domain.InventoryKey{key})
	if live[key].AllocatedQuantity != 7 {
		t.Errorf("expected folded allocation 7, got %d", live[key].AllocatedQuantity)
	}
	rollups, _ := adapter.PendingRollups(ctx, []domain.InventoryKey{key})
	if len(rollups) != 0 {
		t.Errorf("expected nothing pending after fold, got %v", rollups)
	}
}

func TestMemoryAfterCommit(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()
	key := domain.NewInventoryKey("MEM-HOOK", 1)

	var fired []string
	err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		tx.AfterCommit(func() { fired = append(fired, "outer") })

		// A joined call registers on the same transaction.
		err := adapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
			tx.AfterCommit(func() { fired = append(fired, "inner") })
			return tx.SaveInventory(ctx, domain.InventoryRecord{Key: key, QuantityOnHand: 1})
		})
		if err != nil {
			return err
		}
		if len(fired) != 0 {
			t.Errorf("hooks ran before commit: %v", fired)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
	if len(fired) != 2 || fired[0] != "outer" || fired[1] != "inner" {
		t.Errorf("expected outer then inner after commit, got %v", fired)
	}

	fired = nil
	boom := errors.New("boom")
	err = adapter.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		tx.AfterCommit(func() { fired = append(fired, "rolled back") })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(fired) != 0 {
		t.Errorf("hook ran after rollback: %v", fired)
	}
}
