package service

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// journalingStrategy only appends pending journal entries; the rollup
// engine folds them into the record later. Reads add the pending deltas so
// callers never observe the lag.
type journalingStrategy struct {
	store  port.InventoryStore
	policy domain.StockPolicy
}

func newJournalingStrategy(store port.InventoryStore, policy domain.StockPolicy) *journalingStrategy {
	// No back-order support.
	policy.BackorderLimit = 0
	return &journalingStrategy{store: store, policy: policy}
}

func (s *journalingStrategy) Kind() StrategyKind { return StrategyJournaling }

func (s *journalingStrategy) Capabilities() domain.Capabilities {
	return domain.NewCapabilities(domain.CapabilityAllocationTracked)
}

func (s *journalingStrategy) Policy() domain.StockPolicy { return s.policy }

func (s *journalingStrategy) Store() port.InventoryStore { return s.store }

// locked returns the stored record, its pending entries and the merged view.
func (s *journalingStrategy) locked(ctx context.Context, tx port.InventoryTx, key domain.InventoryKey) (*domain.InventoryRecord, []domain.JournalEntry, error) {
	current, err := tx.GetInventory(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if current == nil {
		return nil, nil, nil
	}
	pending, err := tx.PendingJournal(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	merged := domain.SumJournal(key, pending).ApplyTo(*current)
	return &merged, pending, nil
}

func (s *journalingStrategy) load(ctx context.Context, tx port.InventoryTx, key domain.InventoryKey) (*domain.InventoryRecord, error) {
	merged, _, err := s.locked(ctx, tx, key)
	return merged, err
}

func (s *journalingStrategy) apply(ctx context.Context, tx port.InventoryTx, cmd *domain.Command) (domain.ExecutionResult, error) {
	if cmd.Kind == domain.CommandDelete {
		return deleteKey(ctx, tx, cmd.Key)
	}

	merged, pending, err := s.locked(ctx, tx, cmd.Key)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	after, quantity, err := plan(cmd, merged, s.policy)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	before := domain.InventoryRecord{Key: cmd.Key}
	if merged != nil {
		before = *merged
	}
	entry := domain.DeltaBetween(before, after, cmd.Kind.String())

	if cmd.Kind == domain.CommandCreateOrUpdate {
		// The new record supersedes everything pending, so those entries
		// are folded here and only the net change is journaled.
		if err := tx.SaveInventory(ctx, after); err != nil {
			return domain.ExecutionResult{}, err
		}
		if err := tx.RetireJournal(ctx, cmd.Key, sequencesOf(pending)); err != nil {
			return domain.ExecutionResult{}, err
		}
		entry.Applied = true
	}

	if _, err := tx.AppendJournal(ctx, entry); err != nil {
		return domain.ExecutionResult{}, err
	}
	return domain.ExecutionResult{Quantity: quantity, InventoryAfter: after}, nil
}

func (s *journalingStrategy) view(ctx context.Context, r port.InventoryReader, records map[domain.InventoryKey]domain.InventoryRecord) (map[domain.InventoryKey]domain.InventoryRecord, error) {
	if len(records) == 0 {
		return records, nil
	}

	keys := make([]domain.InventoryKey, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	rollups, err := r.PendingRollups(ctx, keys)
	if err != nil {
		return nil, err
	}

	merged := make(map[domain.InventoryKey]domain.InventoryRecord, len(records))
	for key, record := range records {
		if rollup, ok := rollups[key]; ok {
			record = rollup.ApplyTo(record)
		}
		merged[key] = record
	}
	return merged, nil
}

func sequencesOf(entries []domain.JournalEntry) []int64 {
	sequences := make([]int64, 0, len(entries))
	for _, e := range entries {
		sequences = append(sequences, e.Sequence)
	}
	return sequences
}
