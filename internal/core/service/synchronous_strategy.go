package service

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// synchronousStrategy updates the record and journals an already applied
// entry in the same transaction.
type synchronousStrategy struct {
	store  port.InventoryStore
	policy domain.StockPolicy
}

func newSynchronousStrategy(store port.InventoryStore, policy domain.StockPolicy) *synchronousStrategy {
	return &synchronousStrategy{store: store, policy: policy}
}

func (s *synchronousStrategy) Kind() StrategyKind { return StrategySynchronous }

func (s *synchronousStrategy) Capabilities() domain.Capabilities {
	return domain.NewCapabilities(domain.CapabilityAllocationTracked, domain.CapabilityPreOrBackOrderLimit)
}

func (s *synchronousStrategy) Policy() domain.StockPolicy { return s.policy }

func (s *synchronousStrategy) Store() port.InventoryStore { return s.store }

func (s *synchronousStrategy) load(ctx context.Context, tx port.InventoryTx, key domain.InventoryKey) (*domain.InventoryRecord, error) {
	return tx.GetInventory(ctx, key)
}

func (s *synchronousStrategy) apply(ctx context.Context, tx port.InventoryTx, cmd *domain.Command) (domain.ExecutionResult, error) {
	if cmd.Kind == domain.CommandDelete {
		return deleteKey(ctx, tx, cmd.Key)
	}

	current, err := tx.GetInventory(ctx, cmd.Key)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	after, quantity, err := plan(cmd, current, s.policy)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	before := domain.InventoryRecord{Key: cmd.Key}
	if current != nil {
		before = *current
	}

	if err := tx.SaveInventory(ctx, after); err != nil {
		return domain.ExecutionResult{}, err
	}
	entry := domain.DeltaBetween(before, after, cmd.Kind.String())
	entry.Applied = true
	if _, err := tx.AppendJournal(ctx, entry); err != nil {
		return domain.ExecutionResult{}, err
	}

	return domain.ExecutionResult{Quantity: quantity, InventoryAfter: after}, nil
}

func (s *synchronousStrategy) view(ctx context.Context, r port.InventoryReader, records map[domain.InventoryKey]domain.InventoryRecord) (map[domain.InventoryKey]domain.InventoryRecord, error) {
	return records, nil
}
