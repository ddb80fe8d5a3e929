package service

import (
	"context"
	"fmt"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

type StrategyKind string

const (
	StrategySynchronous StrategyKind = "synchronous"
	StrategyJournaling  StrategyKind = "journaling"
)

func ParseStrategyKind(s string) (StrategyKind, error) {
	switch StrategyKind(s) {
	case StrategySynchronous, StrategyJournaling:
		return StrategyKind(s), nil
	default:
		return "", fmt.Errorf("unknown inventory strategy %q", s)
	}
}

// Strategy decides how commands reach storage and how reads see them.
// The set of strategies is closed; use NewStrategy to obtain one.
type Strategy interface {
	Kind() StrategyKind
	Capabilities() domain.Capabilities
	Policy() domain.StockPolicy
	Store() port.InventoryStore

	// load returns the locked view of a key inside tx, nil when absent.
	load(ctx context.Context, tx port.InventoryTx, key domain.InventoryKey) (*domain.InventoryRecord, error)

	// apply executes one command inside tx.
	apply(ctx context.Context, tx port.InventoryTx, cmd *domain.Command) (domain.ExecutionResult, error)

	// view turns committed records into what callers should read. r must be
	// the snapshot the records came from.
	view(ctx context.Context, r port.InventoryReader, records map[domain.InventoryKey]domain.InventoryRecord) (map[domain.InventoryKey]domain.InventoryRecord, error)
}

func NewStrategy(kind StrategyKind, store port.InventoryStore, policy domain.StockPolicy) (Strategy, error) {
	switch kind {
	case StrategySynchronous:
		return newSynchronousStrategy(store, policy), nil
	case StrategyJournaling:
		return newJournalingStrategy(store, policy), nil
	default:
		return nil, fmt.Errorf("unknown inventory strategy %q", kind)
	}
}

func deleteKey(ctx context.Context, tx port.InventoryTx, key domain.InventoryKey) (domain.ExecutionResult, error) {
	current, err := tx.GetInventory(ctx, key)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	if current == nil {
		return domain.ExecutionResult{}, fmt.Errorf("%w: %s", domain.ErrKeyNotFound, key)
	}
	if err := tx.DeleteInventory(ctx, key); err != nil {
		return domain.ExecutionResult{}, err
	}
	if err := tx.DeleteJournal(ctx, key); err != nil {
		return domain.ExecutionResult{}, err
	}
	return domain.ExecutionResult{InventoryAfter: domain.InventoryRecord{Key: key}}, nil
}
