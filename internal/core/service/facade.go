package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/audit"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const tracerName = "github.com/rl1809/stock-ledger/internal/core/service"

// InventoryFacade is the single entry point for stock commands and reads.
// It never retries; retry policy belongs to the caller.
type InventoryFacade struct {
	strategy Strategy
	factory  *CommandFactory
	audit    *audit.Logger
	tracer   trace.Tracer
}

func NewInventoryFacade(strategy Strategy, logger *zap.Logger) *InventoryFacade {
	return &InventoryFacade{
		strategy: strategy,
		factory:  NewCommandFactory(strategy.Kind()),
		audit:    audit.NewLogger(logger),
		tracer:   otel.Tracer(tracerName),
	}
}

func (f *InventoryFacade) CommandFactory() *CommandFactory {
	return f.factory
}

func (f *InventoryFacade) Strategy() StrategyKind {
	return f.strategy.Kind()
}

func (f *InventoryFacade) Supports(capability domain.Capability) bool {
	return f.strategy.Capabilities().Supports(capability)
}

func (f *InventoryFacade) Capabilities() []domain.Capability {
	return f.strategy.Capabilities().List()
}

// Ping reports whether the strategy's storage is reachable.
func (f *InventoryFacade) Ping(ctx context.Context) error {
	return f.strategy.Store().Ping(ctx)
}

// ExecuteCommand runs one command. If ctx carries a transaction of the
// strategy's store the command joins it, and its audit line is held until
// that transaction commits.
func (f *InventoryFacade) ExecuteCommand(ctx context.Context, cmd *domain.Command) (domain.ExecutionResult, error) {
	ctx, span := f.tracer.Start(ctx, "InventoryFacade.ExecuteCommand", trace.WithAttributes(commandAttributes(cmd)...))
	defer span.End()

	var result domain.ExecutionResult
	err := f.strategy.Store().RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		var err error
		result, err = f.execute(ctx, tx, 0, cmd)
		if err != nil {
			return err
		}
		tx.AfterCommit(func() { f.audit.Info(audit.MessageCommandExecuted, cmd.Log) })
		return nil
	})
	if err != nil {
		err = asExecutionError(0, cmd, err)
		recordError(span, err)
		return domain.ExecutionResult{}, err
	}
	return result, nil
}

// ExecuteCommands runs cmds in order in one transaction. Either every
// command takes effect or none does.
func (f *InventoryFacade) ExecuteCommands(ctx context.Context, cmds []*domain.Command) ([]domain.ExecutionResult, error) {
	ctx, span := f.tracer.Start(ctx, "InventoryFacade.ExecuteCommands", trace.WithAttributes(
		attribute.Int("inventory.batch_size", len(cmds)),
	))
	defer span.End()

	results := make([]domain.ExecutionResult, 0, len(cmds))
	failed := -1
	err := f.strategy.Store().RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		for i, cmd := range cmds {
			result, err := f.execute(ctx, tx, i, cmd)
			if err != nil {
				failed = i
				return err
			}
			results = append(results, result)
		}
		for _, cmd := range cmds {
			tx.AfterCommit(func() { f.audit.Info(audit.MessageCommandExecuted, cmd.Log) })
		}
		return nil
	})
	if err != nil {
		index := failed
		if index < 0 {
			index = len(cmds) - 1
		}
		var cmd *domain.Command
		if index >= 0 {
			cmd = cmds[index]
		}
		err = asExecutionError(index, cmd, err)

		lc := domain.LogContext{Attributes: map[string]any{"commands": len(cmds), "failedIndex": index}}
		if cmd != nil {
			lc.Key = cmd.Key
			lc.OrderNumber = cmd.Log.OrderNumber
			lc.Originator = cmd.Log.Originator
		}
		f.audit.Warn(audit.MessageBatchRolledBack, lc, err)
		recordError(span, err)
		return nil, err
	}
	return results, nil
}

func (f *InventoryFacade) execute(ctx context.Context, tx port.InventoryTx, index int, cmd *domain.Command) (domain.ExecutionResult, error) {
	if cmd == nil {
		return domain.ExecutionResult{}, &domain.CommandExecutionError{Index: index, Err: domain.ErrUnknownCommand}
	}
	if cmd.IssuedBy != string(f.strategy.Kind()) {
		err := &domain.CommandExecutionError{
			Index: index,
			Kind:  cmd.Kind,
			Key:   cmd.Key,
			Err:   fmt.Errorf("%w: issued by %q, facade runs %q", domain.ErrForeignCommand, cmd.IssuedBy, f.strategy.Kind()),
		}
		f.audit.Warn(audit.MessageCommandFailed, cmd.Log, err)
		return domain.ExecutionResult{}, err
	}

	result, err := f.strategy.apply(ctx, tx, cmd)
	if err != nil {
		err = &domain.CommandExecutionError{Index: index, Kind: cmd.Kind, Key: cmd.Key, Err: err}
		f.audit.Warn(audit.MessageCommandFailed, cmd.Log, err)
		return domain.ExecutionResult{}, err
	}
	return result, nil
}

// asExecutionError keeps command errors as they are and wraps anything
// else, such as a failed commit.
func asExecutionError(index int, cmd *domain.Command, err error) error {
	var execErr *domain.CommandExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	wrapped := &domain.CommandExecutionError{Index: index, Err: err}
	if cmd != nil {
		wrapped.Kind = cmd.Kind
		wrapped.Key = cmd.Key
	}
	return wrapped
}

func (f *InventoryFacade) GetInventory(ctx context.Context, key domain.InventoryKey) (domain.InventoryRecord, error) {
	records, err := f.GetInventories(ctx, []domain.InventoryKey{key})
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	record, ok := records[key]
	if !ok {
		return domain.InventoryRecord{}, fmt.Errorf("%w: %s", domain.ErrKeyNotFound, key)
	}
	return record, nil
}

func (f *InventoryFacade) GetInventoryBySku(ctx context.Context, skuCode string, warehouseID int64) (domain.InventoryRecord, error) {
	return f.GetInventory(ctx, domain.NewInventoryKey(skuCode, warehouseID))
}

// GetInventories returns the records among keys that exist. Absent keys are
// left out.
func (f *InventoryFacade) GetInventories(ctx context.Context, keys []domain.InventoryKey) (map[domain.InventoryKey]domain.InventoryRecord, error) {
	ctx, span := f.tracer.Start(ctx, "InventoryFacade.GetInventories", trace.WithAttributes(
		attribute.Int("inventory.keys", len(keys)),
	))
	defer span.End()

	var merged map[domain.InventoryKey]domain.InventoryRecord
	err := f.strategy.Store().Snapshot(ctx, func(ctx context.Context, r port.InventoryReader) error {
		records, err := r.GetInventories(ctx, keys)
		if err != nil {
			return fmt.Errorf("get inventories: %w", err)
		}
		merged, err = f.read(ctx, r, records)
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return merged, nil
}

func (f *InventoryFacade) GetInventoriesForSku(ctx context.Context, skuCode string) (map[int64]domain.InventoryRecord, error) {
	ctx, span := f.tracer.Start(ctx, "InventoryFacade.GetInventoriesForSku", trace.WithAttributes(
		attribute.String("inventory.sku", skuCode),
	))
	defer span.End()

	var merged map[domain.InventoryKey]domain.InventoryRecord
	err := f.strategy.Store().Snapshot(ctx, func(ctx context.Context, r port.InventoryReader) error {
		byWarehouse, err := r.GetInventoriesForSku(ctx, skuCode)
		if err != nil {
			return fmt.Errorf("get inventories for sku: %w", err)
		}
		records := make(map[domain.InventoryKey]domain.InventoryRecord, len(byWarehouse))
		for _, record := range byWarehouse {
			records[record.Key] = record
		}
		merged, err = f.read(ctx, r, records)
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	result := make(map[int64]domain.InventoryRecord, len(merged))
	for key, record := range merged {
		result[key.WarehouseID] = record
	}
	return result, nil
}

// FindLowStockInventories returns the records whose on-hand quantity is
// below their reorder minimum, sorted by SKU.
func (f *InventoryFacade) FindLowStockInventories(ctx context.Context, skuCodes []string, warehouseID int64) ([]domain.InventoryRecord, error) {
	ctx, span := f.tracer.Start(ctx, "InventoryFacade.FindLowStockInventories", trace.WithAttributes(
		attribute.Int64("inventory.warehouse", warehouseID),
		attribute.Int("inventory.skus", len(skuCodes)),
	))
	defer span.End()

	var merged map[domain.InventoryKey]domain.InventoryRecord
	err := f.strategy.Store().Snapshot(ctx, func(ctx context.Context, r port.InventoryReader) error {
		bySku, err := r.GetInventoriesInWarehouse(ctx, skuCodes, warehouseID)
		if err != nil {
			return fmt.Errorf("get inventories in warehouse: %w", err)
		}
		records := make(map[domain.InventoryKey]domain.InventoryRecord, len(bySku))
		for _, record := range bySku {
			records[record.Key] = record
		}
		merged, err = f.read(ctx, r, records)
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	low := make([]domain.InventoryRecord, 0)
	for _, record := range merged {
		if record.IsLowStock() {
			low = append(low, record)
		}
	}
	sort.Slice(low, func(i, j int) bool {
		return low[i].Key.SkuCode < low[j].Key.SkuCode
	})
	return low, nil
}

func (f *InventoryFacade) read(ctx context.Context, r port.InventoryReader, records map[domain.InventoryKey]domain.InventoryRecord) (map[domain.InventoryKey]domain.InventoryRecord, error) {
	merged, err := f.strategy.view(ctx, r, records)
	if err != nil {
		return nil, fmt.Errorf("merge pending journal: %w", err)
	}
	return merged, nil
}

func commandAttributes(cmd *domain.Command) []attribute.KeyValue {
	if cmd == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String("inventory.command", cmd.Kind.String()),
		attribute.String("inventory.sku", cmd.Key.SkuCode),
		attribute.Int64("inventory.warehouse", cmd.Key.WarehouseID),
		attribute.Int("inventory.quantity", cmd.Quantity),
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
