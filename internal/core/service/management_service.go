package service

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const mergeReason = "merge"

// InventoryManagementService offers whole-record operations built from
// facade commands.
type InventoryManagementService struct {
	facade *InventoryFacade
}

func NewInventoryManagementService(facade *InventoryFacade) *InventoryManagementService {
	return &InventoryManagementService{facade: facade}
}

// Merge brings the stored record to target as one atomic batch. Quantity
// changes go through Adjust and Allocate/Deallocate so they are journaled as
// such; only the remaining fields are written by CreateOrUpdate. lc is
// copied onto every command.
func (s *InventoryManagementService) Merge(ctx context.Context, target domain.InventoryRecord, lc domain.LogContext) ([]domain.ExecutionResult, error) {
	var results []domain.ExecutionResult
	err := s.facade.strategy.Store().RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		existing, err := s.facade.strategy.load(ctx, tx, target.Key)
		if err != nil {
			return err
		}

		cmds := s.mergeCommands(existing, target)
		for _, cmd := range cmds {
			withContext(cmd, lc)
		}

		results, err = s.facade.ExecuteCommands(ctx, cmds)
		return err
	})
	if err != nil {
		return nil, asExecutionError(0, nil, err)
	}
	return results, nil
}

func (s *InventoryManagementService) mergeCommands(existing *domain.InventoryRecord, target domain.InventoryRecord) []*domain.Command {
	factory := s.facade.factory
	if existing == nil {
		return []*domain.Command{factory.CreateOrUpdate(target)}
	}

	key := target.Key
	onHandDelta := target.QuantityOnHand - existing.QuantityOnHand
	allocatedDelta := target.AllocatedQuantity - existing.AllocatedQuantity

	// current tracks the record as each queued command will leave it.
	current := existing.Clone()
	cmds := make([]*domain.Command, 0, 4)
	if allocatedDelta < 0 {
		cmds = append(cmds, factory.Deallocate(key, -allocatedDelta))
		current.AllocatedQuantity += allocatedDelta
	}

	// The upsert only ever changes settings and reserved quantity.
	settings := target.Clone()
	settings.AllocatedQuantity = current.AllocatedQuantity
	if onHandDelta > 0 {
		cmds = append(cmds, factory.Adjust(key, onHandDelta, mergeReason))
		current.QuantityOnHand += onHandDelta
		settings.QuantityOnHand = current.QuantityOnHand
		if !settings.Equal(current) {
			cmds = append(cmds, factory.CreateOrUpdate(settings))
		}
	} else {
		settings.QuantityOnHand = current.QuantityOnHand
		if !settings.Equal(current) {
			cmds = append(cmds, factory.CreateOrUpdate(settings))
		}
		if onHandDelta < 0 {
			cmds = append(cmds, factory.Adjust(key, onHandDelta, mergeReason))
		}
	}

	if allocatedDelta > 0 {
		cmds = append(cmds, factory.Allocate(key, allocatedDelta))
	}
	return cmds
}

func withContext(cmd *domain.Command, lc domain.LogContext) {
	if lc.OrderNumber != "" {
		cmd.WithOrder(lc.OrderNumber)
	}
	if lc.Originator != "" {
		cmd.WithOriginator(lc.Originator)
	}
	if lc.Comment != "" {
		cmd.WithComment(lc.Comment)
	}
	if lc.Reason != "" {
		cmd.WithReason(lc.Reason)
	}
	for name, value := range lc.Attributes {
		cmd.WithAttribute(name, value)
	}
}
