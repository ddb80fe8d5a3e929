package service

import (
	"fmt"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// plan computes the record a command leaves behind given the view it
// observed, and the quantity it reports. It does no I/O. Delete is handled
// by the strategies directly.
func plan(cmd *domain.Command, view *domain.InventoryRecord, policy domain.StockPolicy) (domain.InventoryRecord, int, error) {
	if cmd.Kind == domain.CommandCreateOrUpdate {
		record := cmd.Record.Clone()
		if err := record.Validate(); err != nil {
			return domain.InventoryRecord{}, 0, err
		}
		if err := record.CheckInvariants(policy); err != nil {
			return domain.InventoryRecord{}, 0, err
		}
		return record, 0, nil
	}

	q := cmd.Quantity
	switch cmd.Kind {
	case domain.CommandAllocate, domain.CommandDeallocate, domain.CommandRelease:
		if q <= 0 {
			return domain.InventoryRecord{}, 0, fmt.Errorf("%w: %s quantity must be positive, got %d", domain.ErrInvalidQuantity, cmd.Kind, q)
		}
	case domain.CommandAdjust:
		if q == 0 {
			return domain.InventoryRecord{}, 0, fmt.Errorf("%w: adjust quantity must not be zero", domain.ErrInvalidQuantity)
		}
	default:
		return domain.InventoryRecord{}, 0, fmt.Errorf("%w: %d", domain.ErrUnknownCommand, cmd.Kind)
	}

	if view == nil {
		return domain.InventoryRecord{}, 0, fmt.Errorf("%w: %s", domain.ErrKeyNotFound, cmd.Key)
	}
	after := view.Clone()

	switch cmd.Kind {
	case domain.CommandAllocate:
		after.AllocatedQuantity += q
		if after.AvailableToSell() < -policy.BackorderLimit {
			return domain.InventoryRecord{}, 0, fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientStock, q, view.AvailableToSell())
		}
	case domain.CommandDeallocate:
		if view.AllocatedQuantity < q {
			return domain.InventoryRecord{}, 0, fmt.Errorf("%w: deallocate %d exceeds allocated %d", domain.ErrInvalidQuantity, q, view.AllocatedQuantity)
		}
		after.AllocatedQuantity -= q
	case domain.CommandRelease:
		if view.ReservedQuantity < q {
			return domain.InventoryRecord{}, 0, fmt.Errorf("%w: release %d exceeds reserved %d", domain.ErrInvalidQuantity, q, view.ReservedQuantity)
		}
		after.ReservedQuantity -= q
	case domain.CommandAdjust:
		after.QuantityOnHand += q
		if after.QuantityOnHand < 0 && !policy.AllowNegativeStock {
			return domain.InventoryRecord{}, 0, fmt.Errorf("%w: adjust %d leaves on-hand at %d", domain.ErrInvalidQuantity, q, after.QuantityOnHand)
		}
		if after.ReservedQuantity > 0 && after.QuantityOnHand < after.ReservedQuantity {
			return domain.InventoryRecord{}, 0, fmt.Errorf("%w: adjust %d leaves on-hand %d below reserved %d", domain.ErrInvalidQuantity, q, after.QuantityOnHand, after.ReservedQuantity)
		}
	}
	return after, q, nil
}
