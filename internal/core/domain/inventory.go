package domain

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// InventoryKey addresses one ledger row: a SKU stocked at a warehouse.
type InventoryKey struct {
	SkuCode     string `validate:"required,max=64"`
	WarehouseID int64  `validate:"gte=0"`
}

func NewInventoryKey(skuCode string, warehouseID int64) InventoryKey {
	return InventoryKey{SkuCode: skuCode, WarehouseID: warehouseID}
}

func (k InventoryKey) String() string {
	return fmt.Sprintf("%s@%d", k.SkuCode, k.WarehouseID)
}

// InventoryRecord is the materialized quantity snapshot for a key.
type InventoryRecord struct {
	Key               InventoryKey
	QuantityOnHand    int
	ReservedQuantity  int `validate:"gte=0"`
	AllocatedQuantity int `validate:"gte=0"`
	ReorderMinimum    int `validate:"gte=0"`
	ReorderQuantity   int `validate:"gte=0"`
	RestockDate       *time.Time
}

// StockPolicy carries the strategy-level switches that relax the record invariants.
type StockPolicy struct {
	AllowNegativeStock bool
	BackorderLimit     int
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// AvailableToSell is on-hand minus reserved minus allocated.
func (r InventoryRecord) AvailableToSell() int {
	return r.QuantityOnHand - r.ReservedQuantity - r.AllocatedQuantity
}

// Clone returns a copy that shares no mutable state with r.
func (r InventoryRecord) Clone() InventoryRecord {
	c := r
	if r.RestockDate != nil {
		d := *r.RestockDate
		c.RestockDate = &d
	}
	return c
}

func (r InventoryRecord) Equal(o InventoryRecord) bool {
	if r.Key != o.Key ||
		r.QuantityOnHand != o.QuantityOnHand ||
		r.ReservedQuantity != o.ReservedQuantity ||
		r.AllocatedQuantity != o.AllocatedQuantity ||
		r.ReorderMinimum != o.ReorderMinimum ||
		r.ReorderQuantity != o.ReorderQuantity {
		return false
	}
	if r.RestockDate == nil || o.RestockDate == nil {
		return r.RestockDate == nil && o.RestockDate == nil
	}
	return r.RestockDate.Equal(*o.RestockDate)
}

// IsLowStock reports whether on-hand has fallen below the reorder minimum.
func (r InventoryRecord) IsLowStock() bool {
	return r.QuantityOnHand < r.ReorderMinimum
}

// Validate checks the structural constraints of a record supplied by a caller.
func (r InventoryRecord) Validate() error {
	if err := recordValidator().Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuantity, err)
	}
	return nil
}

// CheckInvariants verifies the quantity invariants under the given policy.
func (r InventoryRecord) CheckInvariants(policy StockPolicy) error {
	if r.ReservedQuantity < 0 {
		return fmt.Errorf("%w: reserved quantity %d is negative", ErrInvalidQuantity, r.ReservedQuantity)
	}
	if r.AllocatedQuantity < 0 {
		return fmt.Errorf("%w: allocated quantity %d is negative", ErrInvalidQuantity, r.AllocatedQuantity)
	}
	if r.QuantityOnHand < 0 && !policy.AllowNegativeStock {
		return fmt.Errorf("%w: on-hand quantity %d is negative", ErrInvalidQuantity, r.QuantityOnHand)
	}
	if r.ReservedQuantity > 0 && r.ReservedQuantity > r.QuantityOnHand {
		return fmt.Errorf("%w: reserved %d exceeds on-hand %d", ErrInvalidQuantity, r.ReservedQuantity, r.QuantityOnHand)
	}
	if r.AvailableToSell() < -policy.BackorderLimit {
		return fmt.Errorf("%w: available %d below back-order limit %d", ErrInsufficientStock, r.AvailableToSell(), policy.BackorderLimit)
	}
	return nil
}
