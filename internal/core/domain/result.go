package domain

// ExecutionResult is the outcome of one command. InventoryAfter is computed
// from the state the command observed and may already be stale when read.
type ExecutionResult struct {
	Quantity       int
	InventoryAfter InventoryRecord
}
