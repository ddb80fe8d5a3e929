package service

import "github.com/rl1809/stock-ledger/internal/core/domain"

// CommandFactory builds commands for one strategy. Building a command
// performs no I/O; nothing happens until a facade executes it.
type CommandFactory struct {
	issuer StrategyKind
}

func NewCommandFactory(issuer StrategyKind) *CommandFactory {
	return &CommandFactory{issuer: issuer}
}

func (f *CommandFactory) newCommand(kind domain.CommandKind, key domain.InventoryKey, quantity int) *domain.Command {
	return &domain.Command{
		Kind:     kind,
		Key:      key,
		Quantity: quantity,
		Log:      domain.NewLogContext(key, kind.String(), quantity),
		IssuedBy: string(f.issuer),
	}
}

// CreateOrUpdate replaces the full record stored under record.Key.
func (f *CommandFactory) CreateOrUpdate(record domain.InventoryRecord) *domain.Command {
	cmd := f.newCommand(domain.CommandCreateOrUpdate, record.Key, 0)
	cmd.Record = record.Clone()
	return cmd
}

func (f *CommandFactory) Delete(key domain.InventoryKey) *domain.Command {
	return f.newCommand(domain.CommandDelete, key, 0)
}

func (f *CommandFactory) Allocate(key domain.InventoryKey, quantity int) *domain.Command {
	return f.newCommand(domain.CommandAllocate, key, quantity)
}

func (f *CommandFactory) Deallocate(key domain.InventoryKey, quantity int) *domain.Command {
	return f.newCommand(domain.CommandDeallocate, key, quantity)
}

func (f *CommandFactory) Release(key domain.InventoryKey, quantity int) *domain.Command {
	return f.newCommand(domain.CommandRelease, key, quantity)
}

// Adjust changes on-hand by a signed quantity without availability checks.
func (f *CommandFactory) Adjust(key domain.InventoryKey, quantity int, reason string) *domain.Command {
	return f.newCommand(domain.CommandAdjust, key, quantity).WithReason(reason)
}
