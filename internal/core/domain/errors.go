package domain

import (
	"errors"
	"fmt"
)

var (
	ErrKeyNotFound            = errors.New("inventory key not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrRollupContention       = errors.New("rollup contention")
	ErrCommandExecutionFailed = errors.New("inventory command execution failed")
	ErrForeignCommand         = errors.New("command issued by a different inventory strategy")
	ErrUnknownCommand         = errors.New("unknown inventory command")
)

// CommandExecutionError wraps the failure of one command. Index is the
// command's position in its batch, 0 for single executions.
type CommandExecutionError struct {
	Index int
	Kind  CommandKind
	Key   InventoryKey
	Err   error
}

func (e *CommandExecutionError) Error() string {
	return fmt.Sprintf("%s: command #%d %s on %s: %v", ErrCommandExecutionFailed, e.Index, e.Kind, e.Key, e.Err)
}

func (e *CommandExecutionError) Unwrap() error {
	return e.Err
}

func (e *CommandExecutionError) Is(target error) bool {
	return target == ErrCommandExecutionFailed
}
