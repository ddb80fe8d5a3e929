package domain

// LogContext is the audit context attached to a command or rollup phase.
type LogContext struct {
	Key         InventoryKey
	CommandName string
	Quantity    int
	OrderNumber string
	Originator  string
	Comment     string
	Reason      string
	Attributes  map[string]any
}

func NewLogContext(key InventoryKey, commandName string, quantity int) LogContext {
	return LogContext{Key: key, CommandName: commandName, Quantity: quantity}
}
