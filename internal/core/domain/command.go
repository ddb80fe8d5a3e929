package domain

type CommandKind int

const (
	CommandCreateOrUpdate CommandKind = iota + 1
	CommandDelete
	CommandAllocate
	CommandDeallocate
	CommandRelease
	CommandAdjust
)

func (k CommandKind) String() string {
	switch k {
	case CommandCreateOrUpdate:
		return "CreateOrUpdate"
	case CommandDelete:
		return "Delete"
	case CommandAllocate:
		return "Allocate"
	case CommandDeallocate:
		return "Deallocate"
	case CommandRelease:
		return "Release"
	case CommandAdjust:
		return "Adjust"
	default:
		return "Unknown"
	}
}

// Command is a pending stock mutation. It does nothing until a facade
// executes it. Record is only set for CreateOrUpdate.
type Command struct {
	Kind     CommandKind
	Key      InventoryKey
	Record   InventoryRecord
	Quantity int
	Log      LogContext

	// IssuedBy names the strategy whose factory built the command.
	IssuedBy string
}

func (c *Command) WithOrder(orderNumber string) *Command {
	c.Log.OrderNumber = orderNumber
	return c
}

func (c *Command) WithOriginator(originator string) *Command {
	c.Log.Originator = originator
	return c
}

func (c *Command) WithReason(reason string) *Command {
	c.Log.Reason = reason
	return c
}

func (c *Command) WithComment(comment string) *Command {
	c.Log.Comment = comment
	return c
}

func (c *Command) WithAttribute(name string, value any) *Command {
	if c.Log.Attributes == nil {
		c.Log.Attributes = make(map[string]any)
	}
	c.Log.Attributes[name] = value
	return c
}
