package domain

type Capability string

const (
	CapabilityAllocationTracked   Capability = "ALLOCATION_TRACKED"
	CapabilityPreOrBackOrderLimit Capability = "PRE_OR_BACK_ORDER_LIMIT"
)

// Capabilities is the set of features an inventory strategy supports.
type Capabilities struct {
	set map[Capability]struct{}
}

func NewCapabilities(caps ...Capability) Capabilities {
	set := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return Capabilities{set: set}
}

func (c Capabilities) Supports(capability Capability) bool {
	_, ok := c.set[capability]
	return ok
}

// List returns the supported capabilities in a stable order.
func (c Capabilities) List() []Capability {
	out := make([]Capability, 0, len(c.set))
	for _, known := range []Capability{CapabilityAllocationTracked, CapabilityPreOrBackOrderLimit} {
		if c.Supports(known) {
			out = append(out, known)
		}
	}
	return out
}
