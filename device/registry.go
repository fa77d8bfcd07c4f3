package device

import (
	"github.com/ardnew/fsusb/device/hal"
	"github.com/ardnew/fsusb/pkg"
)

// Registry is the insertion-ordered table of registered functions. It
// hands out hardware endpoint indices from a fixed budget: the first
// function starts at index 1 and each following one starts right after
// the indices consumed by its predecessors. Index 0 is the control pair.
//
// The registry is filled before the stack starts and read without
// locking from the interrupt context afterwards.
type Registry struct {
	entries [MaxInterfaces]Interface
	count   uint8
	used    uint8
	budget  uint8
	sealed  bool
}

// NewRegistry creates a registry that may hand out budget endpoint indices.
func NewRegistry(budget uint8) *Registry {
	return &Registry{budget: budget}
}

// Register appends fn and assigns its interface number and endpoint
// indices. It fails with pkg.ErrNoResources when fn's endpoints do not
// fit in the remaining budget, the table is full, or the configuration
// descriptor would overflow. Entries already registered stay registered.
func (r *Registry) Register(fn Function) (*Interface, error) {
	if r.sealed {
		pkg.Fatal(pkg.ComponentRegistry, "register after start")
	}
	if fn == nil {
		return nil, pkg.ErrInvalidParameter
	}
	info := fn.InterfaceInfo()
	if info == nil {
		return nil, pkg.ErrInvalidParameter
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}

	need := info.HardwareEndpoints()
	if r.count >= MaxInterfaces || int(r.used)+int(need) > int(r.budget) {
		pkg.LogWarn(pkg.ComponentRegistry, "endpoint budget exhausted",
			"need", need, "used", r.used, "budget", r.budget, "interfaces", r.count)
		return nil, pkg.ErrNoResources
	}
	if ConfigurationDescriptorSize+r.TotalDescriptorSize()+info.DescriptorSize() > MaxControlDataSize {
		return nil, pkg.ErrNoResources
	}

	e := &r.entries[r.count]
	*e = Interface{
		fn:     fn,
		number: r.count,
		first:  1 + r.used,
		count:  need,
	}
	r.count++
	r.used += need

	pkg.LogDebug(pkg.ComponentRegistry, "interface registered",
		"interface", e.number, "first", e.first, "endpoints", need,
		"class", info.Class)
	return e, nil
}

// Len returns the number of registered interfaces.
func (r *Registry) Len() int { return int(r.count) }

// Used returns the number of endpoint indices handed out.
func (r *Registry) Used() uint8 { return r.used }

// Budget returns the number of endpoint indices available to functions.
func (r *Registry) Budget() uint8 { return r.budget }

// Remaining returns the unassigned part of the budget.
func (r *Registry) Remaining() uint8 { return r.budget - r.used }

// Interface returns the entry with the given interface number, or nil.
func (r *Registry) Interface(number uint8) *Interface {
	if number >= r.count {
		return nil
	}
	return &r.entries[number]
}

// Interfaces returns the registered entries in order. The slice aliases
// the registry's storage.
func (r *Registry) Interfaces() []Interface {
	return r.entries[:r.count]
}

// TotalDescriptorSize sums the descriptor contributions of every entry.
func (r *Registry) TotalDescriptorSize() int {
	total := 0
	for i := uint8(0); i < r.count; i++ {
		total += r.entries[i].fn.InterfaceInfo().DescriptorSize()
	}
	return total
}

// DispatchToOwner maps a hardware endpoint index to the entry that owns
// it and the entry's local slot, walking entries in registration order.
func (r *Registry) DispatchToOwner(index uint8) (*Interface, uint8, bool) {
	first := uint8(1)
	for i := uint8(0); i < r.count; i++ {
		e := &r.entries[i]
		if index >= first && index < first+e.count {
			return e, index - first, true
		}
		first += e.count
	}
	return nil, 0, false
}

// seal forbids further registration.
func (r *Registry) seal() { r.sealed = true }

// initEndpoints (re)initializes the primitives of every entry.
func (r *Registry) initEndpoints(hw hal.Controller) error {
	for i := uint8(0); i < r.count; i++ {
		if err := r.entries[i].initEndpoints(hw); err != nil {
			return err
		}
	}
	return nil
}

// marshalTo writes every entry's contribution to buf in order and returns
// the number of bytes written.
func (r *Registry) marshalTo(buf []byte) int {
	n := 0
	for i := uint8(0); i < r.count; i++ {
		e := &r.entries[i]
		m := e.fn.InterfaceInfo().MarshalTo(buf[n:], e.number, e.first)
		if m == 0 {
			return n
		}
		n += m
	}
	return n
}
