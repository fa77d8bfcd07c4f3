package device

import (
	"github.com/ardnew/fsusb/device/hal"
	"github.com/ardnew/fsusb/pkg"
)

// Function is the contract between the stack and a function driver such
// as HID. A non-nil error from a request handler means the request is not
// supported and the stack answers the host with a STALL.
type Function interface {
	// InterfaceInfo describes the descriptors the function contributes.
	// It is consulted at registration and on every configuration
	// descriptor build, and must describe the same endpoints each time.
	InterfaceInfo() *InterfaceInfo

	// Bind is called whenever the function's endpoint primitives have
	// been (re)initialized: after start, bus reset and SET_CONFIGURATION.
	Bind(iface *Interface)

	// ClassRequest handles a class request addressed to the interface.
	ClassRequest(ctrl *ControlTransfer, setup *SetupPacket) error

	// StdRequest handles a standard request addressed to the interface,
	// such as GET_DESCRIPTOR for a class descriptor.
	StdRequest(ctrl *ControlTransfer, setup *SetupPacket) error

	// EndpointRequest services a transfer-complete interrupt on one of the
	// function's OUT endpoints, identified by its slot.
	EndpointRequest(slot uint8) error
}

// HaltObserver is implemented by functions that act when the host clears
// the halt on one of their endpoints. HaltCleared runs after the status
// stage of CLEAR_FEATURE(ENDPOINT_HALT), in interrupt context.
type HaltObserver interface {
	HaltCleared(slot uint8, dir hal.Direction)
}

// UnimplementedFunction answers every request with pkg.ErrNotSupported.
// Embed it and override what the function handles.
type UnimplementedFunction struct{}

// Bind does nothing.
func (UnimplementedFunction) Bind(*Interface) {}

// ClassRequest returns pkg.ErrNotSupported.
func (UnimplementedFunction) ClassRequest(*ControlTransfer, *SetupPacket) error {
	return pkg.ErrNotSupported
}

// StdRequest returns pkg.ErrNotSupported.
func (UnimplementedFunction) StdRequest(*ControlTransfer, *SetupPacket) error {
	return pkg.ErrNotSupported
}

// EndpointRequest returns pkg.ErrNotSupported.
func (UnimplementedFunction) EndpointRequest(uint8) error {
	return pkg.ErrNotSupported
}

// EndpointInfo declares one endpoint descriptor of a function. Entries
// with the same Slot share one hardware endpoint index, one per direction.
type EndpointInfo struct {
	Slot           uint8            // Local hardware ordinal, 0-based
	Direction      hal.Direction    // DirIn or DirOut
	Type           hal.TransferType // Bulk, Interrupt or Isochronous
	MaxPacketSize  uint16           // 0 means MaxPacketSize
	Interval       uint8            // Polling interval in frames
	DisableAutoZLP bool             // Implied for interrupt endpoints
}

// PacketSize returns the effective max packet size.
func (e *EndpointInfo) PacketSize() uint16 {
	if e.MaxPacketSize == 0 {
		return MaxPacketSize
	}
	return e.MaxPacketSize
}

// Descriptor returns the endpoint descriptor for a function whose first
// hardware index is firstEndpoint.
func (e *EndpointInfo) Descriptor(firstEndpoint uint8) EndpointDescriptor {
	addr := firstEndpoint + e.Slot
	if e.Direction == hal.DirIn {
		addr |= EndpointDirectionIn
	}
	return EndpointDescriptor{
		Length:          EndpointDescriptorSize,
		DescriptorType:  DescriptorTypeEndpoint,
		EndpointAddress: addr,
		Attributes:      uint8(e.Type),
		MaxPacketSize:   e.PacketSize(),
		Interval:        e.Interval,
	}
}

// InterfaceInfo is the descriptor contribution of a function: an interface
// descriptor, an optional class descriptor placed right after it, the
// endpoint descriptors, and an optional supplemental blob appended
// verbatim.
type InterfaceInfo struct {
	Class       uint8
	SubClass    uint8
	Protocol    uint8
	StringIndex uint8

	Endpoints       []EndpointInfo
	ClassDescriptor []byte
	Supplemental    []byte
}

// HardwareEndpoints returns how many endpoint indices the function
// consumes from the budget: one per distinct slot.
func (info *InterfaceInfo) HardwareEndpoints() uint8 {
	var n uint8
	for i := range info.Endpoints {
		if s := info.Endpoints[i].Slot + 1; s > n {
			n = s
		}
	}
	return n
}

// DescriptorSize returns the number of bytes the function adds to the
// configuration descriptor.
func (info *InterfaceInfo) DescriptorSize() int {
	return InterfaceDescriptorSize +
		len(info.ClassDescriptor) +
		EndpointDescriptorSize*len(info.Endpoints) +
		len(info.Supplemental)
}

// Validate checks that the endpoint declarations can be laid out.
func (info *InterfaceInfo) Validate() error {
	if len(info.Endpoints) > MaxEndpointDescriptors {
		return pkg.ErrInvalidParameter
	}
	var seen [MaxEndpointsPerInterface][2]bool
	for i := range info.Endpoints {
		ep := &info.Endpoints[i]
		if ep.Slot >= MaxEndpointsPerInterface || ep.Direction > hal.DirIn {
			return pkg.ErrInvalidParameter
		}
		if ep.Type == hal.TransferControl || ep.Type > hal.TransferInterrupt {
			return pkg.ErrInvalidParameter
		}
		if ep.PacketSize() > MaxPacketSize {
			return pkg.ErrInvalidParameter
		}
		if seen[ep.Slot][ep.Direction] {
			return pkg.ErrInvalidParameter
		}
		seen[ep.Slot][ep.Direction] = true
	}
	return nil
}

// MarshalTo serializes the contribution for interface number and first
// hardware endpoint index. Returns 0 if buf is too small.
func (info *InterfaceInfo) MarshalTo(buf []byte, number, firstEndpoint uint8) int {
	if len(buf) < info.DescriptorSize() {
		return 0
	}
	desc := InterfaceDescriptor{
		InterfaceNumber:   number,
		NumEndpoints:      uint8(len(info.Endpoints)),
		InterfaceClass:    info.Class,
		InterfaceSubClass: info.SubClass,
		InterfaceProtocol: info.Protocol,
		InterfaceIndex:    info.StringIndex,
	}
	n := desc.MarshalTo(buf)
	n += copy(buf[n:], info.ClassDescriptor)
	for i := range info.Endpoints {
		ep := info.Endpoints[i].Descriptor(firstEndpoint)
		n += ep.MarshalTo(buf[n:])
	}
	n += copy(buf[n:], info.Supplemental)
	return n
}

// Interface is a registration entry: a function bound to an interface
// number and a contiguous run of hardware endpoint indices.
type Interface struct {
	fn        Function
	number    uint8
	first     uint8
	count     uint8
	alternate uint8

	in     [MaxEndpointsPerInterface]EndpointIn
	out    [MaxEndpointsPerInterface]EndpointOut
	hasIn  [MaxEndpointsPerInterface]bool
	hasOut [MaxEndpointsPerInterface]bool
}

// Number returns the interface number (registration order).
func (i *Interface) Number() uint8 { return i.number }

// FirstEndpoint returns the first hardware endpoint index of the function.
func (i *Interface) FirstEndpoint() uint8 { return i.first }

// EndpointCount returns the number of hardware endpoint indices consumed.
func (i *Interface) EndpointCount() uint8 { return i.count }

// Function returns the registered driver.
func (i *Interface) Function() Function { return i.fn }

// AlternateSetting returns the current alternate setting (always 0).
func (i *Interface) AlternateSetting() uint8 { return i.alternate }

// In returns the IN primitive of a slot, or nil if the function did not
// declare one.
func (i *Interface) In(slot uint8) *EndpointIn {
	if slot >= MaxEndpointsPerInterface || !i.hasIn[slot] {
		return nil
	}
	return &i.in[slot]
}

// Out returns the OUT primitive of a slot, or nil if the function did not
// declare one.
func (i *Interface) Out(slot uint8) *EndpointOut {
	if slot >= MaxEndpointsPerInterface || !i.hasOut[slot] {
		return nil
	}
	return &i.out[slot]
}

// Owns reports whether a hardware endpoint index belongs to the function
// and returns its slot.
func (i *Interface) Owns(index uint8) (slot uint8, ok bool) {
	if index < i.first || index >= i.first+i.count {
		return 0, false
	}
	return index - i.first, true
}

// initEndpoints (re)creates the primitives for every declared endpoint and
// binds them to the function.
func (i *Interface) initEndpoints(hw hal.Controller) error {
	info := i.fn.InterfaceInfo()
	for k := range info.Endpoints {
		ep := &info.Endpoints[k]
		index := i.first + ep.Slot
		if err := hw.ResetEndpoint(index); err != nil {
			return err
		}
	}
	for k := range info.Endpoints {
		ep := &info.Endpoints[k]
		index := i.first + ep.Slot
		var err error
		if ep.Direction == hal.DirIn {
			var flags uint8
			if ep.DisableAutoZLP {
				flags = EndpointFlagNoAutoZLP
			}
			err = i.in[ep.Slot].init(hw, index, ep.Type, ep.PacketSize(), flags)
			i.hasIn[ep.Slot] = err == nil
		} else {
			err = i.out[ep.Slot].init(hw, index, ep.Type, ep.PacketSize())
			i.hasOut[ep.Slot] = err == nil
		}
		if err != nil {
			return err
		}
	}
	i.alternate = 0
	i.fn.Bind(i)

	pkg.LogDebug(pkg.ComponentRegistry, "interface endpoints initialized",
		"interface", i.number, "first", i.first, "count", i.count)
	return nil
}
