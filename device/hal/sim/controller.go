package sim

import (
	"context"
	"sync"

	"github.com/ardnew/fsusb/device/hal"
	"github.com/ardnew/fsusb/pkg"
)

// MaxEndpoints is the size of the modeled endpoint table.
const MaxEndpoints = 16

// DefaultEndpoints matches the SAMD21 USB peripheral.
const DefaultEndpoints = 8

// MaxTrace bounds the number of retained trace events.
const MaxTrace = 4096

// bank is one direction of an endpoint table entry.
type bank struct {
	configured bool
	typ        hal.TransferType
	maxPacket  uint16

	buf      []byte
	count    int
	autoZLP  bool
	ready    bool
	complete bool
	stalled  bool
}

type endpoint struct {
	banks [2]bank
	setup bool
	fault bool // Any other interrupt flag, such as a failed transaction

	// Interrupt enables
	setupEnabled bool
	outEnabled   bool

	// Packets transmitted and not yet collected by the host
	inQueue [][]byte
}

// Controller is an in-memory device controller. It is safe for concurrent
// use by the device's interrupt handler and a Host.
type Controller struct {
	mutex sync.Mutex

	hardware   uint8 // Size of the endpoint table in hardware
	numEnabled uint8 // Entries enabled by ConfigureHardware
	attached   bool
	address    uint8
	busReset   bool

	eps   [MaxEndpoints]endpoint
	trace []Event

	// version counts state changes; changed is closed and replaced on
	// every change to wake waiters.
	version uint64
	changed chan struct{}
}

var _ hal.Controller = (*Controller)(nil)

// NewController creates a detached controller with an endpoint table of
// numEndpoints entries.
func NewController(numEndpoints uint8) *Controller {
	if numEndpoints == 0 || numEndpoints > MaxEndpoints {
		numEndpoints = DefaultEndpoints
	}
	return &Controller{
		hardware: numEndpoints,
		changed:  make(chan struct{}),
	}
}

// signal wakes everything waiting for a state change. Caller holds mutex.
func (c *Controller) signal() {
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})
}

// record appends to the trace. Caller holds mutex.
func (c *Controller) record(kind EventKind, index uint8, data []byte) {
	if len(c.trace) >= MaxTrace {
		copy(c.trace, c.trace[1:])
		c.trace = c.trace[:len(c.trace)-1]
	}
	var cp []byte
	if len(data) > 0 {
		cp = append([]byte(nil), data...)
	}
	c.trace = append(c.trace, Event{Kind: kind, Index: index, Data: cp})
}

func (c *Controller) bank(index uint8, dir hal.Direction) *bank {
	if index >= MaxEndpoints {
		pkg.Fatal(pkg.ComponentHAL, "endpoint index out of range", "index", index)
	}
	return &c.eps[index].banks[dir&1]
}

// ConfigureHardware implements hal.Controller.
func (c *Controller) ConfigureHardware(numEndpoints uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if numEndpoints == 0 || numEndpoints > c.hardware {
		pkg.LogWarn(pkg.ComponentHAL, "endpoint table too small",
			"requested", numEndpoints, "hardware", c.hardware)
		return pkg.ErrNoResources
	}
	c.numEnabled = numEndpoints
	c.eps = [MaxEndpoints]endpoint{}
	c.address = 0
	c.busReset = false
	c.attached = true
	c.signal()

	pkg.LogDebug(pkg.ComponentHAL, "controller attached",
		"endpoints", numEndpoints)
	return nil
}

// NumEndpoints implements hal.Controller.
func (c *Controller) NumEndpoints() uint8 {
	return c.hardware
}

// InitEndpoint implements hal.Controller.
func (c *Controller) InitEndpoint(index uint8, dir hal.Direction, typ hal.TransferType, maxPacketSize uint16) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if index >= c.numEnabled {
		return pkg.ErrNotSupported
	}
	b := c.bank(index, dir)
	*b = bank{configured: true, typ: typ, maxPacket: maxPacketSize}

	ep := &c.eps[index]
	if dir == hal.DirOut {
		if index == 0 {
			ep.setupEnabled = true
		} else {
			ep.outEnabled = true
		}
	}
	c.signal()
	return nil
}

// ResetEndpoint implements hal.Controller.
func (c *Controller) ResetEndpoint(index uint8) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if index >= c.numEnabled {
		return pkg.ErrNotSupported
	}
	c.eps[index] = endpoint{}
	c.signal()
	return nil
}

// SetAddress implements hal.Controller.
func (c *Controller) SetAddress(addr uint8) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.address != addr {
		c.record(EventAddress, addr, nil)
	}
	c.address = addr
	c.signal()
}

// PrepareBank implements hal.Controller.
func (c *Controller) PrepareBank(index uint8, dir hal.Direction, buf []byte, autoZLP bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	b := c.bank(index, dir)
	b.buf = buf
	b.autoZLP = autoZLP
	if dir == hal.DirIn {
		b.count = len(buf)
	} else {
		b.count = 0
	}
}

// SetBankReady implements hal.Controller. IN banks are transmitted at once.
func (c *Controller) SetBankReady(index uint8, dir hal.Direction) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	b := c.bank(index, dir)
	if dir == hal.DirOut {
		b.ready = true
		c.signal()
		return
	}
	c.transmit(index, b)
	b.complete = true
	c.signal()
}

// transmit splits an IN bank into packets and queues them for the host.
// Caller holds mutex.
func (c *Controller) transmit(index uint8, b *bank) {
	ep := &c.eps[index]
	if b.stalled {
		c.record(EventStall, index, nil)
		return
	}
	mps := int(b.maxPacket)
	if mps == 0 {
		mps = 64
	}
	data := b.buf[:b.count]
	for {
		n := len(data)
		if n > mps {
			n = mps
		}
		pkt := append([]byte{}, data[:n]...)
		ep.inQueue = append(ep.inQueue, pkt)
		c.record(EventIn, index, pkt)
		data = data[n:]
		if len(data) == 0 {
			break
		}
	}
	if b.autoZLP && b.count > 0 && b.count%mps == 0 {
		ep.inQueue = append(ep.inQueue, []byte{})
		c.record(EventIn, index, nil)
	}
}

// ByteCount implements hal.Controller.
func (c *Controller) ByteCount(index uint8, dir hal.Direction) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.bank(index, dir).count
}

// TransferComplete implements hal.Controller.
func (c *Controller) TransferComplete(index uint8, dir hal.Direction) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.bank(index, dir).complete
}

// ClearTransferComplete implements hal.Controller.
func (c *Controller) ClearTransferComplete(index uint8, dir hal.Direction) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.bank(index, dir).complete = false
	c.signal()
}

// SetupReceived implements hal.Controller.
func (c *Controller) SetupReceived() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.eps[0].setup
}

// ClearSetupReceived implements hal.Controller.
func (c *Controller) ClearSetupReceived() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.eps[0].setup = false
	c.signal()
}

// BusReset implements hal.Controller.
func (c *Controller) BusReset() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.busReset
}

// ClearBusReset implements hal.Controller.
func (c *Controller) ClearBusReset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.busReset = false
	c.signal()
}

// PendingEndpoints implements hal.Controller.
func (c *Controller) PendingEndpoints() uint16 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.pendingEndpoints()
}

func (c *Controller) pendingEndpoints() uint16 {
	var summary uint16
	for i := uint8(0); i < c.numEnabled; i++ {
		ep := &c.eps[i]
		if (ep.setupEnabled && ep.setup) || (ep.outEnabled && (ep.banks[hal.DirOut].complete || ep.fault)) {
			summary |= 1 << i
		}
	}
	return summary
}

// ClearEndpointFlags implements hal.Controller.
func (c *Controller) ClearEndpointFlags(index uint8) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if index >= MaxEndpoints {
		pkg.Fatal(pkg.ComponentHAL, "endpoint index out of range", "index", index)
	}
	c.eps[index].fault = false
	c.signal()
}

// Stall implements hal.Controller.
func (c *Controller) Stall(index uint8, dir hal.Direction) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	b := c.bank(index, dir)
	if !b.stalled {
		b.stalled = true
		if dir == hal.DirIn || index != 0 {
			c.record(EventStall, index, nil)
		}
	}
	c.signal()
}

// ClearStall implements hal.Controller.
func (c *Controller) ClearStall(index uint8, dir hal.Direction) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.bank(index, dir).stalled = false
	c.signal()
}

// Stalled implements hal.Controller.
func (c *Controller) Stalled(index uint8, dir hal.Direction) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.bank(index, dir).stalled
}

// Address returns the device address register.
func (c *Controller) Address() uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.address
}

// Attached reports whether ConfigureHardware has run.
func (c *Controller) Attached() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.attached
}

// Trace returns a copy of the recorded bus events.
func (c *Controller) Trace() []Event {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]Event(nil), c.trace...)
}

// ClearTrace drops the recorded bus events.
func (c *Controller) ClearTrace() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.trace = c.trace[:0]
}

// InterruptPending reports whether any enabled interrupt cause is set.
func (c *Controller) InterruptPending() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.interruptPending()
}

func (c *Controller) interruptPending() bool {
	return c.attached && (c.busReset || c.pendingEndpoints() != 0)
}

// wait blocks until cond holds. cond runs with mutex held.
func (c *Controller) wait(ctx context.Context, cond func() bool) error {
	for {
		c.mutex.Lock()
		if cond() {
			c.mutex.Unlock()
			return nil
		}
		ch := c.changed
		c.mutex.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Serve calls isr whenever an enabled interrupt cause is pending, until
// ctx is done. If a call leaves the controller untouched, Serve waits
// for the next state change before calling isr again.
func (c *Controller) Serve(ctx context.Context, isr func()) error {
	for {
		var seen uint64
		err := c.wait(ctx, func() bool {
			seen = c.version
			return c.interruptPending()
		})
		if err != nil {
			return err
		}

		isr()

		c.mutex.Lock()
		idle := c.version == seen
		ch := c.changed
		c.mutex.Unlock()
		if idle {
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
