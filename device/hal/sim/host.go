package sim

import (
	"context"
	"encoding/binary"

	"github.com/ardnew/fsusb/device/hal"
	"github.com/ardnew/fsusb/pkg"
)

// Host drives a Controller from the bus side. Its methods block until the
// device has responded, so the device's interrupt handler must be served
// concurrently (see Controller.Serve).
type Host struct {
	ctrl *Controller
}

// NewHost creates a host attached to ctrl.
func NewHost(ctrl *Controller) *Host {
	return &Host{ctrl: ctrl}
}

// Controller returns the device side of the cable.
func (h *Host) Controller() *Controller {
	return h.ctrl
}

// Reset drives a bus reset and waits until the device has reinitialized
// endpoint 0.
func (h *Host) Reset(ctx context.Context) error {
	c := h.ctrl
	c.mutex.Lock()
	if !c.attached {
		c.mutex.Unlock()
		return pkg.ErrNotRunning
	}
	for i := range c.eps {
		ep := &c.eps[i]
		ep.setup = false
		ep.inQueue = nil
		for d := range ep.banks {
			ep.banks[d].ready = false
			ep.banks[d].complete = false
		}
	}
	c.busReset = true
	c.record(EventReset, 0, nil)
	c.signal()
	c.mutex.Unlock()

	return c.wait(ctx, func() bool {
		return !c.busReset && c.eps[0].banks[hal.DirOut].ready
	})
}

// Setup writes a SETUP packet into the endpoint 0 OUT bank and raises
// RXSTP. It does not wait for the device.
func (h *Host) Setup(setup [8]byte) {
	h.SetupRaw(setup[:])
}

// SetupRaw is Setup for a packet of arbitrary length, as a faulty host
// might send.
func (h *Host) SetupRaw(pkt []byte) {
	c := h.ctrl
	c.mutex.Lock()
	defer c.mutex.Unlock()

	ep := &c.eps[0]
	ep.inQueue = nil
	out := &ep.banks[hal.DirOut]
	out.count = copy(out.buf, pkt)
	out.ready = false
	out.complete = false
	out.stalled = false
	ep.banks[hal.DirIn].stalled = false
	ep.setup = true
	c.record(EventSetup, 0, pkt)
	c.signal()
}

// ControlIn performs a control read and returns the data stage. The data
// stage ends after wLength bytes or a short packet, whichever comes first;
// anything the device queued beyond that is left for the trace. A STALL
// from the device is reported as pkg.ErrStall.
func (h *Host) ControlIn(ctx context.Context, setup [8]byte) ([]byte, error) {
	want := int(binary.LittleEndian.Uint16(setup[6:8]))
	h.Setup(setup)

	c := h.ctrl
	var stalled bool
	err := c.wait(ctx, func() bool {
		ep := &c.eps[0]
		if ep.banks[hal.DirIn].stalled {
			stalled = true
			return true
		}
		mps := int(maxPacket(&ep.banks[hal.DirIn]))
		total := 0
		for _, pkt := range ep.inQueue {
			total += len(pkt)
			if len(pkt) < mps || (want > 0 && total >= want) {
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if stalled {
		return nil, pkg.ErrStall
	}

	c.mutex.Lock()
	ep := &c.eps[0]
	mps := int(maxPacket(&ep.banks[hal.DirIn]))
	var data []byte
	for len(ep.inQueue) > 0 {
		pkt := ep.inQueue[0]
		ep.inQueue = ep.inQueue[1:]
		data = append(data, pkt...)
		if len(pkt) < mps || (want > 0 && len(data) >= want) {
			break
		}
	}
	c.mutex.Unlock()

	// Status stage
	if err := h.deposit(ctx, 0, nil); err != nil {
		return data, err
	}
	return data, nil
}

// ControlOut performs a control write with a data stage.
func (h *Host) ControlOut(ctx context.Context, setup [8]byte, data []byte) error {
	h.Setup(setup)

	c := h.ctrl
	mps := 64
	for len(data) > 0 {
		n := len(data)
		if n > mps {
			n = mps
		}
		if err := h.deposit(ctx, 0, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return h.status(ctx, c)
}

// ControlNoData performs a control request without a data stage.
func (h *Host) ControlNoData(ctx context.Context, setup [8]byte) error {
	h.Setup(setup)
	return h.status(ctx, h.ctrl)
}

// status waits for the device's zero-length status packet.
func (h *Host) status(ctx context.Context, c *Controller) error {
	var stalled bool
	err := c.wait(ctx, func() bool {
		ep := &c.eps[0]
		if ep.banks[hal.DirIn].stalled || ep.banks[hal.DirOut].stalled {
			stalled = true
			return true
		}
		return len(ep.inQueue) > 0
	})
	if err != nil {
		return err
	}
	if stalled {
		return pkg.ErrStall
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep := &c.eps[0]
	pkt := ep.inQueue[0]
	ep.inQueue = ep.inQueue[1:]
	if len(pkt) != 0 {
		return pkg.ErrProtocol
	}
	return nil
}

// Out sends data to an OUT endpoint, one packet per armed bank. Empty
// data sends a single zero-length packet.
func (h *Host) Out(ctx context.Context, index uint8, data []byte) error {
	if index == 0 || index >= MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	c := h.ctrl
	c.mutex.Lock()
	b := &c.eps[index].banks[hal.DirOut]
	configured, mps := b.configured, int(maxPacket(b))
	c.mutex.Unlock()
	if !configured {
		return pkg.ErrInvalidEndpoint
	}

	for {
		n := len(data)
		if n > mps {
			n = mps
		}
		if err := h.deposit(ctx, index, data[:n]); err != nil {
			return err
		}
		data = data[n:]
		if len(data) == 0 {
			return nil
		}
	}
}

// In returns the next packet transmitted on an IN endpoint, waiting for
// one if necessary. A stalled endpoint reports pkg.ErrStall.
func (h *Host) In(ctx context.Context, index uint8) ([]byte, error) {
	if index == 0 || index >= MaxEndpoints {
		return nil, pkg.ErrInvalidEndpoint
	}
	c := h.ctrl
	var stalled bool
	err := c.wait(ctx, func() bool {
		ep := &c.eps[index]
		if len(ep.inQueue) > 0 {
			return true
		}
		stalled = ep.banks[hal.DirIn].stalled
		return stalled
	})
	if err != nil {
		return nil, err
	}
	if stalled {
		return nil, pkg.ErrStall
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep := &c.eps[index]
	pkt := ep.inQueue[0]
	ep.inQueue = ep.inQueue[1:]
	return pkt, nil
}

// Fault raises an interrupt flag on an endpoint other than transfer
// complete, as a failed transaction would. The flag stays set until the
// device acknowledges it.
func (h *Host) Fault(index uint8) {
	c := h.ctrl
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.eps[index&0x0F].fault = true
	c.signal()
}

// MaxPacketSize returns the packet size of an IN endpoint.
func (h *Host) MaxPacketSize(index uint8) uint16 {
	c := h.ctrl
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return maxPacket(&c.eps[index&0x0F].banks[hal.DirIn])
}

// Pending returns the number of packets queued on an IN endpoint.
func (h *Host) Pending(index uint8) int {
	c := h.ctrl
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.eps[index&0x0F].inQueue)
}

// deposit waits for an OUT bank to be armed and fills it with one packet.
func (h *Host) deposit(ctx context.Context, index uint8, pkt []byte) error {
	c := h.ctrl
	var stalled bool
	err := c.wait(ctx, func() bool {
		b := &c.eps[index].banks[hal.DirOut]
		stalled = b.stalled
		return b.stalled || (b.ready && !b.complete)
	})
	if err != nil {
		return err
	}
	if stalled {
		return pkg.ErrStall
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	b := &c.eps[index].banks[hal.DirOut]
	if len(pkt) > len(b.buf) {
		return pkg.ErrBufferTooSmall
	}
	b.count = copy(b.buf, pkt)
	b.ready = false
	b.complete = true
	c.record(EventOut, index, pkt)
	c.signal()
	return nil
}

// maxPacket returns the bank's packet size, defaulting to 64.
func maxPacket(b *bank) uint16 {
	if b.maxPacket == 0 {
		return 64
	}
	return b.maxPacket
}

// SetupBytes encodes a SETUP packet.
func SetupBytes(requestType, request uint8, value, index, length uint16) [8]byte {
	var s [8]byte
	s[0] = requestType
	s[1] = request
	binary.LittleEndian.PutUint16(s[2:], value)
	binary.LittleEndian.PutUint16(s[4:], index)
	binary.LittleEndian.PutUint16(s[6:], length)
	return s
}
