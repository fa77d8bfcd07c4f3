package device

import (
	"github.com/ardnew/fsusb/device/hal"
	"github.com/ardnew/fsusb/pkg"
)

// ControlTransfer is the endpoint 0 pair together with the state of the
// control transfer in progress. Request handlers answer through it:
// Write for a data IN stage, Receive for a data OUT stage, Ack for a
// no-data status stage.
type ControlTransfer struct {
	in    EndpointIn
	out   EndpointOut
	state ControlState
	setup SetupPacket

	buf [MaxControlDataSize]byte
}

func (c *ControlTransfer) init(hw hal.Controller) error {
	if err := hw.ResetEndpoint(0); err != nil {
		return err
	}
	if err := c.in.init(hw, 0, hal.TransferControl, MaxPacketSize, 0); err != nil {
		return err
	}
	if err := c.out.init(hw, 0, hal.TransferControl, MaxPacketSize); err != nil {
		return err
	}
	c.state = ControlIdle
	return nil
}

// begin starts a new control transfer for setup. A SETUP always
// supersedes whatever the previous transfer left behind.
func (c *ControlTransfer) begin(setup *SetupPacket) {
	c.setup = *setup
	c.state = ControlSetup
	c.in.ClearStall()
	c.out.ClearStall()
	if setup.IsDeviceToHost() {
		c.in.SetLengthCap(setup.Length)
	}
}

// end closes the transfer unless a handler stalled it.
func (c *ControlTransfer) end() {
	if c.state != ControlStalled {
		c.state = ControlIdle
	}
}

// In returns the endpoint 0 IN primitive.
func (c *ControlTransfer) In() *EndpointIn { return &c.in }

// Out returns the endpoint 0 OUT primitive.
func (c *ControlTransfer) Out() *EndpointOut { return &c.out }

// State returns the control stage.
func (c *ControlTransfer) State() ControlState { return c.state }

// Setup returns the SETUP packet of the current transfer.
func (c *ControlTransfer) Setup() SetupPacket { return c.setup }

// Buffer returns the scratch buffer shared by control request handlers.
// Its contents are only valid until the next SETUP.
func (c *ControlTransfer) Buffer() []byte { return c.buf[:] }

// Write sends p as the data IN stage. The host's wLength caps what is
// actually sent. It returns the number of bytes sent.
func (c *ControlTransfer) Write(p []byte) (int, error) {
	if c.state == ControlStalled {
		return 0, pkg.ErrStall
	}
	c.state = ControlDataIn
	n, err := c.in.Write(p)
	c.state = ControlStatus
	return n, err
}

// Receive reads the data OUT stage into p: packets are collected until
// wLength bytes or a short packet arrive, then the status stage is
// acknowledged. It returns the number of bytes stored in p.
func (c *ControlTransfer) Receive(p []byte) (int, error) {
	if c.state == ControlStalled {
		return 0, pkg.ErrStall
	}
	want := int(c.setup.Length)
	if want > len(p) {
		return 0, pkg.ErrBufferTooSmall
	}
	c.state = ControlDataOut
	total := 0
	for total < want {
		n := c.out.Receive(p[total:want])
		total += n
		if n < int(c.out.MaxPacketSize()) {
			break
		}
	}
	if err := c.Ack(); err != nil {
		return total, err
	}
	return total, nil
}

// Ack sends the zero-length status packet.
func (c *ControlTransfer) Ack() error {
	if c.state == ControlStalled {
		return pkg.ErrStall
	}
	c.state = ControlStatus
	_, err := c.in.Write(nil)
	return err
}

// Stall refuses the request on both directions of endpoint 0. The stall
// lasts until the next SETUP.
func (c *ControlTransfer) Stall() {
	c.in.Stall()
	c.out.Stall()
	c.state = ControlStalled
}
