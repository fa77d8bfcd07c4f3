package device

import (
	"github.com/ardnew/fsusb/device/hal"
	"github.com/ardnew/fsusb/pkg"
)

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	EndpointTypeControl     = uint8(hal.TransferControl)
	EndpointTypeIsochronous = uint8(hal.TransferIsochronous)
	EndpointTypeBulk        = uint8(hal.TransferBulk)
	EndpointTypeInterrupt   = uint8(hal.TransferInterrupt)
)

// Endpoint address direction bits.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// EndpointFlagNoAutoZLP suppresses the hardware's trailing zero-length
// packet on IN transfers that are an exact multiple of the max packet size.
// Interrupt endpoints always carry it.
const EndpointFlagNoAutoZLP uint8 = 1 << 0

// EndpointIn is the device-to-host half of a hardware endpoint.
//
// Write blocks until the hardware reports transfer complete. When called
// from the interrupt context this holds off every other USB cause until
// the host has collected the data; control and report transfers are small
// enough for that to be acceptable.
type EndpointIn struct {
	hw        hal.Controller
	index     uint8
	typ       hal.TransferType
	maxPacket uint16
	flags     uint8

	limit  uint16
	capped bool

	buf [MaxPacketSize]byte
}

func (e *EndpointIn) init(hw hal.Controller, index uint8, typ hal.TransferType, maxPacket uint16, flags uint8) error {
	if maxPacket == 0 || maxPacket > MaxPacketSize {
		pkg.Fatal(pkg.ComponentEndpoint, "max packet size out of range",
			"index", index, "size", maxPacket)
	}

	e.hw = hw
	e.index = index
	e.typ = typ
	e.maxPacket = maxPacket
	e.flags = flags
	if typ == hal.TransferInterrupt {
		e.flags |= EndpointFlagNoAutoZLP
	}
	e.capped = false
	return hw.InitEndpoint(index, hal.DirIn, typ, maxPacket)
}

// Index returns the hardware endpoint index.
func (e *EndpointIn) Index() uint8 { return e.index }

// Address returns the endpoint address as it appears in descriptors.
func (e *EndpointIn) Address() uint8 { return e.index | EndpointDirectionIn }

// Type returns the transfer type.
func (e *EndpointIn) Type() hal.TransferType { return e.typ }

// MaxPacketSize returns the max packet size.
func (e *EndpointIn) MaxPacketSize() uint16 { return e.maxPacket }

// AutoZLP reports whether multi-packet writes may end with a zero-length packet.
func (e *EndpointIn) AutoZLP() bool { return e.flags&EndpointFlagNoAutoZLP == 0 }

// SetLengthCap arms a one-shot limit: the next Write is truncated to n
// bytes and the limit is cleared. A Write that reaches the limit sends no
// trailing ZLP. The control engine arms it with the
// host's wLength.
func (e *EndpointIn) SetLengthCap(n uint16) {
	e.limit = n
	e.capped = true
}

// LengthCap returns the armed limit, if any.
func (e *EndpointIn) LengthCap() (uint16, bool) {
	return e.limit, e.capped
}

// Write sends p to the host and returns the number of bytes handed to the
// hardware. Buffers of at least one max packet are transmitted in place as
// a multi-packet transfer; shorter ones are staged through the endpoint's
// own buffer. The error is always nil; the signature satisfies io.Writer.
func (e *EndpointIn) Write(p []byte) (int, error) {
	if e.hw == nil {
		pkg.Fatal(pkg.ComponentEndpoint, "write on uninitialized endpoint")
	}

	n := len(p)
	filled := false
	if e.capped {
		if n >= int(e.limit) {
			n = int(e.limit)
			filled = true
		}
		e.capped = false
	}

	// A reply that fills the cap ends the data stage without a ZLP.
	data := p[:n]
	autoZLP := false
	if n >= int(e.maxPacket) {
		autoZLP = e.AutoZLP() && !filled
	} else {
		copy(e.buf[:], data)
		data = e.buf[:n]
	}

	e.hw.PrepareBank(e.index, hal.DirIn, data, autoZLP)
	e.hw.ClearTransferComplete(e.index, hal.DirIn)
	e.hw.SetBankReady(e.index, hal.DirIn)
	for !e.hw.TransferComplete(e.index, hal.DirIn) {
	}

	pkg.LogDebug(pkg.ComponentEndpoint, "in transfer complete",
		"index", e.index, "bytes", n, "autoZLP", autoZLP)
	return n, nil
}

// Stall requests a STALL handshake on the IN direction and drops any armed
// length cap. Stalling twice is harmless.
func (e *EndpointIn) Stall() {
	e.hw.Stall(e.index, hal.DirIn)
	e.capped = false
}

// ClearStall removes the stall request.
func (e *EndpointIn) ClearStall() {
	e.hw.ClearStall(e.index, hal.DirIn)
}

// Stalled reports the stall request bit.
func (e *EndpointIn) Stalled() bool {
	return e.hw.Stalled(e.index, hal.DirIn)
}

// EndpointOut is the host-to-device half of a hardware endpoint. Reception
// is always armed into the endpoint's own buffer.
type EndpointOut struct {
	hw        hal.Controller
	index     uint8
	typ       hal.TransferType
	maxPacket uint16

	buf [MaxPacketSize]byte
}

func (e *EndpointOut) init(hw hal.Controller, index uint8, typ hal.TransferType, maxPacket uint16) error {
	if maxPacket == 0 || maxPacket > MaxPacketSize {
		pkg.Fatal(pkg.ComponentEndpoint, "max packet size out of range",
			"index", index, "size", maxPacket)
	}

	e.hw = hw
	e.index = index
	e.typ = typ
	e.maxPacket = maxPacket
	if err := hw.InitEndpoint(index, hal.DirOut, typ, maxPacket); err != nil {
		return err
	}
	e.startRead()
	return nil
}

// Index returns the hardware endpoint index.
func (e *EndpointOut) Index() uint8 { return e.index }

// Address returns the endpoint address as it appears in descriptors.
func (e *EndpointOut) Address() uint8 { return e.index }

// Type returns the transfer type.
func (e *EndpointOut) Type() hal.TransferType { return e.typ }

// MaxPacketSize returns the max packet size.
func (e *EndpointOut) MaxPacketSize() uint16 { return e.maxPacket }

func (e *EndpointOut) startRead() {
	e.hw.PrepareBank(e.index, hal.DirOut, e.buf[:e.maxPacket], false)
	e.hw.SetBankReady(e.index, hal.DirOut)
}

func (e *EndpointOut) copyOut(p []byte) int {
	n := e.hw.ByteCount(e.index, hal.DirOut)
	if n > int(e.maxPacket) {
		n = int(e.maxPacket)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, e.buf[:n])
	return n
}

// Pending reports whether a received packet is waiting.
func (e *EndpointOut) Pending() bool {
	return e.hw.TransferComplete(e.index, hal.DirOut)
}

// Read copies a received packet into p. It never blocks: with nothing
// received it returns 0. Bytes beyond len(p) are discarded. Reception is
// re-armed before returning. The error is always nil.
func (e *EndpointOut) Read(p []byte) (int, error) {
	if e.hw == nil {
		pkg.Fatal(pkg.ComponentEndpoint, "read on uninitialized endpoint")
	}
	if !e.hw.TransferComplete(e.index, hal.DirOut) {
		return 0, nil
	}
	n := e.copyOut(p)
	e.hw.ClearTransferComplete(e.index, hal.DirOut)
	e.startRead()
	return n, nil
}

// Fetch copies a received packet into p like Read but leaves reception
// disarmed, so the host is NAKed until Arm. It returns 0 when nothing was
// received.
func (e *EndpointOut) Fetch(p []byte) int {
	if !e.hw.TransferComplete(e.index, hal.DirOut) {
		return 0
	}
	n := e.copyOut(p)
	e.hw.ClearTransferComplete(e.index, hal.DirOut)
	return n
}

// Arm re-arms reception after Fetch.
func (e *EndpointOut) Arm() {
	e.startRead()
}

// Receive busy-waits for the next packet and then behaves like Read.
// It is used for control OUT data stages.
func (e *EndpointOut) Receive(p []byte) int {
	for !e.hw.TransferComplete(e.index, hal.DirOut) {
	}
	n, _ := e.Read(p)
	return n
}

// ReadSetup copies a received SETUP packet into p and re-arms reception.
// Any status packet left over from the previous transfer is dropped. It
// returns 0 when no SETUP is pending. The caller acknowledges the SETUP
// flag.
func (e *EndpointOut) ReadSetup(p []byte) int {
	if !e.hw.SetupReceived() {
		return 0
	}
	n := e.copyOut(p)
	e.hw.ClearTransferComplete(e.index, hal.DirOut)
	e.startRead()
	return n
}

// Discard drops a pending packet and re-arms reception.
func (e *EndpointOut) Discard() {
	e.hw.ClearTransferComplete(e.index, hal.DirOut)
	e.startRead()
}

// Stall requests a STALL handshake on the OUT direction.
func (e *EndpointOut) Stall() {
	e.hw.Stall(e.index, hal.DirOut)
}

// ClearStall removes the stall request.
func (e *EndpointOut) ClearStall() {
	e.hw.ClearStall(e.index, hal.DirOut)
}

// Stalled reports the stall request bit.
func (e *EndpointOut) Stalled() bool {
	return e.hw.Stalled(e.index, hal.DirOut)
}
