package msc

import (
	"encoding/binary"
	"sync"

	"github.com/ardnew/fsusb/device"
	"github.com/ardnew/fsusb/device/hal"
	"github.com/ardnew/fsusb/pkg"
)

// phase is the Bulk-Only Transport state.
type phase uint8

const (
	phaseCommand phase = iota // Waiting for a CBW
	phaseDataOut              // Receiving WRITE data
	phaseHalted               // Invalid CBW seen; waiting for reset recovery
)

// MSC is a Bulk-Only Transport mass storage function with one bulk IN and
// one bulk OUT endpoint sharing a hardware endpoint index.
//
// Commands run to completion in the interrupt context: a CBW arriving on
// the OUT endpoint is executed, its data-in phase and CSW are written
// before EndpointRequest returns. WRITE data is collected packet by packet
// and committed one block at a time. A data phase the device ends early is
// closed with a STALL, and the CSW follows when the host clears the halt.
type MSC struct {
	info    device.InterfaceInfo
	storage Storage
	inquiry InquiryResponse

	// Endpoints, valid after Bind
	iface *device.Interface
	in    *device.EndpointIn
	out   *device.EndpointOut

	// Transport state, owned by the interrupt context
	phase   phase
	cbw     CommandBlockWrapper
	sense   Sense
	lba     uint64 // Next block of a WRITE
	pending uint32 // WRITE bytes still expected
	filled  int    // Bytes staged in block
	failed  bool   // A block of the current WRITE was not stored
	sent    uint32 // Data-in bytes of the current command
	held    bool   // CSW waits for the host to clear a halt

	packet [MaxPacketSize]byte
	resp   [responseSize]byte
	csw    [CSWSize]byte
	cswLen int
	block  []byte

	maxLUN    uint8
	onCommand func(opcode, status uint8)

	mutex sync.RWMutex
}

// New creates a mass storage function over storage. vendor and product
// are the INQUIRY identification strings (8 and 16 characters).
func New(storage Storage, vendor, product string) *MSC {
	bs := storage.BlockSize()
	pkg.Assert(bs >= MaxPacketSize && bs%MaxPacketSize == 0, pkg.ComponentMSC,
		"block size must be a multiple of the packet size", "blockSize", bs)

	m := &MSC{
		storage: storage,
		inquiry: NewInquiryResponse(DeviceTypeDisk, storage.IsRemovable(), vendor, product, "1.0"),
		block:   make([]byte, bs),
	}
	m.info = device.InterfaceInfo{
		Class:    ClassMSC,
		SubClass: SubclassSCSI,
		Protocol: ProtocolBulkOnly,
		Endpoints: []device.EndpointInfo{
			// Blocks are streamed as separate writes of whole packets; a
			// ZLP between them would end the data phase early.
			{Slot: 0, Direction: hal.DirIn, Type: hal.TransferBulk, MaxPacketSize: MaxPacketSize, DisableAutoZLP: true},
			{Slot: 0, Direction: hal.DirOut, Type: hal.TransferBulk, MaxPacketSize: MaxPacketSize},
		},
	}
	return m
}

// SetMaxLUN sets the highest logical unit number reported by GET_MAX_LUN.
// Every LUN maps to the same storage.
func (m *MSC) SetMaxLUN(lun uint8) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if lun <= 15 {
		m.maxLUN = lun
	}
}

// SetOnCommand sets a callback run after each command with its opcode and
// CSW status.
func (m *MSC) SetOnCommand(cb func(opcode, status uint8)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onCommand = cb
}

// Storage returns the backing storage.
func (m *MSC) Storage() Storage { return m.storage }

// InterfaceInfo implements device.Function.
func (m *MSC) InterfaceInfo() *device.InterfaceInfo {
	return &m.info
}

// Bind implements device.Function. Any command in progress is abandoned.
func (m *MSC) Bind(iface *device.Interface) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.iface = iface
	m.in = iface.In(0)
	m.out = iface.Out(0)
	m.resetTransport()

	pkg.LogDebug(pkg.ComponentMSC, "MSC bound",
		"interface", iface.Number(),
		"endpoint", iface.FirstEndpoint(),
		"blocks", m.storage.BlockCount(),
		"blockSize", m.storage.BlockSize())
}

func (m *MSC) resetTransport() {
	m.phase = phaseCommand
	m.pending = 0
	m.filled = 0
	m.failed = false
	m.sent = 0
	m.held = false
	m.sense = Sense{}
}

// StdRequest implements device.Function. The function has no class
// descriptors.
func (m *MSC) StdRequest(*device.ControlTransfer, *device.SetupPacket) error {
	return pkg.ErrNotSupported
}

// ClassRequest implements device.Function.
func (m *MSC) ClassRequest(ctrl *device.ControlTransfer, setup *device.SetupPacket) error {
	switch setup.Request {
	case RequestBulkOnlyMassStorageReset:
		if setup.IsDeviceToHost() || setup.Value != 0 || setup.Length != 0 {
			return pkg.ErrInvalidRequest
		}
		m.mutex.Lock()
		m.resetTransport()
		m.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentMSC, "bulk-only reset")
		return ctrl.Ack()

	case RequestGetMaxLUN:
		if !setup.IsDeviceToHost() || setup.Value != 0 {
			return pkg.ErrInvalidRequest
		}
		m.mutex.RLock()
		lun := m.maxLUN
		m.mutex.RUnlock()
		_, err := ctrl.Write([]byte{lun})
		return err
	}
	return pkg.ErrNotSupported
}

// EndpointRequest implements device.Function.
func (m *MSC) EndpointRequest(slot uint8) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if slot != 0 || m.out == nil {
		return pkg.ErrInvalidEndpoint
	}
	if !m.out.Pending() {
		return nil
	}

	switch m.phase {
	case phaseDataOut:
		n, err := m.out.Read(m.packet[:])
		if err != nil {
			return err
		}
		return m.receive(m.packet[:n])
	case phaseHalted:
		m.out.Discard()
		m.halt()
		return nil
	}

	// Reception stays off until the command has decided whether to stall
	// the OUT pipe.
	n := m.out.Fetch(m.packet[:])
	defer m.out.Arm()

	if !ParseCBW(m.packet[:n], &m.cbw) {
		pkg.LogWarn(pkg.ComponentMSC, "invalid CBW", "bytes", n)
		m.phase = phaseHalted
		m.held = false
		m.halt()
		return nil
	}
	pkg.LogDebug(pkg.ComponentMSC, "CBW",
		"tag", m.cbw.Tag,
		"opcode", m.cbw.CB[0],
		"length", m.cbw.DataTransferLength,
		"in", m.cbw.IsDataIn())

	m.sent = 0
	m.held = false
	status, residue := m.execute()
	if m.phase == phaseDataOut {
		return nil
	}
	return m.complete(status, residue)
}

// HaltCleared implements device.HaltObserver. Before reset recovery the
// endpoints are halted again; otherwise a held CSW is sent once bulk IN
// is no longer halted.
func (m *MSC) HaltCleared(slot uint8, _ hal.Direction) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if slot != 0 || m.in == nil {
		return
	}
	switch {
	case m.phase == phaseHalted:
		m.halt()
	case m.held && !m.in.Stalled():
		m.held = false
		if err := m.sendCSW(); err != nil {
			pkg.LogWarn(pkg.ComponentMSC, "CSW not sent", "error", err)
		}
	}
}

// halt stalls both bulk endpoints until the host performs reset recovery.
func (m *MSC) halt() {
	m.in.Stall()
	m.out.Stall()
}

// complete ends a command that has no data-out phase left. When the host
// expected more data than was exchanged, the data pipe is stalled and the
// CSW is held: bulk IN after an empty or whole-packet data-in phase, bulk
// OUT when the announced data-out phase was not accepted.
func (m *MSC) complete(status uint8, residue uint32) error {
	want := m.cbw.DataTransferLength
	switch {
	case want == 0:
	case m.cbw.IsDataIn():
		if m.sent < want && m.sent%uint32(m.in.MaxPacketSize()) == 0 {
			m.in.Stall()
			return m.hold(status, residue)
		}
	default:
		m.out.Stall()
		return m.hold(status, residue)
	}
	return m.finish(status, residue)
}

// wrap encodes the CSW for the current command and reports it.
func (m *MSC) wrap(status uint8, residue uint32) {
	csw := CommandStatusWrapper{
		Signature:   CSWSignature,
		Tag:         m.cbw.Tag,
		DataResidue: residue,
		Status:      status,
	}
	m.cswLen = csw.MarshalTo(m.csw[:])
	m.phase = phaseCommand

	pkg.LogDebug(pkg.ComponentMSC, "CSW",
		"tag", csw.Tag,
		"status", status,
		"residue", residue)
	if m.onCommand != nil {
		m.onCommand(m.cbw.CB[0], status)
	}
}

// finish sends the CSW for the current command.
func (m *MSC) finish(status uint8, residue uint32) error {
	m.wrap(status, residue)
	return m.sendCSW()
}

// hold keeps the CSW for the current command until HaltCleared.
func (m *MSC) hold(status uint8, residue uint32) error {
	m.wrap(status, residue)
	m.held = true
	return nil
}

func (m *MSC) sendCSW() error {
	_, err := m.in.Write(m.csw[:m.cswLen])
	return err
}

// receive consumes one packet of WRITE data.
func (m *MSC) receive(p []byte) error {
	for len(p) > 0 && m.pending > 0 {
		n := copy(m.block[m.filled:], p)
		if uint32(n) > m.pending {
			n = int(m.pending)
		}
		m.filled += n
		m.pending -= uint32(n)
		p = p[n:]

		if m.filled == len(m.block) {
			if !m.failed {
				if err := m.storage.WriteBlock(m.lba, m.block); err != nil {
					pkg.LogWarn(pkg.ComponentMSC, "write failed", "lba", m.lba, "error", err)
					m.sense = Sense{Key: SenseMediumError}
					m.failed = true
				}
			}
			m.lba++
			m.filled = 0
		}
	}
	if m.pending > 0 {
		return nil
	}
	if m.failed {
		return m.finish(CSWStatusFailed, 0)
	}
	return m.finish(CSWStatusGood, 0)
}

// Compile-time interface checks
var (
	_ device.Function     = (*MSC)(nil)
	_ device.HaltObserver = (*MSC)(nil)
)

func be16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func be32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
