package hid

import (
	"sync"

	"github.com/ardnew/fsusb/device"
	"github.com/ardnew/fsusb/device/hal"
	"github.com/ardnew/fsusb/pkg"
)

// echoCaseBit flips ASCII letter case.
const echoCaseBit = 'a' - 'A'

// HID is a HID function with one interrupt IN and one interrupt OUT
// endpoint sharing a hardware endpoint index.
type HID struct {
	info          device.InterfaceInfo
	hidDescriptor HIDDescriptor
	classDesc     [HIDDescriptorSize]byte

	// Report descriptor (stored by reference)
	reportDescriptor []byte

	// Endpoints, valid after Bind
	iface *device.Interface
	in    *device.EndpointIn
	out   *device.EndpointOut

	// Class state
	protocol uint8 // 0 = boot, 1 = report
	idleRate uint8 // Idle rate in 4ms units (0 = infinite)
	echo     bool

	// Callbacks
	onOutputReport  func(data []byte)
	onFeatureReport func(reportID uint8, data []byte)
	onSetProtocol   func(protocol uint8)
	onSetIdle       func(rate uint8, reportID uint8)

	mutex sync.RWMutex
}

// New creates the vendor-defined echo function: every output report is
// answered with a 64-byte input report carrying the same bytes, with the
// ASCII case of bytes 1 to 3 flipped.
func New() *HID {
	h := NewWithDescriptor(VendorReportDescriptor, SubclassNone, ProtocolNone)
	h.hidDescriptor.HIDVersion = 0x0100
	h.hidDescriptor.MarshalTo(h.classDesc[:])
	h.echo = true
	return h
}

// NewWithDescriptor creates a HID function for an application-defined
// report descriptor. Output reports go to the SetOnOutputReport callback.
func NewWithDescriptor(reportDescriptor []byte, subclass, protocol uint8) *HID {
	h := &HID{
		reportDescriptor: reportDescriptor,
		hidDescriptor: HIDDescriptor{
			Length:         HIDDescriptorSize,
			DescriptorType: DescriptorTypeHID,
			HIDVersion:     0x0111, // HID 1.11
			CountryCode:    CountryNone,
			NumDescriptors: 1,
			ReportDescType: DescriptorTypeReport,
			ReportDescLen:  uint16(len(reportDescriptor)),
		},
		protocol: ProtocolReport,
	}
	h.hidDescriptor.MarshalTo(h.classDesc[:])
	h.info = device.InterfaceInfo{
		Class:    ClassHID,
		SubClass: subclass,
		Protocol: protocol,
		Endpoints: []device.EndpointInfo{
			{Slot: 0, Direction: hal.DirIn, Type: hal.TransferInterrupt, MaxPacketSize: MaxReportSize, Interval: 1},
			{Slot: 0, Direction: hal.DirOut, Type: hal.TransferInterrupt, MaxPacketSize: MaxReportSize, Interval: 1},
		},
		ClassDescriptor: h.classDesc[:],
	}
	return h
}

// SetOnOutputReport sets the callback for output reports, received either
// on the interrupt OUT endpoint or through SET_REPORT.
func (h *HID) SetOnOutputReport(cb func(data []byte)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onOutputReport = cb
}

// SetOnFeatureReport sets the callback for SET_REPORT(Feature).
func (h *HID) SetOnFeatureReport(cb func(reportID uint8, data []byte)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onFeatureReport = cb
}

// SetOnSetProtocol sets the callback for protocol changes.
func (h *HID) SetOnSetProtocol(cb func(protocol uint8)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onSetProtocol = cb
}

// SetOnSetIdle sets the callback for idle rate changes.
func (h *HID) SetOnSetIdle(cb func(rate uint8, reportID uint8)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onSetIdle = cb
}

// Protocol returns the current protocol (boot or report).
func (h *HID) Protocol() uint8 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.protocol
}

// IdleRate returns the current idle rate.
func (h *HID) IdleRate() uint8 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.idleRate
}

// ReportDescriptor returns the report descriptor.
func (h *HID) ReportDescriptor() []byte {
	return h.reportDescriptor
}

// Descriptor returns the HID class descriptor.
func (h *HID) Descriptor() HIDDescriptor {
	return h.hidDescriptor
}

// InterfaceInfo implements device.Function.
func (h *HID) InterfaceInfo() *device.InterfaceInfo {
	return &h.info
}

// Bind implements device.Function.
func (h *HID) Bind(iface *device.Interface) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.iface = iface
	h.in = iface.In(0)
	h.out = iface.Out(0)

	pkg.LogDebug(pkg.ComponentHID, "HID bound",
		"interface", iface.Number(),
		"endpoint", iface.FirstEndpoint(),
		"reportDescLen", len(h.reportDescriptor))
}

// StdRequest implements device.Function. It serves GET_DESCRIPTOR for the
// HID and report descriptors.
func (h *HID) StdRequest(ctrl *device.ControlTransfer, setup *device.SetupPacket) error {
	if setup.Request != device.RequestGetDescriptor {
		return pkg.ErrNotSupported
	}

	switch setup.DescriptorType() {
	case DescriptorTypeHID:
		_, err := ctrl.Write(h.classDesc[:])
		return err

	case DescriptorTypeReport:
		_, err := ctrl.Write(h.reportDescriptor)
		return err
	}
	return pkg.ErrNotSupported
}

// ClassRequest implements device.Function.
func (h *HID) ClassRequest(ctrl *device.ControlTransfer, setup *device.SetupPacket) error {
	var buf [ClassResponseSize]byte

	switch setup.Request {
	case RequestGetReport:
		pkg.LogDebug(pkg.ComponentHID, "GET_REPORT",
			"type", uint8(setup.Value>>8),
			"id", uint8(setup.Value))
		_, err := ctrl.Write(buf[:])
		return err

	case RequestGetIdle:
		buf[0] = h.IdleRate()
		_, err := ctrl.Write(buf[:])
		return err

	case RequestGetProtocol:
		buf[0] = h.Protocol()
		_, err := ctrl.Write(buf[:])
		return err

	case RequestSetReport:
		return h.setReport(ctrl, setup)

	case RequestSetIdle:
		h.setIdle(setup)
		return ctrl.Ack()

	case RequestSetProtocol:
		h.setProtocol(setup)
		return ctrl.Ack()
	}
	return pkg.ErrNotSupported
}

// setReport collects the report carried in the data stage, if any.
func (h *HID) setReport(ctrl *device.ControlTransfer, setup *device.SetupPacket) error {
	reportType := uint8(setup.Value >> 8)
	reportID := uint8(setup.Value & 0xFF)

	data := ctrl.Buffer()[:0]
	if setup.Length > 0 {
		n, err := ctrl.Receive(ctrl.Buffer())
		if err != nil {
			return err
		}
		data = ctrl.Buffer()[:n]
	} else if err := ctrl.Ack(); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentHID, "SET_REPORT",
		"type", reportType,
		"id", reportID,
		"len", len(data))

	h.mutex.RLock()
	outputCb := h.onOutputReport
	featureCb := h.onFeatureReport
	h.mutex.RUnlock()

	switch reportType {
	case ReportTypeOutput:
		if outputCb != nil {
			outputCb(data)
		}
	case ReportTypeFeature:
		if featureCb != nil {
			featureCb(reportID, data)
		}
	}
	return nil
}

func (h *HID) setIdle(setup *device.SetupPacket) {
	rate := uint8(setup.Value >> 8)
	reportID := uint8(setup.Value & 0xFF)

	h.mutex.Lock()
	h.idleRate = rate
	cb := h.onSetIdle
	h.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentHID, "SET_IDLE",
		"rate", rate,
		"reportID", reportID)

	if cb != nil {
		cb(rate, reportID)
	}
}

func (h *HID) setProtocol(setup *device.SetupPacket) {
	protocol := uint8(setup.Value & 0xFF)

	h.mutex.Lock()
	h.protocol = protocol
	cb := h.onSetProtocol
	h.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentHID, "SET_PROTOCOL",
		"protocol", protocol)

	if cb != nil {
		cb(protocol)
	}
}

// EndpointRequest implements device.Function. It consumes one output
// report from the OUT endpoint.
func (h *HID) EndpointRequest(slot uint8) error {
	h.mutex.RLock()
	in, out := h.in, h.out
	cb := h.onOutputReport
	echo := h.echo
	h.mutex.RUnlock()

	if slot != 0 || out == nil {
		return pkg.ErrInvalidEndpoint
	}

	var report [MaxReportSize]byte
	n, err := out.Read(report[:])
	if err != nil || n == 0 {
		return err
	}
	if cb != nil {
		cb(report[:n])
	}
	if !echo {
		return nil
	}

	for i := 1; i < 4; i++ {
		report[i] ^= echoCaseBit
	}
	_, err = in.Write(report[:])
	return err
}

// SendReport sends an input report to the host. It blocks until the host
// has collected it.
func (h *HID) SendReport(data []byte) error {
	h.mutex.RLock()
	in := h.in
	h.mutex.RUnlock()

	if in == nil {
		return pkg.ErrNotConfigured
	}
	if len(data) > MaxReportSize {
		return pkg.ErrBufferTooSmall
	}
	_, err := in.Write(data)
	return err
}

// Compile-time interface check
var _ device.Function = (*HID)(nil)
