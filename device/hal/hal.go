package hal

// Direction selects one half of a hardware endpoint.
type Direction uint8

// Endpoint directions. OUT is bank 0, IN is bank 1 on the SAMD family.
const (
	DirOut Direction = 0 // Host to device
	DirIn  Direction = 1 // Device to host
)

// String returns "OUT" or "IN".
func (d Direction) String() string {
	if d == DirIn {
		return "IN"
	}
	return "OUT"
}

// TransferType is the USB transfer type of an endpoint, encoded as in the
// bmAttributes field of the endpoint descriptor.
type TransferType uint8

// Transfer types.
const (
	TransferControl     TransferType = 0
	TransferIsochronous TransferType = 1
	TransferBulk        TransferType = 2
	TransferInterrupt   TransferType = 3
)

// String returns the transfer type name.
func (t TransferType) String() string {
	switch t {
	case TransferControl:
		return "Control"
	case TransferIsochronous:
		return "Isochronous"
	case TransferBulk:
		return "Bulk"
	case TransferInterrupt:
		return "Interrupt"
	default:
		return "Unknown"
	}
}

// Controller is the register-level contract a USB device peripheral
// implements for the stack. Every method is called from the interrupt
// context or before the interrupt is enabled; implementations must not
// block except where noted.
type Controller interface {
	// ConfigureHardware brings the peripheral up in device mode at full
	// speed with an endpoint table of numEndpoints entries, enables the
	// bus reset interrupt and attaches to the bus.
	ConfigureHardware(numEndpoints uint8) error

	// NumEndpoints reports how many endpoint indices the hardware has.
	NumEndpoints() uint8

	// InitEndpoint configures one direction of an endpoint index. Indices
	// beyond the hardware table fail with pkg.ErrNotSupported. OUT
	// endpoints with a non-zero index get their transfer-complete
	// interrupt enabled; endpoint 0 OUT gets the SETUP interrupt.
	InitEndpoint(index uint8, dir Direction, typ TransferType, maxPacketSize uint16) error

	// ResetEndpoint flushes both banks of an endpoint index and clears
	// its flags and stall bits.
	ResetEndpoint(index uint8) error

	// SetAddress writes the device address register.
	SetAddress(addr uint8)

	// PrepareBank points a bank at buf. For IN the byte count is len(buf)
	// and autoZLP requests a trailing zero-length packet when the count is
	// a non-zero multiple of the max packet size. For OUT, len(buf) is the
	// receive capacity and the byte count is reset to 0.
	PrepareBank(index uint8, dir Direction, buf []byte, autoZLP bool)

	// SetBankReady hands a prepared bank to the hardware: IN starts
	// transmission, OUT starts reception.
	SetBankReady(index uint8, dir Direction)

	// ByteCount returns the bank's byte count (bytes received for OUT).
	ByteCount(index uint8, dir Direction) int

	// TransferComplete reports the TRCPT flag of a bank.
	TransferComplete(index uint8, dir Direction) bool

	// ClearTransferComplete acknowledges the TRCPT flag of a bank.
	ClearTransferComplete(index uint8, dir Direction)

	// SetupReceived reports the RXSTP flag of endpoint 0.
	SetupReceived() bool

	// ClearSetupReceived acknowledges the RXSTP flag of endpoint 0.
	ClearSetupReceived()

	// BusReset reports the end-of-reset flag.
	BusReset() bool

	// ClearBusReset acknowledges the end-of-reset flag.
	ClearBusReset()

	// PendingEndpoints returns a bitmap of endpoint indices with an
	// enabled interrupt flag set (the EPINTSMRY register).
	PendingEndpoints() uint16

	// ClearEndpointFlags acknowledges every interrupt flag of an endpoint
	// index except OUT transfer complete and SETUP, such as a failed
	// transaction or a sent STALL.
	ClearEndpointFlags(index uint8)

	// Stall sets the stall request bit of a bank.
	Stall(index uint8, dir Direction)

	// ClearStall clears the stall request bit of a bank and resets its
	// data toggle.
	ClearStall(index uint8, dir Direction)

	// Stalled reports the stall request bit of a bank.
	Stalled(index uint8, dir Direction) bool
}
