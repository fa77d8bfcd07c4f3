package device

import "fmt"

// Limits for the fixed-size tables. Nothing on the interrupt path allocates.
const (
	// MaxInterfaces is the capacity of the interface registry.
	MaxInterfaces = 4

	// MaxEndpointsPerInterface is the number of hardware endpoint indices
	// a single function may consume.
	MaxEndpointsPerInterface = 4

	// MaxEndpointDescriptors is the number of endpoint descriptors a single
	// function may declare (one IN and one OUT per hardware index).
	MaxEndpointDescriptors = 2 * MaxEndpointsPerInterface

	// MaxStrings is the capacity of the string descriptor table.
	MaxStrings = 8

	// MaxPacketSize is the largest full-speed packet the primitives buffer.
	MaxPacketSize = 64

	// MaxControlDataSize bounds the configuration descriptor assembly buffer.
	MaxControlDataSize = 512

	// MaxHardwareEndpoints is the USB limit on endpoint numbers.
	MaxHardwareEndpoints = 16
)

// Endpoint budget defaults.
const (
	// DefaultTotalEndpoints matches the eight endpoint indices of a SAMD21.
	DefaultTotalEndpoints = 8

	// ReservedEndpoints are held back for the control transfer pair.
	ReservedEndpoints = 2
)

// USB speeds. Only low and full speed exist on this stack.
const (
	SpeedLow  Speed = 0 // 1.5 Mbps
	SpeedFull Speed = 1 // 12 Mbps
)

// Speed represents USB connection speed.
type Speed uint8

// String returns a human-readable speed description.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed (1.5 Mbps)"
	case SpeedFull:
		return "Full Speed (12 Mbps)"
	default:
		return fmt.Sprintf("Unknown Speed (%d)", s)
	}
}

// MaxPacketSize0 returns the maximum packet size for endpoint 0 at this speed.
func (s Speed) MaxPacketSize0() uint16 {
	if s == SpeedFull {
		return 64
	}
	return 8
}

// Device states as defined in USB 2.0 specification section 9.1.
const (
	StateAttached   State = 0 // Device is attached but not powered
	StatePowered    State = 1 // Peripheral configured, waiting for bus reset
	StateDefault    State = 2 // Device has been reset, using default address
	StateAddress    State = 3 // Device has been assigned a unique address
	StateConfigured State = 4 // Device is configured and operational
)

// State represents USB device state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateAttached:
		return "Attached"
	case StatePowered:
		return "Powered"
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}

// Control transfer stages.
const (
	ControlIdle    ControlState = 0 // Waiting for SETUP
	ControlSetup   ControlState = 1 // SETUP decoded, request being dispatched
	ControlDataIn  ControlState = 2 // Device-to-host data stage
	ControlDataOut ControlState = 3 // Host-to-device data stage
	ControlStatus  ControlState = 4 // Status handshake
	ControlStalled ControlState = 5 // Request refused, EP0 stalled until next SETUP
)

// ControlState is the stage of the current control transfer.
type ControlState uint8

// String returns the stage name.
func (s ControlState) String() string {
	switch s {
	case ControlIdle:
		return "Idle"
	case ControlSetup:
		return "Setup"
	case ControlDataIn:
		return "DataIn"
	case ControlDataOut:
		return "DataOut"
	case ControlStatus:
		return "Status"
	case ControlStalled:
		return "Stalled"
	default:
		return fmt.Sprintf("Unknown Stage (%d)", s)
	}
}
