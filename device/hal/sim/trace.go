package sim

import (
	"encoding/hex"
	"fmt"
)

// EventKind identifies a bus event recorded in the trace.
type EventKind uint8

// Bus events.
const (
	EventReset   EventKind = iota // Host drove a bus reset
	EventSetup                    // Host sent a SETUP packet
	EventIn                       // Device transmitted an IN packet
	EventOut                      // Host deposited an OUT packet
	EventStall                    // Device answered with STALL
	EventAddress                  // Device changed its address
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventReset:
		return "RESET"
	case EventSetup:
		return "SETUP"
	case EventIn:
		return "IN"
	case EventOut:
		return "OUT"
	case EventStall:
		return "STALL"
	case EventAddress:
		return "ADDRESS"
	default:
		return fmt.Sprintf("EVENT(%d)", uint8(k))
	}
}

// Event is one entry of the bus trace.
type Event struct {
	Kind  EventKind
	Index uint8  // Endpoint index, or the address for EventAddress
	Data  []byte // Packet payload
}

// String formats the event for logs and reports.
func (e Event) String() string {
	switch e.Kind {
	case EventReset:
		return "RESET"
	case EventAddress:
		return fmt.Sprintf("ADDRESS %d", e.Index)
	case EventStall:
		return fmt.Sprintf("STALL ep%d", e.Index)
	}
	return fmt.Sprintf("%s ep%d [%d] %s", e.Kind, e.Index, len(e.Data), hex.EncodeToString(e.Data))
}
