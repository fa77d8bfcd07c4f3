package device

import (
	"math/bits"

	"github.com/ardnew/fsusb/device/hal"
	"github.com/ardnew/fsusb/pkg"
)

// HandleInterrupt services one interrupt cause, in priority order: bus
// reset, then SETUP, then the lowest-numbered data endpoint with a
// pending transfer. Causes left pending keep the interrupt line asserted
// and are serviced by the next call.
func (s *Stack) HandleInterrupt() {
	if !s.IsRunning() {
		return
	}
	switch {
	case s.hw.BusReset():
		s.busReset()
	case s.hw.SetupReceived():
		s.setupReceived()
	default:
		s.endpointEvent()
	}
}

func (s *Stack) busReset() {
	s.hw.ClearBusReset()
	s.hw.SetAddress(0)
	s.device.reset()

	// The device is back in Default before endpoint 0 is re-armed.
	if err := s.ctrl.init(s.hw); err != nil {
		pkg.Fatal(pkg.ComponentDispatch, "control endpoint init failed", "error", err)
	}
	if err := s.device.registry.initEndpoints(s.hw); err != nil {
		pkg.Fatal(pkg.ComponentDispatch, "endpoint init failed", "error", err)
	}

	pkg.LogDebug(pkg.ComponentDispatch, "bus reset")
}

func (s *Stack) setupReceived() {
	var raw [SetupPacketSize]byte
	n := s.ctrl.out.ReadSetup(raw[:])
	if n < SetupPacketSize {
		pkg.Fatal(pkg.ComponentDispatch, "short setup packet", "bytes", n)
	}
	s.hw.ClearSetupReceived()

	var setup SetupPacket
	if err := ParseSetupPacket(raw[:], &setup); err != nil {
		pkg.Fatal(pkg.ComponentDispatch, "setup parse failed", "error", err)
	}
	s.handleSetup(&setup)
}

func (s *Stack) endpointEvent() {
	pending := s.hw.PendingEndpoints() &^ 1
	if pending == 0 {
		return
	}
	index := uint8(bits.TrailingZeros16(pending))
	s.device.notifyEndpoint(index)

	owner, slot, ok := s.device.registry.DispatchToOwner(index)
	var err error
	if ok {
		err = owner.fn.EndpointRequest(slot)
	} else {
		err = pkg.ErrInvalidEndpoint
	}
	if err != nil {
		pkg.LogDebug(pkg.ComponentDispatch, "endpoint event not consumed",
			"index", index, "error", err)

		// Drop the packet so the flag does not fire forever.
		if s.hw.TransferComplete(index, hal.DirOut) {
			if ok {
				if out := owner.Out(slot); out != nil {
					out.Discard()
					return
				}
			}
			s.hw.ClearTransferComplete(index, hal.DirOut)
			return
		}
	}

	// With no packet waiting, any other flag behind the summary bit is
	// acknowledged.
	if !s.hw.TransferComplete(index, hal.DirOut) {
		s.hw.ClearEndpointFlags(index)
	}
}
