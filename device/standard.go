package device

import (
	"encoding/binary"
	"errors"

	"github.com/ardnew/fsusb/device/hal"
	"github.com/ardnew/fsusb/pkg"
)

// MaxAddress is the largest address a host may assign.
const MaxAddress = 127

// handleSetup runs one control transfer from SETUP to status. Any error
// from a handler stalls endpoint 0.
func (s *Stack) handleSetup(setup *SetupPacket) {
	pkg.LogDebug(pkg.ComponentControl, "setup received",
		"request", setup.String())

	c := &s.ctrl
	c.begin(setup)
	s.device.notifySetup(setup)

	err := s.dispatchSetup(setup)
	if err != nil {
		pkg.LogDebug(pkg.ComponentControl, "request stalled",
			"request", setup.String(),
			"error", err)
		c.Stall()
		s.device.notifyStall(setup)
	}
	c.end()
}

func (s *Stack) dispatchSetup(setup *SetupPacket) error {
	switch setup.Type() {
	case RequestTypeStandard:
		switch setup.Recipient() {
		case RequestRecipientDevice:
			return s.deviceRequest(setup)
		case RequestRecipientInterface:
			return s.interfaceRequest(setup)
		case RequestRecipientEndpoint:
			return s.endpointRequest(setup)
		}
		return pkg.ErrInvalidRequest

	case RequestTypeClass:
		if !setup.IsInterfaceRecipient() {
			return pkg.ErrInvalidRequest
		}
		iface := s.device.registry.Interface(setup.InterfaceNumber())
		if iface == nil {
			return pkg.ErrInvalidRequest
		}
		return iface.fn.ClassRequest(&s.ctrl, setup)
	}
	return pkg.ErrNotSupported
}

// deviceRequest handles standard requests addressed to the device.
func (s *Stack) deviceRequest(setup *SetupPacket) error {
	c := &s.ctrl
	switch setup.Request {
	case RequestGetStatus:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(s.device.Status()))
		_, err := c.Write(buf[:])
		return err

	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureDeviceRemoteWakeup {
			return pkg.ErrNotSupported
		}
		s.device.setRemoteWakeup(setup.Request == RequestSetFeature)
		return c.Ack()

	case RequestSetAddress:
		return s.setAddress(setup)

	case RequestGetDescriptor:
		return s.getDescriptor(setup)

	case RequestGetConfiguration:
		_, err := c.Write([]byte{s.device.Configuration()})
		return err

	case RequestSetConfiguration:
		return s.setConfiguration(setup)
	}
	return pkg.ErrNotSupported
}

// setAddress acknowledges first: the new address must only take effect
// after the status stage completed at the old one.
func (s *Stack) setAddress(setup *SetupPacket) error {
	if setup.Value > MaxAddress {
		return pkg.ErrInvalidRequest
	}
	if st := s.device.State(); st != StateDefault && st != StateAddress {
		return pkg.ErrInvalidState
	}
	address := uint8(setup.Value)
	if err := s.ctrl.Ack(); err != nil {
		return err
	}
	s.hw.SetAddress(address)
	return s.device.setAddress(address)
}

func (s *Stack) setConfiguration(setup *SetupPacket) error {
	if setup.Value > 0xFF {
		return pkg.ErrInvalidRequest
	}
	value := uint8(setup.Value)
	if err := s.device.canConfigure(value); err != nil {
		return err
	}
	if value == ConfigurationValue {
		if err := s.device.registry.initEndpoints(s.hw); err != nil {
			return err
		}
	}
	if err := s.ctrl.Ack(); err != nil {
		return err
	}
	return s.device.setConfiguration(value)
}

func (s *Stack) getDescriptor(setup *SetupPacket) error {
	c := &s.ctrl
	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		desc := s.device.Descriptor()
		n := desc.MarshalTo(c.buf[:])
		_, err := c.Write(c.buf[:n])
		return err

	case DescriptorTypeConfiguration:
		return s.sendConfig()

	case DescriptorTypeString:
		desc, ok := s.device.strings.Get(setup.DescriptorIndex())
		if !ok {
			return pkg.ErrInvalidRequest
		}
		_, err := c.Write(desc)
		return err
	}
	return pkg.ErrNotSupported
}

// sendConfig assembles the configuration descriptor (header followed by
// every registered function's contribution) and sends it as one transfer.
// Registration keeps the total within the control buffer.
func (s *Stack) sendConfig() error {
	c := &s.ctrl
	header := s.device.ConfigurationHeader()
	n := header.MarshalTo(c.buf[:])
	n += s.device.registry.marshalTo(c.buf[n:])
	if n != int(header.TotalLength) {
		pkg.Fatal(pkg.ComponentControl, "configuration descriptor length mismatch",
			"header", header.TotalLength, "built", n)
	}
	_, err := c.Write(c.buf[:n])
	return err
}

// interfaceRequest gives the owning function the first chance at a
// standard interface request and falls back to the built-in answers.
func (s *Stack) interfaceRequest(setup *SetupPacket) error {
	iface := s.device.registry.Interface(setup.InterfaceNumber())
	if iface == nil {
		return pkg.ErrInvalidRequest
	}
	err := iface.fn.StdRequest(&s.ctrl, setup)
	if !errors.Is(err, pkg.ErrNotSupported) {
		return err
	}

	c := &s.ctrl
	switch setup.Request {
	case RequestGetStatus:
		_, err := c.Write([]byte{0, 0})
		return err

	case RequestGetInterface:
		_, err := c.Write([]byte{iface.alternate})
		return err

	case RequestSetInterface:
		if setup.Value != 0 {
			return pkg.ErrInvalidRequest
		}
		iface.alternate = 0
		return c.Ack()
	}
	return pkg.ErrNotSupported
}

// haltable is implemented by both endpoint primitives.
type haltable interface {
	Stall()
	ClearStall()
	Stalled() bool
}

// endpoint resolves an endpoint address to its primitive. Only endpoint 0
// and endpoints declared by registered functions resolve.
func (s *Stack) endpoint(address uint8) haltable {
	index := address & 0x0F
	in := address&EndpointDirectionIn != 0
	if index == 0 {
		if in {
			return &s.ctrl.in
		}
		return &s.ctrl.out
	}
	owner, slot, ok := s.device.registry.DispatchToOwner(index)
	if !ok {
		return nil
	}
	if in {
		if ep := owner.In(slot); ep != nil {
			return ep
		}
		return nil
	}
	if ep := owner.Out(slot); ep != nil {
		return ep
	}
	return nil
}

// endpointRequest handles standard requests addressed to an endpoint.
func (s *Stack) endpointRequest(setup *SetupPacket) error {
	address := setup.EndpointAddress()
	ep := s.endpoint(address)
	if ep == nil {
		return pkg.ErrInvalidEndpoint
	}

	c := &s.ctrl
	switch setup.Request {
	case RequestGetStatus:
		var buf [2]byte
		if ep.Stalled() {
			buf[0] = 1
		}
		_, err := c.Write(buf[:])
		return err

	case RequestClearFeature:
		if setup.Value != FeatureEndpointHalt {
			return pkg.ErrInvalidRequest
		}
		ep.ClearStall()
		if err := c.Ack(); err != nil {
			return err
		}
		s.haltCleared(address)
		return nil

	case RequestSetFeature:
		if setup.Value != FeatureEndpointHalt {
			return pkg.ErrInvalidRequest
		}
		// Halting the default pipe would also refuse this status stage.
		if address&0x0F != 0 {
			ep.Stall()
		}
		return c.Ack()
	}
	return pkg.ErrNotSupported
}

// haltCleared tells the owner of a data endpoint that its halt is gone.
func (s *Stack) haltCleared(address uint8) {
	owner, slot, ok := s.device.registry.DispatchToOwner(address & 0x0F)
	if !ok {
		return
	}
	obs, ok := owner.fn.(HaltObserver)
	if !ok {
		return
	}
	dir := hal.DirOut
	if address&EndpointDirectionIn != 0 {
		dir = hal.DirIn
	}
	obs.HaltCleared(slot, dir)
}
