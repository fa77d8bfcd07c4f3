package sim

import (
	"context"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/fsusb/device"
)

// EnumerationAddress is the address Enumerate assigns.
const EnumerationAddress = 1

// Enumeration is what a host learns while enumerating a device.
type Enumeration struct {
	Device        device.DeviceDescriptor
	Configuration device.ConfigurationDescriptor
	Interfaces    []InterfaceView
	Strings       map[uint8]string
	Report        *Report
}

// InterfaceView is one interface of the configuration descriptor with the
// descriptors that follow it.
type InterfaceView struct {
	Descriptor device.InterfaceDescriptor
	Class      [][]byte
	Endpoints  []device.EndpointDescriptor
}

// Enumerate walks a host enumeration against the configured device: bus
// reset, device descriptor, address, configuration descriptor, strings
// and configuration.
func (r *Runner) Enumerate(ctx context.Context, cfg DeviceConfig) (*Enumeration, error) {
	dev, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	desc := dev.Descriptor()
	indices := []uint8{desc.ManufacturerIndex, desc.ProductIndex, desc.SerialNumberIndex}

	steps := []Step{
		{Op: OpReset},
		{Name: "device descriptor", Op: OpGetDescriptor, Descriptor: "device", Length: 64},
		{Op: OpSetAddress, Value: EnumerationAddress, Expect: Expect{State: "address"}},
		{Name: "configuration header", Op: OpGetDescriptor, Descriptor: "configuration", Length: device.ConfigurationDescriptorSize},
		{Name: "configuration descriptor", Op: OpGetDescriptor, Descriptor: "configuration", Length: device.MaxControlDataSize},
		{Name: "language IDs", Op: OpGetDescriptor, Descriptor: "string", Length: 255},
	}
	stringSteps := make(map[int]uint8)
	for _, idx := range indices {
		if idx == 0 {
			continue
		}
		stringSteps[len(steps)] = idx
		steps = append(steps, Step{
			Name:       "string",
			Op:         OpGetDescriptor,
			Descriptor: "string",
			Value:      uint16(idx),
			Index:      device.LangIDUSEnglish,
			Length:     255,
		})
	}
	steps = append(steps, Step{Op: OpSetConfiguration, Value: device.ConfigurationValue, Expect: Expect{State: "configured"}})

	rep, err := r.Run(ctx, &Scenario{Name: "enumerate", Device: cfg, Steps: steps})
	if err != nil {
		return nil, err
	}
	en := &Enumeration{Strings: make(map[uint8]string), Report: rep}
	if !rep.Passed() {
		return en, errors.Newf("enumeration failed after %d steps: %v", len(rep.Results), rep.Err)
	}

	if err := device.ParseDeviceDescriptor(rep.Results[1].Data, &en.Device); err != nil {
		return en, errors.Wrap(err, "device descriptor")
	}
	if err := en.parseConfiguration(rep.Results[4].Data); err != nil {
		return en, errors.Wrap(err, "configuration descriptor")
	}
	for i, idx := range stringSteps {
		s, err := device.DecodeStringDescriptor(rep.Results[i].Data)
		if err != nil {
			return en, errors.Wrapf(err, "string %d", idx)
		}
		en.Strings[idx] = s
	}
	return en, nil
}

// parseConfiguration splits a configuration descriptor into its header
// and interfaces. Descriptors between an interface and its first endpoint
// are kept as class descriptors.
func (en *Enumeration) parseConfiguration(data []byte) error {
	if err := device.ParseConfigurationDescriptor(data, &en.Configuration); err != nil {
		return err
	}
	if int(en.Configuration.TotalLength) != len(data) {
		return errors.Newf("wTotalLength %d, received %d bytes", en.Configuration.TotalLength, len(data))
	}

	var cur *InterfaceView
	for off := int(en.Configuration.Length); off < len(data); {
		n := int(data[off])
		if n < 2 || off+n > len(data) {
			return errors.Newf("bad descriptor length %d at offset %d", n, off)
		}
		d := data[off : off+n]
		switch d[1] {
		case device.DescriptorTypeInterface:
			en.Interfaces = append(en.Interfaces, InterfaceView{})
			cur = &en.Interfaces[len(en.Interfaces)-1]
			if err := device.ParseInterfaceDescriptor(d, &cur.Descriptor); err != nil {
				return err
			}
		case device.DescriptorTypeEndpoint:
			if cur == nil {
				return errors.Newf("endpoint descriptor before any interface at offset %d", off)
			}
			var ep device.EndpointDescriptor
			if err := device.ParseEndpointDescriptor(d, &ep); err != nil {
				return err
			}
			cur.Endpoints = append(cur.Endpoints, ep)
		default:
			if cur != nil {
				cur.Class = append(cur.Class, d)
			}
		}
		off += n
	}
	if len(en.Interfaces) != int(en.Configuration.NumInterfaces) {
		return errors.Newf("bNumInterfaces %d, found %d", en.Configuration.NumInterfaces, len(en.Interfaces))
	}
	return nil
}
