package main

import (
	"github.com/alecthomas/kong"

	"github.com/ardnew/fsusb/device"
)

// DescribeCmd prints the descriptors of a device configuration without
// running it.
type DescribeCmd struct {
	DeviceFlags `embed:""`
}

// Run executes the command.
func (c *DescribeCmd) Run(kctx *kong.Context, g *Globals) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	dev, err := cfg.Build()
	if err != nil {
		return err
	}

	w := kctx.Stdout
	db := g.usbIDs()
	strs := dev.Strings()
	printDevice(w, db, dev.Descriptor(), func(idx uint8) string {
		if idx == 0 {
			return ""
		}
		desc, ok := strs.Get(idx)
		if !ok {
			return ""
		}
		s, _ := device.DecodeStringDescriptor(desc)
		return s
	})
	printConfiguration(w, dev.ConfigurationHeader())

	for _, ifc := range dev.Registry().Interfaces() {
		info := ifc.Function().InterfaceInfo()
		desc := device.InterfaceDescriptor{
			Length:            device.InterfaceDescriptorSize,
			DescriptorType:    device.DescriptorTypeInterface,
			InterfaceNumber:   ifc.Number(),
			NumEndpoints:      uint8(len(info.Endpoints)),
			InterfaceClass:    info.Class,
			InterfaceSubClass: info.SubClass,
			InterfaceProtocol: info.Protocol,
			InterfaceIndex:    info.StringIndex,
		}
		var class [][]byte
		if len(info.ClassDescriptor) > 1 {
			class = append(class, info.ClassDescriptor)
		}
		eps := make([]device.EndpointDescriptor, len(info.Endpoints))
		for i := range info.Endpoints {
			eps[i] = info.Endpoints[i].Descriptor(ifc.FirstEndpoint())
		}
		printInterface(w, db, desc, class, eps)
	}
	return nil
}
