package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/alecthomas/kong"
	"github.com/olekukonko/tablewriter"

	"github.com/ardnew/fsusb/device"
	"github.com/ardnew/fsusb/device/hal"
	"github.com/ardnew/fsusb/internal/sim"
	"github.com/ardnew/fsusb/pkg/usbid"
)

// EnumerateCmd enumerates a simulated device.
type EnumerateCmd struct {
	DeviceFlags `embed:""`

	Timeout time.Duration `help:"Timeout for the enumeration." default:"10s"`
	Trace   bool          `help:"Print the bus trace."`
}

// Run executes the command.
func (c *EnumerateCmd) Run(kctx *kong.Context, g *Globals) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	en, err := (&sim.Runner{ScenarioTimeout: c.Timeout}).Enumerate(ctx, cfg)
	if en != nil && (err != nil || c.Trace) {
		render(kctx.Stdout, []*sim.Report{en.Report}, c.Trace)
	}
	if err != nil {
		return err
	}

	w := kctx.Stdout
	db := g.usbIDs()
	printDevice(w, db, en.Device, func(idx uint8) string { return en.Strings[idx] })
	printConfiguration(w, en.Configuration)
	for _, iv := range en.Interfaces {
		printInterface(w, db, iv.Descriptor, iv.Class, iv.Endpoints)
	}
	return nil
}

func printDevice(w io.Writer, db *usbid.Database, d device.DeviceDescriptor, str func(uint8) string) {
	table := tablewriter.NewWriter(w)
	table.Header("Device", "Value", "")
	rows := [][]string{
		{"bcdUSB", fmt.Sprintf("%x.%02x", d.USBVersion>>8, d.USBVersion&0xFF), ""},
		{"bDeviceClass", fmt.Sprintf("0x%02x", d.DeviceClass), db.Class(d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol)},
		{"bMaxPacketSize0", fmt.Sprint(d.MaxPacketSize0), ""},
		{"idVendor", fmt.Sprintf("0x%04x", d.VendorID), db.Vendor(d.VendorID)},
		{"idProduct", fmt.Sprintf("0x%04x", d.ProductID), db.Product(d.VendorID, d.ProductID)},
		{"bcdDevice", fmt.Sprintf("%x.%02x", d.DeviceVersion>>8, d.DeviceVersion&0xFF), ""},
		{"iManufacturer", fmt.Sprint(d.ManufacturerIndex), str(d.ManufacturerIndex)},
		{"iProduct", fmt.Sprint(d.ProductIndex), str(d.ProductIndex)},
		{"iSerialNumber", fmt.Sprint(d.SerialNumberIndex), str(d.SerialNumberIndex)},
		{"bNumConfigurations", fmt.Sprint(d.NumConfigurations), ""},
	}
	for _, r := range rows {
		_ = table.Append(r)
	}
	_ = table.Render()
}

func printConfiguration(w io.Writer, c device.ConfigurationDescriptor) {
	table := tablewriter.NewWriter(w)
	table.Header("Configuration", "Value")
	for _, r := range [][]string{
		{"wTotalLength", fmt.Sprint(c.TotalLength)},
		{"bNumInterfaces", fmt.Sprint(c.NumInterfaces)},
		{"bConfigurationValue", fmt.Sprint(c.ConfigurationValue)},
		{"bmAttributes", fmt.Sprintf("0x%02x", c.Attributes)},
		{"bMaxPower", fmt.Sprintf("%d mA", int(c.MaxPower)*2)},
	} {
		_ = table.Append(r)
	}
	_ = table.Render()
}

func printInterface(w io.Writer, db *usbid.Database, d device.InterfaceDescriptor, class [][]byte, eps []device.EndpointDescriptor) {
	fmt.Fprintf(w, "Interface %d: class 0x%02x/0x%02x/0x%02x %s\n",
		d.InterfaceNumber, d.InterfaceClass, d.InterfaceSubClass, d.InterfaceProtocol,
		db.Class(d.InterfaceClass, d.InterfaceSubClass, d.InterfaceProtocol))
	for _, c := range class {
		fmt.Fprintf(w, "  class descriptor 0x%02x: % x\n", c[1], c)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Endpoint", "Direction", "Type", "MaxPacket", "Interval")
	for _, ep := range eps {
		dir := "OUT"
		if ep.EndpointAddress&device.EndpointDirectionIn != 0 {
			dir = "IN"
		}
		_ = table.Append([]string{
			fmt.Sprintf("0x%02x", ep.EndpointAddress),
			dir,
			hal.TransferType(ep.Attributes & 0x03).String(),
			fmt.Sprint(ep.MaxPacketSize),
			fmt.Sprint(ep.Interval),
		})
	}
	_ = table.Render()
}
