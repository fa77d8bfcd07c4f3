// Package hid implements the USB Human Interface Device (HID) class as a
// device.Function.
//
// # Architecture
//
// A HID function consists of a single interface with:
//
//   - An Interrupt IN endpoint for input reports
//   - An Interrupt OUT endpoint for output reports
//   - HID class descriptors (HID descriptor, Report descriptor)
//
// Both endpoints share one hardware endpoint index, so the function
// consumes a single entry of the device's endpoint budget.
//
// The HID descriptor is placed in the configuration descriptor right after
// the interface descriptor. The report descriptor is only served through
// GET_DESCRIPTOR(Report) on the interface.
//
// # Echo Mode
//
// The function returned by New uses a vendor-defined report descriptor and
// answers every output report with a 64-byte input report carrying the same
// bytes, except that the ASCII case of bytes 1 to 3 is flipped. Hosts use
// it as a loopback to verify the stack.
//
// # Zero-Allocation Design
//
//   - Fixed-size buffers for reports and class responses
//   - Report descriptors are stored by reference, not copied
//
// # Usage
//
//	keyboard := hid.NewWithDescriptor(hid.KeyboardReportDescriptor,
//	    hid.SubclassBoot, hid.ProtocolKeyboard)
//
//	keyboard.SetOnOutputReport(func(data []byte) {
//	    // LED state from host
//	})
//
//	dev, err := device.NewDeviceBuilder().
//	    WithVendorProduct(0xCAFE, 0xBABE).
//	    WithStrings("Manufacturer", "HID Keyboard", "12345").
//	    WithFunction(keyboard).
//	    Build()
//
// Once the host has selected the configuration, reports are sent with
// SendReport.
package hid
