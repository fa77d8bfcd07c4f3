// Package device implements a pure-Go USB 2.0 full-speed device stack for
// small microcontrollers.
//
// It is platform-agnostic and drives the hardware through the register-level
// [hal.Controller] interface defined in [github.com/ardnew/fsusb/device/hal].
// Everything runs from the USB interrupt: the platform routes its interrupt
// vector to [Interrupt], which services one cause per call.
//
// # Architecture
//
// The stack is organized into several layers:
//
//   - [Device] holds identity, descriptors, string table and USB state
//   - [Registry] assigns interface numbers and hardware endpoint indices
//   - [Stack] owns endpoint 0, runs the control engine and dispatches
//     interrupt causes
//   - [EndpointIn] and [EndpointOut] are the per-direction primitives over
//     one hardware endpoint index
//   - [Function] is the contract implemented by function drivers such as
//     [github.com/ardnew/fsusb/device/class/hid]
//
// # Endpoint Budget
//
// Hardware endpoint index 0 is the control pair. Functions receive
// contiguous runs of the remaining indices in registration order: the
// first function starts at index 1. A function declaring an IN and an OUT
// endpoint on the same slot shares one index. Registration fails with
// [pkg.ErrNoResources] once the budget is exhausted; functions registered
// earlier stay registered.
//
// # Device States
//
// The stack implements the USB 2.0 device state machine:
//
//	Attached → Powered → Default → Address → Configured
//
// # Zero-Allocation Design
//
// The stack is designed for bare-metal and TinyGo with no heap allocation
// on the interrupt path:
//
//   - Serialization via MarshalTo(buf) instead of allocating Bytes()
//   - Parse functions with output parameters instead of returning pointers
//   - Fixed-size arrays for interfaces, endpoints and strings
//   - One fixed control buffer shared by every control request
//
// # Usage
//
//	dev, err := device.NewDeviceBuilder().
//	    WithVendorProduct(0x0B6A, 0x5346).
//	    WithStrings("JAMES", "Atmega32", "123456789ABC").
//	    WithFunction(hid.New()).
//	    Build()
//	if err != nil {
//	    return err
//	}
//
//	stack := device.NewStack(dev, controller)
//	if err := stack.Start(); err != nil {
//	    return err
//	}
//	device.Init(stack)
//
//	// in the USB interrupt handler:
//	device.Interrupt()
package device
