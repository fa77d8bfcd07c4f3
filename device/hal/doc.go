// Package hal defines the hardware contract of the fsusb device stack.
//
// A [Controller] is a thin, register-level view of a USB device peripheral
// in the style of the Atmel SAMD USB block: an endpoint table whose entries
// have an OUT bank (0) and an IN bank (1), per-bank transfer-complete and
// stall bits, a SETUP-received flag on endpoint 0, an end-of-reset flag and
// an endpoint interrupt summary. The stack implements all protocol logic;
// the controller only moves bits.
//
// The stack's interrupt dispatcher is bound to the peripheral's interrupt
// line by the platform (see device.Interrupt). A controller re-raises the
// interrupt while any enabled cause is pending.
//
// # Implementations
//
//   - [github.com/ardnew/fsusb/device/hal/sim] is an in-memory controller
//     with a scriptable host side, used by tests and the usbsim tool.
//   - examples/tinygo-device/hid-echo/atsamd21 drives the SAMD21 registers
//     directly under TinyGo.
package hal
