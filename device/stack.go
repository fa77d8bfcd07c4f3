package device

import (
	"sync"
	"sync/atomic"

	"github.com/ardnew/fsusb/device/hal"
	"github.com/ardnew/fsusb/pkg"
)

// Stack binds a Device to a hardware controller. It owns the control
// endpoint and services every USB interrupt cause.
type Stack struct {
	device *Device
	hw     hal.Controller
	ctrl   ControlTransfer

	// State; running is read from the interrupt context
	running atomic.Bool
	mutex   sync.Mutex
}

// NewStack creates a new device stack.
func NewStack(dev *Device, hw hal.Controller) *Stack {
	return &Stack{
		device: dev,
		hw:     hw,
	}
}

// Start seals the registry, configures the peripheral for endpoint 0
// plus every registered endpoint, and initializes all endpoint
// primitives. The device is then Powered and waits for a bus reset.
// Starting a running stack does nothing.
func (s *Stack) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.running.Load() {
		return nil
	}

	reg := s.device.registry
	reg.seal()

	if err := s.hw.ConfigureHardware(1 + reg.Used()); err != nil {
		return err
	}
	if err := s.ctrl.init(s.hw); err != nil {
		return err
	}
	if err := reg.initEndpoints(s.hw); err != nil {
		return err
	}

	s.running.Store(true)
	s.device.powered()

	pkg.LogDebug(pkg.ComponentStack, "device stack started",
		"interfaces", reg.Len(),
		"endpoints", 1+reg.Used())
	return nil
}

// Stop makes the stack ignore further interrupts.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.running.Swap(false) {
		return nil
	}

	pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
	return nil
}

// IsRunning returns true if the stack is running.
func (s *Stack) IsRunning() bool {
	return s.running.Load()
}

// Device returns the underlying device.
func (s *Stack) Device() *Device {
	return s.device
}

// Controller returns the hardware controller.
func (s *Stack) Controller() hal.Controller {
	return s.hw
}

// Control returns the endpoint 0 transfer state.
func (s *Stack) Control() *ControlTransfer {
	return &s.ctrl
}

// instance is the stack the interrupt vector is routed to.
var instance atomic.Pointer[Stack]

// Init installs s as the process-wide stack serviced by Interrupt.
// Installing a second stack without Shutdown is an invariant violation.
func Init(s *Stack) {
	if s == nil {
		pkg.Fatal(pkg.ComponentStack, "init with nil stack")
	}
	if !instance.CompareAndSwap(nil, s) {
		pkg.Fatal(pkg.ComponentStack, "stack already initialized")
	}
}

// Shutdown stops and uninstalls the process-wide stack, if any.
func Shutdown() {
	if s := instance.Swap(nil); s != nil {
		_ = s.Stop()
	}
}

// Instance returns the process-wide stack, or nil.
func Instance() *Stack {
	return instance.Load()
}

// Interrupt is the USB interrupt entry point. Platform code calls it from
// the peripheral's interrupt handler.
func Interrupt() {
	s := instance.Load()
	if s == nil {
		pkg.Fatal(pkg.ComponentDispatch, "interrupt with no stack installed")
	}
	s.HandleInterrupt()
}
