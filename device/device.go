package device

import (
	"sync"

	"github.com/ardnew/fsusb/pkg"
)

// Device holds the identity and the USB-visible state of the device: its
// descriptors, string table, function registry, address, configuration
// and remote wakeup setting.
type Device struct {
	descriptor DeviceDescriptor
	strings    *StringTable
	registry   *Registry

	// Configuration header fields
	attributes uint8
	maxPower   uint8

	// Device state
	state         State
	address       uint8
	configuration uint8
	remoteWakeup  bool

	// Synchronization for readers outside the interrupt context
	mutex sync.RWMutex

	// Event callbacks
	onStateChange      func(old, new State)
	onReset            func()
	onSetAddress       func(address uint8)
	onSetConfiguration func(config uint8)
	onStall            func(setup SetupPacket)
	onSetup            func(setup SetupPacket)
	onEndpoint         func(index uint8)
}

// NewDevice creates a device with the given descriptor and string table
// whose functions may use budget hardware endpoint indices.
func NewDevice(desc DeviceDescriptor, strings *StringTable, budget uint8) *Device {
	return &Device{
		descriptor: desc,
		strings:    strings,
		registry:   NewRegistry(budget),
		attributes: ConfigAttrBusPowered,
		maxPower:   DefaultMaxPower,
		state:      StateAttached,
	}
}

// Register adds a function to the device. See Registry.Register.
func (d *Device) Register(fn Function) (*Interface, error) {
	return d.registry.Register(fn)
}

// Registry returns the function registry.
func (d *Device) Registry() *Registry { return d.registry }

// Descriptor returns a copy of the device descriptor.
func (d *Device) Descriptor() DeviceDescriptor { return d.descriptor }

// Strings returns the string descriptor table.
func (d *Device) Strings() *StringTable { return d.strings }

// ConfigurationHeader returns the 9-byte configuration header for the
// current registry contents.
func (d *Device) ConfigurationHeader() ConfigurationDescriptor {
	return ConfigurationDescriptor{
		Length:             ConfigurationDescriptorSize,
		DescriptorType:     DescriptorTypeConfiguration,
		TotalLength:        uint16(ConfigurationDescriptorSize + d.registry.TotalDescriptorSize()),
		NumInterfaces:      uint8(d.registry.Len()),
		ConfigurationValue: ConfigurationValue,
		Attributes:         d.attributes,
		MaxPower:           d.maxPower,
	}
}

// State returns the current device state.
func (d *Device) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

// setState changes the device state and triggers callback.
func (d *Device) setState(newState State) {
	d.mutex.Lock()
	oldState := d.state
	d.state = newState
	callback := d.onStateChange
	d.mutex.Unlock()

	if oldState != newState {
		pkg.LogDebug(pkg.ComponentDevice, "device state changed",
			"from", oldState.String(),
			"to", newState.String())
		if callback != nil {
			callback(oldState, newState)
		}
	}
}

// Address returns the device address.
func (d *Device) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

// Configuration returns the active configuration value (0 when unconfigured).
func (d *Device) Configuration() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.configuration
}

// IsConfigured returns true if the device is configured.
func (d *Device) IsConfigured() bool {
	return d.State() == StateConfigured
}

// RemoteWakeupEnabled reports whether the host enabled remote wakeup.
func (d *Device) RemoteWakeupEnabled() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.remoteWakeup
}

// DeviceStatus represents the device status bits.
type DeviceStatus uint16

// Device status bits.
const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0 // Device is self-powered
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1 // Remote wakeup enabled
)

// Status returns the GET_STATUS bitmap.
func (d *Device) Status() DeviceStatus {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var status DeviceStatus
	if d.attributes&ConfigAttrSelfPowered != 0 {
		status |= DeviceStatusSelfPowered
	}
	if d.remoteWakeup {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}

// powered marks the peripheral as configured and waiting for a bus reset.
func (d *Device) powered() {
	d.setState(StatePowered)
}

// reset handles a bus reset.
func (d *Device) reset() {
	d.mutex.Lock()
	d.address = 0
	d.configuration = 0
	d.remoteWakeup = false
	callback := d.onReset
	d.mutex.Unlock()

	d.setState(StateDefault)

	if callback != nil {
		callback()
	}

	pkg.LogDebug(pkg.ComponentDevice, "device reset")
}

// setAddress records an address applied to the hardware.
func (d *Device) setAddress(address uint8) error {
	d.mutex.Lock()
	if d.state != StateDefault && d.state != StateAddress {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}
	d.address = address
	callback := d.onSetAddress
	d.mutex.Unlock()

	if address == 0 {
		d.setState(StateDefault)
	} else {
		d.setState(StateAddress)
	}

	if callback != nil {
		callback(address)
	}

	pkg.LogDebug(pkg.ComponentDevice, "device address set",
		"address", address)

	return nil
}

// canConfigure checks a SET_CONFIGURATION value against the device state
// without changing anything.
func (d *Device) canConfigure(value uint8) error {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if d.state != StateAddress && d.state != StateConfigured {
		return pkg.ErrInvalidState
	}
	if value != 0 && value != ConfigurationValue {
		return pkg.ErrInvalidRequest
	}
	return nil
}

// setConfiguration records the configuration value; 0 unconfigures.
func (d *Device) setConfiguration(value uint8) error {
	if err := d.canConfigure(value); err != nil {
		return err
	}

	d.mutex.Lock()
	d.configuration = value
	callback := d.onSetConfiguration
	d.mutex.Unlock()

	if value == 0 {
		d.setState(StateAddress)
	} else {
		d.setState(StateConfigured)
	}

	if callback != nil {
		callback(value)
	}

	pkg.LogDebug(pkg.ComponentDevice, "device configured",
		"configuration", value)

	return nil
}

// setRemoteWakeup records the DEVICE_REMOTE_WAKEUP feature.
func (d *Device) setRemoteWakeup(enabled bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.remoteWakeup = enabled
}

func (d *Device) notifySetup(setup *SetupPacket) {
	d.mutex.RLock()
	callback := d.onSetup
	d.mutex.RUnlock()
	if callback != nil {
		callback(*setup)
	}
}

func (d *Device) notifyStall(setup *SetupPacket) {
	d.mutex.RLock()
	callback := d.onStall
	d.mutex.RUnlock()
	if callback != nil {
		callback(*setup)
	}
}

func (d *Device) notifyEndpoint(index uint8) {
	d.mutex.RLock()
	callback := d.onEndpoint
	d.mutex.RUnlock()
	if callback != nil {
		callback(index)
	}
}

// SetOnStateChange sets the state change callback.
func (d *Device) SetOnStateChange(cb func(old, new State)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onStateChange = cb
}

// SetOnReset sets the bus reset callback.
func (d *Device) SetOnReset(cb func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onReset = cb
}

// SetOnSetAddress sets the set address callback. It runs after the
// address has reached the hardware.
func (d *Device) SetOnSetAddress(cb func(address uint8)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSetAddress = cb
}

// SetOnSetConfiguration sets the set configuration callback.
func (d *Device) SetOnSetConfiguration(cb func(config uint8)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSetConfiguration = cb
}

// SetOnSetup sets the callback run for every decoded SETUP packet.
func (d *Device) SetOnSetup(cb func(setup SetupPacket)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSetup = cb
}

// SetOnStall sets the callback run when a control request is refused.
func (d *Device) SetOnStall(cb func(setup SetupPacket)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onStall = cb
}

// SetOnEndpoint sets the callback run for each data endpoint interrupt.
func (d *Device) SetOnEndpoint(cb func(index uint8)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onEndpoint = cb
}

// DeviceBuilder provides a fluent API for building devices.
type DeviceBuilder struct {
	desc       DeviceDescriptor
	strings    *StringTable
	total      uint8
	reserved   uint8
	attributes uint8
	maxPower   uint8
	functions  []Function
	errors     []error
}

// NewDeviceBuilder creates a builder preloaded with the default identity
// and the default endpoint budget.
func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{
		desc:       DefaultDeviceDescriptor(),
		total:      DefaultTotalEndpoints,
		reserved:   ReservedEndpoints,
		attributes: ConfigAttrBusPowered,
		maxPower:   DefaultMaxPower,
	}
}

// WithDescriptor replaces the device descriptor. Length, type, packet
// size and configuration count are forced to the values this stack uses.
func (b *DeviceBuilder) WithDescriptor(desc DeviceDescriptor) *DeviceBuilder {
	desc.Length = DeviceDescriptorSize
	desc.DescriptorType = DescriptorTypeDevice
	desc.MaxPacketSize0 = MaxPacketSize
	desc.NumConfigurations = 1
	b.desc = desc
	return b
}

// WithVendorProduct sets vendor and product IDs.
func (b *DeviceBuilder) WithVendorProduct(vendorID, productID uint16) *DeviceBuilder {
	b.desc.VendorID = vendorID
	b.desc.ProductID = productID
	return b
}

// WithDeviceVersion sets bcdDevice.
func (b *DeviceBuilder) WithDeviceVersion(version uint16) *DeviceBuilder {
	b.desc.DeviceVersion = version
	return b
}

// WithStrings sets the manufacturer, product, and serial strings. Empty
// strings leave the corresponding descriptor index at 0.
func (b *DeviceBuilder) WithStrings(manufacturer, product, serial string) *DeviceBuilder {
	table, err := NewStringTable(nil)
	if err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	b.desc.ProductIndex = b.addString(table, product)
	b.desc.ManufacturerIndex = b.addString(table, manufacturer)
	b.desc.SerialNumberIndex = b.addString(table, serial)
	b.strings = table
	return b
}

func (b *DeviceBuilder) addString(table *StringTable, s string) uint8 {
	if s == "" {
		return 0
	}
	idx, err := table.Add(s)
	if err != nil {
		b.errors = append(b.errors, err)
	}
	return idx
}

// WithEndpointBudget sets the hardware endpoint count and how many of
// them are reserved for control transfers.
func (b *DeviceBuilder) WithEndpointBudget(total, reserved uint8) *DeviceBuilder {
	if reserved > total || total > MaxHardwareEndpoints {
		b.errors = append(b.errors, pkg.ErrInvalidParameter)
		return b
	}
	b.total = total
	b.reserved = reserved
	return b
}

// WithPower sets the configuration attributes and bMaxPower (2 mA units).
func (b *DeviceBuilder) WithPower(attributes, maxPower uint8) *DeviceBuilder {
	b.attributes = attributes | ConfigAttrBusPowered
	b.maxPower = maxPower
	return b
}

// WithFunction queues a function for registration at Build.
func (b *DeviceBuilder) WithFunction(fn Function) *DeviceBuilder {
	b.functions = append(b.functions, fn)
	return b
}

// Build returns the constructed device with every queued function
// registered in order.
func (b *DeviceBuilder) Build() (*Device, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	strings := b.strings
	if strings == nil {
		var err error
		strings, err = NewStringTable(nil, "Atmega32", "JAMES", "123456789ABC")
		if err != nil {
			return nil, err
		}
	}
	d := NewDevice(b.desc, strings, b.total-b.reserved)
	d.attributes = b.attributes
	d.maxPower = b.maxPower
	for _, fn := range b.functions {
		if _, err := d.Register(fn); err != nil {
			return nil, err
		}
	}
	return d, nil
}
