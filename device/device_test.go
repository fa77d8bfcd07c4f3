package device

import (
	"errors"
	"testing"

	"github.com/ardnew/fsusb/pkg"
)

func TestDeviceBuilder_Defaults(t *testing.T) {
	dev, err := NewDeviceBuilder().Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	desc := dev.Descriptor()
	if desc.VendorID != DefaultVendorID || desc.ProductID != DefaultProductID {
		t.Errorf("VID:PID = %04x:%04x, want %04x:%04x", desc.VendorID, desc.ProductID, DefaultVendorID, DefaultProductID)
	}
	if dev.Strings().Len() != 4 {
		t.Errorf("Strings().Len() = %d, want 4", dev.Strings().Len())
	}
	if dev.Registry().Budget() != DefaultTotalEndpoints-ReservedEndpoints {
		t.Errorf("Budget() = %d, want %d", dev.Registry().Budget(), DefaultTotalEndpoints-ReservedEndpoints)
	}
	if dev.State() != StateAttached {
		t.Errorf("State() = %v, want %v", dev.State(), StateAttached)
	}
	if dev.Status() != 0 {
		t.Errorf("Status() = %#x, want 0", dev.Status())
	}

	header := dev.ConfigurationHeader()
	if header.TotalLength != ConfigurationDescriptorSize || header.NumInterfaces != 0 ||
		header.Attributes != ConfigAttrBusPowered || header.MaxPower != DefaultMaxPower {
		t.Errorf("ConfigurationHeader() = %+v", header)
	}
}

func TestDeviceBuilder_Identity(t *testing.T) {
	dev, err := NewDeviceBuilder().
		WithVendorProduct(0x1234, 0x5678).
		WithDeviceVersion(0x0210).
		WithStrings("Acme", "Widget", "").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	desc := dev.Descriptor()
	if desc.VendorID != 0x1234 || desc.ProductID != 0x5678 || desc.DeviceVersion != 0x0210 {
		t.Errorf("descriptor = %+v", desc)
	}
	if desc.ProductIndex != 1 || desc.ManufacturerIndex != 2 || desc.SerialNumberIndex != 0 {
		t.Errorf("string indices = %d/%d/%d, want 1/2/0",
			desc.ProductIndex, desc.ManufacturerIndex, desc.SerialNumberIndex)
	}

	raw, ok := dev.Strings().Get(desc.ManufacturerIndex)
	if !ok {
		t.Fatal("manufacturer string missing")
	}
	if s, _ := DecodeStringDescriptor(raw); s != "Acme" {
		t.Errorf("manufacturer = %q, want %q", s, "Acme")
	}
}

func TestDeviceBuilder_WithDescriptorForcesFixedFields(t *testing.T) {
	dev, err := NewDeviceBuilder().
		WithDescriptor(DeviceDescriptor{VendorID: 1, MaxPacketSize0: 8, NumConfigurations: 3}).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	desc := dev.Descriptor()
	if desc.Length != DeviceDescriptorSize || desc.DescriptorType != DescriptorTypeDevice ||
		desc.MaxPacketSize0 != MaxPacketSize || desc.NumConfigurations != 1 {
		t.Errorf("descriptor = %+v", desc)
	}
}

func TestDeviceBuilder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		builder *DeviceBuilder
		want    error
	}{
		{
			name:    "reserved exceeds total",
			builder: NewDeviceBuilder().WithEndpointBudget(2, 3),
			want:    pkg.ErrInvalidParameter,
		},
		{
			name:    "total exceeds hardware",
			builder: NewDeviceBuilder().WithEndpointBudget(MaxHardwareEndpoints+1, 2),
			want:    pkg.ErrInvalidParameter,
		},
		{
			name: "function over budget",
			builder: NewDeviceBuilder().
				WithEndpointBudget(3, 2).
				WithFunction(newTestFunction(bulkInfo(2))),
			want: pkg.ErrNoResources,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.builder.Build(); !errors.Is(err, tt.want) {
				t.Errorf("Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDevice_StateTransitions(t *testing.T) {
	dev, _ := NewDeviceBuilder().Build()

	var changes []State
	dev.SetOnStateChange(func(_, s State) { changes = append(changes, s) })

	if err := dev.setAddress(3); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("setAddress(attached) error = %v, want ErrInvalidState", err)
	}
	dev.powered()
	dev.reset()
	if err := dev.setConfiguration(1); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("setConfiguration(default) error = %v, want ErrInvalidState", err)
	}
	if err := dev.setAddress(3); err != nil {
		t.Fatalf("setAddress() error = %v", err)
	}
	if err := dev.setConfiguration(2); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("setConfiguration(2) error = %v, want ErrInvalidRequest", err)
	}
	if err := dev.setConfiguration(1); err != nil {
		t.Fatalf("setConfiguration(1) error = %v", err)
	}
	dev.setRemoteWakeup(true)
	if dev.Status() != DeviceStatusRemoteWakeup {
		t.Errorf("Status() = %#x, want %#x", dev.Status(), DeviceStatusRemoteWakeup)
	}
	dev.reset()
	if dev.RemoteWakeupEnabled() || dev.Address() != 0 || dev.Configuration() != 0 {
		t.Error("reset did not clear address, configuration and remote wakeup")
	}

	want := []State{StatePowered, StateDefault, StateAddress, StateConfigured, StateDefault}
	if len(changes) != len(want) {
		t.Fatalf("state changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %v, want %v", i, changes[i], want[i])
		}
	}
}
