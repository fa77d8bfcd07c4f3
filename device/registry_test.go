package device

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/ardnew/fsusb/device/hal"
	"github.com/ardnew/fsusb/pkg"
)

// testFunction is a configurable Function used across the package tests.
// Its class requests: 0x01 (IN) answers {1, 2, 3}; 0x09 (OUT) receives the
// data stage and forwards it on received. Endpoint requests echo the
// packet back on the IN endpoint of the same slot when echo is set.
type testFunction struct {
	UnimplementedFunction

	info InterfaceInfo
	echo bool

	mutex    sync.Mutex
	binds    int
	iface    *Interface
	received chan []byte
	packets  chan []byte
}

func newTestFunction(info InterfaceInfo) *testFunction {
	return &testFunction{
		info:     info,
		received: make(chan []byte, 4),
		packets:  make(chan []byte, 4),
	}
}

func (f *testFunction) InterfaceInfo() *InterfaceInfo { return &f.info }

func (f *testFunction) Bind(iface *Interface) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.binds++
	f.iface = iface
}

func (f *testFunction) bindCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.binds
}

func (f *testFunction) bound() *Interface {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.iface
}

func (f *testFunction) ClassRequest(ctrl *ControlTransfer, setup *SetupPacket) error {
	switch {
	case setup.Request == 0x01 && setup.IsDeviceToHost():
		_, err := ctrl.Write([]byte{1, 2, 3})
		return err
	case setup.Request == 0x09 && setup.IsHostToDevice():
		var buf [MaxControlDataSize]byte
		n, err := ctrl.Receive(buf[:])
		if err != nil {
			return err
		}
		f.received <- append([]byte(nil), buf[:n]...)
		return nil
	}
	return pkg.ErrNotSupported
}

func (f *testFunction) EndpointRequest(slot uint8) error {
	iface := f.bound()
	out := iface.Out(slot)
	if out == nil {
		return pkg.ErrInvalidEndpoint
	}
	var buf [MaxPacketSize]byte
	n, _ := out.Read(buf[:])
	pkt := append([]byte(nil), buf[:n]...)
	select {
	case f.packets <- pkt:
	default:
	}
	if f.echo {
		if in := iface.In(slot); in != nil {
			_, _ = in.Write(pkt)
		}
	}
	return nil
}

// bulkInfo declares n bulk slots, each with an IN and an OUT endpoint.
func bulkInfo(n uint8) InterfaceInfo {
	info := InterfaceInfo{Class: ClassVendor}
	for s := uint8(0); s < n; s++ {
		info.Endpoints = append(info.Endpoints,
			EndpointInfo{Slot: s, Direction: hal.DirIn, Type: hal.TransferBulk},
			EndpointInfo{Slot: s, Direction: hal.DirOut, Type: hal.TransferBulk})
	}
	return info
}

func TestRegistry_ContiguousIndices(t *testing.T) {
	reg := NewRegistry(6)

	sizes := []uint8{1, 2, 3}
	wantFirst := []uint8{1, 2, 4}
	for i, n := range sizes {
		iface, err := reg.Register(newTestFunction(bulkInfo(n)))
		if err != nil {
			t.Fatalf("Register(%d) error = %v", i, err)
		}
		if iface.Number() != uint8(i) {
			t.Errorf("Number() = %d, want %d", iface.Number(), i)
		}
		if iface.FirstEndpoint() != wantFirst[i] || iface.EndpointCount() != n {
			t.Errorf("entry %d: first=%d count=%d, want first=%d count=%d",
				i, iface.FirstEndpoint(), iface.EndpointCount(), wantFirst[i], n)
		}
	}
	if reg.Used() != 6 || reg.Remaining() != 0 || reg.Len() != 3 {
		t.Errorf("Used/Remaining/Len = %d/%d/%d, want 6/0/3", reg.Used(), reg.Remaining(), reg.Len())
	}
}

func TestRegistry_BudgetExhaustedKeepsEarlier(t *testing.T) {
	reg := NewRegistry(DefaultTotalEndpoints - ReservedEndpoints)

	for i := 0; i < 3; i++ {
		if _, err := reg.Register(newTestFunction(bulkInfo(2))); err != nil {
			t.Fatalf("Register(%d) error = %v", i, err)
		}
	}
	_, err := reg.Register(newTestFunction(bulkInfo(1)))
	if !errors.Is(err, pkg.ErrNoResources) {
		t.Fatalf("Register(over budget) error = %v, want ErrNoResources", err)
	}
	if reg.Len() != 3 || reg.Used() != 6 {
		t.Errorf("Len/Used = %d/%d after failure, want 3/6", reg.Len(), reg.Used())
	}
}

func TestRegistry_TableFull(t *testing.T) {
	reg := NewRegistry(MaxHardwareEndpoints)
	for i := 0; i < MaxInterfaces; i++ {
		if _, err := reg.Register(newTestFunction(InterfaceInfo{Class: ClassVendor})); err != nil {
			t.Fatalf("Register(%d) error = %v", i, err)
		}
	}
	if _, err := reg.Register(newTestFunction(InterfaceInfo{})); !errors.Is(err, pkg.ErrNoResources) {
		t.Errorf("Register(full) error = %v, want ErrNoResources", err)
	}
}

func TestRegistry_InvalidFunction(t *testing.T) {
	reg := NewRegistry(6)
	if _, err := reg.Register(nil); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Register(nil) error = %v, want ErrInvalidParameter", err)
	}
	bad := InterfaceInfo{Endpoints: []EndpointInfo{{Type: hal.TransferControl}}}
	if _, err := reg.Register(newTestFunction(bad)); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Register(control ep) error = %v, want ErrInvalidParameter", err)
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}
}

func TestRegistry_DescriptorOverflow(t *testing.T) {
	reg := NewRegistry(6)
	big := InterfaceInfo{Supplemental: make([]byte, MaxControlDataSize)}
	if _, err := reg.Register(newTestFunction(big)); !errors.Is(err, pkg.ErrNoResources) {
		t.Errorf("Register(oversized) error = %v, want ErrNoResources", err)
	}
}

func TestRegistry_RegisterAfterSealIsFatal(t *testing.T) {
	reg := NewRegistry(6)
	reg.seal()
	defer func() {
		if recover() == nil {
			t.Error("Register after seal did not halt")
		}
	}()
	_, _ = reg.Register(newTestFunction(bulkInfo(1)))
}

func TestRegistry_DispatchToOwner(t *testing.T) {
	reg := NewRegistry(6)
	a, _ := reg.Register(newTestFunction(bulkInfo(1)))
	b, _ := reg.Register(newTestFunction(bulkInfo(3)))

	tests := []struct {
		index uint8
		owner *Interface
		slot  uint8
	}{
		{0, nil, 0},
		{1, a, 0},
		{2, b, 0},
		{4, b, 2},
		{5, nil, 0},
	}
	for _, tt := range tests {
		owner, slot, ok := reg.DispatchToOwner(tt.index)
		if owner != tt.owner || ok != (tt.owner != nil) || slot != tt.slot {
			t.Errorf("DispatchToOwner(%d) = %p, %d, %v; want %p, %d", tt.index, owner, slot, ok, tt.owner, tt.slot)
		}
	}
	if reg.Interface(2) != nil {
		t.Error("Interface(2) should be nil")
	}
}

func TestRegistry_ConfigurationLength(t *testing.T) {
	classDesc := []byte{0x09, 0x21, 0x00, 0x01, 0x00, 0x01, 0x22, 0x14, 0x00}
	tests := []struct {
		name         string
		supplemental int
		want         int
	}{
		{"report blob 20", 20, 61},
		{"report blob 29", 29, 70},
		{"no blob", 0, 41},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(6 - 2)
			iface, err := reg.Register(newTestFunction(pairInfo(classDesc, make([]byte, tt.supplemental))))
			if err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			if iface.FirstEndpoint() != 1 || iface.EndpointCount() != 1 {
				t.Errorf("first/count = %d/%d, want 1/1", iface.FirstEndpoint(), iface.EndpointCount())
			}
			if got := ConfigurationDescriptorSize + reg.TotalDescriptorSize(); got != tt.want {
				t.Errorf("clen = %d, want %d", got, tt.want)
			}

			var buf [MaxControlDataSize]byte
			if n := reg.marshalTo(buf[:]); n != tt.want-ConfigurationDescriptorSize {
				t.Errorf("marshalTo() = %d, want %d", n, tt.want-ConfigurationDescriptorSize)
			}
			// Both endpoint descriptors use index 1.
			eps := buf[InterfaceDescriptorSize+len(classDesc):]
			if !bytes.Equal([]byte{eps[2], eps[9]}, []byte{0x81, 0x01}) {
				t.Errorf("endpoint addresses = %#x %#x, want 0x81 0x01", eps[2], eps[9])
			}
		})
	}
}
