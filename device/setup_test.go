package device

import (
	"errors"
	"testing"

	"github.com/ardnew/fsusb/pkg"
)

func TestParseSetupPacket(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    SetupPacket
		wantErr error
	}{
		{
			name: "GET_DESCRIPTOR device",
			data: []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00},
			want: SetupPacket{RequestType: 0x80, Request: 0x06, Value: 0x0100, Length: 18},
		},
		{
			name: "SET_ADDRESS",
			data: []byte{0x00, 0x05, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00},
			want: SetupPacket{Request: 0x05, Value: 5},
		},
		{
			name: "HID GET_REPORT",
			data: []byte{0xA1, 0x01, 0x00, 0x01, 0x02, 0x00, 0x40, 0x00},
			want: SetupPacket{RequestType: 0xA1, Request: 0x01, Value: 0x0100, Index: 2, Length: 64},
		},
		{
			name:    "too short",
			data:    []byte{0x80, 0x06, 0x00},
			wantErr: pkg.ErrSetupPacketTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got SetupPacket
			err := ParseSetupPacket(tt.data, &got)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseSetupPacket() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != tt.want {
				t.Errorf("ParseSetupPacket() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSetupPacket_Bytes(t *testing.T) {
	pkt := GetDescriptorRequest(DescriptorTypeString, 2, LangIDUSEnglish, 255)
	got := pkt.Bytes()
	want := [SetupPacketSize]byte{0x80, 0x06, 0x02, 0x03, 0x09, 0x04, 0xFF, 0x00}
	if got != want {
		t.Errorf("Bytes() = % X, want % X", got, want)
	}
}

func TestSetupPacket_Decode(t *testing.T) {
	tests := []struct {
		name      string
		pkt       SetupPacket
		in        bool
		typ       uint8
		recipient uint8
	}{
		{"get descriptor", GetDescriptorRequest(DescriptorTypeDevice, 0, 0, 18), true, RequestTypeStandard, RequestRecipientDevice},
		{"set address", SetAddressRequest(5), false, RequestTypeStandard, RequestRecipientDevice},
		{"get interface", GetInterfaceRequest(1), true, RequestTypeStandard, RequestRecipientInterface},
		{"class out", ClassRequest(false, 0x0A, 0, 0, 0), false, RequestTypeClass, RequestRecipientInterface},
		{"clear halt", FeatureRequest(false, RequestRecipientEndpoint, FeatureEndpointHalt, 0x81), false, RequestTypeStandard, RequestRecipientEndpoint},
		{"vendor", SetupPacket{RequestType: 0xC0}, true, RequestTypeVendor, RequestRecipientDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pkt.IsDeviceToHost(); got != tt.in {
				t.Errorf("IsDeviceToHost() = %v, want %v", got, tt.in)
			}
			if got := tt.pkt.IsHostToDevice(); got == tt.in {
				t.Errorf("IsHostToDevice() = %v, want %v", got, !tt.in)
			}
			if got := tt.pkt.Type(); got != tt.typ {
				t.Errorf("Type() = 0x%02X, want 0x%02X", got, tt.typ)
			}
			if got := tt.pkt.Recipient(); got != tt.recipient {
				t.Errorf("Recipient() = 0x%02X, want 0x%02X", got, tt.recipient)
			}
		})
	}
}

func TestSetupPacket_Fields(t *testing.T) {
	pkt := InterfaceDescriptorRequest(0x22, 3, 39)
	if got := pkt.DescriptorType(); got != 0x22 {
		t.Errorf("DescriptorType() = 0x%02X, want 0x22", got)
	}
	if got := pkt.DescriptorIndex(); got != 0 {
		t.Errorf("DescriptorIndex() = %d, want 0", got)
	}
	if got := pkt.InterfaceNumber(); got != 3 {
		t.Errorf("InterfaceNumber() = %d, want 3", got)
	}

	ep := GetStatusRequest(RequestRecipientEndpoint, 0x81)
	if got := ep.EndpointAddress(); got != 0x81 {
		t.Errorf("EndpointAddress() = 0x%02X, want 0x81", got)
	}
	if ep.Length != 2 {
		t.Errorf("GET_STATUS Length = %d, want 2", ep.Length)
	}
}

func TestFeatureRequest(t *testing.T) {
	set := FeatureRequest(true, RequestRecipientDevice, FeatureDeviceRemoteWakeup, 0)
	if set.Request != RequestSetFeature || set.Value != FeatureDeviceRemoteWakeup {
		t.Errorf("set feature = %+v", set)
	}
	clear := FeatureRequest(false, RequestRecipientDevice, FeatureDeviceRemoteWakeup, 0)
	if clear.Request != RequestClearFeature {
		t.Errorf("clear feature Request = 0x%02X, want 0x%02X", clear.Request, RequestClearFeature)
	}
}

func TestSetupPacket_String(t *testing.T) {
	pkt := GetDescriptorRequest(DescriptorTypeDevice, 0, 0, 18)
	want := "SETUP[IN Standard Device] GET_DESCRIPTOR Value=0x0100 Index=0x0000 Length=18"
	if got := pkt.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	cls := ClassRequest(true, 0x01, 0x0100, 0, 8)
	want = "SETUP[IN Class Interface] 0x01 Value=0x0100 Index=0x0000 Length=8"
	if got := cls.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestRequestName(t *testing.T) {
	if got := RequestName(RequestSetConfiguration); got != "SET_CONFIGURATION" {
		t.Errorf("RequestName(SET_CONFIGURATION) = %q", got)
	}
	if got := RequestName(0x42); got != "0x42" {
		t.Errorf("RequestName(0x42) = %q, want 0x42", got)
	}
}
