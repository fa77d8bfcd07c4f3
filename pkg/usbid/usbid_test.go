package usbid

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `#
# List of USB ID's
#
0b6a  Vendor Six
	5346  Echo Device
	0001  Other Device
1234  Test Vendor
	5678  Test Product

# List of known device classes, subclasses and protocols
C 00  (Defined at Interface level)
C 03  Human Interface Device
	00  No Subclass
		00  None
	01  Boot Interface Subclass
		01  Keyboard
		02  Mouse
C 09  Hub

# List of Audio Class Terminal Types
AT 0100  USB Undefined
	0101  Not a product
`

func parsed(t *testing.T) *Database {
	t.Helper()
	db := New()
	if err := db.Parse(strings.NewReader(sample)); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return db
}

func TestParse_Vendors(t *testing.T) {
	db := parsed(t)

	tests := []struct {
		vid, pid      uint16
		vendor, model string
	}{
		{0x0B6A, 0x5346, "Vendor Six", "Echo Device"},
		{0x0B6A, 0x0001, "Vendor Six", "Other Device"},
		{0x1234, 0x5678, "Test Vendor", "Test Product"},
		{0x1234, 0x5346, "Test Vendor", ""},
		{0xFFFF, 0x0000, "", ""},
	}
	for _, tt := range tests {
		if got := db.Vendor(tt.vid); got != tt.vendor {
			t.Errorf("Vendor(%04x) = %q, want %q", tt.vid, got, tt.vendor)
		}
		if got := db.Product(tt.vid, tt.pid); got != tt.model {
			t.Errorf("Product(%04x, %04x) = %q, want %q", tt.vid, tt.pid, got, tt.model)
		}
	}
}

func TestParse_Classes(t *testing.T) {
	db := parsed(t)

	tests := []struct {
		class, sub, proto uint8
		want              string
	}{
		{0x03, 0x01, 0x01, "Human Interface Device / Boot Interface Subclass / Keyboard"},
		{0x03, 0x01, 0x07, "Human Interface Device / Boot Interface Subclass"},
		{0x03, 0x00, 0x00, "Human Interface Device / No Subclass / None"},
		{0x03, 0x05, 0x00, "Human Interface Device"},
		{0x09, 0x00, 0x00, "Hub"},
		{0xFF, 0x00, 0x00, ""},
	}
	for _, tt := range tests {
		if got := db.Class(tt.class, tt.sub, tt.proto); got != tt.want {
			t.Errorf("Class(%02x, %02x, %02x) = %q, want %q", tt.class, tt.sub, tt.proto, got, tt.want)
		}
	}
}

func TestParse_SkipsOtherSections(t *testing.T) {
	db := parsed(t)
	vendors, products, classes := db.Len()
	if vendors != 2 || products != 3 {
		t.Errorf("Len() = %d vendors, %d products, want 2, 3", vendors, products)
	}
	if classes != 8 {
		t.Errorf("Len() = %d class entries, want 8", classes)
	}
	// The terminal type section must not leak into vendor 0x0100.
	if got := db.Product(0x0100, 0x0101); got != "" {
		t.Errorf("Product(0100, 0101) = %q, want empty", got)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usb.ids")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}

	db := New()
	if err := db.Open(filepath.Join(dir, "missing"), path); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if db.Source() != path {
		t.Errorf("Source() = %q, want %q", db.Source(), path)
	}
	if db.Vendor(0x1234) != "Test Vendor" {
		t.Error("vendor not loaded")
	}
}

func TestOpen_NotFound(t *testing.T) {
	db := New()
	err := db.Open(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Open() error = %v, want %v", err, ErrNotFound)
	}
	if db.Vendor(0x1234) != "" {
		t.Error("empty database returned a name")
	}
}
