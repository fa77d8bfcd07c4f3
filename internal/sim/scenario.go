// Package sim runs scripted host sessions against a device stack on the
// simulated controller.
//
// A scenario is a YAML document naming the device to assemble and the
// steps the host performs. Each step is a bus reset, a standard or class
// control request, or a bulk or interrupt transfer, plus the outcome the host
// expects.
package sim

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/efficientgo/core/errors"
	"gopkg.in/yaml.v3"

	"github.com/ardnew/fsusb/device"
	"github.com/ardnew/fsusb/device/class/hid"
	"github.com/ardnew/fsusb/device/class/msc"
)

// Step operations.
const (
	OpReset            = "reset"
	OpGetDescriptor    = "get_descriptor"
	OpSetAddress       = "set_address"
	OpSetConfiguration = "set_configuration"
	OpControl          = "control"
	OpOut              = "out"
	OpIn               = "in"
)

// Function kinds a scenario device may register.
const (
	FunctionHIDEcho     = "hid-echo"
	FunctionHIDKeyboard = "hid-keyboard"
	FunctionMSCDisk     = "msc-disk"
)

// MSCDiskSize is the capacity of the msc-disk function's RAM disk.
const MSCDiskSize = 64 * 1024

// Scenario is one scripted host session.
type Scenario struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Device      DeviceConfig `yaml:"device"`
	Steps       []Step       `yaml:"steps"`
}

// DeviceConfig selects the identity and functions of the device under
// test. Zero values keep the builder defaults.
type DeviceConfig struct {
	VendorID     uint16   `yaml:"vendor_id"`
	ProductID    uint16   `yaml:"product_id"`
	Version      uint16   `yaml:"version"`
	Manufacturer string   `yaml:"manufacturer"`
	Product      string   `yaml:"product"`
	Serial       string   `yaml:"serial"`
	Endpoints    uint8    `yaml:"hardware_endpoints"`
	Reserved     *uint8   `yaml:"reserved_endpoints"`
	Functions    []string `yaml:"functions"`
}

// Step is one host action and its expected outcome.
type Step struct {
	Name string `yaml:"name"`
	Op   string `yaml:"op"`

	// get_descriptor
	Descriptor string `yaml:"descriptor"`
	Recipient  string `yaml:"recipient"`

	// control
	RequestType uint8 `yaml:"request_type"`
	Request     uint8 `yaml:"request"`

	Value uint16 `yaml:"value"`
	Index uint16 `yaml:"index"`

	// wLength for control steps. A non-zero length on an in step collects
	// packets until that many bytes arrive or a short packet ends the
	// transfer.
	Length uint16 `yaml:"length"`

	Endpoint uint8  `yaml:"endpoint"`
	Data     Bytes  `yaml:"data"`
	Text     string `yaml:"text"`

	Expect Expect `yaml:"expect"`
}

// Expect is the outcome a step must produce. Unset fields are not
// checked.
type Expect struct {
	Stall   bool   `yaml:"stall"`
	Length  *int   `yaml:"length"`
	Data    Bytes  `yaml:"data"`
	Prefix  Bytes  `yaml:"prefix"`
	Text    string `yaml:"text"`
	State   string `yaml:"state"`
	Address *uint8 `yaml:"address"`
}

// Bytes is a byte string written in YAML either as hex digits, optionally
// separated by spaces, or as a sequence of integers.
type Bytes []byte

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *Bytes) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s := strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(node.Value)
		v, err := hex.DecodeString(s)
		if err != nil {
			return errors.Wrapf(err, "line %d: hex bytes %q", node.Line, node.Value)
		}
		*b = v
		return nil

	case yaml.SequenceNode:
		var ints []uint8
		if err := node.Decode(&ints); err != nil {
			return errors.Wrapf(err, "line %d: byte sequence", node.Line)
		}
		*b = ints
		return nil
	}
	return errors.Newf("line %d: bytes must be a hex string or a sequence", node.Line)
}

// String formats b as space-separated hex.
func (b Bytes) String() string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(hex.EncodeToString([]byte{v}))
	}
	return sb.String()
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, errors.Wrap(err, "decode scenario")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads a scenario file. A scenario without a name is named after
// the file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read scenario %s", path)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", path)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return sc, nil
}

// LoadAll loads every path in order. Scenario names must be unique.
func LoadAll(paths ...string) ([]*Scenario, error) {
	seen := make(map[string]string, len(paths))
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := Load(p)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[sc.Name]; ok {
			return nil, errors.Newf("scenario name %q used by both %s and %s", sc.Name, prev, p)
		}
		seen[sc.Name] = p
		out = append(out, sc)
	}
	return out, nil
}

// Validate checks the scenario for mistakes that can be found without
// running it.
func (sc *Scenario) Validate() error {
	if len(sc.Steps) == 0 {
		return errors.New("scenario has no steps")
	}
	for _, fn := range sc.Device.Functions {
		if _, err := newFunction(fn); err != nil {
			return err
		}
	}
	for i := range sc.Steps {
		if err := sc.Steps[i].validate(); err != nil {
			return errors.Wrapf(err, "step %d (%s)", i+1, sc.Steps[i].Label())
		}
	}
	return nil
}

// Label returns the step name, or its operation when unnamed.
func (s *Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Op
}

func (s *Step) validate() error {
	switch s.Op {
	case OpReset, OpSetAddress, OpSetConfiguration:
	case OpGetDescriptor:
		if _, err := descriptorType(s.Descriptor); err != nil {
			return err
		}
		if s.Recipient != "" && s.Recipient != "device" && s.Recipient != "interface" {
			return errors.Newf("unknown recipient %q", s.Recipient)
		}
	case OpControl:
		if s.RequestType&device.RequestDirectionDeviceToHost != 0 && len(s.payload()) > 0 {
			return errors.New("device-to-host request with data")
		}
	case OpOut, OpIn:
		if s.Endpoint == 0 || s.Endpoint >= 16 {
			return errors.Newf("endpoint %d is not a data endpoint", s.Endpoint)
		}
	case "":
		return errors.New("missing op")
	default:
		return errors.Newf("unknown op %q", s.Op)
	}
	if s.Expect.State != "" {
		if _, err := parseState(s.Expect.State); err != nil {
			return err
		}
	}
	return nil
}

// payload returns the bytes a step sends: data followed by text.
func (s *Step) payload() []byte {
	if s.Text == "" {
		return s.Data
	}
	return append(append([]byte{}, s.Data...), s.Text...)
}

var descriptorTypes = map[string]uint8{
	"device":        device.DescriptorTypeDevice,
	"configuration": device.DescriptorTypeConfiguration,
	"string":        device.DescriptorTypeString,
	"interface":     device.DescriptorTypeInterface,
	"endpoint":      device.DescriptorTypeEndpoint,
	"qualifier":     device.DescriptorTypeDeviceQualifier,
	"hid":           hid.DescriptorTypeHID,
	"report":        hid.DescriptorTypeReport,
}

// descriptorType resolves a descriptor name or a numeric type code.
func descriptorType(name string) (uint8, error) {
	if t, ok := descriptorTypes[strings.ToLower(name)]; ok {
		return t, nil
	}
	v, err := strconv.ParseUint(name, 0, 8)
	if err != nil {
		return 0, errors.Newf("unknown descriptor %q", name)
	}
	return uint8(v), nil
}

func parseState(name string) (device.State, error) {
	for s := device.StateAttached; s <= device.StateConfigured; s++ {
		if strings.EqualFold(s.String(), name) {
			return s, nil
		}
	}
	return 0, errors.Newf("unknown device state %q", name)
}

func newFunction(kind string) (device.Function, error) {
	switch kind {
	case FunctionHIDEcho:
		return hid.New(), nil
	case FunctionHIDKeyboard:
		return hid.NewWithDescriptor(hid.KeyboardReportDescriptor, hid.SubclassBoot, hid.ProtocolKeyboard), nil
	case FunctionMSCDisk:
		disk := msc.NewMemoryStorage(MSCDiskSize, msc.DefaultBlockSize)
		return msc.New(disk, "fsusb", "RAM Disk"), nil
	}
	return nil, errors.Newf("unknown function %q", kind)
}

// Build assembles the configured device.
func (c *DeviceConfig) Build() (*device.Device, error) {
	b := device.NewDeviceBuilder()
	if c.VendorID != 0 || c.ProductID != 0 {
		b.WithVendorProduct(c.VendorID, c.ProductID)
	}
	if c.Version != 0 {
		b.WithDeviceVersion(c.Version)
	}
	if c.Manufacturer != "" || c.Product != "" || c.Serial != "" {
		b.WithStrings(c.Manufacturer, c.Product, c.Serial)
	}
	if c.Endpoints != 0 || c.Reserved != nil {
		total, reserved := c.HardwareEndpoints(), uint8(device.ReservedEndpoints)
		if c.Reserved != nil {
			reserved = *c.Reserved
		}
		b.WithEndpointBudget(total, reserved)
	}
	for _, kind := range c.Functions {
		fn, err := newFunction(kind)
		if err != nil {
			return nil, err
		}
		b.WithFunction(fn)
	}
	dev, err := b.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build device")
	}
	return dev, nil
}

// HardwareEndpoints returns the endpoint count of the simulated
// controller.
func (c *DeviceConfig) HardwareEndpoints() uint8 {
	if c.Endpoints == 0 {
		return device.DefaultTotalEndpoints
	}
	return c.Endpoints
}
