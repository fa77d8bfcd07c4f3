package main

import (
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/efficientgo/core/errors"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/ardnew/fsusb/internal/sim"
	"github.com/ardnew/fsusb/pkg"
	"github.com/ardnew/fsusb/pkg/usbid"
)

// CLI is the root command structure for kong.
type CLI struct {
	Globals

	Run       RunCmd       `cmd:"" help:"Run scenario files against simulated devices."`
	Enumerate EnumerateCmd `cmd:"" help:"Enumerate a simulated device and print what the host saw."`
	Describe  DescribeCmd  `cmd:"" help:"Print the descriptors a device configuration produces."`

	Version kong.VersionFlag `help:"Print the version and exit."`
}

// Globals are the flags shared by every command.
type Globals struct {
	Config string   `help:"Configuration file (JSON, YAML or TOML)." env:"USBSIM_CONFIG" placeholder:"FILE"`
	Log    Log      `embed:"" prefix:"log."`
	Color  string   `help:"Colorize output: auto, always, never." enum:"auto,always,never" default:"auto" env:"USBSIM_COLOR"`
	USBIDs []string `name:"usb-ids" help:"usb.ids locations, first existing wins." default:"${usbids}" env:"USBSIM_USB_IDS"`
}

// Log selects the stack's log output.
type Log struct {
	Level  string `help:"Log level: debug, info, warn, error." default:"warn" env:"USBSIM_LOG_LEVEL"`
	Format string `help:"Log format: auto, text, json. Auto picks text on a terminal." enum:"auto,text,json" default:"auto" env:"USBSIM_LOG_FORMAT"`
}

func (g *Globals) setup(ctx *kong.Context) error {
	level, err := pkg.ParseLogLevel(g.Log.Level)
	if err != nil {
		return err
	}
	format := g.Log.Format
	if format == "auto" {
		format = "json"
		if isTerminal(os.Stderr) {
			format = "text"
		}
	}
	lf, err := pkg.ParseLogFormat(format)
	if err != nil {
		return err
	}
	pkg.SetLogOutput(ctx.Stderr, lf)
	pkg.SetLogLevel(level)

	switch g.Color {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	default:
		color.NoColor = !isTerminal(ctx.Stdout)
	}
	return nil
}

// usbIDs opens the first usb.ids found. A missing database only costs the
// names.
func (g *Globals) usbIDs() *usbid.Database {
	db := usbid.New()
	if err := db.Open(g.USBIDs...); err != nil {
		pkg.LogDebug(pkg.ComponentSim, "usb.ids unavailable", "error", err)
	}
	return db
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// DeviceFlags describe a device on the command line.
type DeviceFlags struct {
	VendorID     uint16   `name:"vid" help:"Vendor ID." default:"0x0B6A"`
	ProductID    uint16   `name:"pid" help:"Product ID." default:"0x5346"`
	Manufacturer string   `help:"Manufacturer string."`
	Product      string   `help:"Product string."`
	Serial       string   `help:"Serial number string."`
	Endpoints    uint8    `name:"hardware-endpoints" help:"Hardware endpoint count, 1 to 16." default:"8"`
	Functions    []string `name:"function" short:"f" help:"Function to register (hid-echo, hid-keyboard). Repeatable." default:"hid-echo"`
}

func (f *DeviceFlags) config() (sim.DeviceConfig, error) {
	if f.Endpoints == 0 || f.Endpoints > 16 {
		return sim.DeviceConfig{}, errors.Newf("hardware endpoints %d out of range", f.Endpoints)
	}
	return sim.DeviceConfig{
		VendorID:     f.VendorID,
		ProductID:    f.ProductID,
		Manufacturer: f.Manufacturer,
		Product:      f.Product,
		Serial:       f.Serial,
		Endpoints:    f.Endpoints,
		Functions:    f.Functions,
	}, nil
}
