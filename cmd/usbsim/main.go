// Command usbsim drives the fsusb device stack from a simulated USB host.
//
// It runs YAML scenarios against devices assembled on the simulated
// controller, enumerates a device the way a host would, and prints the
// descriptors a device configuration produces.
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/ardnew/fsusb/pkg/usbid"
)

var version = "dev"

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, options(os.Args[1:])...)
	ctx.FatalIfErrorf(cli.Globals.setup(ctx))
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

// options returns the parser options shared by main and the tests.
func options(args []string) []kong.Option {
	jsonPaths, yamlPaths, tomlPaths := configCandidatePaths(findUserConfig(args))
	return []kong.Option{
		kong.Name("usbsim"),
		kong.Description("Drive the fsusb device stack from a simulated USB host."),
		kong.UsageOnError(),
		// Flags and environment override configuration files.
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
		kong.Vars{
			"version": version,
			"usbids":  strings.Join(usbid.DefaultPaths, ","),
		},
	}
}

// findUserConfig returns the --config value before kong has parsed
// anything, so the file can take part in parsing.
func findUserConfig(args []string) string {
	for i, a := range args {
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv("USBSIM_CONFIG")
}

// configCandidatePaths lists configuration files by loader. An explicit
// file is the only candidate for its own format.
func configCandidatePaths(user string) (jsonPaths, yamlPaths, tomlPaths []string) {
	if user != "" {
		switch strings.ToLower(filepath.Ext(user)) {
		case ".json":
			return []string{user}, nil, nil
		case ".toml":
			return nil, nil, []string{user}
		default:
			return nil, []string{user}, nil
		}
	}

	dirs := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "usbsim"))
	}
	for _, d := range dirs {
		jsonPaths = append(jsonPaths, filepath.Join(d, "usbsim.json"))
		yamlPaths = append(yamlPaths, filepath.Join(d, "usbsim.yaml"), filepath.Join(d, "usbsim.yml"))
		tomlPaths = append(tomlPaths, filepath.Join(d, "usbsim.toml"))
	}
	return jsonPaths, yamlPaths, tomlPaths
}
