package main

import (
	"bytes"
	baseerrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute parses args and runs the selected command with colors off.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	var cli CLI
	parser, err := kong.New(&cli, append(options(args),
		kong.Writers(&out, &out),
		kong.Exit(func(int) { t.Fatal("unexpected exit") }),
	)...)
	require.NoError(t, err)

	kctx, err := parser.Parse(append([]string{"--color=never", "--usb-ids=" + filepath.Join(t.TempDir(), "none")}, args...))
	require.NoError(t, err)
	require.NoError(t, cli.Globals.setup(kctx))
	err = kctx.Run(&cli.Globals)
	return out.String(), err
}

func TestFindUserConfig(t *testing.T) {
	t.Setenv("USBSIM_CONFIG", "")
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"none", []string{"run"}, ""},
		{"equals", []string{"--config=a.yaml", "run"}, "a.yaml"},
		{"separate", []string{"run", "--config", "b.toml"}, "b.toml"},
		{"dangling", []string{"run", "--config"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, findUserConfig(tt.args))
		})
	}

	t.Setenv("USBSIM_CONFIG", "env.json")
	assert.Equal(t, "env.json", findUserConfig(nil))
}

func TestConfigCandidatePaths(t *testing.T) {
	j, y, tm := configCandidatePaths("x.json")
	assert.Equal(t, []string{"x.json"}, j)
	assert.Empty(t, y)
	assert.Empty(t, tm)

	j, y, tm = configCandidatePaths("x.toml")
	assert.Empty(t, j)
	assert.Empty(t, y)
	assert.Equal(t, []string{"x.toml"}, tm)

	_, y, _ = configCandidatePaths("x.conf")
	assert.Equal(t, []string{"x.conf"}, y)

	j, y, tm = configCandidatePaths("")
	assert.Contains(t, j, "usbsim.json")
	assert.Contains(t, y, "usbsim.yaml")
	assert.Contains(t, tm, "usbsim.toml")
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usbsim.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"color": "always"}`), 0o600))

	var cli CLI
	args := []string{"--config", path, "describe"}
	parser, err := kong.New(&cli, options(args)...)
	require.NoError(t, err)
	_, err = parser.Parse(args)
	require.NoError(t, err)
	assert.Equal(t, "always", cli.Color)
}

func TestRun_Builtin(t *testing.T) {
	out, err := execute(t, "run", "--builtin", "all", "--parallel", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "PASS enumerate")
	assert.Contains(t, out, "PASS hid-echo")
	assert.Contains(t, out, "PASS msc-disk")
	assert.Contains(t, out, "3 scenarios, 0 failed")
}

func TestRun_UnknownBuiltin(t *testing.T) {
	_, err := execute(t, "run", "--builtin", "nope")
	require.Error(t, err)
}

func TestRun_DuplicateScenario(t *testing.T) {
	_, err := execute(t, "run", "--builtin", "all", "--builtin", "enumerate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"enumerate" given more than once`)
}

func TestRun_NoScenarios(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
}

func TestRun_FailingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: short
steps:
  - op: reset
  - op: get_descriptor
    descriptor: device
    length: 64
    expect:
      length: 5
`), 0o600))

	out, err := execute(t, "run", "--trace", path)
	require.Error(t, err)
	assert.True(t, baseerrors.Is(err, errScenariosFailed))
	assert.Contains(t, out, "FAIL short")
	assert.Contains(t, out, "length 18, want 5")
	assert.Contains(t, out, "RESET")
}

func TestRun_MetricsListener(t *testing.T) {
	out, err := execute(t, "run", "--builtin", "enumerate", "--metrics.listen", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "1 scenarios, 0 failed")
}

func TestEnumerate(t *testing.T) {
	out, err := execute(t, "enumerate",
		"--vid", "0xCAFE", "--pid", "0x4001",
		"--product", "Echo", "--manufacturer", "Acme", "--serial", "0001",
		"-f", "hid-echo", "-f", "hid-keyboard")
	require.NoError(t, err)
	assert.Contains(t, out, "0xcafe")
	assert.Contains(t, out, "Echo")
	assert.Contains(t, out, "Interface 0")
	assert.Contains(t, out, "Interface 1")
	assert.Contains(t, out, "0x81")
	assert.Contains(t, out, "0x82")
}

func TestDescribe(t *testing.T) {
	out, err := execute(t, "describe", "--product", "Widget")
	require.NoError(t, err)
	assert.Contains(t, out, "Widget")
	assert.Contains(t, out, "0x0b6a")
	assert.Contains(t, out, "Interface 0")
	assert.Contains(t, out, "0x01")
}

func TestDescribe_EndpointRange(t *testing.T) {
	_, err := execute(t, "describe", "--hardware-endpoints", "17")
	require.Error(t, err)
}
