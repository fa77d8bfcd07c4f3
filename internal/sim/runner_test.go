package sim

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hwsim "github.com/ardnew/fsusb/device/hal/sim"
)

func TestRunner_Builtin(t *testing.T) {
	scs, err := Builtin()
	require.NoError(t, err)

	r := &Runner{Parallel: 2}
	reports, err := r.RunAll(context.Background(), scs)
	require.NoError(t, err)
	require.Len(t, reports, len(scs))

	for i, rep := range reports {
		assert.Equal(t, scs[i].Name, rep.Scenario)
		require.NoError(t, rep.Err, rep.Scenario)
		for _, res := range rep.Results {
			assert.True(t, res.Passed, "%s step %d (%s): %s", rep.Scenario, res.Step, res.Name, res.Detail)
		}
		assert.True(t, rep.Passed())
		assert.Len(t, rep.Results, len(scs[i].Steps))
		assert.NotEmpty(t, rep.Trace)
	}
}

func TestRunner_FailedExpectation(t *testing.T) {
	sc, err := Parse([]byte(`
name: wrong
steps:
  - op: reset
  - op: get_descriptor
    descriptor: device
    length: 8
    expect:
      length: 18
  - op: get_descriptor
    descriptor: string
    value: 7
    length: 255
  - op: get_descriptor
    descriptor: device
    length: 18
    expect:
      stall: true
  - op: set_address
    value: 3
    expect: {state: address, address: 3}
`))
	require.NoError(t, err)

	rep, err := (&Runner{}).Run(context.Background(), sc)
	require.NoError(t, err)
	require.NoError(t, rep.Err)
	require.Len(t, rep.Results, 5)

	assert.True(t, rep.Results[0].Passed)
	assert.False(t, rep.Results[1].Passed)
	assert.Equal(t, "length 8, want 18", rep.Results[1].Detail)
	assert.False(t, rep.Results[2].Passed)
	assert.Equal(t, "unexpected STALL", rep.Results[2].Detail)
	assert.False(t, rep.Results[3].Passed)
	assert.Equal(t, "expected STALL", rep.Results[3].Detail)
	assert.True(t, rep.Results[4].Passed)

	assert.False(t, rep.Passed())
	assert.Equal(t, 3, rep.Failures())
}

func TestRunner_StepTimeoutAborts(t *testing.T) {
	sc, err := Parse([]byte(`
name: silent
device: {functions: [hid-echo]}
steps:
  - op: reset
  - op: set_address
    value: 1
  - op: set_configuration
    value: 1
  - name: nothing to read
    op: in
    endpoint: 1
  - op: reset
`))
	require.NoError(t, err)

	r := &Runner{StepTimeout: 50 * time.Millisecond}
	rep, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	require.Error(t, rep.Err)
	assert.ErrorIs(t, rep.Err, context.DeadlineExceeded)
	require.Len(t, rep.Results, 4)
	assert.False(t, rep.Results[3].Passed)
	assert.False(t, rep.Passed())
}

func TestRunner_Metrics(t *testing.T) {
	sc, err := BuiltinNamed("hid-echo")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	rep, err := (&Runner{Registerer: reg}).Run(context.Background(), sc)
	require.NoError(t, err)
	require.True(t, rep.Passed())

	n, err := testutil.GatherAndCount(reg, "fsusb_bus_resets_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			assert.Equal(t, "hid-echo", labels["scenario"], mf.GetName())
		}
	}
}

func TestRunner_MetricsSameScenarioTwice(t *testing.T) {
	sc, err := BuiltinNamed("enumerate")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	reports, err := (&Runner{Registerer: reg, Parallel: 2}).RunAll(context.Background(), []*Scenario{sc, sc})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, rep := range reports {
		assert.True(t, rep.Passed())
	}

	// Both runs count into the one series labeled with the scenario.
	n, err := testutil.GatherAndCount(reg, "fsusb_bus_resets_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunner_TraceRecordsEcho(t *testing.T) {
	sc, err := BuiltinNamed("hid-echo")
	require.NoError(t, err)

	rep, err := (&Runner{}).Run(context.Background(), sc)
	require.NoError(t, err)

	var out, in bool
	for _, ev := range rep.Trace {
		if ev.Index != 1 {
			continue
		}
		switch ev.Kind {
		case hwsim.EventOut:
			out = string(ev.Data) == "hello"
		case hwsim.EventIn:
			in = len(ev.Data) == 64 && string(ev.Data[:5]) == "hELLo"
		}
	}
	assert.True(t, out, "OUT hello on ep1")
	assert.True(t, in, "IN echo on ep1")
}

func TestRunner_BuildError(t *testing.T) {
	sc := &Scenario{
		Name:   "too-big",
		Device: DeviceConfig{Endpoints: 1, Functions: []string{FunctionHIDEcho}},
		Steps:  []Step{{Op: OpReset}},
	}
	_, err := (&Runner{}).Run(context.Background(), sc)
	assert.Error(t, err)
}
