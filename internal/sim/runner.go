package sim

import (
	"bytes"
	"context"
	baseerrors "errors"
	"fmt"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/fsusb/device"
	hwsim "github.com/ardnew/fsusb/device/hal/sim"
	"github.com/ardnew/fsusb/internal/metrics"
	"github.com/ardnew/fsusb/pkg"
)

// Default timeouts.
const (
	DefaultStepTimeout     = 2 * time.Second
	DefaultScenarioTimeout = 30 * time.Second
)

// Result is the outcome of one step.
type Result struct {
	Step    int
	Name    string
	Op      string
	Passed  bool
	Detail  string
	Data    []byte
	Elapsed time.Duration
}

// Report is the outcome of one scenario.
type Report struct {
	Scenario string
	Results  []Result
	Trace    []hwsim.Event
	Device   *device.Device

	// Err is set when the scenario could not run to completion, for
	// example because the device halted on an invariant violation.
	Err error
}

// Passed reports whether every step passed and the scenario completed.
func (r *Report) Passed() bool {
	if r.Err != nil {
		return false
	}
	for i := range r.Results {
		if !r.Results[i].Passed {
			return false
		}
	}
	return true
}

// Failures returns the number of failed steps.
func (r *Report) Failures() int {
	n := 0
	for i := range r.Results {
		if !r.Results[i].Passed {
			n++
		}
	}
	return n
}

// Runner executes scenarios. The zero value is ready to use.
type Runner struct {
	// StepTimeout bounds each host action.
	StepTimeout time.Duration

	// ScenarioTimeout bounds a whole scenario.
	ScenarioTimeout time.Duration

	// Registerer, if set, receives a metrics collector per scenario,
	// labeled with the scenario name.
	Registerer prometheus.Registerer

	// Parallel limits how many scenarios RunAll executes at once. Zero
	// means one at a time.
	Parallel int
}

func (r *Runner) stepTimeout() time.Duration {
	if r.StepTimeout > 0 {
		return r.StepTimeout
	}
	return DefaultStepTimeout
}

func (r *Runner) scenarioTimeout() time.Duration {
	if r.ScenarioTimeout > 0 {
		return r.ScenarioTimeout
	}
	return DefaultScenarioTimeout
}

// RunAll runs every scenario and returns their reports in order. A
// scenario that fails does not stop the others.
func (r *Runner) RunAll(ctx context.Context, scenarios []*Scenario) ([]*Report, error) {
	reports := make([]*Report, len(scenarios))

	g, gctx := errgroup.WithContext(ctx)
	limit := r.Parallel
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, sc := range scenarios {
		i, sc := i, sc
		g.Go(func() error {
			rep, err := r.Run(gctx, sc)
			if err != nil {
				return errors.Wrapf(err, "scenario %s", sc.Name)
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// Run assembles the scenario's device on a fresh simulated controller and
// plays the steps against it. The returned error covers setup problems;
// step outcomes are in the report.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	dev, err := sc.Device.Build()
	if err != nil {
		return nil, err
	}
	if r.Registerer != nil {
		reg := prometheus.WrapRegistererWith(prometheus.Labels{"scenario": sc.Name}, r.Registerer)
		c, err := metrics.New(reg)
		if err != nil {
			return nil, err
		}
		c.Attach(dev)
	}

	ctrl := hwsim.NewController(sc.Device.HardwareEndpoints())
	stack := device.NewStack(dev, ctrl)
	if err := stack.Start(); err != nil {
		return nil, errors.Wrap(err, "start stack")
	}
	defer stack.Stop()

	rep := &Report{Scenario: sc.Name, Device: dev}

	ctx, cancel := context.WithTimeout(ctx, r.scenarioTimeout())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	hostCtx, stopDevice := context.WithCancel(gctx)

	g.Go(func() (err error) {
		defer func() {
			if v := recover(); v != nil {
				inv, ok := v.(*pkg.InvariantError)
				if !ok {
					panic(v)
				}
				err = errors.Wrap(inv, "device halted")
			}
		}()
		err = ctrl.Serve(hostCtx, stack.HandleInterrupt)
		if baseerrors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		defer stopDevice()
		h := &session{
			runner: r,
			dev:    dev,
			host:   hwsim.NewHost(ctrl),
		}
		for i := range sc.Steps {
			res, fatal := h.step(hostCtx, i+1, &sc.Steps[i])
			rep.Results = append(rep.Results, res)
			if fatal != nil {
				return fatal
			}
		}
		return nil
	})

	rep.Err = g.Wait()
	rep.Trace = ctrl.Trace()

	pkg.LogInfo(pkg.ComponentSim, "scenario finished",
		"scenario", sc.Name,
		"steps", len(rep.Results),
		"failures", rep.Failures(),
		"error", rep.Err)
	return rep, nil
}

// session is the host side of one scenario run.
type session struct {
	runner *Runner
	dev    *device.Device
	host   *hwsim.Host
}

// step performs one step. A non-nil second result means the session
// cannot continue.
func (s *session) step(ctx context.Context, n int, st *Step) (Result, error) {
	res := Result{Step: n, Name: st.Label(), Op: st.Op}
	start := time.Now()

	sctx, cancel := context.WithTimeout(ctx, s.runner.stepTimeout())
	defer cancel()

	data, err := s.perform(sctx, st)
	res.Data = data
	res.Elapsed = time.Since(start)

	if err == nil {
		err = s.settle(sctx, &st.Expect)
	}
	if err != nil && !baseerrors.Is(err, pkg.ErrStall) {
		res.Detail = err.Error()
		pkg.LogWarn(pkg.ComponentSim, "step aborted", "step", n, "op", st.Op, "error", err)
		if ctx.Err() != nil || baseerrors.Is(err, context.DeadlineExceeded) {
			return res, errors.Wrapf(err, "step %d", n)
		}
		return res, nil
	}

	res.Passed, res.Detail = check(&st.Expect, data, err)
	pkg.LogDebug(pkg.ComponentSim, "step done",
		"step", n, "op", st.Op, "passed", res.Passed, "bytes", len(data))
	return res, nil
}

// perform issues the step's transfers and returns the data the host
// received, if any.
func (s *session) perform(ctx context.Context, st *Step) ([]byte, error) {
	switch st.Op {
	case OpReset:
		return nil, s.host.Reset(ctx)

	case OpGetDescriptor:
		typ, err := descriptorType(st.Descriptor)
		if err != nil {
			return nil, err
		}
		setup := device.GetDescriptorRequest(typ, uint8(st.Value), st.Index, st.Length)
		if st.Recipient == "interface" {
			setup = device.InterfaceDescriptorRequest(typ, uint8(st.Index), st.Length)
		}
		return s.host.ControlIn(ctx, setup.Bytes())

	case OpSetAddress:
		setup := device.SetAddressRequest(uint8(st.Value))
		return nil, s.host.ControlNoData(ctx, setup.Bytes())

	case OpSetConfiguration:
		setup := device.SetConfigurationRequest(uint8(st.Value))
		return nil, s.host.ControlNoData(ctx, setup.Bytes())

	case OpControl:
		payload := st.payload()
		setup := device.SetupPacket{
			RequestType: st.RequestType,
			Request:     st.Request,
			Value:       st.Value,
			Index:       st.Index,
			Length:      st.Length,
		}
		switch {
		case setup.IsDeviceToHost():
			return s.host.ControlIn(ctx, setup.Bytes())
		case len(payload) > 0:
			setup.Length = uint16(len(payload))
			return nil, s.host.ControlOut(ctx, setup.Bytes(), payload)
		}
		setup.Length = 0
		return nil, s.host.ControlNoData(ctx, setup.Bytes())

	case OpOut:
		return nil, s.host.Out(ctx, st.Endpoint, st.payload())

	case OpIn:
		if st.Length == 0 {
			return s.host.In(ctx, st.Endpoint)
		}
		return s.collect(ctx, st.Endpoint, int(st.Length))
	}
	return nil, errors.Newf("unknown op %q", st.Op)
}

// collect reads IN packets until n bytes arrive or a short packet ends
// the transfer.
func (s *session) collect(ctx context.Context, ep uint8, n int) ([]byte, error) {
	var data []byte
	for len(data) < n {
		pkt, err := s.host.In(ctx, ep)
		if err != nil {
			return data, err
		}
		data = append(data, pkt...)
		if len(pkt) < int(s.host.MaxPacketSize(ep)) {
			break
		}
	}
	return data, nil
}

// settle waits for the device state the step expects. The device applies
// address and configuration changes after the status stage, so the host
// may observe the old state for a moment.
func (s *session) settle(ctx context.Context, exp *Expect) error {
	if exp.State == "" && exp.Address == nil {
		return nil
	}
	want, _ := parseState(exp.State)

	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		ok := (exp.State == "" || s.dev.State() == want) &&
			(exp.Address == nil || s.dev.Address() == *exp.Address)
		if ok {
			return nil
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			return errors.Newf("device is %s at address %d", s.dev.State(), s.dev.Address())
		}
	}
}

// check compares a finished step with its expectation. err is nil or
// pkg.ErrStall.
func check(exp *Expect, data []byte, err error) (bool, string) {
	stalled := err != nil
	switch {
	case exp.Stall && !stalled:
		return false, "expected STALL"
	case !exp.Stall && stalled:
		return false, "unexpected STALL"
	case stalled:
		return true, "STALL"
	}

	if exp.Length != nil && len(data) != *exp.Length {
		return false, fmt.Sprintf("length %d, want %d", len(data), *exp.Length)
	}
	if exp.Data != nil && !bytes.Equal(data, exp.Data) {
		return false, fmt.Sprintf("data %s, want %s", Bytes(data), exp.Data)
	}
	if exp.Prefix != nil && !bytes.HasPrefix(data, exp.Prefix) {
		return false, fmt.Sprintf("data %s, want prefix %s", Bytes(data), exp.Prefix)
	}
	if exp.Text != "" && !bytes.HasPrefix(data, []byte(exp.Text)) {
		return false, fmt.Sprintf("data %q, want prefix %q", trimZero(data), exp.Text)
	}
	if len(data) > 0 {
		return true, fmt.Sprintf("%d bytes", len(data))
	}
	return true, "ok"
}

func trimZero(b []byte) []byte {
	return bytes.TrimRight(b, "\x00")
}
