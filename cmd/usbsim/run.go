package main

import (
	"context"
	baseerrors "errors"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/efficientgo/core/errors"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ardnew/fsusb/internal/sim"
	"github.com/ardnew/fsusb/pkg"
	"github.com/ardnew/fsusb/pkg/prof"
)

// RunCmd runs scenario files.
type RunCmd struct {
	Scenarios   []string      `arg:"" optional:"" type:"existingfile" help:"Scenario files to run."`
	Builtin     []string      `help:"Built-in scenarios to run; 'all' selects every one." placeholder:"NAME"`
	Parallel    int           `help:"Scenarios run at once." default:"1"`
	StepTimeout time.Duration `help:"Timeout for each step." default:"2s"`
	Timeout     time.Duration `help:"Timeout for each scenario." default:"30s"`
	Trace       bool          `help:"Print the bus trace of every scenario."`

	Metrics MetricsFlags `embed:"" prefix:"metrics."`
	Profile ProfileFlags `embed:"" prefix:"profile."`
}

// MetricsFlags control the metrics endpoint.
type MetricsFlags struct {
	Listen string        `help:"Serve /metrics and /health on this address while running." placeholder:"ADDR" env:"USBSIM_METRICS_LISTEN"`
	Linger time.Duration `help:"Keep serving this long after the scenarios finish."`
}

// ProfileFlags select profiles to capture. They need a binary built with
// the profile tag.
type ProfileFlags struct {
	CPU   string `help:"Write a CPU profile." type:"path" placeholder:"FILE"`
	Heap  string `help:"Write a heap profile at exit." type:"path" placeholder:"FILE"`
	Block string `help:"Write a block profile at exit." type:"path" placeholder:"FILE"`
	Mutex string `help:"Write a mutex profile at exit." type:"path" placeholder:"FILE"`
}

func (p *ProfileFlags) options() prof.Options {
	opts := prof.Options{CPU: p.CPU, Snapshots: make(map[prof.Profile]string)}
	if p.Heap != "" {
		opts.Snapshots[prof.ProfileHeap] = p.Heap
	}
	if p.Block != "" {
		opts.Snapshots[prof.ProfileBlock] = p.Block
		opts.BlockRate = 1
	}
	if p.Mutex != "" {
		opts.Snapshots[prof.ProfileMutex] = p.Mutex
		opts.MutexFraction = 1
	}
	return opts
}

// errScenariosFailed is returned when at least one scenario failed.
var errScenariosFailed = errors.New("scenarios failed")

func (c *RunCmd) scenarios() ([]*sim.Scenario, error) {
	var out []*sim.Scenario
	for _, name := range c.Builtin {
		if name == "all" {
			all, err := sim.Builtin()
			if err != nil {
				return nil, err
			}
			out = append(out, all...)
			continue
		}
		sc, err := sim.BuiltinNamed(name)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	files, err := sim.LoadAll(c.Scenarios...)
	if err != nil {
		return nil, err
	}
	out = append(out, files...)
	if len(out) == 0 {
		return nil, errors.New("no scenarios given; pass files or --builtin")
	}
	seen := make(map[string]bool, len(out))
	for _, sc := range out {
		if seen[sc.Name] {
			return nil, errors.Newf("scenario %q given more than once", sc.Name)
		}
		seen[sc.Name] = true
	}
	return out, nil
}

// Run executes the command.
func (c *RunCmd) Run(kctx *kong.Context, _ *Globals) error {
	scenarios, err := c.scenarios()
	if err != nil {
		return err
	}

	popts := c.Profile.options()
	if !popts.Empty() && !prof.Enabled {
		pkg.LogWarn(pkg.ComponentSim, "profiling requested but the binary was built without the profile tag")
	}
	session, err := prof.Start(popts)
	if err != nil {
		return errors.Wrap(err, "start profiling")
	}
	defer func() {
		if err := session.Stop(); err != nil {
			pkg.LogError(pkg.ComponentSim, "stop profiling", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	runner := &sim.Runner{
		StepTimeout:     c.StepTimeout,
		ScenarioTimeout: c.Timeout,
		Registerer:      reg,
		Parallel:        c.Parallel,
	}

	var (
		reports []*sim.Report
		group   run.Group
	)
	{
		ctx, cancel := context.WithCancel(context.Background())
		group.Add(func() error {
			var err error
			reports, err = runner.RunAll(ctx, scenarios)
			if err != nil {
				return err
			}
			if c.Metrics.Listen != "" && c.Metrics.Linger > 0 {
				select {
				case <-time.After(c.Metrics.Linger):
				case <-ctx.Done():
				}
			}
			return nil
		}, func(error) {
			cancel()
		})
	}
	if c.Metrics.Listen != "" {
		l, err := net.Listen("tcp", c.Metrics.Listen)
		if err != nil {
			return errors.Wrapf(err, "listen on %s", c.Metrics.Listen)
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		prof.Mount(mux)
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		pkg.LogInfo(pkg.ComponentMetrics, "serving metrics", "address", l.Addr().String())
		group.Add(func() error {
			if err := srv.Serve(l); !baseerrors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			_ = srv.Close()
		})
	}
	group.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	err = group.Run()
	var sig run.SignalError
	if baseerrors.As(err, &sig) {
		pkg.LogInfo(pkg.ComponentSim, "interrupted", "signal", sig.Signal)
		return err
	}
	if err != nil {
		return err
	}

	failed := render(kctx.Stdout, reports, c.Trace)
	if failed > 0 {
		return errors.Wrapf(errScenariosFailed, "%d of %d", failed, len(reports))
	}
	return nil
}
