// Package metrics exports device stack activity as Prometheus metrics.
package metrics

import (
	baseerrors "errors"
	"strconv"

	"github.com/efficientgo/core/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ardnew/fsusb/device"
	"github.com/ardnew/fsusb/device/class/msc"
	"github.com/ardnew/fsusb/pkg"
)

const namespace = "fsusb"

// Collector counts what a device's stack does. It is fed through the
// device callbacks, so it sees events in interrupt context.
type Collector struct {
	setups    *prometheus.CounterVec
	stalls    *prometheus.CounterVec
	resets    prometheus.Counter
	endpoints *prometheus.CounterVec
	state     prometheus.Gauge
	address   prometheus.Gauge
	config    prometheus.Gauge
	commands  *prometheus.CounterVec
}

// New creates a collector and registers it with reg, if reg is not nil.
// Metrics reg already holds, such as those of an earlier collector with
// the same labels, are shared rather than registered twice.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		setups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "setup_packets_total",
			Help:      "The number of SETUP packets received, by request.",
		}, []string{"request"}),
		stalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_stalls_total",
			Help:      "The number of control transfers answered with STALL, by request.",
		}, []string{"request"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_resets_total",
			Help:      "The number of bus resets handled.",
		}),
		endpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_events_total",
			Help:      "The number of transfer-complete events dispatched, by endpoint index.",
		}, []string{"endpoint"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_state",
			Help:      "The device state: 0 attached, 1 powered, 2 default, 3 address, 4 configured.",
		}),
		address: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_address",
			Help:      "The bus address assigned by the host.",
		}),
		config: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_configuration",
			Help:      "The selected configuration value, 0 when unconfigured.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "msc",
			Name:      "commands_total",
			Help:      "The number of SCSI commands completed, by operation code and CSW status.",
		}, []string{"opcode", "status"}),
	}

	if reg == nil {
		return c, nil
	}
	for _, err := range []error{
		register(reg, &c.setups),
		register(reg, &c.stalls),
		register(reg, &c.resets),
		register(reg, &c.endpoints),
		register(reg, &c.state),
		register(reg, &c.address),
		register(reg, &c.config),
		register(reg, &c.commands),
	} {
		if err != nil {
			return nil, errors.Wrap(err, "register metrics")
		}
	}
	return c, nil
}

// register adds *m to reg, or replaces *m with the equivalent collector
// reg already has.
func register[T prometheus.Collector](reg prometheus.Registerer, m *T) error {
	err := reg.Register(*m)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if !baseerrors.As(err, &are) {
		return err
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return err
	}
	*m = existing
	return nil
}

// Attach installs the collector's callbacks on dev, replacing any
// reset, setup, stall, endpoint, address, configuration or state change
// callbacks set before.
func (c *Collector) Attach(dev *device.Device) {
	c.state.Set(float64(dev.State()))
	c.address.Set(float64(dev.Address()))
	c.config.Set(float64(dev.Configuration()))

	dev.SetOnReset(func() {
		c.resets.Inc()
		c.address.Set(0)
		c.config.Set(0)
	})
	dev.SetOnSetup(func(setup device.SetupPacket) {
		c.setups.WithLabelValues(requestLabel(&setup)).Inc()
	})
	dev.SetOnStall(func(setup device.SetupPacket) {
		c.stalls.WithLabelValues(requestLabel(&setup)).Inc()
	})
	dev.SetOnEndpoint(func(index uint8) {
		c.endpoints.WithLabelValues(strconv.Itoa(int(index))).Inc()
	})
	dev.SetOnSetAddress(func(address uint8) {
		c.address.Set(float64(address))
	})
	dev.SetOnSetConfiguration(func(config uint8) {
		c.config.Set(float64(config))
	})
	dev.SetOnStateChange(func(_, state device.State) {
		c.state.Set(float64(state))
	})

	for _, iface := range dev.Registry().Interfaces() {
		if fn, ok := iface.Function().(*msc.MSC); ok {
			c.AttachMSC(fn)
		}
	}
	pkg.LogDebug(pkg.ComponentMetrics, "collector attached")
}

// AttachMSC counts the commands fn completes, replacing its command
// callback.
func (c *Collector) AttachMSC(fn *msc.MSC) {
	fn.SetOnCommand(func(opcode, status uint8) {
		c.commands.WithLabelValues(
			"0x"+strconv.FormatUint(uint64(opcode), 16),
			cswStatus(status),
		).Inc()
	})
}

func cswStatus(status uint8) string {
	switch status {
	case msc.CSWStatusGood:
		return "good"
	case msc.CSWStatusFailed:
		return "failed"
	case msc.CSWStatusPhaseError:
		return "phase_error"
	}
	return strconv.Itoa(int(status))
}

// requestLabel names standard requests and falls back to the request type
// and code for class and vendor requests.
func requestLabel(setup *device.SetupPacket) string {
	if setup.IsStandard() {
		return device.RequestName(setup.Request)
	}
	kind := "vendor"
	if setup.IsClass() {
		kind = "class"
	}
	return kind + "_0x" + strconv.FormatUint(uint64(setup.Request), 16)
}
