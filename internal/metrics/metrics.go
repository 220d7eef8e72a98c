// Package metrics exposes engine state as Prometheus collectors.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/overtemp/internal/logic"
)

// Collector bundles the overtemp metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Backoff     *prometheus.GaugeVec
	State       *prometheus.GaugeVec
	Temperature *prometheus.GaugeVec
	Transitions *prometheus.CounterVec
	Ticks       prometheus.Counter
}

// New registers the collectors against reg, defaulting to the global
// registry when nil. Registering twice on the same registry returns the
// existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	backoff, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "overtemp_channel_backoff_db",
		Help: "Current output power backoff per channel in dB.",
	}, []string{"channel"}), "overtemp_channel_backoff_db")
	if err != nil {
		return nil, err
	}
	state, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "overtemp_channel_state",
		Help: "1 for the current over-temperature state of each channel, 0 otherwise.",
	}, []string{"channel", "state"}), "overtemp_channel_state")
	if err != nil {
		return nil, err
	}
	temp, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "overtemp_sensor_temperature_celsius",
		Help: "Last accepted reading of each enabled sensor.",
	}, []string{"sensor"}), "overtemp_sensor_temperature_celsius")
	if err != nil {
		return nil, err
	}
	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overtemp_transitions_total",
		Help: "Channel state transitions, labeled by source and destination state.",
	}, []string{"from", "to"}), "overtemp_transitions_total")
	if err != nil {
		return nil, err
	}
	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overtemp_ticks_total",
		Help: "Engine ticks executed.",
	}), "overtemp_ticks_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:    gatherer,
		Backoff:     backoff,
		State:       state,
		Temperature: temp,
		Transitions: transitions,
		Ticks:       ticks,
	}, nil
}

// Observe records the result of one tick.
func (c *Collector) Observe(channels []logic.ChannelSnapshot, transitions []logic.Transition) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	for _, ch := range channels {
		id := strconv.Itoa(ch.ID)
		c.Backoff.WithLabelValues(id).Set(ch.Backoff)
		for _, st := range logic.States {
			v := 0.0
			if st == ch.State {
				v = 1
			}
			c.State.WithLabelValues(id, string(st)).Set(v)
		}
		for _, s := range ch.Sensors {
			c.Temperature.WithLabelValues(s.Type.String()).Set(s.Temperature)
		}
	}
	for _, tr := range transitions {
		c.Transitions.WithLabelValues(string(tr.From), string(tr.To)).Inc()
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}
