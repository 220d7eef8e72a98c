package logic

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"
)

// TemperatureSource reads the current temperature of one sensor in °C.
type TemperatureSource interface {
	ReadCelsius() (float64, error)
}

// TemperatureFunc adapts a function to TemperatureSource.
type TemperatureFunc func() (float64, error)

// ReadCelsius calls f.
func (f TemperatureFunc) ReadCelsius() (float64, error) { return f() }

// Deps are the collaborators of an Engine. Every field is optional: a sensor
// without a source keeps its last temperature, nil Effects discards side
// effects and a nil Logger discards logs.
type Deps struct {
	Sources map[SensorType]TemperatureSource
	Effects Effects
	Logger  *slog.Logger
}

// Engine runs the over-temperature control loop for all channels. It is not
// safe for concurrent use; callers serialize Tick and the query methods.
type Engine struct {
	cfg        Config
	sensors    [SensorCount]SensorRecord
	sources    [SensorCount]TemperatureSource
	channels   []Channel
	effects    Effects
	log        *slog.Logger
	onShutdown func() error
}

// NewEngine builds an engine from the global configuration and the channel
// topology. Sensors are enabled from the configured topology before carrier
// presence removes channels for this epoch.
func NewEngine(cfg Config, topo Topology, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		effects: deps.Effects,
		log:     deps.Logger,
	}
	if e.effects == nil {
		e.effects = nopEffects{}
	}
	if e.log == nil {
		e.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	topo.Channels = cloneChannels(topo.Channels)
	for _, s := range topo.Normalize() {
		e.log.Warn("channel sensor limit reached, dropping sensor", "sensor", s, "limit", MaxSensorsPerChannel)
	}
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	for _, s := range topo.Shared() {
		e.log.Warn("sensor referenced by more than one channel", "sensor", s)
	}

	enabled := topo.Enabled()
	for _, ch := range topo.ApplyCarrierPresence(topo.Carrier) {
		e.log.Info("no valid carriers, disabling temperature sensors", "channel", ch)
	}

	for i := range e.sensors {
		s := SensorType(i)
		e.sensors[i] = SensorRecord{
			Type:       s,
			Thresholds: topo.Thresholds[s],
			Enabled:    enabled[i],
		}
		if src, ok := deps.Sources[s]; ok {
			e.sources[i] = src
		}
	}

	e.channels = make([]Channel, len(topo.Channels))
	for i, list := range topo.Channels {
		ch := Channel{
			ID:      i,
			Sensors: list,
			State:   StateNormal,
		}
		for j := range ch.per {
			ch.per[j].reset()
		}
		e.channels[i] = ch
	}
	return e, nil
}

func cloneChannels(in [][]SensorType) [][]SensorType {
	out := make([][]SensorType, len(in))
	for i, list := range in {
		out[i] = append([]SensorType(nil), list...)
	}
	return out
}

// RegisterShutdownCallback installs the hook invoked when a channel enters
// RequestShutdown.
func (e *Engine) RegisterShutdownCallback(cb func() error) {
	e.onShutdown = cb
}

// Tick runs one full pass: acquire temperatures, update hysteresis counters,
// evaluate every channel's state machine, then compute every channel's
// attenuation. It returns the transitions taken.
func (e *Engine) Tick(now time.Time) []Transition {
	e.acquire()
	e.evaluate()

	var transitions []Transition
	for i := range e.channels {
		ch := &e.channels[i]
		if len(ch.Sensors) == 0 {
			ch.Backoff = 0
			continue
		}

		to, ok := e.next(ch)
		if !ok {
			continue
		}
		from := ch.State
		ch.State = to
		e.log.Info("state transition", "channel", ch.ID, "from", from, "to", to)
		e.enter(ch, from, to)
		transitions = append(transitions, Transition{
			Timestamp: now,
			Channel:   ch.ID,
			From:      from,
			To:        to,
		})
	}

	for i := range e.channels {
		ch := &e.channels[i]
		if len(ch.Sensors) == 0 {
			ch.Backoff = 0
			continue
		}
		e.computeBackoff(ch)
		e.log.Debug("channel backoff", "channel", ch.ID, "state", ch.State, "backoff_db", ch.Backoff)
	}

	return transitions
}

// acquire reads every enabled sensor that has a source. A failed or
// non-finite reading keeps the previous temperature.
func (e *Engine) acquire() {
	for i := range e.sensors {
		rec := &e.sensors[i]
		src := e.sources[i]
		if !rec.Enabled || src == nil {
			continue
		}
		t, err := src.ReadCelsius()
		if err != nil {
			e.log.Warn("temperature read failed", "sensor", rec.Type, "err", err)
			continue
		}
		if math.IsNaN(t) || math.IsInf(t, 0) {
			e.log.Warn("temperature reading not finite", "sensor", rec.Type, "value", t)
			continue
		}
		rec.Temperature = t
		e.log.Debug("temperature", "sensor", rec.Type, "celsius", t)
	}
}

func (e *Engine) evaluate() {
	for i := range e.sensors {
		rec := &e.sensors[i]
		if !rec.Enabled {
			continue
		}
		rec.Counters = Evaluate(rec.Counters, rec.Temperature, rec.Thresholds, e.cfg.TempExtra, e.cfg.HysteresisCount)
	}
}

// CheckPowerOn reads all sensors once and requests shutdown if any enabled
// sensor is already above its ETH. It returns the first offending sensor.
func (e *Engine) CheckPowerOn() (SensorType, bool) {
	e.acquire()
	for i := range e.sensors {
		rec := &e.sensors[i]
		if !rec.Enabled || rec.Temperature <= rec.Thresholds.ETH {
			continue
		}
		e.log.Error("sensor above ETH at power-on", "sensor", rec.Type,
			"celsius", rec.Temperature, "eth", rec.Thresholds.ETH)
		e.requestShutdown()
		return rec.Type, true
	}
	return -1, false
}

func (e *Engine) requestShutdown() {
	if e.onShutdown == nil {
		return
	}
	if err := e.onShutdown(); err != nil {
		e.log.Error("shutdown request failed", "err", err)
	}
}

// ChannelBackoff returns the current attenuation of a channel in dB, or 0 for
// an unknown channel.
func (e *Engine) ChannelBackoff(id int) float64 {
	if id < 0 || id >= len(e.channels) {
		return 0
	}
	return e.channels[id].Backoff
}

// ChannelState returns the state of a channel.
func (e *Engine) ChannelState(id int) (State, bool) {
	if id < 0 || id >= len(e.channels) {
		return "", false
	}
	return e.channels[id].State, true
}

// ChannelCount returns the number of channels.
func (e *Engine) ChannelCount() int {
	return len(e.channels)
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Sensor returns a copy of a sensor record.
func (e *Engine) Sensor(s SensorType) (SensorRecord, bool) {
	if !s.Valid() {
		return SensorRecord{}, false
	}
	return e.sensors[s], true
}

// Snapshot returns a copy of every channel's state for reporting.
func (e *Engine) Snapshot() []ChannelSnapshot {
	out := make([]ChannelSnapshot, len(e.channels))
	for i := range e.channels {
		ch := &e.channels[i]
		snap := ChannelSnapshot{
			ID:      ch.ID,
			State:   ch.State,
			Backoff: ch.Backoff,
			Sensors: make([]SensorSnapshot, 0, len(ch.Sensors)),
		}
		for _, s := range ch.Sensors {
			rec := &e.sensors[s]
			cs := ch.per[s]
			snap.Sensors = append(snap.Sensors, SensorSnapshot{
				Type:        s,
				Temperature: rec.Temperature,
				Thresholds:  rec.Thresholds,
				Stage:       cs.Stage,
				PBO:         cs.PBO,
				Active:      cs.Active,
			})
		}
		out[i] = snap
	}
	return out
}
