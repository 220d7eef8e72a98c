package logic

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// testConfig uses a one-minute tick so minute-based bookkeeping is exact.
func testConfig() Config {
	return Config{
		HysteresisCount:       3,
		Period:                time.Minute,
		TrecMin:               2 * time.Minute,
		Tmax:                  3 * time.Minute,
		Tdelta:                5 * time.Minute,
		TempExtra:             5,
		StepDB:                0.5,
		MaxAttenuationDB:      3.0,
		MaxAttenuationExtraDB: 1.0,
		ExtendedBackoffCalc:   true,
	}
}

var testThresholds = Thresholds{NTH: 30, Hot: 40, ETH: 50, IHOMax: 1000}

// thermometers is a set of settable readings keyed by sensor.
type thermometers map[SensorType]*float64

func (th thermometers) set(s SensorType, celsius float64) {
	*th[s] = celsius
}

func (th thermometers) sources() map[SensorType]TemperatureSource {
	out := make(map[SensorType]TemperatureSource, len(th))
	for s, v := range th {
		v := v
		out[s] = TemperatureFunc(func() (float64, error) { return *v, nil })
	}
	return out
}

// recorder captures side effects in call order.
type recorder struct {
	calls     []string
	shutdowns int
	logs      []string
}

func (r *recorder) RaiseAlarm(id AlarmID, ch int) {
	r.calls = append(r.calls, fmt.Sprintf("raise %s %d", id, ch))
}

func (r *recorder) CeaseAlarm(id AlarmID, ch int) {
	r.calls = append(r.calls, fmt.Sprintf("cease %s %d", id, ch))
}

func (r *recorder) PAOn(ch int)  { r.calls = append(r.calls, fmt.Sprintf("pa-on %d", ch)) }
func (r *recorder) PAOff(ch int) { r.calls = append(r.calls, fmt.Sprintf("pa-off %d", ch)) }

func (r *recorder) EventLog(msg string) { r.logs = append(r.logs, msg) }

func (r *recorder) reset() {
	r.calls = nil
	r.logs = nil
}

type harness struct {
	t       *testing.T
	engine  *Engine
	temps   thermometers
	effects *recorder
	now     time.Time
}

// newHarness builds a single-channel engine referencing the given sensors,
// all starting at 25 °C with testThresholds.
func newHarness(t *testing.T, cfg Config, sensors ...SensorType) *harness {
	t.Helper()
	temps := thermometers{}
	thresholds := map[SensorType]Thresholds{}
	for _, s := range sensors {
		v := 25.0
		temps[s] = &v
		thresholds[s] = testThresholds
	}
	rec := &recorder{}
	e, err := NewEngine(cfg, Topology{
		Channels:   [][]SensorType{sensors},
		Thresholds: thresholds,
	}, Deps{Sources: temps.sources(), Effects: rec})
	require.NoError(t, err)
	e.RegisterShutdownCallback(func() error {
		rec.shutdowns++
		return nil
	})
	return &harness{t: t, engine: e, temps: temps, effects: rec, now: testStart}
}

func (h *harness) tick() []Transition {
	h.now = h.now.Add(h.engine.cfg.Period)
	return h.engine.Tick(h.now)
}

// ticks runs n ticks and returns every transition taken.
func (h *harness) ticks(n int) []Transition {
	var all []Transition
	for i := 0; i < n; i++ {
		all = append(all, h.tick()...)
	}
	return all
}

func (h *harness) channel() *Channel {
	return &h.engine.channels[0]
}

func (h *harness) state() State {
	return h.channel().State
}

// setAll sets every sensor of the harness to the same reading.
func (h *harness) setAll(celsius float64) {
	for s := range h.temps {
		h.temps.set(s, celsius)
	}
}

// driveTo ticks until the channel reaches want, failing after limit ticks.
func (h *harness) driveTo(want State, limit int) {
	h.t.Helper()
	for i := 0; i < limit; i++ {
		if h.state() == want {
			return
		}
		h.tick()
	}
	require.Equal(h.t, want, h.state(), "state not reached within %d ticks", limit)
}
