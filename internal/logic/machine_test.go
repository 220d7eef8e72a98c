package logic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalToHoldOffAfterHysteresis(t *testing.T) {
	h := newHarness(t, testConfig(), SensorDPA0)
	h.setAll(35)

	assert.Empty(t, h.ticks(2))
	assert.Equal(t, StateNormal, h.state())

	tr := h.tick()
	require.Len(t, tr, 1)
	assert.Equal(t, Transition{Timestamp: h.now, Channel: 0, From: StateNormal, To: StateHoldOff}, tr[0])
	assert.Equal(t, []string{"raise TEMP_NORMAL_OVER_THRESHOLD 0"}, h.effects.calls)

	ch := h.channel()
	assert.Zero(t, ch.THOMin)
	assert.Zero(t, ch.HO2BO)
	assert.Zero(t, ch.TrecTicks)
	assert.Zero(t, ch.per[SensorDPA0].IHO)
	assert.Zero(t, ch.Backoff)
}

func TestSpikeShorterThanHysteresisIsIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), SensorDPA0)
	h.setAll(35)
	h.ticks(2)
	h.setAll(25)
	h.tick()
	h.setAll(35)
	h.ticks(2)
	assert.Equal(t, StateNormal, h.state())
	assert.Empty(t, h.effects.calls)
}

func TestHoldOffToBackOffOnTmax(t *testing.T) {
	h := newHarness(t, testConfig(), SensorDPA0, SensorTX0)
	h.setAll(35)
	h.driveTo(StateHoldOff, 3)

	// THO passes Tmax (3 min) on the fourth HoldOff tick, then the
	// escalation must persist for the hysteresis count.
	h.ticks(3)
	assert.Zero(t, h.channel().HO2BO)
	h.ticks(2)
	assert.Equal(t, 2, h.channel().HO2BO)
	assert.Equal(t, StateHoldOff, h.state())

	h.temps.set(SensorTX0, 42)
	h.effects.reset()
	tr := h.tick()
	require.Len(t, tr, 1)
	assert.Equal(t, StateBackOff, tr[0].To)
	assert.Equal(t, []string{"raise TEMP_HOT_OVER_THRESHOLD 0"}, h.effects.calls)

	ch := h.channel()
	assert.Zero(t, ch.THOMin)
	assert.Zero(t, ch.HO2BO)
	assert.Zero(t, ch.per[SensorDPA0].IHO)
	assert.False(t, ch.per[SensorDPA0].Active, "below Hot is not selected")
	assert.True(t, ch.per[SensorTX0].Active)
	assert.Equal(t, StageInitialBackoff, ch.per[SensorTX0].Stage)

	// First backoff in the same tick is rate limited.
	assert.InDelta(t, 0.5, ch.Backoff, 1e-9)
	assert.InDelta(t, 0.6, ch.per[SensorTX0].PBO, 1e-9)
}

func TestHoldOffToBackOffOnHot(t *testing.T) {
	h := newHarness(t, testConfig(), SensorDPA0)
	h.setAll(45)
	h.driveTo(StateHoldOff, 3)
	assert.Empty(t, h.ticks(2))
	tr := h.tick()
	require.Len(t, tr, 1)
	assert.Equal(t, StateBackOff, tr[0].To)
}

func TestHoldOffToBackOffOnIntegral(t *testing.T) {
	cfg := testConfig()
	cfg.Tmax = 1000 * cfg.Period
	h := newHarness(t, cfg, SensorDPA0)
	h.engine.sensors[SensorDPA0].Thresholds.IHOMax = 12
	h.setAll(35)
	h.driveTo(StateHoldOff, 3)

	// I_HO grows by 5 per tick: 5, 10, 15 > 12.
	h.ticks(2)
	assert.Zero(t, h.channel().HO2BO)
	h.tick()
	assert.Equal(t, 1, h.channel().HO2BO)
	assert.InDelta(t, 15, h.channel().per[SensorDPA0].IHO, 1e-9)
	h.ticks(2)
	assert.Equal(t, StateBackOff, h.state())
}

func TestHoldOffRecoveryWaitsForTrec(t *testing.T) {
	cfg := testConfig()
	cfg.TrecMin = 5 * cfg.Period
	h := newHarness(t, cfg, SensorDPA0)
	h.setAll(35)
	h.driveTo(StateHoldOff, 3)

	h.setAll(25)
	assert.Empty(t, h.ticks(5))
	assert.Equal(t, 5, h.channel().TrecTicks)

	h.effects.reset()
	tr := h.tick()
	require.Len(t, tr, 1)
	assert.Equal(t, StateNormal, tr[0].To)
	assert.Equal(t, []string{"cease TEMP_NORMAL_OVER_THRESHOLD 0"}, h.effects.calls)
}

func TestRecoveryClockResetsWhenAnySensorLeaves(t *testing.T) {
	cfg := testConfig()
	cfg.TrecMin = 5 * cfg.Period
	h := newHarness(t, cfg, SensorDPA0, SensorTX0)
	h.setAll(35)
	h.driveTo(StateHoldOff, 3)

	h.setAll(25)
	h.ticks(3)
	assert.Equal(t, 3, h.channel().TrecTicks)

	h.temps.set(SensorTX0, 31)
	h.tick()
	assert.Zero(t, h.channel().TrecTicks)
	assert.Equal(t, StateHoldOff, h.state())
}

func TestBackOffToHoldOffRampsDown(t *testing.T) {
	h := newHarness(t, testConfig(), SensorDPA0)
	h.setAll(50)
	h.driveTo(StateBackOff, 10)
	h.ticks(5)
	require.InDelta(t, 3.0, h.channel().Backoff, 1e-9)

	h.setAll(35)
	// Initial stage hands over to slow decrease below Hot, but the channel
	// leaves BackOff once every sensor has been under Hot for the
	// hysteresis count.
	h.ticks(2)
	assert.Equal(t, StateBackOff, h.state())
	h.effects.reset()
	tr := h.tick()
	require.Len(t, tr, 1)
	assert.Equal(t, StateHoldOff, tr[0].To)
	assert.Equal(t, []string{"cease TEMP_HOT_OVER_THRESHOLD 0"}, h.effects.calls)
	assert.False(t, h.channel().per[SensorDPA0].Active)

	// Cleared target; attenuation ramps down one step per tick.
	assert.InDelta(t, 2.5, h.channel().Backoff, 1e-9)
	h.tick()
	assert.InDelta(t, 2.0, h.channel().Backoff, 1e-9)
	h.ticks(4)
	assert.Zero(t, h.channel().Backoff)
}

func TestBackOffToNormalWhenRecoveredBeforeUnderHot(t *testing.T) {
	// NTH above Hot leaves the under-Hot guard unsatisfied while the
	// recovery rule holds.
	cfg := testConfig()
	cfg.TrecMin = 0
	h := newHarness(t, cfg, SensorDPA0)
	h.engine.sensors[SensorDPA0].Thresholds = Thresholds{NTH: 45, Hot: 40, ETH: 50, IHOMax: 1000}
	h.channel().State = StateBackOff
	h.setAll(42)

	h.ticks(2)
	h.effects.reset()
	tr := h.tick()
	require.Len(t, tr, 1)
	assert.Equal(t, StateNormal, tr[0].To)
	assert.Equal(t, []string{
		"cease TEMP_HOT_OVER_THRESHOLD 0",
		"cease TEMP_NORMAL_OVER_THRESHOLD 0",
	}, h.effects.calls)
}

func TestExtendedBackOffAndBack(t *testing.T) {
	h := newHarness(t, testConfig(), SensorDPA0)
	h.setAll(53)
	h.driveTo(StateBackOff, 10)
	h.effects.reset()

	tr := h.tick()
	require.Len(t, tr, 1)
	assert.Equal(t, StateExtendedBackOff, tr[0].To)
	assert.Equal(t, []string{"raise TEMP_EXCEPTIONAL_HIGH 0"}, h.effects.calls)
	assert.True(t, h.channel().per[SensorDPA0].Active, "entry keeps backoff records")

	h.setAll(45)
	h.ticks(2)
	assert.Equal(t, StateExtendedBackOff, h.state())
	h.effects.reset()
	tr = h.tick()
	require.Len(t, tr, 1)
	assert.Equal(t, StateBackOff, tr[0].To)
	assert.Equal(t, []string{"cease TEMP_EXCEPTIONAL_HIGH 0"}, h.effects.calls)
	assert.True(t, h.channel().per[SensorDPA0].Active)
	assert.Equal(t, StageInitialBackoff, h.channel().per[SensorDPA0].Stage)
}

func TestRequestPaOffAndBack(t *testing.T) {
	h := newHarness(t, testConfig(), SensorDPA0)
	h.setAll(56)
	h.driveTo(StateExtendedBackOff, 10)
	h.effects.reset()

	tr := h.tick()
	require.Len(t, tr, 1)
	assert.Equal(t, StateRequestPaOff, tr[0].To)
	assert.Equal(t, []string{"pa-off 0", "raise TEMP_PA_SHUTDOWN 0"}, h.effects.calls)
	assert.Zero(t, h.engine.sensors[SensorDPA0].Counters.OverETHExtra)

	h.setAll(54)
	h.ticks(2)
	h.effects.reset()
	tr = h.tick()
	require.Len(t, tr, 1)
	assert.Equal(t, StateExtendedBackOff, tr[0].To)
	assert.Equal(t, []string{"pa-on 0", "cease TEMP_PA_SHUTDOWN 0"}, h.effects.calls)
	assert.Zero(t, h.effects.shutdowns)
}

func TestShutdownSequence(t *testing.T) {
	h := newHarness(t, testConfig(), SensorDPA0)
	h.setAll(56)

	var path []State
	for i := 0; i < 11; i++ {
		for _, tr := range h.tick() {
			path = append(path, tr.To)
		}
	}
	assert.Equal(t, []State{
		StateHoldOff,
		StateBackOff,
		StateExtendedBackOff,
		StateRequestPaOff,
		StateRequestShutdown,
	}, path)
	assert.Equal(t, 1, h.effects.shutdowns)
	require.Len(t, h.effects.logs, 1)
	assert.Equal(t, "Over-temperature shutting down. Highest sensor temperature = 56.00 C (channel 0)", h.effects.logs[0])
	assert.Contains(t, h.effects.calls, "raise OVER_TEMP_SHUTDOWN 0")
	assert.Contains(t, h.effects.calls, "cease TEMP_PA_SHUTDOWN 0")

	frozen := h.channel().Backoff
	assert.InDelta(t, 1.0, frozen, 1e-9)

	// Terminal: no further transitions, callbacks or attenuation changes.
	h.setAll(20)
	assert.Empty(t, h.ticks(10))
	assert.Equal(t, StateRequestShutdown, h.state())
	assert.Equal(t, 1, h.effects.shutdowns)
	assert.Equal(t, frozen, h.channel().Backoff)
}

func TestShutdownCallbackErrorIsLogged(t *testing.T) {
	h := newHarness(t, testConfig(), SensorDPA0)
	calls := 0
	h.engine.RegisterShutdownCallback(func() error {
		calls++
		return assert.AnError
	})
	h.setAll(56)
	h.ticks(11)
	assert.Equal(t, StateRequestShutdown, h.state())
	assert.Equal(t, 1, calls)
}

func TestAlarmsAreRaisedPerChannel(t *testing.T) {
	temps := thermometers{}
	a, b := 35.0, 25.0
	temps[SensorDPA0], temps[SensorDPA1] = &a, &b
	rec := &recorder{}
	e, err := NewEngine(testConfig(), Topology{
		Channels: [][]SensorType{{SensorDPA0}, {SensorDPA1}},
		Thresholds: map[SensorType]Thresholds{
			SensorDPA0: testThresholds,
			SensorDPA1: testThresholds,
		},
	}, Deps{Sources: temps.sources(), Effects: rec})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		e.Tick(testStart)
	}
	assert.Equal(t, []string{"raise TEMP_NORMAL_OVER_THRESHOLD 0"}, rec.calls)
	st, ok := e.ChannelState(1)
	require.True(t, ok)
	assert.Equal(t, StateNormal, st)
}

// slowDecreaseGateOpen holds DPA0 above Hot to keep the channel in BackOff
// while TX0 cools into SlowDecrease and its gate opens.
func slowDecreaseGateOpen(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig()
	cfg.Tdelta = 30 * time.Minute
	h := newHarness(t, cfg, SensorDPA0, SensorTX0)
	h.setAll(45)
	h.driveTo(StateBackOff, 10)

	h.temps.set(SensorTX0, 38)
	h.ticks(5)
	tx := h.channel().per[SensorTX0]
	require.Equal(t, StageSlowDecrease, tx.Stage)
	require.True(t, tx.GateOpen)
	require.Positive(t, tx.SlowMin)
	require.Positive(t, tx.SlowTHOMin)
	require.Positive(t, tx.SlowIHO)
	return h
}

func assertFreshBackoff(t *testing.T, h *harness) {
	t.Helper()
	dpa := h.channel().per[SensorDPA0]
	assert.True(t, dpa.Active, "above Hot on entry")
	assert.Equal(t, StageInitialBackoff, dpa.Stage)
	assert.Zero(t, dpa.IHO)
	assert.InDelta(t, 1.5, dpa.PBO, 1e-9)

	assert.Equal(t, ChannelSensor{Stage: StageInitialBackoff}, h.channel().per[SensorTX0],
		"below Hot on entry, nothing carried over")
}

func TestBackoffRecordsClearedOnReentry(t *testing.T) {
	t.Run("through HoldOff", func(t *testing.T) {
		h := slowDecreaseGateOpen(t)

		h.setAll(35)
		h.driveTo(StateHoldOff, 5)
		assert.Equal(t, ChannelSensor{Stage: StageInitialBackoff}, h.channel().per[SensorTX0])

		h.temps.set(SensorDPA0, 45)
		h.driveTo(StateBackOff, 5)
		assertFreshBackoff(t, h)
	})

	t.Run("through ExtendedBackOff", func(t *testing.T) {
		h := slowDecreaseGateOpen(t)

		h.temps.set(SensorDPA0, 53)
		h.driveTo(StateExtendedBackOff, 5)
		tx := h.channel().per[SensorTX0]
		assert.True(t, tx.GateOpen, "records kept on entry")
		assert.Equal(t, StageSlowDecrease, tx.Stage)

		h.temps.set(SensorDPA0, 45)
		h.driveTo(StateBackOff, 5)
		assertFreshBackoff(t, h)
	})
}
