package logic

import "fmt"

// Effects receives the side effects of state transitions. Calls are
// fire-and-forget: implementations report their own failures.
type Effects interface {
	RaiseAlarm(id AlarmID, channel int)
	CeaseAlarm(id AlarmID, channel int)
	PAOn(channel int)
	PAOff(channel int)
	EventLog(msg string)
}

type nopEffects struct{}

func (nopEffects) RaiseAlarm(AlarmID, int) {}
func (nopEffects) CeaseAlarm(AlarmID, int) {}
func (nopEffects) PAOn(int)                {}
func (nopEffects) PAOff(int)               {}
func (nopEffects) EventLog(string)         {}

// next evaluates the guards of the channel's current state in priority order
// and returns the first target state that applies. Guards of HoldOff own
// counter bookkeeping (THO, I_HO, TREC, HoldOff->BackOff), so next is called
// exactly once per channel per tick.
func (e *Engine) next(ch *Channel) (State, bool) {
	h := e.cfg.HysteresisCount

	switch ch.State {
	case StateNormal:
		if e.any(ch, func(c Counters) bool { return c.OverNTH >= h }) {
			return StateHoldOff, true
		}

	case StateHoldOff:
		e.accumulateHoldOff(ch)
		if e.recovered(ch) {
			return StateNormal, true
		}
		e.updateHoldOffToBackOff(ch)
		if ch.HO2BO >= h {
			return StateBackOff, true
		}

	case StateBackOff:
		if e.all(ch, func(c Counters) bool { return c.UnderHot >= h }) {
			return StateHoldOff, true
		}
		if e.recovered(ch) {
			return StateNormal, true
		}
		if e.any(ch, func(c Counters) bool { return c.OverETH >= h }) {
			return StateExtendedBackOff, true
		}

	case StateExtendedBackOff:
		if e.all(ch, func(c Counters) bool { return c.UnderETH >= h }) {
			return StateBackOff, true
		}
		if e.any(ch, func(c Counters) bool { return c.OverETHExtra >= h }) {
			return StateRequestPaOff, true
		}

	case StateRequestPaOff:
		if e.all(ch, func(c Counters) bool { return c.UnderETHExtra >= h }) {
			return StateExtendedBackOff, true
		}
		// OverETHExtra was zeroed on entry, so this only fires once the
		// counter has built up again while PAs are off.
		if e.any(ch, func(c Counters) bool { return c.OverETHExtra >= h }) {
			return StateRequestShutdown, true
		}

	case StateRequestShutdown:
		// terminal
	}
	return ch.State, false
}

type edge struct {
	from, to State
}

// enter runs the entry actions of a transition. ch.State is already set to to.
func (e *Engine) enter(ch *Channel, from, to State) {
	id := ch.ID

	switch (edge{from, to}) {
	case edge{StateNormal, StateHoldOff}:
		e.resetHoldOff(ch)
		e.effects.RaiseAlarm(AlarmNormalOverThreshold, id)

	case edge{StateHoldOff, StateNormal}:
		e.resetHoldOff(ch)
		e.effects.CeaseAlarm(AlarmNormalOverThreshold, id)

	case edge{StateHoldOff, StateBackOff}:
		e.resetHoldOff(ch)
		e.clearBackoff(ch)
		e.markActive(ch)
		e.effects.RaiseAlarm(AlarmHotOverThreshold, id)

	case edge{StateBackOff, StateHoldOff}:
		e.resetHoldOff(ch)
		e.clearBackoff(ch)
		e.effects.CeaseAlarm(AlarmHotOverThreshold, id)

	case edge{StateBackOff, StateNormal}:
		e.clearBackoff(ch)
		e.effects.CeaseAlarm(AlarmHotOverThreshold, id)
		e.effects.CeaseAlarm(AlarmNormalOverThreshold, id)

	case edge{StateBackOff, StateExtendedBackOff}:
		// Backoff values in flight are kept.
		e.effects.RaiseAlarm(AlarmExceptionalHigh, id)

	case edge{StateExtendedBackOff, StateBackOff}:
		e.clearBackoff(ch)
		e.markActive(ch)
		e.effects.CeaseAlarm(AlarmExceptionalHigh, id)

	case edge{StateExtendedBackOff, StateRequestPaOff}:
		for _, s := range ch.Sensors {
			e.sensors[s].Counters.OverETHExtra = 0
		}
		// Attenuation is held while the PA is off.
		e.effects.PAOff(id)
		e.effects.RaiseAlarm(AlarmPAShutdown, id)

	case edge{StateRequestPaOff, StateExtendedBackOff}:
		e.effects.PAOn(id)
		e.effects.CeaseAlarm(AlarmPAShutdown, id)

	case edge{StateRequestPaOff, StateRequestShutdown}:
		e.effects.CeaseAlarm(AlarmHotOverThreshold, id)
		e.effects.CeaseAlarm(AlarmExceptionalHigh, id)
		e.effects.CeaseAlarm(AlarmNormalOverThreshold, id)
		e.effects.CeaseAlarm(AlarmPAShutdown, id)
		e.effects.RaiseAlarm(AlarmOverTempShutdown, id)

		e.effects.EventLog(fmt.Sprintf("Over-temperature shutting down. Highest sensor temperature = %.2f C (channel %d)",
			e.highestTemperature(ch), id))
		e.requestShutdown()

	default:
		e.log.Warn("no entry actions for transition", "channel", id, "from", from, "to", to)
	}
}

// recovered applies the shared recovery rule of HoldOff and BackOff: every
// sensor must be under NTH for TREC worth of ticks, and then every under-NTH
// counter must have reached the hysteresis count.
func (e *Engine) recovered(ch *Channel) bool {
	h := e.cfg.HysteresisCount
	allPositive := true
	allConfirmed := true
	for _, s := range ch.Sensors {
		c := e.sensors[s].Counters
		if c.UnderNTH == 0 {
			allPositive = false
		}
		if c.UnderNTH < h {
			allConfirmed = false
		}
	}

	if !allPositive {
		ch.TrecTicks = 0
		return false
	}
	if ch.TrecTicks < e.cfg.trecTicks() {
		ch.TrecTicks++
		return false
	}
	return allConfirmed
}

// accumulateHoldOff adds one tick to THO and to every sensor's I_HO.
func (e *Engine) accumulateHoldOff(ch *Channel) {
	mpt := e.cfg.minutesPerTick()
	if mpt <= 0 {
		return
	}
	ch.THOMin += mpt
	for _, s := range ch.Sensors {
		rec := &e.sensors[s]
		ch.per[s].IHO += (rec.Temperature - rec.Thresholds.NTH) * mpt
	}
}

// updateHoldOffToBackOff counts consecutive ticks on which any sensor is
// above Hot, any I_HO exceeds its limit, or THO exceeds Tmax.
func (e *Engine) updateHoldOffToBackOff(ch *Channel) {
	escalate := ch.THOMin > e.cfg.Tmax.Minutes()
	for _, s := range ch.Sensors {
		rec := &e.sensors[s]
		if rec.Temperature > rec.Thresholds.Hot || ch.per[s].IHO > rec.Thresholds.IHOMax {
			escalate = true
			break
		}
	}

	if !escalate {
		ch.HO2BO = 0
		return
	}
	if ch.HO2BO < e.cfg.HysteresisCount {
		ch.HO2BO++
	}
}

func (e *Engine) resetHoldOff(ch *Channel) {
	ch.THOMin = 0
	ch.TrecTicks = 0
	ch.HO2BO = 0
	for i := range ch.per {
		ch.per[i].IHO = 0
	}
}

// clearBackoff resets every per-sensor backoff record of the channel.
func (e *Engine) clearBackoff(ch *Channel) {
	for i := range ch.per {
		ch.per[i].reset()
	}
}

// markActive selects the sensors above Hot for backoff computation.
func (e *Engine) markActive(ch *Channel) {
	for _, s := range ch.Sensors {
		rec := &e.sensors[s]
		ch.per[s].Active = rec.Temperature > rec.Thresholds.Hot
	}
}

func (e *Engine) highestTemperature(ch *Channel) float64 {
	var highest float64
	for _, s := range ch.Sensors {
		if t := e.sensors[s].Temperature; t > highest {
			highest = t
		}
	}
	return highest
}

func (e *Engine) any(ch *Channel, pred func(Counters) bool) bool {
	for _, s := range ch.Sensors {
		if pred(e.sensors[s].Counters) {
			return true
		}
	}
	return false
}

func (e *Engine) all(ch *Channel, pred func(Counters) bool) bool {
	for _, s := range ch.Sensors {
		if !pred(e.sensors[s].Counters) {
			return false
		}
	}
	return true
}
