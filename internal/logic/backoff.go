package logic

import "math"

// computeBackoff updates the channel's attenuation for the state it is in
// after this tick's transition.
func (e *Engine) computeBackoff(ch *Channel) {
	switch ch.State {
	case StateExtendedBackOff:
		e.extendedBackoff(ch)
	case StateRequestPaOff, StateRequestShutdown:
		// Attenuation is frozen.
	default:
		// Normal and HoldOff keep running so a cleared target ramps the
		// attenuation back down.
		e.stagedBackoff(ch)
	}
}

func (e *Engine) stagedBackoff(ch *Channel) {
	for _, s := range ch.Sensors {
		cs := &ch.per[s]
		if !cs.Active {
			continue
		}
		rec := &e.sensors[s]

		switch cs.Stage {
		case StageInitialBackoff:
			e.initialBackoff(cs, rec)

		case StageSlowDecrease:
			e.accumulateSlowDecrease(cs, rec)
			if !cs.GateOpen && (cs.SlowIHO > rec.Thresholds.IHOMax || cs.SlowTHOMin > e.cfg.Tmax.Minutes()) {
				cs.GateOpen = true
			}
			if cs.GateOpen {
				e.slowDecrease(cs, rec)
			}

		case StageStableControl:
			e.stableControl(cs, rec)
		}
	}

	var target float64
	for _, s := range ch.Sensors {
		if pbo := ch.per[s].PBO; pbo > target {
			target = pbo
		}
	}
	ch.Backoff = limitStep(ch.Backoff, target, e.cfg.StepDB)
}

func (e *Engine) initialBackoff(cs *ChannelSensor, rec *SensorRecord) {
	th := rec.Thresholds
	if rec.Temperature > th.Hot {
		cs.PBO = e.cfg.MaxAttenuationDB * ratio(rec.Temperature-th.Hot, th.ETH-th.Hot)
		return
	}
	cs.Stage = StageSlowDecrease
	cs.SlowMin = 0
	cs.SlowTHOMin = 0
	cs.SlowIHO = 0
	cs.GateOpen = false
}

// accumulateSlowDecrease advances the stage clock. THO and I_HO of the stage
// stop accumulating once the gate has opened.
func (e *Engine) accumulateSlowDecrease(cs *ChannelSensor, rec *SensorRecord) {
	mpt := e.cfg.minutesPerTick()
	if mpt <= 0 {
		return
	}
	cs.SlowMin += mpt
	if !cs.GateOpen {
		cs.SlowTHOMin += mpt
		cs.SlowIHO += (rec.Temperature - rec.Thresholds.NTH) * mpt
	}
}

// slowDecrease lowers the effective hold-off temperature from Hot to NTH over
// Tdelta, widening the band the attenuation is spread over.
func (e *Engine) slowDecrease(cs *ChannelSensor, rec *SensorRecord) {
	th := rec.Thresholds
	td := e.cfg.Tdelta.Minutes()
	t := cs.SlowMin

	holdoffTemp := th.Hot - ((th.Hot-th.NTH)/td)*t
	deltaT := (th.ETH - th.Hot) - ((th.ETH+th.NTH-2*th.Hot)/td)*t
	cs.PBO = e.cfg.MaxAttenuationDB * ratio(rec.Temperature-holdoffTemp, deltaT)

	if cs.SlowMin >= td {
		cs.Stage = StageStableControl
	}
}

func (e *Engine) stableControl(cs *ChannelSensor, rec *SensorRecord) {
	nth := rec.Thresholds.NTH
	if rec.Temperature > nth {
		cs.PBO = e.cfg.MaxAttenuationDB * ratio(rec.Temperature-nth, nth)
		return
	}
	cs.PBO = 0
	cs.Active = false
}

func (e *Engine) extendedBackoff(ch *Channel) {
	if !e.cfg.ExtendedBackoffCalc {
		return
	}

	var over float64
	for _, s := range ch.Sensors {
		rec := &e.sensors[s]
		if d := rec.Temperature - rec.Thresholds.ETH; d > over {
			over = d
		}
	}

	target := e.cfg.MaxAttenuationDB + e.cfg.MaxAttenuationExtraDB*ratio(over, e.cfg.TempExtra)
	ch.Backoff = limitStep(ch.Backoff, target, e.cfg.StepDB)
}

// limitStep moves prev toward target by at most step without overshooting.
func limitStep(prev, target, step float64) float64 {
	switch {
	case target > prev:
		return math.Min(prev+step, target)
	case target < prev:
		return math.Max(prev-step, target)
	}
	return prev
}

// ratio returns num/den clamped to [0,1], or 0 when den is not positive.
func ratio(num, den float64) float64 {
	if !(den > 0) {
		return 0
	}
	return clamp01(num / den)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
