package logic

import (
	"errors"
	"fmt"
)

// Topology associates sensors with channels and carries the thresholds of
// every referenced sensor.
type Topology struct {
	Channels   [][]SensorType
	Thresholds map[SensorType]Thresholds
	// Carrier is the per-channel carrier presence. Nil means every carrier is
	// present. A channel without carriers keeps no sensors for this epoch.
	Carrier []bool
}

// Normalize drops invalid and duplicate references and caps every channel at
// MaxSensorsPerChannel. It returns the references that were dropped for being
// over the cap.
func (t *Topology) Normalize() []SensorType {
	var overflow []SensorType
	for ch, list := range t.Channels {
		var seen [SensorCount]bool
		kept := make([]SensorType, 0, len(list))
		for _, s := range list {
			if !s.Valid() || seen[s] {
				continue
			}
			seen[s] = true
			if len(kept) == MaxSensorsPerChannel {
				overflow = append(overflow, s)
				continue
			}
			kept = append(kept, s)
		}
		t.Channels[ch] = kept
	}
	return overflow
}

// Validate checks that every referenced sensor has thresholds.
func (t Topology) Validate() error {
	var errs []error
	for s, used := range t.Enabled() {
		if !used {
			continue
		}
		if _, ok := t.Thresholds[SensorType(s)]; !ok {
			errs = append(errs, fmt.Errorf("sensor %s: no thresholds", SensorType(s)))
		}
	}
	return errors.Join(errs...)
}

// Enabled reports which sensors are referenced by at least one channel.
func (t Topology) Enabled() [SensorCount]bool {
	var enabled [SensorCount]bool
	for _, list := range t.Channels {
		for _, s := range list {
			if s.Valid() {
				enabled[s] = true
			}
		}
	}
	return enabled
}

// Shared returns sensors referenced by more than one channel.
func (t Topology) Shared() []SensorType {
	var refs [SensorCount]int
	for _, list := range t.Channels {
		for _, s := range list {
			if s.Valid() {
				refs[s]++
			}
		}
	}
	var shared []SensorType
	for s, n := range refs {
		if n > 1 {
			shared = append(shared, SensorType(s))
		}
	}
	return shared
}

// ApplyCarrierPresence empties every channel whose carrier is absent.
// Channels beyond len(present) are left untouched.
func (t *Topology) ApplyCarrierPresence(present []bool) []int {
	var disabled []int
	for ch := range t.Channels {
		if ch < len(present) && !present[ch] {
			t.Channels[ch] = nil
			disabled = append(disabled, ch)
		}
	}
	return disabled
}
