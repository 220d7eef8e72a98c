// Package logic contains the over-temperature control engine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"fmt"
	"time"
)

// SensorType identifies one temperature sensor on the board.
type SensorType int

const (
	SensorDFE0 SensorType = iota
	SensorAFE0
	SensorBoard0
	SensorFPA0
	SensorDPA0
	SensorDPA1
	SensorTX0
	SensorTOR0
	SensorRX0

	// SensorCount is the number of sensor types.
	SensorCount
)

// MaxSensorsPerChannel caps how many sensors a single channel may reference.
const MaxSensorsPerChannel = 8

var sensorNames = [SensorCount]string{
	"DFE0", "AFE0", "BOARD0", "FPA0", "DPA0", "DPA1", "TX0", "TOR0", "RX0",
}

// NoSensorName is the configuration placeholder for an unused slot.
const NoSensorName = "NULL"

var (
	ErrUnknownSensor = errors.New("logic: unknown sensor name")
	ErrNoSensor      = errors.New("logic: no sensor")
)

// String returns the configuration name of the sensor.
func (s SensorType) String() string {
	if !s.Valid() {
		return fmt.Sprintf("SENSOR(%d)", int(s))
	}
	return sensorNames[s]
}

// Valid reports whether s is one of the known sensor types.
func (s SensorType) Valid() bool {
	return s >= 0 && s < SensorCount
}

// ParseSensorType resolves a configuration name. The placeholder "NULL"
// returns ErrNoSensor.
func ParseSensorType(name string) (SensorType, error) {
	for i, n := range sensorNames {
		if n == name {
			return SensorType(i), nil
		}
	}
	if name == NoSensorName {
		return -1, ErrNoSensor
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownSensor, name)
}

// State is the over-temperature handling state of a channel.
type State string

const (
	StateNormal          State = "NORMAL"
	StateHoldOff         State = "HOLD_OFF"
	StateBackOff         State = "BACK_OFF"
	StateExtendedBackOff State = "EXTENDED_BACK_OFF"
	StateRequestPaOff    State = "REQUEST_PA_OFF"
	StateRequestShutdown State = "REQUEST_SHUTDOWN"
)

// States lists every state in escalation order.
var States = []State{
	StateNormal,
	StateHoldOff,
	StateBackOff,
	StateExtendedBackOff,
	StateRequestPaOff,
	StateRequestShutdown,
}

// Stage is the backoff calculation stage of one sensor within a channel.
type Stage string

const (
	StageInitialBackoff Stage = "INITIAL_BACKOFF"
	StageSlowDecrease   Stage = "SLOW_DECREASE"
	StageStableControl  Stage = "STABLE_CONTROL"
)

// AlarmID identifies a fault reported to the alarm sink.
type AlarmID string

const (
	AlarmNormalOverThreshold AlarmID = "TEMP_NORMAL_OVER_THRESHOLD"
	AlarmHotOverThreshold    AlarmID = "TEMP_HOT_OVER_THRESHOLD"
	AlarmExceptionalHigh     AlarmID = "TEMP_EXCEPTIONAL_HIGH"
	AlarmPAShutdown          AlarmID = "TEMP_PA_SHUTDOWN"
	AlarmOverTempShutdown    AlarmID = "OVER_TEMP_SHUTDOWN"
)

// Thresholds are the per-sensor limits, loaded once at startup.
type Thresholds struct {
	NTH    float64 // normal high threshold, °C
	Hot    float64 // backoff trigger, °C
	ETH    float64 // exceptional high threshold, °C
	IHOMax float64 // I_HO limit, °C·minute
}

// Counters are the consecutive-tick hysteresis counters of one sensor.
// Each is clamped to [0, hysteresis count].
type Counters struct {
	OverNTH       int
	UnderNTH      int
	OverHot       int
	UnderHot      int
	OverETH       int
	UnderETH      int
	OverETHExtra  int
	UnderETHExtra int
}

// SensorRecord is the global record of one sensor. Channels refer to it by
// SensorType.
type SensorRecord struct {
	Type        SensorType
	Thresholds  Thresholds
	Temperature float64
	Counters    Counters
	// Enabled is true iff some channel references the sensor.
	Enabled bool
}

// ChannelSensor is the backoff bookkeeping of one sensor within one channel.
type ChannelSensor struct {
	IHO     float64 // HoldOff-episode integral, °C·minute
	PBO     float64 // contribution to the channel's candidate attenuation, dB
	Active  bool    // participates in backoff computation
	Stage   Stage
	SlowMin float64 // minutes spent in SlowDecrease

	SlowTHOMin float64
	SlowIHO    float64
	GateOpen   bool
}

func (cs *ChannelSensor) reset() {
	*cs = ChannelSensor{Stage: StageInitialBackoff}
}

// Channel is one antenna branch.
type Channel struct {
	ID      int
	Sensors []SensorType
	State   State
	// Backoff is the last emitted attenuation in dB and the anchor for
	// rate limiting on the next tick.
	Backoff float64

	TrecTicks int
	THOMin    float64
	HO2BO     int

	per [SensorCount]ChannelSensor
}

// Transition describes a state change of one channel.
type Transition struct {
	Timestamp time.Time
	Channel   int
	From      State
	To        State
}

// SensorSnapshot is a read-only view of one sensor within a channel.
type SensorSnapshot struct {
	Type        SensorType
	Temperature float64
	Thresholds  Thresholds
	Stage       Stage
	PBO         float64
	Active      bool
}

// ChannelSnapshot is a read-only view of a channel after a tick.
type ChannelSnapshot struct {
	ID      int
	State   State
	Backoff float64
	Sensors []SensorSnapshot
}
