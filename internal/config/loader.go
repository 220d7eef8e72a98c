package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweeney/overtemp/internal/logic"
)

// Key layout.
const (
	KeyPrefix      = "/overTemp/"
	KeyGlobal      = KeyPrefix + "global/"
	KeyThresholds  = KeyPrefix + "thresholds"
	keyChannel     = KeyPrefix + "channel%d"
	keyChannelMask = KeyPrefix + "channelMask%d"
)

// Global keys. Durations are in seconds, attenuations in tenths of a dB.
const (
	KeyTdelta              = KeyGlobal + "Tdelta"
	KeyPeriod              = KeyGlobal + "dynamicBackoffPeriod"
	KeyTrecMin             = KeyGlobal + "TREC_MIN"
	KeyHysteresisCount     = KeyGlobal + "hysteresis_count"
	KeyTmax                = KeyGlobal + "tmax"
	KeyTempExtra           = KeyGlobal + "tempExtra"
	KeyMaxAttenuation      = KeyGlobal + "maxAttenuation"
	KeyStepSize            = KeyGlobal + "stepSize"
	KeyMaxAttenuationExtra = KeyGlobal + "maxAttenuationExtra"
	KeyExtendedBackoffCalc = KeyGlobal + "extendedBackoffPboCalc"
)

// ChannelKey returns the sensor-name list key of a channel.
func ChannelKey(ch int) string { return fmt.Sprintf(keyChannel, ch) }

// ChannelMaskKey returns the sensor bitmask key of a channel.
func ChannelMaskKey(ch int) string { return fmt.Sprintf(keyChannelMask, ch) }

// SensorKey returns the threshold key of a sensor.
func SensorKey(s logic.SensorType) string { return KeyPrefix + s.String() }

// Loader reads the engine configuration and channel topology from a store.
type Loader interface {
	Load(s Store) (logic.Config, logic.Topology, error)
}

// Loader formats.
const (
	FormatNames = "names"
	FormatMask  = "mask"
)

// NewLoader returns the loader for a configuration format.
func NewLoader(format string, channels int, log *slog.Logger) (Loader, error) {
	switch format {
	case FormatNames, "":
		return &NameListLoader{Channels: channels, Logger: log}, nil
	case FormatMask:
		return &MaskLoader{Channels: channels, Logger: log}, nil
	}
	return nil, fmt.Errorf("config: unknown format %q", format)
}

// NameListLoader reads each channel as a list of sensor names under
// /overTemp/channel<N> and each referenced sensor's thresholds under
// /overTemp/<NAME> as [nth, hot, eth, ihoMax] in tenths.
type NameListLoader struct {
	Channels int
	Logger   *slog.Logger
}

// Load implements Loader.
func (l *NameListLoader) Load(s Store) (logic.Config, logic.Topology, error) {
	log := loggerOr(l.Logger)
	topo := logic.Topology{
		Channels:   make([][]logic.SensorType, l.Channels),
		Thresholds: map[logic.SensorType]logic.Thresholds{},
	}

	for ch := 0; ch < l.Channels; ch++ {
		var names []string
		ok, err := optional(s, ChannelKey(ch), &names)
		if err != nil {
			return logic.Config{}, logic.Topology{}, err
		}
		if !ok {
			log.Info("channel has no sensor list", "channel", ch, "key", ChannelKey(ch))
			continue
		}
		for _, name := range names {
			sensor, err := logic.ParseSensorType(name)
			switch {
			case errors.Is(err, logic.ErrNoSensor):
				continue
			case err != nil:
				log.Warn("unknown sensor name in channel", "channel", ch, "name", name)
				continue
			}
			topo.Channels[ch] = append(topo.Channels[ch], sensor)
		}
		log.Debug("channel sensors", "channel", ch, "sensors", topo.Channels[ch])
	}

	for i, used := range topo.Enabled() {
		if !used {
			continue
		}
		sensor := logic.SensorType(i)
		var vals []uint32
		if err := s.Lookup(SensorKey(sensor), &vals); err != nil {
			return logic.Config{}, logic.Topology{}, fmt.Errorf("thresholds for %s: %w", sensor, err)
		}
		th, err := thresholdsFromTenths(vals)
		if err != nil {
			return logic.Config{}, logic.Topology{}, fmt.Errorf("%s: %w", SensorKey(sensor), err)
		}
		topo.Thresholds[sensor] = th
	}

	cfg, err := loadGlobals(s, log)
	if err != nil {
		return logic.Config{}, logic.Topology{}, err
	}
	return cfg, topo, nil
}

// MaskLoader reads each channel as a bitmask over sensor types under
// /overTemp/channelMask<N> and every sensor's thresholds from the bulk
// /overTemp/thresholds array, one [nth, hot, eth, ihoMax] row per sensor.
type MaskLoader struct {
	Channels int
	Logger   *slog.Logger
}

// Load implements Loader.
func (l *MaskLoader) Load(s Store) (logic.Config, logic.Topology, error) {
	log := loggerOr(l.Logger)
	topo := logic.Topology{
		Channels:   make([][]logic.SensorType, l.Channels),
		Thresholds: map[logic.SensorType]logic.Thresholds{},
	}

	for ch := 0; ch < l.Channels; ch++ {
		var mask uint32
		ok, err := optional(s, ChannelMaskKey(ch), &mask)
		if err != nil {
			return logic.Config{}, logic.Topology{}, err
		}
		if !ok {
			log.Info("channel has no sensor mask", "channel", ch, "key", ChannelMaskKey(ch))
			continue
		}
		if extra := mask >> uint(logic.SensorCount); extra != 0 {
			log.Warn("channel mask has bits beyond known sensors", "channel", ch, "mask", mask)
		}
		for i := logic.SensorType(0); i < logic.SensorCount; i++ {
			if mask&(1<<uint(i)) != 0 {
				topo.Channels[ch] = append(topo.Channels[ch], i)
			}
		}
	}

	enabled := topo.Enabled()
	anyEnabled := false
	for _, e := range enabled {
		anyEnabled = anyEnabled || e
	}
	if anyEnabled {
		var rows [][]uint32
		if err := s.Lookup(KeyThresholds, &rows); err != nil {
			return logic.Config{}, logic.Topology{}, fmt.Errorf("thresholds: %w", err)
		}
		for i, used := range enabled {
			if !used {
				continue
			}
			sensor := logic.SensorType(i)
			if i >= len(rows) {
				return logic.Config{}, logic.Topology{}, fmt.Errorf("%s: no row for %s", KeyThresholds, sensor)
			}
			th, err := thresholdsFromTenths(rows[i])
			if err != nil {
				return logic.Config{}, logic.Topology{}, fmt.Errorf("%s row %s: %w", KeyThresholds, sensor, err)
			}
			topo.Thresholds[sensor] = th
		}
	}

	cfg, err := loadGlobals(s, log)
	if err != nil {
		return logic.Config{}, logic.Topology{}, err
	}
	return cfg, topo, nil
}

func thresholdsFromTenths(vals []uint32) (logic.Thresholds, error) {
	if len(vals) != 4 {
		return logic.Thresholds{}, fmt.Errorf("want 4 threshold values, got %d", len(vals))
	}
	th := logic.Thresholds{
		NTH:    tenths(vals[0]),
		Hot:    tenths(vals[1]),
		ETH:    tenths(vals[2]),
		IHOMax: tenths(vals[3]),
	}
	if !(th.NTH <= th.Hot && th.Hot <= th.ETH) {
		return th, fmt.Errorf("thresholds out of order: nth %.1f hot %.1f eth %.1f", th.NTH, th.Hot, th.ETH)
	}
	return th, nil
}

func tenths[T uint8 | uint32](v T) float64 {
	return float64(v) / 10
}

// loadGlobals overlays the global keys present in the store on the defaults.
func loadGlobals(s Store, log *slog.Logger) (logic.Config, error) {
	cfg := logic.DefaultConfig()

	seconds := []struct {
		key string
		dst *time.Duration
	}{
		{KeyTdelta, &cfg.Tdelta},
		{KeyPeriod, &cfg.Period},
		{KeyTrecMin, &cfg.TrecMin},
		{KeyTmax, &cfg.Tmax},
	}
	for _, f := range seconds {
		var v float64
		ok, err := optional(s, f.key, &v)
		if err != nil {
			return cfg, err
		}
		if ok {
			*f.dst = time.Duration(v * float64(time.Second))
		} else {
			log.Debug("global key absent, using default", "key", f.key, "default", *f.dst)
		}
	}

	var hyst uint8
	if ok, err := optional(s, KeyHysteresisCount, &hyst); err != nil {
		return cfg, err
	} else if ok {
		cfg.HysteresisCount = int(hyst)
	}

	if _, err := optional(s, KeyTempExtra, &cfg.TempExtra); err != nil {
		return cfg, err
	}

	attenuation := []struct {
		key string
		dst *float64
	}{
		{KeyMaxAttenuation, &cfg.MaxAttenuationDB},
		{KeyStepSize, &cfg.StepDB},
		{KeyMaxAttenuationExtra, &cfg.MaxAttenuationExtraDB},
	}
	for _, f := range attenuation {
		var v uint8
		ok, err := optional(s, f.key, &v)
		if err != nil {
			return cfg, err
		}
		if ok {
			*f.dst = tenths(v)
		} else {
			log.Debug("global key absent, using default", "key", f.key, "default", *f.dst)
		}
	}

	if _, err := optional(s, KeyExtendedBackoffCalc, &cfg.ExtendedBackoffCalc); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("global config: %w", err)
	}
	return cfg, nil
}

// optional looks up key, reporting false without error when it is absent.
func optional(s Store, key string, dst any) (bool, error) {
	err := s.Lookup(key, dst)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	}
	return false, err
}

func loggerOr(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}
