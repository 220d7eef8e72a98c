// Package sensor provides temperature sources for the control engine.
package sensor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/sweeney/overtemp/internal/logic"
)

// ErrBadMapping is returned for a malformed SENSOR=PATH mapping.
var ErrBadMapping = errors.New("sensor: bad mapping")

// HwmonSource reads a Linux hwmon temperature file, which holds the reading
// in millidegrees Celsius (e.g. /sys/class/hwmon/hwmon2/temp1_input).
type HwmonSource struct {
	Path string
}

// ReadCelsius reads and converts the current value.
func (h HwmonSource) ReadCelsius() (float64, error) {
	data, err := os.ReadFile(h.Path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", h.Path, err)
	}
	milli, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", h.Path, err)
	}
	return float64(milli) / 1000, nil
}

// ParseHwmonMap parses SENSOR=PATH pairs into hwmon sources.
func ParseHwmonMap(pairs []string) (map[logic.SensorType]logic.TemperatureSource, error) {
	out := make(map[logic.SensorType]logic.TemperatureSource, len(pairs))
	for _, p := range pairs {
		name, path, ok := strings.Cut(p, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("%w: %q, want SENSOR=PATH", ErrBadMapping, p)
		}
		s, err := logic.ParseSensorType(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadMapping, p, err)
		}
		if _, dup := out[s]; dup {
			return nil, fmt.Errorf("%w: %s mapped twice", ErrBadMapping, s)
		}
		out[s] = HwmonSource{Path: strings.TrimSpace(path)}
	}
	return out, nil
}

// SimulatedSource is a simple thermal plant for bench runs. Every read heats
// by HeatPerRead and cools by CoolPerDB for each dB of attenuation reported
// by Backoff.
type SimulatedSource struct {
	HeatPerRead float64
	CoolPerDB   float64
	Backoff     func() float64

	mu   sync.Mutex
	temp float64
}

// NewSimulatedSource creates a plant starting at start °C.
func NewSimulatedSource(start, heatPerRead, coolPerDB float64, backoff func() float64) *SimulatedSource {
	return &SimulatedSource{
		HeatPerRead: heatPerRead,
		CoolPerDB:   coolPerDB,
		Backoff:     backoff,
		temp:        start,
	}
}

// ReadCelsius advances the plant one step and returns the new temperature.
func (s *SimulatedSource) ReadCelsius() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp += s.HeatPerRead
	if s.Backoff != nil {
		s.temp -= s.Backoff() * s.CoolPerDB
	}
	return s.temp, nil
}

// Set forces the plant temperature.
func (s *SimulatedSource) Set(celsius float64) {
	s.mu.Lock()
	s.temp = celsius
	s.mu.Unlock()
}
