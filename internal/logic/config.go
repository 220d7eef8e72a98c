package logic

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Config holds the global tuning parameters. Read-only once the engine is built.
type Config struct {
	HysteresisCount int
	// Period is the tick period (dynamic backoff period).
	Period time.Duration
	// TrecMin is the minimum sustained under-NTH time before recovery.
	TrecMin time.Duration
	// Tmax is the longest permitted HoldOff episode.
	Tmax time.Duration
	// Tdelta is the length of the SlowDecrease stage.
	Tdelta    time.Duration
	TempExtra float64 // °C above ETH that requests PA off

	StepDB                float64
	MaxAttenuationDB      float64
	MaxAttenuationExtraDB float64
	ExtendedBackoffCalc   bool
}

// DefaultConfig returns the factory defaults used when a global key is absent
// from the configuration store.
func DefaultConfig() Config {
	return Config{
		HysteresisCount:       3,
		Period:                300 * time.Second,
		TrecMin:               720 * time.Second,
		Tmax:                  360 * time.Second,
		Tdelta:                300 * time.Second,
		TempExtra:             5,
		StepDB:                0.5,
		MaxAttenuationDB:      3.0,
		MaxAttenuationExtraDB: 1.0,
		ExtendedBackoffCalc:   true,
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.HysteresisCount < 1 {
		errs = append(errs, fmt.Errorf("hysteresis count %d must be at least 1", c.HysteresisCount))
	}
	if c.Period <= 0 {
		errs = append(errs, fmt.Errorf("period %v must be positive", c.Period))
	}
	if c.Tdelta <= 0 {
		errs = append(errs, fmt.Errorf("tdelta %v must be positive", c.Tdelta))
	}
	if c.StepDB < 0 {
		errs = append(errs, fmt.Errorf("step %.2f dB must not be negative", c.StepDB))
	}
	if c.MaxAttenuationDB < 0 || c.MaxAttenuationExtraDB < 0 {
		errs = append(errs, errors.New("attenuation limits must not be negative"))
	}
	return errors.Join(errs...)
}

// minutesPerTick is the simulated elapsed time of one tick.
func (c Config) minutesPerTick() float64 {
	return c.Period.Minutes()
}

// trecTicks is the number of ticks covering TrecMin, rounded up.
func (c Config) trecTicks() int {
	if c.Period <= 0 {
		return 0
	}
	return int(math.Ceil(c.TrecMin.Seconds() / c.Period.Seconds()))
}
