//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealSwitch drives one output line per channel. Active (1) = PA enabled.
type RealSwitch struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

// NewRealSwitch requests one output line per channel, index = channel id.
// Lines start active so the PAs are enabled until told otherwise.
func NewRealSwitch(chipName string, pins []int) (*RealSwitch, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	s := &RealSwitch{chip: chip}
	for ch, pin := range pins {
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(1), gpiocdev.WithConsumer("overtemp"))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("request PA enable pin %d for channel %d: %w", pin, ch, err)
		}
		s.lines = append(s.lines, line)
	}
	return s, nil
}

// PAOn drives the channel's enable line active.
func (s *RealSwitch) PAOn(channel int) error {
	return s.set(channel, 1)
}

// PAOff drives the channel's enable line inactive.
func (s *RealSwitch) PAOff(channel int) error {
	return s.set(channel, 0)
}

func (s *RealSwitch) set(channel, value int) error {
	if channel < 0 || channel >= len(s.lines) {
		return unknownChannel(channel)
	}
	if err := s.lines[channel].SetValue(value); err != nil {
		return fmt.Errorf("set PA enable for channel %d: %w", channel, err)
	}
	return nil
}

// Close releases GPIO resources.
// Lines are reconfigured to input with pull-down (matching Pi boot defaults)
// before closing so the enable lines are not left driven across a reboot.
func (s *RealSwitch) Close() error {
	var errs []error

	for ch, line := range s.lines {
		if line == nil {
			continue
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure channel %d line: %w", ch, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel %d line: %w", ch, err))
		}
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
