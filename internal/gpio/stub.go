//go:build !linux

package gpio

import "errors"

// RealSwitch is not available on non-Linux platforms.
type RealSwitch struct{}

// NewRealSwitch returns an error on non-Linux platforms.
func NewRealSwitch(chipName string, pins []int) (*RealSwitch, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// PAOn is not implemented on non-Linux platforms.
func (s *RealSwitch) PAOn(channel int) error {
	return errors.New("gpio: not supported")
}

// PAOff is not implemented on non-Linux platforms.
func (s *RealSwitch) PAOff(channel int) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (s *RealSwitch) Close() error {
	return nil
}
