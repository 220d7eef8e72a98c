// Package gpio drives the PA enable lines with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
)

// PASwitch switches the power amplifiers of each channel.
type PASwitch interface {
	// PAOn enables the PAs of a channel.
	PAOn(channel int) error

	// PAOff disables the PAs of a channel.
	PAOff(channel int) error

	// Close releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO chip holding the PA enable lines.
const DefaultChip = "gpiochip0"

// DefaultPins are the PA enable lines per channel (BCM numbering).
var DefaultPins = []int{26, 16}

// ErrUnknownChannel is returned for a channel without an enable line.
var ErrUnknownChannel = errors.New("gpio: no enable line for channel")

func unknownChannel(channel int) error {
	return fmt.Errorf("%w %d", ErrUnknownChannel, channel)
}
