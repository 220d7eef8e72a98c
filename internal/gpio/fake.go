package gpio

import "sync"

// FakeSwitch is a test double that records PA switching.
type FakeSwitch struct {
	mu sync.Mutex

	// Channels is the number of channels with an enable line.
	Channels int

	// Calls records every successful switch in order.
	Calls []Call

	// Err, if set, is returned by PAOn and PAOff.
	Err error

	// Closed tracks if Close was called
	Closed bool

	on map[int]bool
}

// Call is one recorded switch.
type Call struct {
	Channel int
	On      bool
}

// NewFakeSwitch creates a FakeSwitch with every PA enabled.
func NewFakeSwitch(channels int) *FakeSwitch {
	f := &FakeSwitch{Channels: channels, on: make(map[int]bool, channels)}
	for ch := 0; ch < channels; ch++ {
		f.on[ch] = true
	}
	return f
}

// PAOn records the channel as enabled.
func (f *FakeSwitch) PAOn(channel int) error {
	return f.set(channel, true)
}

// PAOff records the channel as disabled.
func (f *FakeSwitch) PAOff(channel int) error {
	return f.set(channel, false)
}

func (f *FakeSwitch) set(channel int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if channel < 0 || channel >= f.Channels {
		return unknownChannel(channel)
	}
	f.on[channel] = on
	f.Calls = append(f.Calls, Call{Channel: channel, On: on})
	return nil
}

// IsOn reports whether the channel's PAs are enabled.
func (f *FakeSwitch) IsOn(channel int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on[channel]
}

// Close marks the switch as closed.
func (f *FakeSwitch) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
