// Package status provides a thread-safe status tracker for the overtemp daemon.
// It is read by the HTTP handlers and by the MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/overtemp/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Period       time.Duration
	Heartbeat    time.Duration
	Channels     int
	ConfigSource string // "bolt:<path>" or "file:<path>"
	Broker       string
	HTTPPort     string
	WSBroker     string // Websocket broker URL for browser MQTT (empty = disabled)
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Channels      []logic.ChannelSnapshot
	Ticks         uint64
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether the engine has completed at least one tick.
func (s Snapshot) Ready() bool {
	return s.Ticks > 0
}

// ShutdownRequested reports whether any channel reached REQUEST_SHUTDOWN.
func (s Snapshot) ShutdownRequested() bool {
	for _, ch := range s.Channels {
		if ch.State == logic.StateRequestShutdown {
			return true
		}
	}
	return false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update stores the channel view produced by the latest tick.
func (t *Tracker) Update(channels []logic.ChannelSnapshot) {
	t.mu.Lock()
	t.snap.Channels = channels
	t.snap.Ticks++
	t.mu.Unlock()
}

// SetPeriod records the control period once the configuration is loaded.
func (t *Tracker) SetPeriod(d time.Duration) {
	t.mu.Lock()
	t.snap.Config.Period = d
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Channels = cloneChannels(t.snap.Channels)
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

func cloneChannels(in []logic.ChannelSnapshot) []logic.ChannelSnapshot {
	if in == nil {
		return nil
	}
	out := make([]logic.ChannelSnapshot, len(in))
	for i, ch := range in {
		out[i] = ch
		out[i].Sensors = append([]logic.SensorSnapshot(nil), ch.Sensors...)
	}
	return out
}
