package status

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/overtemp/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Ready         bool          `json:"ready"`
	Shutdown      bool          `json:"shutdown_requested"`
	Ticks         uint64        `json:"ticks"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Channels      []ChannelJSON `json:"channels"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ChannelJSON is the JSON representation of one channel.
type ChannelJSON struct {
	ID        int          `json:"id"`
	State     string       `json:"state"`
	BackoffDB float64      `json:"backoff_db"`
	Sensors   []SensorJSON `json:"sensors"`
}

// SensorJSON is the JSON representation of one sensor within a channel.
type SensorJSON struct {
	Sensor  string  `json:"sensor"`
	Celsius float64 `json:"celsius"`
	Stage   string  `json:"stage"`
	PBODB   float64 `json:"pbo_db"`
	Active  bool    `json:"active"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PeriodMs     int64  `json:"period_ms"`
	HeartbeatMs  int64  `json:"heartbeat_ms"`
	Channels     int    `json:"channels"`
	ConfigSource string `json:"config_source"`
	Broker       string `json:"broker"`
	HTTPPort     string `json:"http_port"`
	WSBroker     string `json:"ws_broker,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		Ready:         snap.Ready(),
		Shutdown:      snap.ShutdownRequested(),
		Ticks:         snap.Ticks,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Channels:      buildChannels(snap.Channels),
		Config: ConfigJSON{
			PeriodMs:     snap.Config.Period.Milliseconds(),
			HeartbeatMs:  snap.Config.Heartbeat.Milliseconds(),
			Channels:     snap.Config.Channels,
			ConfigSource: snap.Config.ConfigSource,
			Broker:       snap.Config.Broker,
			HTTPPort:     snap.Config.HTTPPort,
			WSBroker:     snap.Config.WSBroker,
		},
	}
}

func buildChannels(in []logic.ChannelSnapshot) []ChannelJSON {
	out := make([]ChannelJSON, 0, len(in))
	for _, ch := range in {
		cj := ChannelJSON{
			ID:        ch.ID,
			State:     string(ch.State),
			BackoffDB: round2(ch.Backoff),
			Sensors:   make([]SensorJSON, 0, len(ch.Sensors)),
		}
		for _, s := range ch.Sensors {
			cj.Sensors = append(cj.Sensors, SensorJSON{
				Sensor:  s.Type.String(),
				Celsius: round2(s.Temperature),
				Stage:   string(s.Stage),
				PBODB:   round2(s.PBO),
				Active:  s.Active,
			})
		}
		out = append(out, cj)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
