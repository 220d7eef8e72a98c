// Package mqtt provides MQTT publishing and the temperature feed with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/overtemp/internal/logic"
)

// Topics.
const (
	// TopicAlarm carries alarm raise/cease events.
	TopicAlarm = "overtemp/alarm"

	// TopicTransition carries channel state transitions.
	TopicTransition = "overtemp/transition"

	// TopicSystem is the MQTT topic for system lifecycle events.
	TopicSystem = "overtemp/system"

	// TopicTemperaturePrefix prefixes the per-sensor temperature topics,
	// e.g. overtemp/temperature/DPA0.
	TopicTemperaturePrefix = "overtemp/temperature/"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishAlarm sends an alarm raise or cease.
	// Returns error if publishing fails (should not crash the process).
	PublishAlarm(event AlarmEvent) error

	// PublishTransition sends a channel state transition.
	PublishTransition(tr logic.Transition) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// AlarmEvent is one alarm raise or cease for a channel.
type AlarmEvent struct {
	Timestamp time.Time
	ID        logic.AlarmID
	Channel   int
	Raised    bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "OVER_TEMP_SHUTDOWN"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// AlarmPayload is the MQTT message payload for an alarm.
type AlarmPayload struct {
	Alarm AlarmPayloadInner `json:"alarm"`
}

// AlarmPayloadInner contains the alarm details.
type AlarmPayloadInner struct {
	Timestamp string `json:"timestamp"`
	ID        string `json:"id"`
	Channel   int    `json:"channel"`
	State     string `json:"state"` // RAISED or CEASED
}

// FormatAlarmPayload creates the JSON payload for an alarm event.
func FormatAlarmPayload(event AlarmEvent) ([]byte, error) {
	state := "CEASED"
	if event.Raised {
		state = "RAISED"
	}
	return json.Marshal(AlarmPayload{
		Alarm: AlarmPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			ID:        string(event.ID),
			Channel:   event.Channel,
			State:     state,
		},
	})
}

// TransitionPayload is the MQTT message payload for a state transition.
type TransitionPayload struct {
	Transition TransitionPayloadInner `json:"transition"`
}

// TransitionPayloadInner contains the transition details.
type TransitionPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Channel   int    `json:"channel"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// FormatTransitionPayload creates the JSON payload for a transition.
func FormatTransitionPayload(tr logic.Transition) ([]byte, error) {
	return json.Marshal(TransitionPayload{
		Transition: TransitionPayloadInner{
			Timestamp: tr.Timestamp.UTC().Format(time.RFC3339),
			Channel:   tr.Channel,
			From:      string(tr.From),
			To:        string(tr.To),
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
