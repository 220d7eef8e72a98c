package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/overtemp/internal/logic"
)

var (
	// ErrNoReading is returned before the first message for a sensor.
	ErrNoReading = errors.New("mqtt: no temperature reading")

	// ErrStaleReading is returned when the last reading is older than the
	// feed's maximum age.
	ErrStaleReading = errors.New("mqtt: temperature reading is stale")
)

// Subscriber registers MQTT message handlers.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
}

// TemperatureFeed serves the last temperature published for each sensor on
// overtemp/temperature/<SENSOR>. Payloads are a JSON number or an object
// with a "celsius" field.
type TemperatureFeed struct {
	maxAge time.Duration
	now    func() time.Time
	log    *slog.Logger

	mu   sync.RWMutex
	last [logic.SensorCount]reading
}

type reading struct {
	celsius float64
	at      time.Time
	ok      bool
}

// NewTemperatureFeed creates a feed. A zero maxAge never expires readings.
func NewTemperatureFeed(maxAge time.Duration, log *slog.Logger) *TemperatureFeed {
	if log == nil {
		log = slog.Default()
	}
	return &TemperatureFeed{maxAge: maxAge, now: time.Now, log: log}
}

// Subscribe registers the feed for every sensor topic.
func (f *TemperatureFeed) Subscribe(s Subscriber) error {
	return s.Subscribe(TopicTemperaturePrefix+"+", 0, f.HandleMessage)
}

// HandleMessage is the paho message handler for temperature topics.
func (f *TemperatureFeed) HandleMessage(_ paho.Client, msg paho.Message) {
	name := strings.TrimPrefix(msg.Topic(), TopicTemperaturePrefix)
	sensor, err := logic.ParseSensorType(name)
	if err != nil {
		f.log.Warn("temperature for unknown sensor", "topic", msg.Topic(), "err", err)
		return
	}
	celsius, err := parseCelsius(msg.Payload())
	if err != nil {
		f.log.Warn("bad temperature payload", "topic", msg.Topic(), "err", err)
		return
	}
	f.Update(sensor, celsius)
}

// Update records a reading received now.
func (f *TemperatureFeed) Update(sensor logic.SensorType, celsius float64) {
	if !sensor.Valid() {
		return
	}
	f.mu.Lock()
	f.last[sensor] = reading{celsius: celsius, at: f.now(), ok: true}
	f.mu.Unlock()
}

// Source returns a TemperatureSource backed by the feed.
func (f *TemperatureFeed) Source(sensor logic.SensorType) logic.TemperatureSource {
	return logic.TemperatureFunc(func() (float64, error) {
		return f.read(sensor)
	})
}

func (f *TemperatureFeed) read(sensor logic.SensorType) (float64, error) {
	if !sensor.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrNoReading, sensor)
	}
	f.mu.RLock()
	r := f.last[sensor]
	f.mu.RUnlock()

	if !r.ok {
		return 0, fmt.Errorf("%w: %s", ErrNoReading, sensor)
	}
	if f.maxAge > 0 && f.now().Sub(r.at) > f.maxAge {
		return 0, fmt.Errorf("%w: %s last seen %s", ErrStaleReading, sensor, r.at.UTC().Format(time.RFC3339))
	}
	return r.celsius, nil
}

func parseCelsius(payload []byte) (float64, error) {
	var v float64
	if err := json.Unmarshal(payload, &v); err == nil {
		return v, nil
	}
	var obj struct {
		Celsius *float64 `json:"celsius"`
	}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return 0, fmt.Errorf("decode %q: %w", payload, err)
	}
	if obj.Celsius == nil {
		return 0, fmt.Errorf("decode %q: missing celsius", payload)
	}
	return *obj.Celsius, nil
}
