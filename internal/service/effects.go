package service

import (
	"log/slog"
	"time"

	"github.com/sweeney/overtemp/internal/gpio"
	"github.com/sweeney/overtemp/internal/logic"
	"github.com/sweeney/overtemp/internal/mqtt"
)

// effects carries out the engine's side effects. Failures are logged and
// never reach the engine.
type effects struct {
	publisher mqtt.Publisher
	pa        gpio.PASwitch
	elog      EventLog
	log       *slog.Logger

	// at is the time of the tick in progress.
	at time.Time
}

func (f *effects) RaiseAlarm(id logic.AlarmID, channel int) {
	f.log.Warn("alarm raised", "alarm", id, "channel", channel)
	f.alarm(id, channel, true)
}

func (f *effects) CeaseAlarm(id logic.AlarmID, channel int) {
	f.log.Info("alarm ceased", "alarm", id, "channel", channel)
	f.alarm(id, channel, false)
}

func (f *effects) alarm(id logic.AlarmID, channel int, raised bool) {
	if f.publisher == nil {
		return
	}
	err := f.publisher.PublishAlarm(mqtt.AlarmEvent{
		Timestamp: f.at,
		ID:        id,
		Channel:   channel,
		Raised:    raised,
	})
	if err != nil {
		f.log.Error("publish alarm failed", "alarm", id, "channel", channel, "err", err)
	}
}

func (f *effects) PAOn(channel int) {
	f.log.Info("PA on", "channel", channel)
	if f.pa == nil {
		return
	}
	if err := f.pa.PAOn(channel); err != nil {
		f.log.Error("PA on failed", "channel", channel, "err", err)
	}
}

func (f *effects) PAOff(channel int) {
	f.log.Warn("PA off", "channel", channel)
	if f.pa == nil {
		return
	}
	if err := f.pa.PAOff(channel); err != nil {
		f.log.Error("PA off failed", "channel", channel, "err", err)
	}
}

func (f *effects) EventLog(msg string) {
	if f.elog == nil {
		f.log.Warn(msg)
		return
	}
	if err := f.elog.Write(msg); err != nil {
		f.log.Error("event log write failed", "msg", msg, "err", err)
	}
}
