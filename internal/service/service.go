// Package service wires the over-temperature engine to its collaborators:
// the configuration store, the tick scheduler, the PA enable lines, the
// alarm publisher and the event log.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/overtemp/internal/config"
	"github.com/sweeney/overtemp/internal/gpio"
	"github.com/sweeney/overtemp/internal/logic"
	"github.com/sweeney/overtemp/internal/metrics"
	"github.com/sweeney/overtemp/internal/mqtt"
	"github.com/sweeney/overtemp/internal/scheduler"
	"github.com/sweeney/overtemp/internal/status"
)

// TickService is the scheduler name of the engine tick.
const TickService = "overtemp"

var ErrAlreadyStarted = errors.New("service: already started")

// EventLog is the persistent event sink. Implemented by eventlog.Log.
type EventLog interface {
	Write(msg string) error
}

// Options are the collaborators of a Service. Store, Loader and Scheduler
// are required; the rest may be nil.
type Options struct {
	Store     config.Store
	Loader    config.Loader
	Scheduler *scheduler.Scheduler
	Sources   map[logic.SensorType]logic.TemperatureSource
	Publisher mqtt.Publisher
	Switch    gpio.PASwitch
	EventLog  EventLog
	Tracker   *status.Tracker
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// Service owns the engine. All engine access is serialized by mu.
type Service struct {
	opts Options
	log  *slog.Logger

	mu         sync.Mutex
	engine     *logic.Engine
	effects    *effects
	// onShutdown is guarded by mu. The engine invokes it through
	// requestShutdown from Tick or Start, both of which hold mu.
	onShutdown func() error
}

// New creates a Service. Nothing is loaded until Start.
func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{opts: opts, log: log}
}

// Start loads the configuration, builds the engine, runs the power-on
// temperature check and registers the tick with the scheduler. A
// configuration error aborts startup and names the failing key.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		return ErrAlreadyStarted
	}
	if s.opts.Store == nil || s.opts.Loader == nil || s.opts.Scheduler == nil {
		return errors.New("service: store, loader and scheduler are required")
	}

	cfg, topo, err := s.opts.Loader.Load(s.opts.Store)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	carrier, err := config.LoadCarrierPresence(s.opts.Store, len(topo.Channels), s.log)
	if err != nil {
		return fmt.Errorf("load carrier presence: %w", err)
	}
	topo.Carrier = carrier

	fx := &effects{
		publisher: s.opts.Publisher,
		pa:        s.opts.Switch,
		elog:      s.opts.EventLog,
		log:       s.log,
		at:        time.Now(),
	}
	engine, err := logic.NewEngine(cfg, topo, logic.Deps{
		Sources: s.opts.Sources,
		Effects: fx,
		Logger:  s.log,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	engine.RegisterShutdownCallback(s.requestShutdown)

	if sensor, hot := engine.CheckPowerOn(); hot {
		s.log.Error("power-on temperature check failed", "sensor", sensor)
		fx.EventLog(fmt.Sprintf("Over-temperature at power-on on sensor %s", sensor))
	}

	if err := s.opts.Scheduler.Register(TickService, cfg.Period, s.tick); err != nil {
		return fmt.Errorf("register tick: %w", err)
	}

	s.engine = engine
	s.effects = fx
	s.log.Info("over-temperature handling started",
		"channels", engine.ChannelCount(),
		"period", cfg.Period,
		"hysteresis", cfg.HysteresisCount)
	return nil
}

// requestShutdown is the engine's shutdown hook. The engine calls it with
// mu held, so it must not take the lock.
func (s *Service) requestShutdown() error {
	if s.onShutdown == nil {
		s.log.Error("shutdown requested but no callback registered")
		return nil
	}
	return s.onShutdown()
}

// RegisterShutdownCallback installs the hook invoked when a channel enters
// REQUEST_SHUTDOWN or the power-on check finds a sensor above ETH. cb runs
// while the engine is locked and must not call back into the Service.
func (s *Service) RegisterShutdownCallback(cb func() error) {
	s.mu.Lock()
	s.onShutdown = cb
	s.mu.Unlock()
}

// Tick runs one engine pass. The scheduler calls it every period.
func (s *Service) Tick(now time.Time) []logic.Transition {
	s.mu.Lock()
	if s.engine == nil {
		s.mu.Unlock()
		return nil
	}
	s.effects.at = now
	transitions := s.engine.Tick(now)
	snap := s.engine.Snapshot()
	s.mu.Unlock()

	for _, tr := range transitions {
		s.log.Info("channel state changed", "channel", tr.Channel, "from", tr.From, "to", tr.To)
		if s.opts.Publisher != nil {
			if err := s.opts.Publisher.PublishTransition(tr); err != nil {
				s.log.Error("publish transition failed", "channel", tr.Channel, "err", err)
			}
		}
	}
	if s.opts.Tracker != nil {
		s.opts.Tracker.Update(snap)
		if cs, ok := s.opts.Publisher.(mqtt.ConnectionStatus); ok {
			s.opts.Tracker.SetMQTTConnected(cs.IsConnected())
		}
	}
	s.opts.Metrics.Observe(snap, transitions)
	return transitions
}

// tick is the scheduler.Func form of Tick.
func (s *Service) tick(now time.Time) {
	s.Tick(now)
}

// ChannelBackoff returns the current attenuation of a channel in dB. It
// returns 0 for an unknown channel or before Start.
func (s *Service) ChannelBackoff(id int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return 0
	}
	return s.engine.ChannelBackoff(id)
}

// ChannelCount returns the number of configured channels, 0 before Start.
func (s *Service) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return 0
	}
	return s.engine.ChannelCount()
}

// ChannelState returns the state of a channel.
func (s *Service) ChannelState(id int) (logic.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return "", false
	}
	return s.engine.ChannelState(id)
}

// Config returns the loaded engine configuration.
func (s *Service) Config() (logic.Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return logic.Config{}, false
	}
	return s.engine.Config(), true
}

// Snapshot returns the channel view, nil before Start.
func (s *Service) Snapshot() []logic.ChannelSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return nil
	}
	return s.engine.Snapshot()
}
