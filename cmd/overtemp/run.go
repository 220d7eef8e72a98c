package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/sweeney/overtemp/internal/config"
	"github.com/sweeney/overtemp/internal/eventlog"
	"github.com/sweeney/overtemp/internal/gpio"
	"github.com/sweeney/overtemp/internal/logic"
	"github.com/sweeney/overtemp/internal/metrics"
	"github.com/sweeney/overtemp/internal/mqtt"
	"github.com/sweeney/overtemp/internal/scheduler"
	"github.com/sweeney/overtemp/internal/sensor"
	"github.com/sweeney/overtemp/internal/service"
	"github.com/sweeney/overtemp/internal/status"
	"github.com/sweeney/overtemp/internal/web"
)

type runOpts struct {
	configFile   string
	configFormat string
	channels     int

	broker    string
	clientID  string
	wsBroker  string
	httpAddr  string
	heartbeat time.Duration
	baseTick  time.Duration

	chip        string
	pins        []int
	hwmon       []string
	mqttTemps   bool
	maxAge      time.Duration
	simulate    bool
	shutdownCmd string
}

func newRunCmd(g *globalOpts) *cobra.Command {
	var o runOpts

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the over-temperature daemon",
		Example: `  overtemp run --hwmon DPA0=/sys/class/hwmon/hwmon2/temp1_input --hwmon TX0=/sys/class/hwmon/hwmon3/temp1_input
  overtemp run --simulate --config overtemp.yaml --broker tcp://localhost:1883`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.wsBroker = resolveWSBroker(o.wsBroker, o.broker)
			return run(g.dbPath, o, slog.Default())
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.configFile, "config", "", "read configuration from a YAML file instead of the database")
	f.StringVar(&o.configFormat, "config-format", config.FormatNames, `channel layout format ("names" or "mask")`)
	f.IntVar(&o.channels, "channels", len(gpio.DefaultPins), "number of antenna channels")
	f.StringVar(&o.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	f.StringVar(&o.clientID, "client-id", "overtemp", "MQTT client id")
	f.StringVar(&o.wsBroker, "ws-broker", "=broker", `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)
	f.StringVar(&o.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	f.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "heartbeat interval (0 to disable)")
	f.DurationVar(&o.baseTick, "base-tick", time.Second, "scheduler base tick; the control period must be a multiple of it")
	f.StringVar(&o.chip, "gpio-chip", gpio.DefaultChip, "GPIO chip driving the PA enable lines")
	f.IntSliceVar(&o.pins, "pa-pins", gpio.DefaultPins, "PA enable line offset per channel")
	f.StringArrayVar(&o.hwmon, "hwmon", nil, "SENSOR=PATH hwmon temperature input (repeatable)")
	f.BoolVar(&o.mqttTemps, "mqtt-temperatures", false, "read sensors without an hwmon mapping from "+mqtt.TopicTemperaturePrefix+"<SENSOR>")
	f.DurationVar(&o.maxAge, "temperature-max-age", 15*time.Minute, "age after which an MQTT temperature reading is stale (0 never)")
	f.BoolVar(&o.simulate, "simulate", false, "simulate every sensor and the PA lines")
	f.StringVar(&o.shutdownCmd, "shutdown-cmd", "", "command run through /bin/sh when shutdown is requested")
	return cmd
}

func run(dbPath string, o runOpts, log *slog.Logger) error {
	if o.channels < 1 {
		return fmt.Errorf("--channels must be at least 1")
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer db.Close()

	store, source, err := openStore(db, dbPath, o.configFile)
	if err != nil {
		return err
	}
	elog, err := eventlog.New(db, log)
	if err != nil {
		return err
	}

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:   o.broker,
		ClientID: o.clientID,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		Heartbeat:    o.heartbeat,
		Channels:     o.channels,
		ConfigSource: source,
		Broker:       o.broker,
		HTTPPort:     o.httpAddr,
		WSBroker:     o.wsBroker,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	var pa gpio.PASwitch
	if o.simulate {
		pa = gpio.NewFakeSwitch(o.channels)
	} else {
		if len(o.pins) < o.channels {
			return fmt.Errorf("need %d --pa-pins, have %d", o.channels, len(o.pins))
		}
		sw, err := gpio.NewRealSwitch(o.chip, o.pins[:o.channels])
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		pa = sw
	}
	defer pa.Close()

	sources, err := buildSources(o, tracker, publisher, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	loader, err := config.NewLoader(o.configFormat, o.channels, log)
	if err != nil {
		return err
	}
	sched := scheduler.New(o.baseTick, log)
	svc := service.New(service.Options{
		Store:     store,
		Loader:    loader,
		Scheduler: sched,
		Sources:   sources,
		Publisher: publisher,
		Switch:    pa,
		EventLog:  elog,
		Tracker:   tracker,
		Metrics:   collector,
		Logger:    log,
	})
	svc.RegisterShutdownCallback(shutdownHook(publisher, publisher, tracker, o.shutdownCmd, log))
	if err := svc.Start(); err != nil {
		return err
	}
	if cfg, ok := svc.Config(); ok {
		tracker.SetPeriod(cfg.Period)
	}

	if o.heartbeat > 0 {
		err := sched.Register("heartbeat", o.heartbeat, func(now time.Time) {
			if net := readNetworkInfo(); net != nil {
				tracker.SetNetwork(net)
			}
			if err := publishStatus(publisher, publisher, tracker, "HEARTBEAT", "", false, now); err != nil {
				log.Error("heartbeat publish failed", "err", err)
			}
		})
		if err != nil {
			return fmt.Errorf("register heartbeat: %w", err)
		}
	}

	// Publish startup event with full status snapshot
	if err := publishStatus(publisher, publisher, tracker, "STARTUP", "", true, time.Now()); err != nil {
		log.Error("failed to publish startup event", "err", err)
	} else {
		log.Info("published startup event")
	}

	// Start HTTP status server
	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker, svc, collector.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http server error", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("http status server listening", "addr", o.httpAddr)
	}

	log.Info("started", "config", source, "channels", o.channels, "broker", o.broker,
		"heartbeat", o.heartbeat, "base_tick", o.baseTick, "simulate", o.simulate)

	ticker := time.NewTicker(o.baseTick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(sched, publisher, publisher, tracker, time.Now, ticker.C, sigCh, log)
}

func openStore(db *bolt.DB, dbPath, configFile string) (config.Store, string, error) {
	if configFile != "" {
		fs, err := config.LoadFile(configFile)
		if err != nil {
			return nil, "", err
		}
		return fs, "file:" + configFile, nil
	}
	bs, err := config.NewBoltStore(db)
	if err != nil {
		return nil, "", err
	}
	return bs, "bolt:" + dbPath, nil
}

// buildSources picks a temperature source per sensor. hwmon mappings win;
// remaining sensors come from the MQTT feed when enabled. --simulate
// replaces everything with simulated plants.
func buildSources(o runOpts, tracker *status.Tracker, sub mqtt.Subscriber, log *slog.Logger) (map[logic.SensorType]logic.TemperatureSource, error) {
	if o.simulate {
		return simulatedSources(tracker), nil
	}
	sources, err := sensor.ParseHwmonMap(o.hwmon)
	if err != nil {
		return nil, err
	}
	if o.mqttTemps {
		feed := mqtt.NewTemperatureFeed(o.maxAge, log)
		if err := feed.Subscribe(sub); err != nil {
			return nil, fmt.Errorf("subscribe temperatures: %w", err)
		}
		for s := logic.SensorType(0); s < logic.SensorCount; s++ {
			if _, ok := sources[s]; !ok {
				sources[s] = feed.Source(s)
			}
		}
	}
	return sources, nil
}

// simulatedSources builds one plant per sensor that cools with the backoff of
// the channel reading it. Backoff is taken from the tracker, which holds the
// previous tick's values.
func simulatedSources(tracker *status.Tracker) map[logic.SensorType]logic.TemperatureSource {
	out := make(map[logic.SensorType]logic.TemperatureSource, logic.SensorCount)
	for s := logic.SensorType(0); s < logic.SensorCount; s++ {
		s := s
		cool := 1.0
		if s%2 == 1 {
			cool = 0.8
		}
		out[s] = sensor.NewSimulatedSource(36, 0.5, cool, func() float64 {
			return channelBackoffOf(tracker.Snapshot().Channels, s)
		})
	}
	return out
}

func channelBackoffOf(channels []logic.ChannelSnapshot, s logic.SensorType) float64 {
	for _, ch := range channels {
		for _, ss := range ch.Sensors {
			if ss.Type == s {
				return ch.Backoff
			}
		}
	}
	return 0
}

// shutdownHook announces the shutdown request and runs the configured
// command. It runs under the engine lock, so the command is not waited for.
func shutdownHook(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, shutdownCmd string, log *slog.Logger) func() error {
	return func() error {
		log.Error("over-temperature shutdown requested")
		if err := publishStatus(publisher, mqttStatus, tracker, "SHUTDOWN_REQUESTED", "OVER_TEMPERATURE", true, time.Now()); err != nil {
			log.Error("failed to publish shutdown request", "err", err)
		}
		if shutdownCmd == "" {
			return nil
		}
		cmd := exec.Command("/bin/sh", "-c", shutdownCmd)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("run shutdown command: %w", err)
		}
		go cmd.Wait()
		return nil
	}
}

func runLoop(sched *scheduler.Scheduler, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, log *slog.Logger) error {
	for {
		select {
		case s := <-sig:
			log.Info("shutting down", "signal", s)
			if err := publishStatus(publisher, mqttStatus, tracker, "SHUTDOWN", signalName(s), true, now()); err != nil {
				log.Error("failed to publish shutdown event", "err", err)
			} else {
				log.Info("published shutdown event")
			}
			return nil

		case <-tick:
			sched.Step(now())
			if tracker != nil && mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// publishStatus sends a system event carrying the full status snapshot.
func publishStatus(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, event, reason string, retained bool, at time.Time) error {
	ev := mqtt.SystemEvent{
		Timestamp: at,
		Event:     event,
		Reason:    reason,
		Retained:  retained,
	}
	if tracker != nil {
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
		ev.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), event, reason)
	}
	return publisher.PublishSystem(ev)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		slog.Warn("ws-broker: cannot parse --broker", "broker", broker, "err", err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
