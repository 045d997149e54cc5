package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"trv-manager/internal/climate"
	"trv-manager/internal/directory"
	"trv-manager/internal/hass"
	"trv-manager/internal/maintenance"
	"trv-manager/internal/mqtt"
	"trv-manager/internal/scheduler"
	"trv-manager/internal/store"
	"trv-manager/internal/transform"
	"trv-manager/internal/web"
	"trv-manager/internal/writequeue"
	"trv-manager/internal/zcl"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	HomeAssistant struct {
		URL          string `yaml:"url"`
		Token        string `yaml:"token"`
		DirectoryTTL string `yaml:"directory_ttl"`
		CallTimeout  string `yaml:"call_timeout"`
	} `yaml:"home_assistant"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Web struct {
		Listen string `yaml:"listen"`
		APIKey string `yaml:"api_key"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Climate struct {
		ControlledModels []string `yaml:"controlled_models"`
		IncludeInternal  bool     `yaml:"include_internal_sensors"`
		InternalWeight   float64  `yaml:"internal_weight"`
		CycleInterval    string   `yaml:"cycle_interval"`
		TransformScript  string   `yaml:"transform_script"`
	} `yaml:"climate"`
	WriteQueue struct {
		BaseDelay     string `yaml:"base_delay"`
		MaxDelay      string `yaml:"max_delay"`
		MaxAttempts   int    `yaml:"max_attempts"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"write_queue"`
	Maintenance struct {
		TimeSyncInterval        string `yaml:"time_sync_interval"`
		RadiatorCoveredInterval string `yaml:"radiator_covered_interval"`
		LoadBalancingInterval   string `yaml:"load_balancing_interval"`
	} `yaml:"maintenance"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.HomeAssistant.URL == "" {
		return fmt.Errorf("home_assistant.url is required")
	}
	if c.HomeAssistant.Token == "" {
		return fmt.Errorf("home_assistant.token is required")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	durations, err := parseDurations(cfg)
	if err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("trv-manager starting", "version", version)

	names := zcl.NewRegistry()
	zcl.RegisterStandard(names)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	client := hass.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	defer client.Close()

	registry := hass.NewRegistry(client, durations.directoryTTL, logger)
	zha := hass.NewZHA(client, durations.callTimeout, logger)

	queue := writequeue.New(zha, registry, db, names, logger, writequeue.Config{
		BaseDelay:   durations.baseDelay,
		MaxDelay:    durations.maxDelay,
		MaxAttempts: cfg.WriteQueue.MaxAttempts,
	})
	if err := queue.Load(); err != nil {
		logger.Warn("restore pending writes", "err", err)
	}

	var publisher climate.Publisher = nopPublisher{}
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Enabled {
		mqttPub, err = mqtt.NewPublisher(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			logger.Error("connect mqtt", "err", err)
			os.Exit(1)
		}
		publisher = mqttPub
	}

	var transformer climate.Transformer
	if cfg.Climate.TransformScript != "" {
		luaTransform, err := transform.NewLua(cfg.Climate.TransformScript, logger)
		if err != nil {
			logger.Error("load transform script", "err", err)
			os.Exit(1)
		}
		defer luaTransform.Close()
		transformer = luaTransform
	}

	controller := climate.NewController(registry, registry, publisher, queue, transformer, logger, climate.Config{
		ControlledModels: cfg.Climate.ControlledModels,
		IncludeInternal:  cfg.Climate.IncludeInternal,
		InternalWeight:   cfg.Climate.InternalWeight,
	})

	jobs := maintenance.NewJobs(registry, zha, queue, logger, maintenance.Config{
		Models: cfg.Climate.ControlledModels,
	})

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	webServer := web.NewServer(queue, controller, version, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Startup pass: bring every valve into a known state, then run one
	// regulation cycle before the periodic schedule takes over.
	go func() {
		steps := []struct {
			name string
			run  func(context.Context) error
		}{
			{"time sync", jobs.SyncTime},
			{"radiator covered", jobs.CorrectRadiatorCovered},
			{"load balancing", jobs.DisableLoadBalancing},
			{"regulation cycle", controller.RunCycle},
		}
		for _, step := range steps {
			if rootCtx.Err() != nil {
				return
			}
			if err := step.run(rootCtx); err != nil {
				logger.Error("startup step failed", "step", step.name, "err", err)
			}
		}
		logger.Info("startup pass complete")
	}()

	sched := scheduler.New(logger)
	sched.Add(scheduler.Job{
		Name:     "queue_sweep",
		Interval: durations.sweepInterval,
		Run: func(ctx context.Context) error {
			queue.Sweep(ctx, time.Now())
			return nil
		},
	})
	sched.Add(scheduler.Job{Name: "regulation_cycle", Interval: durations.cycleInterval, Run: controller.RunCycle})
	sched.Add(scheduler.Job{Name: "time_sync", Interval: durations.timeSyncInterval, Run: jobs.SyncTime})
	sched.Add(scheduler.Job{Name: "radiator_covered", Interval: durations.radiatorCoveredInterval, Run: jobs.CorrectRadiatorCovered})
	sched.Add(scheduler.Job{Name: "load_balancing", Interval: durations.loadBalancingInterval, Run: jobs.DisableLoadBalancing})
	sched.Start(rootCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	rootCancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	if mqttPub != nil {
		mqttPub.Stop()
	}

	logger.Info("goodbye")
}

// nopPublisher is used when MQTT is disabled; readings stay visible through
// the web API.
type nopPublisher struct{}

func (nopPublisher) PublishReading(context.Context, string, directory.Kind, float64) error {
	return nil
}

func (nopPublisher) PublishUnavailable(context.Context, string, directory.Kind) error {
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "trv-manager.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "trv-manager"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

// configDurations holds the parsed interval settings.
type configDurations struct {
	directoryTTL            time.Duration
	callTimeout             time.Duration
	baseDelay               time.Duration
	maxDelay                time.Duration
	sweepInterval           time.Duration
	cycleInterval           time.Duration
	timeSyncInterval        time.Duration
	radiatorCoveredInterval time.Duration
	loadBalancingInterval   time.Duration
}

func parseDurations(cfg *Config) (configDurations, error) {
	d := configDurations{}
	fields := []struct {
		name string
		raw  string
		def  time.Duration
		out  *time.Duration
	}{
		{"home_assistant.directory_ttl", cfg.HomeAssistant.DirectoryTTL, 30 * time.Second, &d.directoryTTL},
		{"home_assistant.call_timeout", cfg.HomeAssistant.CallTimeout, 15 * time.Second, &d.callTimeout},
		{"write_queue.base_delay", cfg.WriteQueue.BaseDelay, time.Minute, &d.baseDelay},
		{"write_queue.max_delay", cfg.WriteQueue.MaxDelay, 4 * time.Hour, &d.maxDelay},
		{"write_queue.sweep_interval", cfg.WriteQueue.SweepInterval, time.Minute, &d.sweepInterval},
		{"climate.cycle_interval", cfg.Climate.CycleInterval, 10 * time.Minute, &d.cycleInterval},
		{"maintenance.time_sync_interval", cfg.Maintenance.TimeSyncInterval, 24 * time.Hour, &d.timeSyncInterval},
		{"maintenance.radiator_covered_interval", cfg.Maintenance.RadiatorCoveredInterval, 12 * time.Hour, &d.radiatorCoveredInterval},
		{"maintenance.load_balancing_interval", cfg.Maintenance.LoadBalancingInterval, 24 * time.Hour, &d.loadBalancingInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			*f.out = f.def
			continue
		}
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return d, fmt.Errorf("%s: %w", f.name, err)
		}
		if v <= 0 {
			return d, fmt.Errorf("%s must be positive", f.name)
		}
		*f.out = v
	}
	return d, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
