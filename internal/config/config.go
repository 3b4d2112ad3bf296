// Package config loads the Multi-Bus Manager's configuration from a YAML
// file plus environment-variable overrides: godotenv, then the file, then
// envdecode applies env-var overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/eventbus/infrastructure/logging"
	"github.com/R3E-Network/eventbus/infrastructure/runtime"
	"github.com/R3E-Network/eventbus/pkg/bus"
)

// Environment variables that Load applies to every bus in Buses (see
// applyBusEnvOverrides for how each combines with the YAML value). These exist because envdecode does not recurse into map
// values (see the Buses field comment), so per-bus env tags on bus.Config
// are otherwise unreachable once buses live inside this map.
const (
	envBusMaxConcurrentEmits  = "EVENTBUS_BUS_MAX_CONCURRENT_EMITS"
	envBusMaxEventsPerSecond  = "EVENTBUS_BUS_MAX_EVENTS_PER_SECOND"
	envBusShutdownGracePeriod = "EVENTBUS_BUS_SHUTDOWN_GRACE_PERIOD"
	envBusEnableMetrics       = "EVENTBUS_BUS_ENABLE_METRICS"
)

// LoggingConfig controls the shared logger every bus and the manager use.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Settings is the Multi-Bus Manager's top-level configuration: a map of bus
// name -> bus config, a default_bus name, a global rate limit, a metrics
// toggle, logging config, and a global shutdown timeout.
type Settings struct {
	// Buses is keyed by bus name; envdecode does not recurse into map
	// values (only struct fields carrying `env` tags), so the env tags on
	// bus.Config are not read for buses in this map. The only per-bus env
	// overrides are the EVENTBUS_BUS_* variables that Load applies to every
	// bus (see applyBusEnvOverrides); LoadFile applies none.
	Buses      map[string]bus.Config `yaml:"buses"`
	DefaultBus string                `yaml:"default_bus" env:"DEFAULT_BUS"`

	// GlobalRateLimit, when positive, fills MaxEventsPerSecond on any bus
	// that leaves it unset (zero), per §6.3's "global rate limit".
	GlobalRateLimit int `yaml:"global_rate_limit" env:"GLOBAL_RATE_LIMIT"`

	EnableMetrics bool `yaml:"enable_metrics" env:"ENABLE_METRICS"`

	Logging LoggingConfig `yaml:"logging"`

	GlobalShutdownTimeout time.Duration `yaml:"global_shutdown_timeout" env:"GLOBAL_SHUTDOWN_TIMEOUT"`
}

// New returns Settings populated with conservative defaults.
func New() *Settings {
	return &Settings{
		Buses:                 map[string]bus.Config{},
		EnableMetrics:         true,
		Logging:               LoggingConfig{Level: "info", Format: "text"},
		GlobalShutdownTimeout: 30 * time.Second,
	}
}

// Load reads configuration from a YAML file (EVENTBUS_CONFIG_FILE env var,
// falling back to configs/eventbus.yaml if present) and then applies
// environment overrides on top.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("EVENTBUS_CONFIG_FILE"))
	if path == "" {
		path = "configs/eventbus.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()
	cfg.applyBusEnvOverrides()
	return cfg, nil
}

// LoadFile reads configuration from a specific YAML path, skipping env
// overrides (both envdecode's and the per-bus EVENTBUS_BUS_* ones); used by
// tests and one-off tooling that want a deterministic result regardless of
// the calling process's environment.
func LoadFile(path string) (*Settings, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Settings) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// normalize fills each bus's unset fields from global Settings: an empty
// InstanceID from the map key, and a zero MaxEventsPerSecond from
// GlobalRateLimit. It never consults the environment, so LoadFile's result
// stays deterministic regardless of the calling process's environment.
func (s *Settings) normalize() {
	for name, busCfg := range s.Buses {
		if busCfg.InstanceID == "" {
			busCfg.InstanceID = name
		}
		if busCfg.MaxEventsPerSecond == 0 && s.GlobalRateLimit > 0 {
			busCfg.MaxEventsPerSecond = s.GlobalRateLimit
		}
		busCfg.EnableMetrics = busCfg.EnableMetrics || s.EnableMetrics
		s.Buses[name] = busCfg
	}
}

// applyBusEnvOverrides applies the EVENTBUS_BUS_* environment overrides to
// every configured bus via runtime.Resolve*, since envdecode cannot reach
// into the Buses map on its own. Each variable applies to every bus: for
// MaxEventsPerSecond, MaxConcurrentEmits and ShutdownGracePeriod it fills
// only a bus whose value is still zero (a positive YAML value is kept),
// while EVENTBUS_BUS_ENABLE_METRICS, when set, replaces every bus's
// EnableMetrics. Only called from Load(); LoadFile intentionally skips it.
func (s *Settings) applyBusEnvOverrides() {
	for name, busCfg := range s.Buses {
		busCfg.MaxEventsPerSecond = runtime.ResolveInt(busCfg.MaxEventsPerSecond, envBusMaxEventsPerSecond, busCfg.MaxEventsPerSecond)
		busCfg.MaxConcurrentEmits = runtime.ResolveInt(busCfg.MaxConcurrentEmits, envBusMaxConcurrentEmits, busCfg.MaxConcurrentEmits)
		busCfg.ShutdownGracePeriod = runtime.ResolveDuration(busCfg.ShutdownGracePeriod, envBusShutdownGracePeriod, busCfg.ShutdownGracePeriod)
		busCfg.EnableMetrics = runtime.ResolveBool(busCfg.EnableMetrics, envBusEnableMetrics)
		s.Buses[name] = busCfg
	}
}

// NewLogger builds the shared *logging.Logger for this Settings, used by
// both the Multi-Bus Manager and every child Bus.
func (s *Settings) NewLogger(service string) *logging.Logger {
	return logging.New(service, s.Logging.Level, s.Logging.Format)
}
