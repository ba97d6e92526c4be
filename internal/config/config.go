// Package config loads simulator settings from defaults, an optional YAML
// file, RAILSIM_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/rail-control-simulator/internal/logging"
	"github.com/signalsfoundry/rail-control-simulator/internal/observability"
)

// EnvPrefix prefixes every environment override, e.g. RAILSIM_CLOCK_ACCELERATION.
const EnvPrefix = "RAILSIM"

// Config holds application configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Clock   ClockConfig   `mapstructure:"clock"`
	Train   TrainConfig   `mapstructure:"train"`
	Layout  LayoutConfig  `mapstructure:"layout"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	RPC     RPCConfig     `mapstructure:"rpc"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ClockConfig holds the simulated clock and shared time slot settings.
type ClockConfig struct {
	Acceleration float64 `mapstructure:"acceleration"`
	SlotPath     string  `mapstructure:"slot_path"`
	LockPath     string  `mapstructure:"lock_path"`
	StartPaused  bool    `mapstructure:"start_paused"`
}

// TrainConfig describes the train guarded by the serve command.
type TrainConfig struct {
	ID string `mapstructure:"id"`
}

type LayoutConfig struct {
	Path string `mapstructure:"path"`
}

// AuditConfig controls safety audit persistence. An empty DBPath disables it.
type AuditConfig struct {
	DBPath string `mapstructure:"db_path"`
	Buffer int    `mapstructure:"buffer"`
}

// MetricsConfig controls the Prometheus listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// RPCConfig controls the read-only state RPC listener. An empty Addr disables it.
type RPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"acceleration": "clock.acceleration",
	"slot":         "clock.slot_path",
	"lock":         "clock.lock_path",
	"paused":       "clock.start_paused",
	"train":        "train.id",
	"layout":       "layout.path",
	"audit-db":     "audit.db_path",
	"metrics-addr": "metrics.addr",
	"rpc-addr":     "rpc.addr",
}

// DefaultSlotPath is where the shared time slot lives unless configured.
func DefaultSlotPath() string {
	return filepath.Join(os.TempDir(), "railsim.slot")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("clock.acceleration", 1.0)
	v.SetDefault("clock.slot_path", DefaultSlotPath())
	v.SetDefault("clock.lock_path", "")
	v.SetDefault("clock.start_paused", false)
	v.SetDefault("train.id", "T-1")
	v.SetDefault("layout.path", "")
	v.SetDefault("audit.db_path", "")
	v.SetDefault("audit.buffer", 4096)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("rpc.addr", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "railsim")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load resolves the configuration. flags may be nil; when it defines a
// "config" flag its value names the YAML file, otherwise RAILSIM_CONFIG does.
// A named file must exist.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfgPath := os.Getenv(EnvPrefix + "_CONFIG")
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			cfgPath = f.Value.String()
		}
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.Clock.LockPath == "" {
		c.Clock.LockPath = c.Clock.SlotPath + ".lock"
	}
	return c, c.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if a := c.Clock.Acceleration; a <= 0 || math.IsNaN(a) || math.IsInf(a, 0) {
		errs = append(errs, fmt.Errorf("clock.acceleration must be positive, got %v", a))
	}
	if c.Clock.SlotPath == "" {
		errs = append(errs, errors.New("clock.slot_path is required"))
	}
	if c.Train.ID == "" {
		errs = append(errs, errors.New("train.id is required"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Audit.Buffer < 0 {
		errs = append(errs, fmt.Errorf("audit.buffer must not be negative, got %d", c.Audit.Buffer))
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be within [0,1], got %v", r))
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "stdout", "otlp", "otlpgrpc":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q is not supported", c.Tracing.Exporter))
	}
	return errors.Join(errs...)
}

// Logging returns the logger settings.
func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// TracingSettings converts the tracing section for observability.InitTracing.
func (c Config) TracingSettings() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}
