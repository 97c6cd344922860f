// Package config loads the lazywriter daemon's configuration: scan/scheduler
// tunables plus the ambient logging, telemetry and metrics settings, sourced
// from LAZYWRITER_* environment variables, a YAML file, and defaults, in
// that order of precedence, the same way the teacher's own pkg/config loads
// DittoFS's configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/lazywriter/internal/bytesize"
	"github.com/marmos91/lazywriter/pkg/lazywriter"
)

// Config is the lazywriterd configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (LAZYWRITER_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
type Config struct {
	// Scan holds the scheduler and scan-algorithm tunables handed to
	// lazywriter.New.
	Scan ScanConfig `mapstructure:"scan" yaml:"scan"`

	// Collaborator selects and configures the demo Collaborator the
	// daemon drives the lazy writer against.
	Collaborator CollaboratorConfig `mapstructure:"collaborator" yaml:"collaborator"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing and
	// continuous profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics configures the Prometheus metrics HTTP server.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// ScanConfig mirrors lazywriter.Tunables with mapstructure/yaml tags and
// human-readable duration/size strings.
type ScanConfig struct {
	FirstDelay time.Duration `mapstructure:"first_delay" yaml:"first_delay" validate:"gte=0"`
	IdleDelay  time.Duration `mapstructure:"idle_delay" yaml:"idle_delay" validate:"gte=0"`
	NoDelay    time.Duration `mapstructure:"no_delay" yaml:"no_delay" validate:"gte=0"`

	// DirtyPageTarget and MaxWriteBehindPages accept human-readable byte
	// sizes ("4MiB") and are converted to page counts at load time, since
	// operators reason about cache budgets in bytes, not pages.
	DirtyPageTarget      bytesize.ByteSize `mapstructure:"dirty_page_target" yaml:"dirty_page_target" validate:"required"`
	MaxWriteBehindPages  bytesize.ByteSize `mapstructure:"max_write_behind" yaml:"max_write_behind" validate:"required"`
	SmallSystemThreshold bytesize.ByteSize `mapstructure:"small_system_threshold" yaml:"small_system_threshold"`

	PassCountMask        uint32 `mapstructure:"pass_count_mask" yaml:"pass_count_mask"`
	LockCourtesy         int    `mapstructure:"lock_courtesy" yaml:"lock_courtesy" validate:"gt=0"`
	AgeTarget            int64  `mapstructure:"age_target" yaml:"age_target" validate:"gt=0"`
	MetadataDivisor      int64  `mapstructure:"metadata_divisor" yaml:"metadata_divisor" validate:"gt=0"`
	RescanThresholdPages int64  `mapstructure:"rescan_threshold_pages" yaml:"rescan_threshold_pages"`

	Workers       int `mapstructure:"workers" yaml:"workers" validate:"gt=0"`
	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity" validate:"gt=0"`
}

// pageSize matches the constant collaborator implementations use to convert
// between bytes and pages; it exists here purely for the byte-size ->
// page-count conversion done by Tunables.
const pageSize = 4096

// Tunables converts a ScanConfig into lazywriter.Tunables, translating the
// byte-size fields into page counts.
func (s ScanConfig) Tunables() lazywriter.Tunables {
	toPages := func(b bytesize.ByteSize) int64 {
		return (b.Int64() + pageSize - 1) / pageSize
	}
	return lazywriter.Tunables{
		FirstDelay:           s.FirstDelay,
		IdleDelay:            s.IdleDelay,
		NoDelay:              s.NoDelay,
		DirtyPageTarget:      toPages(s.DirtyPageTarget),
		MaxWriteBehindPages:  toPages(s.MaxWriteBehindPages),
		SmallSystemThreshold: toPages(s.SmallSystemThreshold),
		PassCountMask:        s.PassCountMask,
		LockCourtesy:         s.LockCourtesy,
		AgeTarget:            s.AgeTarget,
		MetadataDivisor:      s.MetadataDivisor,
		RescanThresholdPages: s.RescanThresholdPages,
		Workers:              s.Workers,
		QueueCapacity:        s.QueueCapacity,
	}
}

// CollaboratorConfig selects which demo Collaborator backend lazywriterd
// drives.
type CollaboratorConfig struct {
	// Kind is "memcache" or "blockstore".
	Kind string `mapstructure:"kind" yaml:"kind" validate:"required,oneof=memcache blockstore"`

	// WriteDelay is memcache's simulated per-page I/O latency.
	WriteDelay time.Duration `mapstructure:"write_delay" yaml:"write_delay"`

	// TokenCapacity is memcache's admission-gate bucket size.
	TokenCapacity int `mapstructure:"token_capacity" yaml:"token_capacity"`

	// MaxParallel is blockstore's per-stream concurrent block-write limit.
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	Enabled    bool            `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string          `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool            `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64         `mapstructure:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`
	Profiling  ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := DefaultConfig()
		return &cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with a helpful error if no file exists at
// the given (or default) path.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  lazywriterd config init\n\n"+
				"Or specify a custom config file:\n"+
				"  lazywriterd start --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML, creating parent directories as
// needed.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate runs go-playground/validator struct-tag validation followed by
// the scan tunables' own range checks, mirroring lazywriter.Tunables.Validate
// so a bad config file is rejected before the daemon starts.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	return cfg.Scan.Tunables().Validate()
}

var validate = validator.New()

// setupViper configures environment-variable and config-file search
// behavior. Environment variables use the LAZYWRITER_ prefix, e.g.
// LAZYWRITER_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("LAZYWRITER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file if present. It returns (false, nil)
// when no file was found, since that is not an error: defaults apply.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// WatchAndReload watches the config file at path for changes and invokes
// onChange with the freshly loaded and validated Config whenever it
// changes. Which reloaded settings take effect is up to onChange;
// lazywriterd applies only the logging level and keeps the scan tunables
// it started with until restarted. onChange is not called if the reload
// fails validation; the error is passed to onError instead so the previous
// configuration keeps running.
func WatchAndReload(path string, onChange func(*Config), onError func(error)) error {
	v := viper.New()
	setupViper(v, path)
	if _, err := readConfigFile(v); err != nil {
		return err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			onError(fmt.Errorf("failed to unmarshal reloaded config: %w", err))
			return
		}
		ApplyDefaults(&cfg)
		if err := Validate(&cfg); err != nil {
			onError(fmt.Errorf("reloaded configuration validation failed: %w", err))
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
	return nil
}

// configDecodeHooks composes the custom mapstructure decode hooks this
// package needs: human-readable byte sizes and durations.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/lazywriterd, falling back to
// ~/.config/lazywriterd, or "." if the home directory can't be determined.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "lazywriterd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "lazywriterd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path, exposed for the
// init command.
func GetConfigDir() string {
	return getConfigDir()
}
