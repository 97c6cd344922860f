package config

import (
	"strings"
	"time"

	"github.com/marmos91/lazywriter/internal/bytesize"
	"github.com/marmos91/lazywriter/pkg/lazywriter"
)

// DefaultConfig returns the configuration used when no config file is
// found, built from lazywriter.DefaultTunables.
func DefaultConfig() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}

// ApplyDefaults fills any zero-valued fields with sensible defaults. It is
// called after unmarshaling a config file so a partially specified file
// still produces a complete, valid Config.
func ApplyDefaults(cfg *Config) {
	applyScanDefaults(&cfg.Scan)
	applyCollaboratorDefaults(&cfg.Collaborator)
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyScanDefaults(cfg *ScanConfig) {
	def := lazywriter.DefaultTunables()

	if cfg.FirstDelay == 0 {
		cfg.FirstDelay = def.FirstDelay
	}
	if cfg.IdleDelay == 0 {
		cfg.IdleDelay = def.IdleDelay
	}
	// NoDelay's zero value (0) is itself the intended default; nothing to do.

	if cfg.DirtyPageTarget == 0 {
		cfg.DirtyPageTarget = bytesize.ByteSize(def.DirtyPageTarget * pageSize)
	}
	if cfg.MaxWriteBehindPages == 0 {
		cfg.MaxWriteBehindPages = bytesize.ByteSize(def.MaxWriteBehindPages * pageSize)
	}
	if cfg.SmallSystemThreshold == 0 {
		cfg.SmallSystemThreshold = bytesize.ByteSize(def.SmallSystemThreshold * pageSize)
	}
	if cfg.PassCountMask == 0 {
		cfg.PassCountMask = def.PassCountMask
	}
	if cfg.LockCourtesy == 0 {
		cfg.LockCourtesy = def.LockCourtesy
	}
	if cfg.AgeTarget == 0 {
		cfg.AgeTarget = def.AgeTarget
	}
	if cfg.MetadataDivisor == 0 {
		cfg.MetadataDivisor = def.MetadataDivisor
	}
	if cfg.RescanThresholdPages == 0 {
		cfg.RescanThresholdPages = def.RescanThresholdPages
	}
	if cfg.Workers == 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
}

func applyCollaboratorDefaults(cfg *CollaboratorConfig) {
	if cfg.Kind == "" {
		cfg.Kind = "memcache"
	}
	if cfg.WriteDelay == 0 {
		cfg.WriteDelay = 200 * time.Microsecond
	}
	if cfg.TokenCapacity == 0 {
		cfg.TokenCapacity = 64
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = 4
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}
