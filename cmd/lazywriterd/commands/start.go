package commands

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/marmos91/lazywriter/internal/logger"
	"github.com/marmos91/lazywriter/internal/telemetry"
	"github.com/marmos91/lazywriter/pkg/collaborator/blockstore"
	"github.com/marmos91/lazywriter/pkg/collaborator/memcache"
	"github.com/marmos91/lazywriter/pkg/config"
	"github.com/marmos91/lazywriter/pkg/lazywriter"
	"github.com/marmos91/lazywriter/pkg/metrics"

	// Registers the Prometheus lazywriter.Metrics constructor.
	_ "github.com/marmos91/lazywriter/pkg/metrics/prometheus"
)

var streamCount int

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the lazy writer core against synthetic write traffic",
	Long: `Start runs lazywriterd in the foreground: it builds a Collaborator
from configuration, starts the lazy writer's scan loop and worker pool, and
drives it with a bounded number of synthetic dirty streams until interrupted.

Examples:
  # Start with the default or discovered config file
  lazywriterd start

  # Start with a specific config file and stream count
  lazywriterd start --config /etc/lazywriterd/config.yaml --streams 32`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().IntVar(&streamCount, "streams", 8, "number of synthetic dirty streams to drive")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "lazywriterd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "lazywriterd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("metrics collection disabled")
	}

	coll, driver, err := buildCollaborator(cfg.Collaborator)
	if err != nil {
		return err
	}

	lw, err := lazywriter.New(coll, cfg.Scan.Tunables(),
		lazywriter.WithMetrics(metrics.New()),
		lazywriter.WithLogger(func(level, msg string, args ...any) {
			switch level {
			case "warn":
				logger.Warn(msg, args...)
			case "error":
				logger.Error(msg, args...)
			default:
				logger.Debug(msg, args...)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to build lazy writer: %w", err)
	}

	if err := lw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start lazy writer: %w", err)
	}
	logger.Info("lazy writer started",
		"workers", cfg.Scan.Workers,
		"dirty_page_target", cfg.Scan.DirtyPageTarget.String(),
		"collaborator", cfg.Collaborator.Kind)

	stopDriver := make(chan struct{})
	go driveWriteTraffic(lw, driver, streamCount, stopDriver)

	if err := config.WatchAndReload(GetConfigFile(),
		func(reloaded *config.Config) {
			logger.SetLevel(reloaded.Logging.Level)
			logger.Info("configuration reloaded; logging level applied live",
				"level", reloaded.Logging.Level)
			logger.Warn("scan tunables and collaborator settings require a restart to take effect")
		},
		func(err error) {
			logger.Warn("configuration reload failed, keeping previous configuration", "error", err)
		},
	); err != nil {
		logger.Warn("configuration hot-reload watch not started", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	close(stopDriver)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := lw.Stop(stopCtx); err != nil {
		logger.Warn("lazy writer stop did not complete cleanly", "error", err)
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	logger.Info("lazywriterd stopped")
	return nil
}

// trafficDriver lets driveWriteTraffic push bytes into whichever
// Collaborator backend was selected, without knowing its concrete type.
type trafficDriver interface {
	Write(id string, data []byte) int64
}

func buildCollaborator(cfg config.CollaboratorConfig) (lazywriter.Collaborator, trafficDriver, error) {
	switch cfg.Kind {
	case "blockstore":
		c := blockstore.New(blockstore.NewMemoryBlockStore(), blockstore.WithMaxParallel(cfg.MaxParallel))
		return c, c, nil
	case "memcache", "":
		c := memcache.New(memcache.WithWriteDelay(cfg.WriteDelay), memcache.WithTokenCapacity(cfg.TokenCapacity))
		return c, c, nil
	default:
		return nil, nil, fmt.Errorf("unknown collaborator kind %q", cfg.Kind)
	}
}

// driveWriteTraffic simulates foreground writers dirtying a fixed set of
// streams until stop is closed, so the lazy writer core has something to
// scan and flush in a demo run.
func driveWriteTraffic(lw *lazywriter.LazyWriter, driver trafficDriver, streams int, stop <-chan struct{}) {
	rng := rand.New(rand.NewSource(1))
	ids := make([]string, streams)
	for i := range ids {
		ids[i] = uuid.NewString()
		lw.RegisterStream(ids[i])
	}
	defer func() {
		for _, id := range ids {
			lw.UnregisterStream(id)
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			id := ids[rng.Intn(len(ids))]
			buf := make([]byte, 4096*(1+rng.Intn(4)))
			pages := driver.Write(id, buf)
			lw.MarkDirty(id, pages)
		}
	}
}
