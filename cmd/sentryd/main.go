// Command sentryd is the residential intrusion-alarm decision core's
// process entrypoint: it loads topology and tuning, boots the coordinator,
// serves Prometheus metrics, and watches the topology file for hot reloads.
// It owns no sensor wire protocol and no HTTP/REST transport — an external
// host drives the core's Go API directly; this binary exists so the core
// can be started, stopped, and observed like any other long-running
// service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wujunbao1963/neighbor-guard/internal/alarm"
	"github.com/wujunbao1963/neighbor-guard/internal/config"
	"github.com/wujunbao1963/neighbor-guard/internal/metrics"
)

// Version information, set at build time with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "sentryd",
	Short:   "sentryd - residential intrusion-alarm decision core",
	Long:    `sentryd ingests sensor signals, classifies workflows, and drives per-entry-point alarm state machines for a residential edge controller.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServer(); err != nil {
			log.Fatal().Err(err).Msg("sentryd exited with error")
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateTopologyCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sentryd %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var validateTopologyCmd = &cobra.Command{
	Use:   "validate-topology [path]",
	Short: "Load a topology file and report its zone/entry-point counts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		path := cfg.TopologyPath
		if len(args) == 1 {
			path = args[0]
		}

		topo, err := config.LoadTopology(path)
		if err != nil {
			return fmt.Errorf("loading topology %s: %w", path, err)
		}

		zones := topo.Zones()
		eps := topo.EntryPoints()
		fmt.Printf("topology %s: %d zone(s), %d entry point(s), %d access window(s)\n",
			path, len(zones), len(eps), len(topo.AccessWindows()))

		for id, ep := range eps {
			if _, ok := topo.Zone(ep.ZoneID); !ok {
				fmt.Printf("  warning: entry point %s references missing zone %s (treated as unknown zone with defaults)\n", id, ep.ZoneID)
			}
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	log.Info().Str("data_dir", cfg.DataPath).Msg("starting sentryd decision core")

	topo, err := config.LoadTopology(cfg.TopologyPath)
	if err != nil {
		return fmt.Errorf("loading topology: %w", err)
	}

	coord := alarm.NewCoordinator(topo, cfg.CoordinatorConfig())
	coord.SetModes(cfg.HouseMode, cfg.UserMode)
	defer coord.Shutdown()

	watcher, err := config.NewTopologyWatcher(cfg.TopologyPath, coord)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create topology watcher, changes will require restart")
	} else {
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("failed to start topology watcher")
		}
		defer watcher.Stop()
	}

	m := metrics.New(Version)
	if err := m.Start(cfg.MetricsAddr); err != nil {
		return fmt.Errorf("starting metrics server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pollStatusMetrics(ctx, coord, m)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("received shutdown signal, stopping sentryd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	m.Shutdown(shutdownCtx)

	return nil
}

// pollStatusMetrics periodically refreshes gauge metrics that depend on a
// status snapshot rather than a single processed signal.
func pollStatusMetrics(ctx context.Context, coord *alarm.Coordinator, m *metrics.Metrics) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.SetEntryPointsPending(coord.GetStatus())
		case <-ctx.Done():
			return
		}
	}
}
