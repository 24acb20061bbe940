// Package cmd implements sentrytapd's command-line entrypoint: flag/config
// registration, pipeline construction, and the signal-driven run loop. It
// is grounded on cmd/goProbe's main/goProbe.go startup sequence (logger
// init, interface count checks, context-based shutdown with a grace
// period), adapted from a capture-to-database daemon to one that wires
// the capture manager into the instance supervisor (pkg/agent).
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/els0r/telemetry/tracing"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sentrytap/sentrytap/pkg/agent"
	"github.com/sentrytap/sentrytap/pkg/capture"
	"github.com/sentrytap/sentrytap/pkg/category"
	"github.com/sentrytap/sentrytap/pkg/config"
	"github.com/sentrytap/sentrytap/pkg/controlapi"
	"github.com/sentrytap/sentrytap/pkg/detect"
	"github.com/sentrytap/sentrytap/pkg/dhc"
	"github.com/sentrytap/sentrytap/pkg/dpi"
	"github.com/sentrytap/sentrytap/pkg/fhc"
	"github.com/sentrytap/sentrytap/pkg/flowmap"
	"github.com/sentrytap/sentrytap/pkg/logging"
	"github.com/sentrytap/sentrytap/pkg/netenrich"
	"github.com/sentrytap/sentrytap/pkg/pluginbus"
	"github.com/sentrytap/sentrytap/pkg/sigupdate"
	"github.com/sentrytap/sentrytap/pkg/updatetick"
	"github.com/sentrytap/sentrytap/pkg/version"
)

const shutdownGracePeriod = 30 * time.Second

var listenAddr string

var rootCmd = &cobra.Command{
	Use:           "sentrytapd",
	Short:         "passive traffic inspection daemon",
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "unix:/var/run/sentrytapd/control.sock", "control API listen address (host:port or unix:/path)")
	_ = viper.BindPFlag("listen", rootCmd.PersistentFlags().Lookup("listen"))
}

// Execute runs the daemon's root command.
func Execute() error {
	return rootCmd.Execute()
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logging.Init(logging.LevelFromString(cfg.Logging.Level), logging.Encoding(cfg.Logging.Encoding),
		logging.WithVersion(version.Short()),
	); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := logging.Logger()
	logger.Info("loaded configuration")

	if len(cfg.Interfaces) == 0 && !cfg.RunWithoutSources {
		return fmt.Errorf("no interfaces configured and run_without_sources is false")
	}
	if len(cfg.Interfaces) > capture.MaxIfaces {
		return fmt.Errorf("cannot monitor more than %d interfaces", capture.MaxIfaces)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	shutdownTracing, err := tracing.InitFromFlags(ctx)
	if err != nil {
		logger.With("error", err).Error("failed to set up tracing")
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.With("error", err).Warn("failed to shut down tracing cleanly")
			}
		}()
	}

	flows := flowmap.New(cfg.BucketCount)
	fhcCache := fhc.New(cfg.FHCCapacity, cfg.FHCPurgeDivisor)
	dhcCache := dhc.New(cfg.DHCTTL)

	var catStore category.Store
	sigClient := sigupdate.New(cfg.SignatureAPIURL, cfg.CategoryDBDir)
	if cfg.SignatureAPIURL != "" || cfg.CategoryDBDir != "" {
		if err := sigClient.Refresh(ctx, &catStore); err != nil {
			logger.With("error", err).Warn("initial signature/category load failed, starting with an empty index")
		}
	}

	bus := pluginbus.New()
	engine := dpi.NewHeuristic()

	pool := detect.NewPool(ctx, detect.Config{
		WorkerCount:      cfg.DetectionWorkers,
		MaxDetectionPkts: cfg.MaxDetectionPkts,
	}, cfg.DetectionWorkers, engine, fhcCache, dhcCache, &catStore, bus)

	enricher := netenrich.New()

	captureManager, err := capture.InitManager(ctx, cfg, flows, pool,
		capture.WithNATDetector(netenrich.DetectNAT),
		capture.WithAddrSource(enricher.Snapshot),
		capture.WithFHCCache(fhcCache),
		capture.WithDHCCache(dhcCache),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize capture manager: %w", err)
	}

	ticker := updatetick.NewTicker(updatetick.Config{
		Interval:          cfg.UpdateInterval,
		IdleTTL:           cfg.TTLIdleFlow,
		TCPIdleTTL:        cfg.TTLIdleTCPFlow,
		RunWithoutSources: cfg.RunWithoutSources,
	}, flows, dhcCache, bus, captureManager, pool, captureManager.Alive)

	initial := make(agent.InterfaceSet, len(cfg.Interfaces))
	for iface := range cfg.Interfaces {
		initial[iface] = struct{}{}
	}

	sup := agent.New(agent.Config{
		AutoFlowExpiry: cfg.AutoFlowExpiry,
		TerminateForce: cfg.TerminateForce,
	}, agent.Collaborators{
		Bus:          bus,
		Ticker:       ticker,
		StartCapture: captureManager.StartCapture,
		StopCapture:  captureManager.StopCapture,
		ReloadConfig: func() (agent.InterfaceSet, error) {
			next, err := config.Load()
			if err != nil {
				return nil, err
			}
			if _, _, _, err := captureManager.Update(ctx, next.Interfaces); err != nil {
				return nil, err
			}
			ifset := make(agent.InterfaceSet, len(next.Interfaces))
			for iface := range next.Interfaces {
				ifset[iface] = struct{}{}
			}
			return ifset, nil
		},
		DrainNetlink: func(ctx context.Context) {
			ifaces := make([]string, 0, len(cfg.Interfaces))
			for iface := range cfg.Interfaces {
				ifaces = append(ifaces, iface)
			}
			enricher.Refresh(ctx, ifaces)
		},
		RefreshSignatures: func(ctx context.Context) error {
			return sigClient.Refresh(ctx, &catStore)
		},
		ForceExpireAll: captureManager.ForceExpireAll,
	}, initial)

	if linkUpdates, closeWatch, err := enricher.WatchLinkUpdates(ctx); err != nil {
		logger.With("error", err).Warn("netlink link-update watch disabled")
	} else {
		defer closeWatch()
		go func() {
			for range linkUpdates {
				sup.Signal(agent.SignalNetlinkIO)
			}
		}()
	}

	apiServer := controlapi.New(listenAddr, flows, captureManager, sup, controlapi.WithPprof())
	go func() {
		if err := apiServer.Serve(); err != nil {
			logger.Error("control API server stopped", "error", err)
		}
	}()
	logger.With("addr", listenAddr).Info("control API listening")

	logger.Info("sentrytapd started")
	exitCode := sup.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown of control API server", "error", err)
	}

	logger.Info("graceful shutdown completed")
	if exitCode != 0 {
		return fmt.Errorf("supervisor exited with code %d", exitCode)
	}
	return nil
}
