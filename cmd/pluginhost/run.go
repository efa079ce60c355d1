// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/bus"
	"github.com/holomush/pluginhost/internal/config"
	"github.com/holomush/pluginhost/internal/control"
	"github.com/holomush/pluginhost/internal/observability"
	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/capability"
	"github.com/holomush/pluginhost/internal/plugin/goplugin"
	"github.com/holomush/pluginhost/internal/plugin/hostfunc"
	"github.com/holomush/pluginhost/internal/store"
)

const shutdownTimeout = 30 * time.Second

// TransitionRecorder persists transitions delivered by the bus.
type TransitionRecorder interface {
	bus.Handler
}

// RunDeps holds injectable dependencies for the run command.
// Nil fields use default implementations.
type RunDeps struct {
	// RecorderFactory opens the transition store; it is only called when a
	// database URL is configured. The returned func releases it.
	RecorderFactory func(ctx context.Context, databaseURL string, logger *slog.Logger) (TransitionRecorder, func(), error)
	// ClientFactory starts binary plugin processes.
	ClientFactory goplugin.ClientFactory
	// OnReady is called once every bundle has been loaded (or given up on).
	OnReady func(f *plugin.Fleet)
}

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [bundle...]",
		Short: "Load plugin bundles and keep them running",
		Long: `Load the named plugin bundles (or the configured bundles list) from the
plugins directory, serve metrics and health endpoints, poll plugin memory
and unload everything on SIGINT, SIGTERM or a shutdown request on the
control socket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Bundles = args
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			logger := setupLogging(cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, cfg, logger, nil)
		},
	}
}

// runHost runs the host until ctx is done.
func runHost(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *RunDeps) error {
	if deps == nil {
		deps = &RunDeps{}
	}
	if deps.RecorderFactory == nil {
		deps.RecorderFactory = openRecorder
	}
	if len(cfg.Bundles) == 0 {
		return oops.Code(config.CodeInvalidConfig).Errorf("no bundles to run; pass bundle names or set bundles in the config file")
	}

	logger.Info("starting plugin host",
		"plugins_dir", cfg.PluginsDir,
		"bundles", cfg.Bundles,
		"metrics_addr", cfg.MetricsAddr)

	events := bus.New(logger)
	defer events.Close()

	if cfg.DatabaseURL != "" {
		recorder, release, err := deps.RecorderFactory(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		// Drain deliveries before the recorder goes away.
		defer func() {
			events.Close()
			release()
		}()
		if err := events.Subscribe("transition-store", recorder); err != nil {
			return oops.Wrap(err)
		}
	}
	if err := events.Subscribe("log", bus.HandlerFunc(func(ctx context.Context, t plugin.Transition) error {
		logger.DebugContext(ctx, "plugin transition", "transition", t)
		return nil
	})); err != nil {
		return oops.Wrap(err)
	}

	fleet := plugin.NewFleet(logger, plugin.WithRetryPolicy(cfg.RetryPolicy()))

	var metrics *plugin.Metrics
	if cfg.MetricsAddr != "" {
		srv := observability.NewServer(cfg.MetricsAddr,
			observability.WithLogger(logger),
			observability.WithReadiness(fleet.Ready),
			observability.WithStatus(func(ctx context.Context) any { return fleet.Snapshot(ctx) }))
		metrics = plugin.NewMetrics(srv.Registry())
		if _, err := srv.Start(); err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Stop(stopCtx); err != nil {
				logger.Warn("failed to stop observability server", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.ControlSocket != "" {
		ctl := control.NewServer(cfg.ControlSocket, fleet,
			control.WithLogger(logger),
			control.WithShutdown(control.ShutdownFunc(cancel)))
		if err := ctl.Start(); err != nil {
			return oops.With("operation", "start control socket").Wrap(err)
		}
		defer func() {
			stopCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer stop()
			if err := ctl.Stop(stopCtx); err != nil {
				logger.Warn("failed to stop control socket", "error", err)
			}
		}()
	}

	rt := runtimes{
		logger:    logger,
		hostFuncs: hostfunc.New(hostfunc.NewMemoryKV(), capability.NewEnforcer(), hostfunc.WithLogger(logger)),
		clients:   deps.ClientFactory,
	}
	for _, name := range cfg.Bundles {
		b, err := openBundle(cfg.PluginsDir, name, rt)
		if err != nil {
			return oops.With("bundle", name).Wrap(err)
		}
		mgr, err := plugin.NewManager(plugin.Dependencies{
			Logger:      logger,
			Config:      cfg,
			Publisher:   events,
			Directory:   b.dir,
			Environment: b.env,
			Manifest:    b.manifest,
		},
			plugin.WithLoadTimeout(cfg.LoadTimeout),
			plugin.WithUnloadTimeout(cfg.UnloadTimeout),
			plugin.WithMemoryTimeout(cfg.MemoryTimeout),
			plugin.WithMetrics(metrics))
		if err != nil {
			return err
		}
		if err := fleet.Add(mgr); err != nil {
			return err
		}
	}

	// Failed plugins stay in Error; the host keeps running the others.
	if err := fleet.LoadAll(ctx); err != nil {
		logger.Warn("some plugins failed to load", "error", err)
	}
	if deps.OnReady != nil {
		deps.OnReady(fleet)
	}

	pollMemory(ctx, fleet, cfg.PollInterval, logger)

	logger.Info("shutting down plugin host")
	unloadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := fleet.UnloadAll(unloadCtx); err != nil {
		return err
	}
	return nil
}

// pollMemory samples every plugin's memory until ctx is done. A zero
// interval only waits.
func pollMemory(ctx context.Context, fleet *plugin.Fleet, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range fleet.Snapshot(ctx) {
				logger.DebugContext(ctx, "plugin memory",
					"plugin", st.Name,
					"state", st.State.String(),
					"bytes", st.MemoryBytes)
			}
		}
	}
}

func openRecorder(ctx context.Context, databaseURL string, logger *slog.Logger) (TransitionRecorder, func(), error) {
	pool, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store.NewTransitionStore(pool, logger), pool.Close, nil
}
