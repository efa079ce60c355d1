// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/config"
	"github.com/holomush/pluginhost/internal/logging"
	"github.com/holomush/pluginhost/internal/xdg"
)

const serviceName = "pluginhost"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the plugin host CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pluginhost",
		Short: "Plugin host - isolated plugin lifecycle manager",
		Long: `pluginhost loads plugin bundles into isolated environments (separate
processes or sandboxed Lua states), tracks their lifecycle and reports
their memory use.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags(), flagDefaults())

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewInspectCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewPluginCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

func flagDefaults() config.Defaults {
	d := config.Defaults{PluginsDir: "plugins"}
	if dir, err := xdg.PluginsDir(); err == nil {
		d.PluginsDir = dir
	}
	if sock, err := xdg.ControlSocket(); err == nil {
		d.ControlSocket = sock
	}
	return d
}

// loadConfig reads the config file and flags of cmd and validates them.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		path = defaultConfigFile()
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfigFile returns the XDG config file if it exists.
func defaultConfigFile() string {
	path, err := xdg.ConfigFile()
	if err != nil || !fileExists(path) {
		return ""
	}
	return path
}

func setupLogging(format string) *slog.Logger {
	return logging.SetDefault(serviceName, version, format)
}
