// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/config"
	"github.com/holomush/pluginhost/internal/control"
	"github.com/holomush/pluginhost/internal/plugin"
)

// NewPluginCmd creates the plugin command, which manages plugins in a
// running host through its control socket.
func NewPluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage plugins in a running host",
		Long: `Manage plugins in a running host through its control socket
(--control-socket). A plugin in the error state can be loaded again once the
cause is fixed.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List managed plugins",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withControl(cmd, func(ctx context.Context, c *control.Client) error {
					statuses, err := c.Plugins(ctx)
					if err != nil {
						return err
					}
					cmd.Println(formatStatusTable(statuses))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "load NAME",
			Short: "Load (or reload) a plugin",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withControl(cmd, func(ctx context.Context, c *control.Client) error {
					st, err := c.Load(ctx, args[0])
					if err != nil {
						return err
					}
					return reportTransition(cmd, st, plugin.StateLoaded)
				})
			},
		},
		&cobra.Command{
			Use:   "unload NAME",
			Short: "Unload a plugin",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withControl(cmd, func(ctx context.Context, c *control.Client) error {
					st, err := c.Unload(ctx, args[0])
					if err != nil {
						return err
					}
					return reportTransition(cmd, st, plugin.StateUnloaded)
				})
			},
		},
		&cobra.Command{
			Use:   "shutdown",
			Short: "Unload every plugin and stop the host",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withControl(cmd, func(ctx context.Context, c *control.Client) error {
					if err := c.Shutdown(ctx); err != nil {
						return err
					}
					cmd.Println("Shutdown initiated")
					return nil
				})
			},
		},
	)
	return cmd
}

func withControl(cmd *cobra.Command, fn func(context.Context, *control.Client) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.ControlSocket == "" {
		return oops.Code(config.CodeInvalidConfig).Errorf("control-socket is empty; the host serves no control API")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, control.NewClient(cfg.ControlSocket))
}

// reportTransition prints the plugin's status and fails if it did not reach want.
func reportTransition(cmd *cobra.Command, st plugin.Status, want plugin.State) error {
	cmd.Printf("%s %s\n", st.Name, stateStyle(st.State).Render(st.State.String()))
	if st.State != want {
		return oops.With("plugin", st.Name).With("state", st.State.String()).
			Errorf("plugin %s is %s: %s", st.Name, st.State, st.LastError)
	}
	return nil
}
