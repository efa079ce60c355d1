// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/plugin"
)

const statusTimeout = 5 * time.Second

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of plugins in a running host",
		Long: `Query the /statusz endpoint of a running host on --metrics-addr and show
the state, memory use and last error of every plugin it manages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hostCfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if hostCfg.MetricsAddr == "" {
				return oops.Errorf("metrics-addr is empty; the host serves no status endpoint")
			}
			return runStatus(cmd, cfg, statusURL(hostCfg.MetricsAddr))
		},
	}
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	return cmd
}

func statusURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + "/statusz"
}

func runStatus(cmd *cobra.Command, cfg *statusConfig, url string) error {
	statuses, err := fetchStatus(cmd.Context(), url)
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return oops.Wrapf(err, "marshal status")
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Println(formatStatusTable(statuses))
	return nil
}

func fetchStatus(ctx context.Context, url string) ([]plugin.Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	errb := oops.With("url", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, errb.Wrap(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errb.Hint("is the host running?").Wrapf(err, "query host status")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errb.With("status", resp.StatusCode).Errorf("host returned %s", resp.Status)
	}
	var statuses []plugin.Status
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return nil, errb.Wrapf(err, "decode host status")
	}
	return statuses, nil
}

func formatStatusTable(statuses []plugin.Status) string {
	if len(statuses) == 0 {
		return mutedStyle.Render("No plugins managed")
	}
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		rows = append(rows, []string{
			st.Name,
			st.Version,
			stateStyle(st.State).Render(st.State.String()),
			formatBytes(st.MemoryBytes),
			orDash(st.LastError),
		})
	}
	return renderTable([]string{"PLUGIN", "VERSION", "STATE", "MEMORY", "LAST ERROR"}, rows)
}

// formatBytes renders a byte count with a binary unit; negative counts are
// unknown.
func formatBytes(n int64) string {
	if n < 0 {
		return "-"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
