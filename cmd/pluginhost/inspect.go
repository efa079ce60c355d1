// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/plugin"
)

// inspectConfig holds configuration for the inspect command.
type inspectConfig struct {
	jsonOutput bool
}

// NewInspectCmd creates the inspect subcommand.
func NewInspectCmd() *cobra.Command {
	cfg := &inspectConfig{}
	cmd := &cobra.Command{
		Use:   "inspect BUNDLE-DIR...",
		Short: "List plugin bundles and their manifests",
		Long: `List plugin bundles with their version, runtime, engine constraint and
capabilities. Invalid bundles are listed with their error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, cfg, args)
		},
	}
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output manifests as JSON")
	return cmd
}

func runInspect(cmd *cobra.Command, cfg *inspectConfig, dirs []string) error {
	reports := make([]bundleReport, 0, len(dirs))
	for _, dir := range dirs {
		reports = append(reports, validateBundle(dir))
	}

	if cfg.jsonOutput {
		out, err := formatInspectJSON(reports)
		if err != nil {
			return err
		}
		cmd.Println(out)
		return nil
	}
	cmd.Println(formatInspectTable(reports))
	return nil
}

type inspectEntry struct {
	Dir      string           `json:"dir"`
	Manifest *plugin.Manifest `json:"manifest,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func formatInspectJSON(reports []bundleReport) (string, error) {
	entries := make([]inspectEntry, len(reports))
	for i, r := range reports {
		entries[i] = inspectEntry{Dir: r.Dir, Manifest: r.Manifest}
		if r.Err != nil {
			entries[i].Error = r.Err.Error()
		}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", oops.Wrapf(err, "marshal manifests")
	}
	return string(data), nil
}

func formatInspectTable(reports []bundleReport) string {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		if r.Manifest == nil {
			rows = append(rows, []string{r.Dir, "-", "-", "-", "-", failStyle.Render(plugin.FormatSchemaError(r.Err))})
			continue
		}
		m := r.Manifest
		status := okStyle.Render("ok")
		if r.Err != nil {
			status = failStyle.Render(r.Err.Error())
		}
		rows = append(rows, []string{
			m.Name,
			displayVersion(m),
			string(m.Type),
			orDash(m.Engine),
			orDash(strings.Join(m.Capabilities, ",")),
			status,
		})
	}
	return renderTable([]string{"NAME", "VERSION", "TYPE", "ENGINE", "CAPABILITIES", "STATUS"}, rows)
}

// displayVersion prints the normalized semantic version, so "1.2" reads as
// "1.2.0" in listings.
func displayVersion(m *plugin.Manifest) string {
	if v := m.SemVer(); v != nil {
		return v.String()
	}
	return m.Version
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
