// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/goplugin"
)

// bundleReport is the outcome of validating one bundle directory.
type bundleReport struct {
	Dir      string
	Manifest *plugin.Manifest
	Err      error
}

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate BUNDLE-DIR...",
		Short: "Check plugin bundles without loading them",
		Long: `Check plugin bundles without loading them: the manifest must match the
schema, satisfy the host version, name its bundle directory and point at an
entry file or executable that exists. Binary checksums are verified.

Exits non-zero if any bundle is invalid, so it can gate CI:
  pluginhost validate plugins/*`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args)
		},
	}
}

func runValidate(cmd *cobra.Command, dirs []string) error {
	if len(dirs) == 0 {
		return oops.Code(plugin.CodeInvalidArgument).Errorf("no bundles to validate")
	}
	failed := 0
	for _, dir := range dirs {
		r := validateBundle(dir)
		if r.Err != nil {
			failed++
			cmd.Printf("%s %s: %s\n", failStyle.Render("FAIL"), dir, plugin.FormatSchemaError(r.Err))
			continue
		}
		cmd.Printf("%s %s %s (%s)\n", okStyle.Render("ok  "), r.Manifest.Name, displayVersion(r.Manifest), r.Manifest.Type)
	}
	if failed > 0 {
		return oops.Code(plugin.CodeInvalidManifest).Errorf("%d of %d bundles invalid", failed, len(dirs))
	}
	return nil
}

// validateBundle runs every static check on the bundle rooted at dir.
func validateBundle(dir string) bundleReport {
	r := bundleReport{Dir: dir}
	path := filepath.Join(dir, plugin.ManifestFile)
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		r.Err = oops.Code(plugin.CodeInvalidManifest).With("path", path).Wrap(err)
		return r
	}
	if err := plugin.ValidateSchema(data); err != nil {
		r.Err = err
		return r
	}
	m, err := plugin.ParseManifest(data)
	if err != nil {
		r.Err = err
		return r
	}
	r.Manifest = m

	errb := oops.Code(plugin.CodeInvalidManifest).With("plugin", m.Name).With("dir", dir)
	if base := filepath.Base(filepath.Clean(dir)); base != m.Name {
		r.Err = errb.Errorf("manifest name %q does not match bundle directory %q", m.Name, base)
		return r
	}
	if err := m.CheckEngine(version); err != nil {
		r.Err = err
		return r
	}

	switch m.Type {
	case plugin.TypeLua:
		if !filepath.IsLocal(m.LuaPlugin.Entry) {
			r.Err = errb.Errorf("entry %q must be inside the bundle", m.LuaPlugin.Entry)
		} else if entry := filepath.Join(dir, m.LuaPlugin.Entry); !fileExists(entry) {
			r.Err = errb.Errorf("entry %s not found", entry)
		}
	case plugin.TypeBinary:
		r.Err = checkExecutable(dir, m.BinaryPlugin)
	default:
		r.Err = errb.Errorf("manifest does not name a runtime; set type to lua or binary")
	}
	return r
}

func checkExecutable(dir string, cfg *plugin.BinaryConfig) error {
	path, err := goplugin.ExecutablePath(dir, cfg.Executable)
	if err != nil {
		return err
	}
	if !fileExists(path) {
		return oops.Code(plugin.CodeInvalidManifest).With("path", path).Errorf("executable %s not found", path)
	}
	want, err := goplugin.ParseChecksum(cfg.Checksum)
	if err != nil {
		return err
	}
	if want != nil {
		return goplugin.VerifyChecksum(path, want)
	}
	return nil
}
