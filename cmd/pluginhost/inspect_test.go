// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/plugin"
)

func TestRunInspect_Table(t *testing.T) {
	root := t.TempDir()
	good := writeBundle(t, root, "echo", luaManifest("echo"), map[string]string{"main.lua": echoScript})
	bad := writeBundle(t, root, "broken", "name: broken\n", nil)

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	require.NoError(t, runInspect(cmd, &inspectConfig{}, []string{good, bad}))

	out := buf.String()
	for _, want := range []string{"NAME", "CAPABILITIES", "echo", "1.0.0", "lua", "log", "ok", bad} {
		assert.Contains(t, out, want)
	}
}

func TestRunInspect_JSON(t *testing.T) {
	root := t.TempDir()
	good := writeBundle(t, root, "echo", luaManifest("echo"), map[string]string{"main.lua": echoScript})
	missing := writeBundle(t, root, "noentry", luaManifest("noentry"), nil)

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	require.NoError(t, runInspect(cmd, &inspectConfig{jsonOutput: true}, []string{good, missing}))

	var entries []inspectEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entries))
	require.Len(t, entries, 2)

	assert.Equal(t, good, entries[0].Dir)
	require.NotNil(t, entries[0].Manifest)
	assert.Equal(t, "echo", entries[0].Manifest.Name)
	assert.Empty(t, entries[0].Error)

	// The manifest parsed, so it is reported alongside the error.
	require.NotNil(t, entries[1].Manifest)
	assert.Contains(t, entries[1].Error, "not found")
}

func TestDisplayVersion(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"1.2", "1.2.0"},
		{"v2.0.1", "2.0.1"},
		{"1.0.0-beta.1", "1.0.0-beta.1"},
		{"not-a-version", "not-a-version"},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, displayVersion(&plugin.Manifest{Version: tt.version}))
		})
	}
}

func TestRunInspect_NormalizesVersion(t *testing.T) {
	root := t.TempDir()
	manifest := strings.Replace(luaManifest("short"), "version: 1.0.0", "version: \"1.4\"", 1)
	dir := writeBundle(t, root, "short", manifest, map[string]string{"main.lua": echoScript})

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	require.NoError(t, runInspect(cmd, &inspectConfig{}, []string{dir}))
	assert.Contains(t, buf.String(), "1.4.0")
}

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "x", orDash("x"))
}
