// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const echoScript = `
function on_load(config)
  host.log("info", "loaded " .. config.name)
end

function on_unload()
end
`

// writeBundle creates root/name with a manifest and extra files.
func writeBundle(t *testing.T, root, name, manifest string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(manifest), 0o600))
	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
	}
	return dir
}

func luaManifest(name string) string {
	return "name: " + name + `
version: 1.0.0
type: lua
capabilities:
  - log
lua-plugin:
  entry: main.lua
`
}
