// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/capability"
	"github.com/holomush/pluginhost/internal/plugin/hostfunc"
	pluginlua "github.com/holomush/pluginhost/internal/plugin/lua"
)

// writeMainLua creates a main.lua plugin file in the given directory.
func writeMainLua(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(content), 0o600))
}

func boot(dir string, caps ...string) plugin.BootConfig {
	return plugin.BootConfig{
		plugin.BootKeyName:         "greeter",
		plugin.BootKeyVersion:      "1.0.0",
		plugin.BootKeyBaseDir:      dir,
		plugin.BootKeyMetadata:     map[string]any{"author": "tests"},
		plugin.BootKeySettings:     map[string]any{"greeting": "hi"},
		plugin.BootKeyCapabilities: caps,
	}
}

func TestEnvironment_LoadCallsOnLoadWithConfig(t *testing.T) {
	dir := t.TempDir()
	writeMainLua(t, dir, `
function on_load(config)
  host.kv_set("greeting", config.settings.greeting .. " from " .. config.name)
end
`)
	kv := hostfunc.NewMemoryKV()
	hf := hostfunc.New(kv, capability.NewEnforcer())
	env := pluginlua.New(pluginlua.WithHostFunctions(hf))

	require.NoError(t, env.Load(context.Background(), boot(dir, "kv.*")))
	t.Cleanup(func() { _ = env.Unload(context.Background()) })

	got, err := kv.Get(context.Background(), "greeter", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hi from greeter", string(got))
	assert.Equal(t, []string{"kv.*"}, hf.Enforcer().Grants("greeter"))
}

func TestEnvironment_UnloadCallsOnUnloadAndRevokes(t *testing.T) {
	dir := t.TempDir()
	writeMainLua(t, dir, `
function on_unload()
  host.kv_set("bye", "yes")
end
`)
	kv := hostfunc.NewMemoryKV()
	hf := hostfunc.New(kv, capability.NewEnforcer())
	env := pluginlua.New(pluginlua.WithHostFunctions(hf))

	require.NoError(t, env.Load(context.Background(), boot(dir, "kv.write")))
	require.NoError(t, env.Unload(context.Background()))

	got, _ := kv.Get(context.Background(), "greeter", "bye")
	assert.Equal(t, "yes", string(got))
	assert.Nil(t, hf.Enforcer().Grants("greeter"))

	_, err := env.MemoryUsage(context.Background())
	assert.Error(t, err, "no state after unload")
}

func TestEnvironment_UnloadWithoutLoadIsNoop(t *testing.T) {
	env := pluginlua.New()
	assert.NoError(t, env.Unload(context.Background()))
	assert.NoError(t, env.Unload(context.Background()))
}

func TestEnvironment_LoadFailures(t *testing.T) {
	tests := []struct {
		name   string
		script string
		entry  string
	}{
		{name: "syntax error", script: `function broken(`},
		{name: "runtime error in chunk", script: `error("boom")`},
		{name: "on_load raises", script: `function on_load() error("nope") end`},
		{name: "on_load is not a function", script: `on_load = 42`},
		{name: "missing entry", script: ``, entry: "missing.lua"},
		{name: "entry escapes directory", script: ``, entry: "../main.lua"},
		{name: "capability denied", script: `host.kv_set("k", "v")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeMainLua(t, dir, tt.script)
			opts := []pluginlua.Option{
				pluginlua.WithHostFunctions(hostfunc.New(hostfunc.NewMemoryKV(), capability.NewEnforcer())),
			}
			if tt.entry != "" {
				opts = append(opts, pluginlua.WithEntry(tt.entry))
			}
			env := pluginlua.New(opts...)

			err := env.Load(context.Background(), boot(dir))
			require.Error(t, err)

			_, memErr := env.MemoryUsage(context.Background())
			assert.Error(t, memErr, "a failed load leaves no live state")
			assert.NoError(t, env.Unload(context.Background()), "unload after a failed load is safe")
		})
	}
}

func TestEnvironment_OnUnloadErrorStillReleasesState(t *testing.T) {
	dir := t.TempDir()
	writeMainLua(t, dir, `function on_unload() error("stuck") end`)
	env := pluginlua.New()

	require.NoError(t, env.Load(context.Background(), boot(dir)))
	require.Error(t, env.Unload(context.Background()))

	_, err := env.MemoryUsage(context.Background())
	assert.Error(t, err)
}

func TestEnvironment_ReloadReplacesState(t *testing.T) {
	dir := t.TempDir()
	writeMainLua(t, dir, `counter = (counter or 0) + 1`)
	env := pluginlua.New()

	require.NoError(t, env.Load(context.Background(), boot(dir)))
	require.NoError(t, env.Load(context.Background(), boot(dir)))
	require.NoError(t, env.Unload(context.Background()))
}

func TestEnvironment_LoadHonoursDeadline(t *testing.T) {
	dir := t.TempDir()
	writeMainLua(t, dir, `while true do end`)
	env := pluginlua.New()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.Error(t, env.Load(ctx, boot(dir)))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEnvironment_MemoryUsageGrowsWithData(t *testing.T) {
	dir := t.TempDir()
	writeMainLua(t, dir, `
data = {}
function on_load(config)
  for i = 1, tonumber(config.settings.count or "0") do
    data[i] = string.rep("x", 100)
  end
end
`)

	small := pluginlua.New()
	b := boot(dir)
	b[plugin.BootKeySettings] = map[string]any{"count": "1"}
	require.NoError(t, small.Load(context.Background(), b))
	defer func() { _ = small.Unload(context.Background()) }()

	large := pluginlua.New()
	b = boot(dir)
	b[plugin.BootKeySettings] = map[string]any{"count": "1000"}
	require.NoError(t, large.Load(context.Background(), b))
	defer func() { _ = large.Unload(context.Background()) }()

	smallBytes, err := small.MemoryUsage(context.Background())
	require.NoError(t, err)
	largeBytes, err := large.MemoryUsage(context.Background())
	require.NoError(t, err)

	assert.Positive(t, smallBytes)
	assert.Greater(t, largeBytes, smallBytes+100*1000)
}

func TestEnvironment_UnderManager(t *testing.T) {
	dir := t.TempDir()
	writeMainLua(t, dir, `function on_load(config) assert(config.version == "1.0.0") end`)

	manifest, err := plugin.NewManifest("greeter", "1.0.0", plugin.WithLuaEntry("main.lua"))
	require.NoError(t, err)

	m, err := plugin.NewManager(plugin.Dependencies{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:      plugin.StaticConfig{},
		Publisher:   plugin.NopPublisher{},
		Directory:   plugin.StaticDirectory(dir),
		Environment: pluginlua.ForManifest(manifest),
		Manifest:    manifest,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.Equal(t, plugin.StateLoaded, m.Load(ctx))
	assert.Positive(t, m.MemoryUsage(ctx))
	require.Equal(t, plugin.StateUnloaded, m.Unload(ctx))
	assert.Equal(t, plugin.UnknownMemoryUsage, m.MemoryUsage(ctx))
}
