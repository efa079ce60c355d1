// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/pkg/errutil"
)

func namedManager(t *testing.T, name string, env plugin.Environment) *plugin.Manager {
	t.Helper()
	manifest, err := plugin.NewManifest(name, "1.0.0")
	require.NoError(t, err)
	d := deps(t, env)
	d.Manifest = manifest
	m, err := plugin.NewManager(d)
	require.NoError(t, err)
	return m
}

var fastRetry = plugin.RetryPolicy{Attempts: 3, Base: time.Millisecond}

func TestFleet_AddAndGet(t *testing.T) {
	f := plugin.NewFleet(discardLogger())
	m := namedManager(t, "alpha", &fakeEnv{})

	require.NoError(t, f.Add(m))
	got, err := f.Get("alpha")
	require.NoError(t, err)
	assert.Same(t, m, got)
	assert.Equal(t, 1, f.Len())
}

func TestFleet_AddDuplicate(t *testing.T) {
	f := plugin.NewFleet(discardLogger())
	require.NoError(t, f.Add(namedManager(t, "alpha", &fakeEnv{})))

	err := f.Add(namedManager(t, "alpha", &fakeEnv{}))
	errutil.AssertErrorCode(t, err, plugin.CodeDuplicatePlugin)
}

func TestFleet_AddNil(t *testing.T) {
	err := plugin.NewFleet(nil).Add(nil)
	errutil.AssertErrorCode(t, err, plugin.CodeInvalidArgument)
}

func TestFleet_GetMissing(t *testing.T) {
	_, err := plugin.NewFleet(discardLogger()).Get("ghost")
	errutil.AssertErrorCode(t, err, plugin.CodePluginNotFound)
	errutil.AssertErrorContext(t, err, "plugin", "ghost")
}

func TestFleet_LoadAllAndSnapshot(t *testing.T) {
	f := plugin.NewFleet(discardLogger(), plugin.WithRetryPolicy(fastRetry))
	require.NoError(t, f.Add(namedManager(t, "beta", &fakeEnv{memory: 20})))
	require.NoError(t, f.Add(namedManager(t, "alpha", &fakeEnv{memory: 10})))

	assert.False(t, f.Ready())
	require.NoError(t, f.LoadAll(context.Background()))
	assert.True(t, f.Ready())
	assert.Equal(t, []string{"alpha", "beta"}, f.Names())

	snap := f.Snapshot(context.Background())
	require.Len(t, snap, 2)
	assert.Equal(t, "alpha", snap[0].Name)
	assert.Equal(t, plugin.StateLoaded, snap[0].State)
	assert.Equal(t, int64(10), snap[0].MemoryBytes)
	assert.Equal(t, int64(20), snap[1].MemoryBytes)

	require.NoError(t, f.UnloadAll(context.Background()))
	assert.False(t, f.Ready())
	for _, st := range f.Snapshot(context.Background()) {
		assert.Equal(t, plugin.StateUnloaded, st.State)
		assert.Equal(t, plugin.UnknownMemoryUsage, st.MemoryBytes)
	}
}

func TestFleet_LoadAllReportsFailures(t *testing.T) {
	f := plugin.NewFleet(discardLogger(), plugin.WithRetryPolicy(fastRetry))
	broken := &fakeEnv{failLoad: true}
	require.NoError(t, f.Add(namedManager(t, "good", &fakeEnv{})))
	require.NoError(t, f.Add(namedManager(t, "broken", broken)))

	err := f.LoadAll(context.Background())
	require.Error(t, err)
	errutil.AssertErrorContext(t, err, "plugins", []string{"broken"})
	assert.EqualValues(t, 3, broken.loads.Load())
	assert.False(t, f.Ready())

	snap := f.Snapshot(context.Background())
	assert.Equal(t, plugin.StateError, snap[0].State)
	assert.Contains(t, snap[0].LastError, "boot failed")
}

func TestFleet_LoadAndUnloadPlugin(t *testing.T) {
	f := plugin.NewFleet(discardLogger())
	env := &fakeEnv{failLoad: true, memory: 64}
	require.NoError(t, f.Add(namedManager(t, "alpha", env)))
	ctx := context.Background()

	st, err := f.LoadPlugin(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, plugin.StateError, st.State)
	assert.Contains(t, st.LastError, "boot failed")

	env.setFailures(false, false)
	st, err = f.LoadPlugin(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, plugin.StateLoaded, st.State)
	assert.Equal(t, int64(64), st.MemoryBytes)
	assert.Empty(t, st.LastError)

	st, err = f.UnloadPlugin(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, plugin.StateUnloaded, st.State)
	assert.Equal(t, plugin.UnknownMemoryUsage, st.MemoryBytes)

	_, err = f.LoadPlugin(ctx, "ghost")
	errutil.AssertErrorCode(t, err, plugin.CodePluginNotFound)
	_, err = f.UnloadPlugin(ctx, "ghost")
	errutil.AssertErrorCode(t, err, plugin.CodePluginNotFound)
}

func TestLoadWithRetry_RecoversAfterTransientFailure(t *testing.T) {
	env := newMockEnv(t)
	env.On("Load", mock.Anything, mock.Anything).Return(errBoot).Twice()
	env.On("Load", mock.Anything, mock.Anything).Return(nil).Once()

	m := newManager(t, env)

	assert.Equal(t, plugin.StateLoaded, plugin.LoadWithRetry(context.Background(), m, fastRetry))
	env.AssertNumberOfCalls(t, "Load", 3)
}

func TestLoadWithRetry_SingleAttempt(t *testing.T) {
	env := &fakeEnv{failLoad: true}
	m := newManager(t, env)

	state := plugin.LoadWithRetry(context.Background(), m, plugin.RetryPolicy{Attempts: 1, Base: time.Millisecond})
	assert.Equal(t, plugin.StateError, state)
	assert.EqualValues(t, 1, env.loads.Load())
}

func TestLoadWithRetry_StopsOnCancel(t *testing.T) {
	env := &fakeEnv{failLoad: true}
	m := newManager(t, env)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := plugin.LoadWithRetry(ctx, m, plugin.RetryPolicy{Attempts: 10, Base: time.Hour})
	assert.NotEqual(t, plugin.StateLoaded, state)
	assert.LessOrEqual(t, env.loads.Load(), int32(1))
}
