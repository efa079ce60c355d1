// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/mocks"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func demoManifest(t *testing.T) *plugin.Manifest {
	t.Helper()
	m, err := plugin.NewManifest("demo", "1.0", plugin.WithMetadata("author", "tests"))
	require.NoError(t, err)
	return m
}

// deps returns a complete set of collaborators around env.
func deps(t *testing.T, env plugin.Environment) plugin.Dependencies {
	t.Helper()
	return plugin.Dependencies{
		Logger:      discardLogger(),
		Config:      plugin.StaticConfig{"demo": {"greeting": "hello"}},
		Publisher:   plugin.NopPublisher{},
		Directory:   plugin.StaticDirectory("/srv/plugins/demo"),
		Environment: env,
		Manifest:    demoManifest(t),
	}
}

func newManager(t *testing.T, env plugin.Environment, opts ...plugin.ManagerOption) *plugin.Manager {
	t.Helper()
	m, err := plugin.NewManager(deps(t, env), opts...)
	require.NoError(t, err)
	return m
}

func newMockEnv(t *testing.T) *mocks.Environment {
	return mocks.NewEnvironment(t)
}

// fakeEnv is a scriptable environment that counts calls.
type fakeEnv struct {
	mu         sync.Mutex
	failLoad   bool
	failUnload bool
	memory     int64

	loads    atomic.Int32
	unloads  atomic.Int32
	memCalls atomic.Int32
}

func (f *fakeEnv) setFailures(load, unload bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failLoad = load
	f.failUnload = unload
}

func (f *fakeEnv) Load(context.Context, plugin.BootConfig) error {
	f.loads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoad {
		return errBoot
	}
	return nil
}

func (f *fakeEnv) Unload(context.Context) error {
	f.unloads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUnload {
		return errTeardown
	}
	return nil
}

func (f *fakeEnv) MemoryUsage(context.Context) (int64, error) {
	f.memCalls.Add(1)
	return f.memory, nil
}

// recordingPublisher keeps every published transition.
type recordingPublisher struct {
	mu          sync.Mutex
	transitions []plugin.Transition
	err         error
}

func (p *recordingPublisher) Publish(_ context.Context, t plugin.Transition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = append(p.transitions, t)
	return p.err
}

func (p *recordingPublisher) targets() []plugin.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]plugin.State, len(p.transitions))
	for i, t := range p.transitions {
		out[i] = t.To
	}
	return out
}
