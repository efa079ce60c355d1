// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// Status is a point-in-time view of one managed plugin.
type Status struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	State   State  `json:"state"`
	// MemoryBytes is UnknownMemoryUsage unless the plugin is loaded.
	MemoryBytes int64  `json:"memory_bytes"`
	LastError   string `json:"last_error,omitempty"`
}

// Fleet holds the managers of every plugin a host runs, keyed by name.
type Fleet struct {
	logger *slog.Logger
	retry  RetryPolicy

	mu       sync.RWMutex
	managers map[string]*Manager
}

// FleetOption configures a Fleet.
type FleetOption func(*Fleet)

// WithRetryPolicy sets the policy used by LoadAll.
func WithRetryPolicy(p RetryPolicy) FleetOption {
	return func(f *Fleet) {
		f.retry = p
	}
}

// NewFleet creates an empty fleet.
func NewFleet(logger *slog.Logger, opts ...FleetOption) *Fleet {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fleet{
		logger:   logger,
		retry:    DefaultRetryPolicy,
		managers: make(map[string]*Manager),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Add registers a manager under its plugin name.
func (f *Fleet) Add(m *Manager) error {
	if m == nil {
		return oops.Code(CodeInvalidArgument).With("argument", "manager").Errorf("manager is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.managers[m.Name()]; exists {
		return oops.Code(CodeDuplicatePlugin).
			With("plugin", m.Name()).
			Errorf("plugin %s is already registered", m.Name())
	}
	f.managers[m.Name()] = m
	return nil
}

// Get returns the manager registered under name.
func (f *Fleet) Get(name string) (*Manager, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.managers[name]
	if !ok {
		return nil, oops.Code(CodePluginNotFound).With("plugin", name).Errorf("plugin %s not found", name)
	}
	return m, nil
}

// Names returns registered plugin names in sorted order.
func (f *Fleet) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.managers))
	for name := range f.managers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered plugins.
func (f *Fleet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.managers)
}

// LoadAll loads every plugin concurrently under the fleet retry policy.
// Plugins that fail stay in StateError; the returned error names them.
func (f *Fleet) LoadAll(ctx context.Context) error {
	managers := f.sorted()

	var wg sync.WaitGroup
	states := make([]State, len(managers))
	for i, m := range managers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			states[i] = LoadWithRetry(ctx, m, f.retry)
		}()
	}
	wg.Wait()

	var failed []string
	var errs []error
	for i, m := range managers {
		if states[i] != StateLoaded {
			failed = append(failed, m.Name())
			errs = append(errs, m.LastError())
		}
	}
	if len(failed) == 0 {
		f.logger.InfoContext(ctx, "all plugins loaded", "count", len(managers))
		return nil
	}
	return oops.Code(CodeLoadFailed).
		With("plugins", failed).
		Wrapf(errors.Join(errs...), "failed to load plugins: %s", strings.Join(failed, ", "))
}

// UnloadAll unloads every plugin in reverse name order.
// Plugins that fail stay in StateError; the returned error names them.
func (f *Fleet) UnloadAll(ctx context.Context) error {
	managers := f.sorted()
	slices.Reverse(managers)

	var failed []string
	var errs []error
	for _, m := range managers {
		if state := m.Unload(ctx); state != StateUnloaded {
			failed = append(failed, m.Name())
			errs = append(errs, m.LastError())
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return oops.Code(CodeUnloadFailed).
		With("plugins", failed).
		Wrapf(errors.Join(errs...), "failed to unload plugins: %s", strings.Join(failed, ", "))
}

// Snapshot reports the status of every plugin in name order.
func (f *Fleet) Snapshot(ctx context.Context) []Status {
	managers := f.sorted()
	out := make([]Status, 0, len(managers))
	for _, m := range managers {
		out = append(out, status(ctx, m))
	}
	return out
}

// LoadPlugin loads one plugin by name and reports its resulting status.
// A failed load is not an error; it shows up in the status.
func (f *Fleet) LoadPlugin(ctx context.Context, name string) (Status, error) {
	m, err := f.Get(name)
	if err != nil {
		return Status{}, err
	}
	m.Load(ctx)
	return status(ctx, m), nil
}

// UnloadPlugin unloads one plugin by name and reports its resulting status.
func (f *Fleet) UnloadPlugin(ctx context.Context, name string) (Status, error) {
	m, err := f.Get(name)
	if err != nil {
		return Status{}, err
	}
	m.Unload(ctx)
	return status(ctx, m), nil
}

func status(ctx context.Context, m *Manager) Status {
	st := Status{
		Name:        m.manifest.Name,
		Version:     m.manifest.Version,
		State:       m.State(),
		MemoryBytes: m.MemoryUsage(ctx),
	}
	if err := m.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// Ready reports whether the fleet is non-empty and every plugin is loaded.
func (f *Fleet) Ready() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.managers) == 0 {
		return false
	}
	for _, m := range f.managers {
		if !m.State().IsUsable() {
			return false
		}
	}
	return true
}

func (f *Fleet) sorted() []*Manager {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Manager, 0, len(f.managers))
	for _, m := range f.managers {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *Manager) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return out
}
