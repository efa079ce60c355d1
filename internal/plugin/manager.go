// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/pluginhost/pkg/errutil"
)

// UnknownMemoryUsage is returned by MemoryUsage when the plugin is not loaded
// or its environment could not report a value.
const UnknownMemoryUsage int64 = -1

// Default deadlines for calls into an environment.
const (
	DefaultLoadTimeout   = 30 * time.Second
	DefaultUnloadTimeout = 10 * time.Second
	DefaultMemoryTimeout = 5 * time.Second
)

// publishTimeout bounds a single Publisher call.
const publishTimeout = 5 * time.Second

const tracerName = "github.com/holomush/pluginhost/internal/plugin"

// Dependencies are the collaborators a Manager requires. Every field must be set.
type Dependencies struct {
	Logger      *slog.Logger
	Config      ConfigSource
	Publisher   Publisher
	Directory   Directory
	Environment Environment
	Manifest    *Manifest
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLoadTimeout bounds Environment.Load. Zero or negative disables the bound.
func WithLoadTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.loadTimeout = d
	}
}

// WithUnloadTimeout bounds Environment.Unload. Zero or negative disables the bound.
func WithUnloadTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.unloadTimeout = d
	}
}

// WithMemoryTimeout bounds Environment.MemoryUsage. Zero or negative disables the bound.
func WithMemoryTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.memoryTimeout = d
	}
}

// WithMetrics records lifecycle metrics.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTracer overrides the OpenTelemetry tracer used for lifecycle spans.
func WithTracer(t trace.Tracer) ManagerOption {
	return func(m *Manager) {
		m.tracer = t
	}
}

// Manager drives one plugin through its lifecycle inside an Environment.
//
// Failures raised by the environment are contained: Load and Unload never
// return them, they move the manager to StateError and are available through
// LastError. Load and Unload are serialized per manager.
type Manager struct {
	manifest  *Manifest
	env       Environment
	logger    *slog.Logger
	config    ConfigSource
	publisher Publisher
	dir       Directory
	metrics   *Metrics
	tracer    trace.Tracer

	loadTimeout   time.Duration
	unloadTimeout time.Duration
	memoryTimeout time.Duration

	// lifecycle is held for writing by Load and Unload and for reading by
	// MemoryUsage, so the environment is never queried mid-transition.
	lifecycle sync.RWMutex

	mu      sync.RWMutex
	state   State
	lastErr error
}

// NewManager creates a manager in StateUnloaded.
func NewManager(deps Dependencies, opts ...ManagerOption) (*Manager, error) {
	required := []struct {
		name    string
		missing bool
	}{
		{"logger", deps.Logger == nil},
		{"config", deps.Config == nil},
		{"publisher", deps.Publisher == nil},
		{"directory", deps.Directory == nil},
		{"environment", deps.Environment == nil},
		{"manifest", deps.Manifest == nil},
	}
	for _, r := range required {
		if r.missing {
			return nil, oops.Code(CodeInvalidArgument).
				In("plugin").
				With("argument", r.name).
				Errorf("%s is required", r.name)
		}
	}
	if err := deps.Manifest.Validate(); err != nil {
		return nil, oops.Code(CodeInvalidArgument).
			In("plugin").
			With("argument", "manifest").
			Wrap(err)
	}

	manifest := deps.Manifest.Clone()
	m := &Manager{
		manifest:      manifest,
		env:           deps.Environment,
		logger:        deps.Logger.With("plugin", manifest.Name, "plugin_version", manifest.Version),
		config:        deps.Config,
		publisher:     deps.Publisher,
		dir:           deps.Directory,
		tracer:        otel.Tracer(tracerName),
		loadTimeout:   DefaultLoadTimeout,
		unloadTimeout: DefaultUnloadTimeout,
		memoryTimeout: DefaultMemoryTimeout,
		state:         StateUnloaded,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Name returns the managed plugin's name.
func (m *Manager) Name() string {
	return m.manifest.Name
}

// Manifest returns a copy of the managed plugin's manifest.
func (m *Manager) Manifest() Manifest {
	return *m.manifest.Clone()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastError returns the failure that moved the manager to StateError, or nil
// if the most recent lifecycle call succeeded.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Load starts the plugin in its environment and returns the resulting state.
// It may be called from any state; StateError is retried.
func (m *Manager) Load(ctx context.Context) State {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	ctx, span := m.tracer.Start(ctx, "plugin.Load",
		trace.WithAttributes(
			attribute.String("plugin.name", m.manifest.Name),
			attribute.String("plugin.version", m.manifest.Version),
		))
	defer span.End()

	m.logger.InfoContext(ctx, "loading plugin")
	m.transition(ctx, StateLoading, nil)

	boot := buildBootConfig(m.manifest, m.config, m.dir)
	m.logger.DebugContext(ctx, "creating isolation boundary", "base_dir", boot.BaseDir())

	start := time.Now()
	err := m.isolate(ctx, m.loadTimeout, "load", func(ctx context.Context) error {
		return m.env.Load(ctx, boot)
	})
	m.metrics.recordDuration(m.manifest.Name, "load", err == nil, time.Since(start))

	if err != nil {
		err = oops.Code(CodeLoadFailed).
			In("plugin").
			With("plugin", m.manifest.Name).
			With("operation", "load").
			Wrapf(err, "load plugin %s", m.manifest.Name)
		m.fail(ctx, span, "plugin load failed", err)
		return StateError
	}

	m.logger.DebugContext(ctx, "isolation boundary ready")
	m.transition(ctx, StateLoaded, nil)
	return StateLoaded
}

// Unload tears the plugin's environment down and returns the resulting state.
// It may be called from any state, including before any Load.
func (m *Manager) Unload(ctx context.Context) State {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	ctx, span := m.tracer.Start(ctx, "plugin.Unload",
		trace.WithAttributes(attribute.String("plugin.name", m.manifest.Name)))
	defer span.End()

	m.logger.InfoContext(ctx, "unloading plugin")
	m.transition(ctx, StateUnloading, nil)

	start := time.Now()
	err := m.isolate(ctx, m.unloadTimeout, "unload", m.env.Unload)
	m.metrics.recordDuration(m.manifest.Name, "unload", err == nil, time.Since(start))

	if err != nil {
		err = oops.Code(CodeUnloadFailed).
			In("plugin").
			With("plugin", m.manifest.Name).
			With("operation", "unload").
			Wrapf(err, "unload plugin %s", m.manifest.Name)
		m.fail(ctx, span, "plugin unload failed", err)
		return StateError
	}

	m.logger.DebugContext(ctx, "isolation boundary released")
	m.transition(ctx, StateUnloaded, nil)
	return StateUnloaded
}

// MemoryUsage returns the resident memory of the plugin's isolation boundary.
// Unless the plugin is loaded it returns UnknownMemoryUsage without touching
// the environment.
//
// The query never waits for a lifecycle call: while Load or Unload is running
// or waiting to run, a loaded plugin also reports UnknownMemoryUsage. A query
// that outlives the memory timeout is abandoned, so it holds up a queued
// Unload for at most that long.
func (m *Manager) MemoryUsage(ctx context.Context) int64 {
	if m.State() != StateLoaded {
		return UnknownMemoryUsage
	}
	if !m.lifecycle.TryRLock() {
		return UnknownMemoryUsage
	}
	defer m.lifecycle.RUnlock()

	if m.State() != StateLoaded {
		return UnknownMemoryUsage
	}

	result := make(chan int64, 1)
	err := m.isolate(ctx, m.memoryTimeout, "memory", func(ctx context.Context) error {
		bytes, err := m.env.MemoryUsage(ctx)
		if err != nil {
			return err
		}
		result <- bytes
		return nil
	})
	if err != nil {
		m.logger.WarnContext(ctx, "memory query failed", "error", err)
		return UnknownMemoryUsage
	}

	bytes := <-result
	m.metrics.recordMemory(m.manifest.Name, bytes)
	return bytes
}

// fail records a contained failure and moves the manager to StateError.
func (m *Manager) fail(ctx context.Context, span trace.Span, msg string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	errutil.LogErrorContext(ctx, m.logger, msg, err)
	m.metrics.recordFailure(m.manifest.Name, errutil.Code(err))
	m.transition(ctx, StateError, err)
}

// transition sets the state and notifies metrics and the publisher.
func (m *Manager) transition(ctx context.Context, to State, cause error) {
	m.mu.Lock()
	from := m.state
	m.state = to
	switch to {
	case StateError:
		m.lastErr = cause
	case StateLoaded, StateUnloaded:
		m.lastErr = nil
	}
	m.mu.Unlock()

	m.metrics.recordState(m.manifest.Name, to)

	t := Transition{
		ID:      ulid.Make().String(),
		Plugin:  m.manifest.Name,
		Version: m.manifest.Version,
		From:    from,
		To:      to,
		At:      time.Now().UTC(),
	}
	if cause != nil {
		t.Error = cause.Error()
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := m.publisher.Publish(pubCtx, t); err != nil {
		m.logger.WarnContext(ctx, "failed to publish lifecycle transition",
			"transition", t,
			"error", err)
	}
}

// isolate runs an environment call in its own goroutine with a deadline.
// Errors and panics raised by call are returned as values; a call that
// outlives the deadline is abandoned and drained in the background.
func (m *Manager) isolate(ctx context.Context, timeout time.Duration, op string, call func(context.Context) error) error {
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}

	done := make(chan error, 1)
	go func() {
		done <- capture(op, func() error { return call(callCtx) })
	}()

	select {
	case err := <-done:
		cancel()
		return err
	case <-callCtx.Done():
		cause := callCtx.Err()
		go func() {
			err := <-done
			cancel()
			if err != nil {
				m.logger.Debug("abandoned environment call finished with error",
					"operation", op,
					"error", err)
			}
		}()
		if errors.Is(cause, context.DeadlineExceeded) {
			return oops.Code(CodeTimeout).
				With("operation", op).
				With("timeout", timeout.String()).
				Wrapf(cause, "environment %s did not finish within %s", op, timeout)
		}
		return oops.Code(CodeTimeout).
			With("operation", op).
			Wrapf(cause, "environment %s abandoned", op)
	}
}

// capture converts a panic raised by fn into an error.
func capture(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.Code(CodePanic).
				With("operation", op).
				With("panic", fmt.Sprint(r)).
				Errorf("environment panicked during %s: %v", op, r)
		}
	}()
	return fn()
}
