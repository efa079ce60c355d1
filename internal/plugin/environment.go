// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin provides plugin management and lifecycle control.
package plugin

import (
	"context"
	"log/slog"
	"time"
)

// Environment runs a plugin's code inside an isolation boundary such as a
// separate process or a sandboxed interpreter.
//
// A Manager is the only caller of an Environment and only calls MemoryUsage
// while the plugin is loaded. Load may be called again after a failed or
// abandoned Load; implementations release whatever the earlier attempt left
// behind before building a new boundary.
type Environment interface {
	// Load establishes the boundary and starts the plugin entry point.
	Load(ctx context.Context, boot BootConfig) error

	// Unload tears the boundary down. It must be safe when the boundary was
	// never created or only partially created.
	Unload(ctx context.Context) error

	// MemoryUsage returns resident memory attributable to the boundary, in bytes.
	MemoryUsage(ctx context.Context) (int64, error)
}

// ConfigSource supplies host-side settings for a plugin.
type ConfigSource interface {
	// PluginSettings returns the settings tree configured for the named plugin.
	// It returns nil when nothing is configured.
	PluginSettings(name string) map[string]any
}

// Directory supplies the base path from which a plugin bundle is materialized.
type Directory interface {
	Path() string
}

// Publisher receives lifecycle transitions. Publication is observational:
// a failed Publish never changes the outcome of a transition.
type Publisher interface {
	Publish(ctx context.Context, t Transition) error
}

// Transition records a single state change of a managed plugin.
type Transition struct {
	ID      string
	Plugin  string
	Version string
	From    State
	To      State
	// Error holds the failure text when To is StateError.
	Error string
	At    time.Time
}

// LogValue renders the transition as a structured log group.
func (t Transition) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", t.ID),
		slog.String("plugin", t.Plugin),
		slog.String("version", t.Version),
		slog.String("from", t.From.String()),
		slog.String("to", t.To.String()),
	}
	if t.Error != "" {
		attrs = append(attrs, slog.String("error", t.Error))
	}
	return slog.GroupValue(attrs...)
}

// NopPublisher discards all transitions.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Transition) error { return nil }

// StaticDirectory is a Directory backed by a fixed path.
type StaticDirectory string

// Path implements Directory.
func (d StaticDirectory) Path() string { return string(d) }

// StaticConfig is a ConfigSource backed by an in-memory map keyed by plugin name.
type StaticConfig map[string]map[string]any

// PluginSettings implements ConfigSource.
func (c StaticConfig) PluginSettings(name string) map[string]any {
	return c[name]
}
