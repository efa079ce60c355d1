// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability gates host functions behind the capability patterns a
// plugin manifest declares.
//
// Pattern matching uses gobwas/glob with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "kv.*" matches "kv.read" but NOT "kv.read.raw"
//   - "kv.**" matches both
//   - "**" matches any capability
package capability

import (
	"slices"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Host capabilities a plugin may request.
const (
	Log     = "log"
	IDs     = "ids.new"
	KVRead  = "kv.read"
	KVWrite = "kv.write"
)

// CodeDenied marks a host call refused for lack of a capability.
const CodeDenied = "CAPABILITY_DENIED"

// compiledGrant holds a pattern and its compiled glob.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks plugin capabilities at runtime.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string][]compiledGrant // plugin name -> compiled grants
}

// NewEnforcer creates a capability enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string][]compiledGrant),
	}
}

// Grant replaces the capability patterns of a plugin. Every pattern is
// compiled before any state changes, so a bad pattern leaves the previous
// grants in place.
func (e *Enforcer) Grant(plugin string, patterns []string) error {
	if plugin == "" {
		return oops.In("capability").Errorf("plugin name cannot be empty")
	}

	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return oops.In("capability").With("plugin", plugin).With("index", i).
				Errorf("empty capability pattern")
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return oops.In("capability").With("plugin", plugin).With("pattern", pattern).
				Wrapf(err, "compile capability pattern")
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[plugin] = compiled
	return nil
}

// Revoke removes every grant of a plugin. Safe for unknown plugins.
func (e *Enforcer) Revoke(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, plugin)
}

// Grants returns a copy of the patterns granted to a plugin, or nil.
func (e *Enforcer) Grants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	grants, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Plugins returns the names of plugins holding grants, sorted.
func (e *Enforcer) Plugins() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.grants))
	for name := range e.grants {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Check reports whether the plugin holds the capability. Unknown plugins and
// empty capabilities are denied.
func (e *Enforcer) Check(plugin, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, grant := range e.grants[plugin] {
		if grant.glob.Match(capability) {
			return true
		}
	}
	return false
}

// Require is Check returning a CodeDenied error on refusal.
func (e *Enforcer) Require(plugin, capability string) error {
	if e.Check(plugin, capability) {
		return nil
	}
	return oops.Code(CodeDenied).
		In("capability").
		With("plugin", plugin).
		With("capability", capability).
		Errorf("capability denied: %s requires %s", plugin, capability)
}
