// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/hostfunc"
)

// Lifecycle hooks a plugin script may define.
const (
	HookLoad   = "on_load"
	HookUnload = "on_unload"
)

// DefaultEntry is the entry file used when none is configured.
const DefaultEntry = "main.lua"

// Compile-time interface check.
var _ plugin.Environment = (*Environment)(nil)

// Environment runs one plugin inside a dedicated sandboxed Lua state.
//
// Load reads the entry file from the boot base directory, executes it and
// calls on_load(config) when the script defines it. Unload calls on_unload()
// and closes the state.
type Environment struct {
	entry     string
	factory   *StateFactory
	hostFuncs *hostfunc.Functions
	logger    *slog.Logger

	mu     sync.Mutex
	state  *lua.LState
	plugin string
}

// Option configures an Environment.
type Option func(*Environment)

// WithEntry sets the entry file, relative to the boot base directory.
func WithEntry(entry string) Option {
	return func(e *Environment) {
		e.entry = entry
	}
}

// WithLimits overrides DefaultLimits.
func WithLimits(limits Limits) Option {
	return func(e *Environment) {
		e.factory = NewStateFactory(limits)
	}
}

// WithHostFunctions exposes host functions to the script. Capabilities from
// the boot configuration are granted on load and revoked on unload.
func WithHostFunctions(hf *hostfunc.Functions) Option {
	return func(e *Environment) {
		e.hostFuncs = hf
	}
}

// WithLogger sets the environment logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Environment) {
		e.logger = logger
	}
}

// New creates a Lua environment.
func New(opts ...Option) *Environment {
	e := &Environment{
		entry:   DefaultEntry,
		factory: NewStateFactory(DefaultLimits),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ForManifest creates an environment for a Lua manifest.
func ForManifest(m *plugin.Manifest, opts ...Option) *Environment {
	if m.LuaPlugin != nil && m.LuaPlugin.Entry != "" {
		opts = append([]Option{WithEntry(m.LuaPlugin.Entry)}, opts...)
	}
	return New(opts...)
}

// Load implements plugin.Environment.
func (e *Environment) Load(ctx context.Context, boot plugin.BootConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := boot.String(plugin.BootKeyName)
	errb := oops.In("lua").With("plugin", name).With("operation", "load")

	// A failed or abandoned earlier attempt may have left a state behind.
	e.closeLocked()

	if !filepath.IsLocal(e.entry) {
		return errb.With("entry", e.entry).Errorf("entry must be a relative path inside the plugin directory")
	}
	entryPath := filepath.Join(boot.BaseDir(), e.entry)
	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return errb.With("path", entryPath).Hint("failed to read entry file").Wrap(err)
	}

	L, err := e.factory.NewState(ctx)
	if err != nil {
		return errb.Hint("failed to create state").Wrap(err)
	}

	if e.hostFuncs != nil {
		if err := e.hostFuncs.Enforcer().Grant(name, boot.Strings(plugin.BootKeyCapabilities)); err != nil {
			L.Close()
			return errb.Hint("invalid capability pattern").Wrap(err)
		}
		e.hostFuncs.Register(L, name)
	}

	fn, err := L.Load(bytes.NewReader(code), e.entry)
	if err != nil {
		e.abort(L, name)
		return errb.With("entry", e.entry).Hint("syntax error").Wrap(err)
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		e.abort(L, name)
		return errb.With("entry", e.entry).Hint("entry file raised an error").Wrap(err)
	}

	if err := callHook(L, HookLoad, hostfunc.ToLua(L, map[string]any(boot))); err != nil {
		e.abort(L, name)
		return errb.With("hook", HookLoad).Wrap(err)
	}

	L.RemoveContext()
	e.state = L
	e.plugin = name
	e.logger.DebugContext(ctx, "lua state ready", "plugin", name, "entry", e.entry)
	return nil
}

// Unload implements plugin.Environment. Without a live state it is a no-op.
func (e *Environment) Unload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return nil
	}

	L, name := e.state, e.plugin
	L.SetContext(ctx)
	hookErr := callHook(L, HookUnload)
	e.closeLocked()

	if hookErr != nil {
		return oops.In("lua").With("plugin", name).With("operation", "unload").With("hook", HookUnload).Wrap(hookErr)
	}
	return nil
}

// MemoryUsage implements plugin.Environment by estimating the bytes reachable
// from the state's globals and registry.
func (e *Environment) MemoryUsage(_ context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return 0, oops.In("lua").With("operation", "memory").Errorf("no lua state")
	}
	return estimateState(e.state), nil
}

// abort closes a state that never became live.
func (e *Environment) abort(L *lua.LState, name string) {
	L.Close()
	if e.hostFuncs != nil {
		e.hostFuncs.Enforcer().Revoke(name)
	}
}

// closeLocked releases the live state, if any. Callers hold e.mu.
func (e *Environment) closeLocked() {
	if e.state == nil {
		return
	}
	e.state.Close()
	if e.hostFuncs != nil {
		e.hostFuncs.Enforcer().Revoke(e.plugin)
	}
	e.state = nil
	e.plugin = ""
}

// callHook calls a global function if the script defines it.
func callHook(L *lua.LState, name string, args ...lua.LValue) error {
	fn := L.GetGlobal(name)
	if fn.Type() == lua.LTNil {
		return nil
	}
	if fn.Type() != lua.LTFunction {
		return oops.Errorf("%s is a %s, not a function", name, fn.Type())
	}
	return L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, args...)
}
