// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hostfunc provides host functions to Lua plugins.
//
// Host functions expose host services to plugins in a controlled way.
// Functions that touch shared state require capability checks.
package hostfunc

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/pluginhost/internal/plugin/capability"
)

// GlobalName is the Lua global the host function table is bound to.
const GlobalName = "host"

// defaultCallTimeout bounds a single KV call made on behalf of a plugin.
const defaultCallTimeout = 5 * time.Second

// KVStore provides namespaced key-value storage.
type KVStore interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
}

// Functions provides host functions to Lua plugins.
type Functions struct {
	logger   *slog.Logger
	kvStore  KVStore
	enforcer *capability.Enforcer
}

// Option configures Functions.
type Option func(*Functions)

// WithLogger routes host.log output to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Functions) {
		f.logger = logger
	}
}

// New creates host functions with dependencies. Panics if enforcer is nil.
func New(kv KVStore, enforcer *capability.Enforcer, opts ...Option) *Functions {
	if enforcer == nil {
		panic("hostfunc.New: enforcer cannot be nil")
	}
	f := &Functions{
		logger:   slog.Default(),
		kvStore:  kv,
		enforcer: enforcer,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Enforcer returns the capability enforcer guarding the functions.
func (f *Functions) Enforcer() *capability.Enforcer {
	return f.enforcer
}

// Register binds the host table into a Lua state for the named plugin.
func (f *Functions) Register(ls *lua.LState, pluginName string) {
	mod := ls.NewTable()

	ls.SetField(mod, "log", ls.NewFunction(f.logFn(pluginName)))
	ls.SetField(mod, "new_request_id", ls.NewFunction(f.newRequestIDFn()))

	ls.SetField(mod, "kv_get", ls.NewFunction(f.wrap(pluginName, capability.KVRead, f.kvGetFn(pluginName))))
	ls.SetField(mod, "kv_set", ls.NewFunction(f.wrap(pluginName, capability.KVWrite, f.kvSetFn(pluginName))))
	ls.SetField(mod, "kv_delete", ls.NewFunction(f.wrap(pluginName, capability.KVWrite, f.kvDeleteFn(pluginName))))

	ls.SetGlobal(GlobalName, mod)
}

func (f *Functions) wrap(plugin, capName string, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		if !f.enforcer.Check(plugin, capName) {
			L.RaiseError("capability denied: %s requires %s", plugin, capName)
			return 0
		}
		return fn(L)
	}
}

func (f *Functions) logFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		ctx := callContext(L)
		logger := f.logger.With("plugin", pluginName, "source", "lua")
		switch level {
		case "debug":
			logger.DebugContext(ctx, message)
		case "warn":
			logger.WarnContext(ctx, message)
		case "error":
			logger.ErrorContext(ctx, message)
		default:
			logger.InfoContext(ctx, message)
		}
		return 0
	}
}

func (f *Functions) newRequestIDFn() lua.LGFunction {
	return func(L *lua.LState) int {
		L.Push(lua.LString(ulid.Make().String()))
		return 1
	}
}

func (f *Functions) kvGetFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		if f.kvStore == nil {
			return pushError(L, "kv store not available")
		}

		ctx, cancel := context.WithTimeout(callContext(L), defaultCallTimeout)
		defer cancel()
		value, err := f.kvStore.Get(ctx, pluginName, key)
		if err != nil {
			return pushError(L, err.Error())
		}
		if value == nil {
			return pushSuccess(L, lua.LNil)
		}
		return pushSuccess(L, lua.LString(string(value)))
	}
}

func (f *Functions) kvSetFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		value := L.CheckString(2)
		if f.kvStore == nil {
			L.Push(lua.LString("kv store not available"))
			return 1
		}

		ctx, cancel := context.WithTimeout(callContext(L), defaultCallTimeout)
		defer cancel()
		if err := f.kvStore.Set(ctx, pluginName, key, []byte(value)); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}

func (f *Functions) kvDeleteFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		if f.kvStore == nil {
			L.Push(lua.LString("kv store not available"))
			return 1
		}

		ctx, cancel := context.WithTimeout(callContext(L), defaultCallTimeout)
		defer cancel()
		if err := f.kvStore.Delete(ctx, pluginName, key); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}
