// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua runs plugins inside sandboxed gopher-lua interpreters.
package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// safeLibrary represents a Lua library that is safe to load in sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries returns the list of libraries safe to load.
// Safe: base, table, string, math.
// Blocked: os, io, debug, package, coroutine, channel.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions lists base library functions that reach the filesystem
// or compile code outside the entry file.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// Limits bounds the interpreter's stacks. Zero fields keep gopher-lua defaults.
type Limits struct {
	CallStackSize   int
	RegistrySize    int
	RegistryMaxSize int
}

// DefaultLimits keeps a runaway plugin from growing its stacks without bound.
var DefaultLimits = Limits{
	CallStackSize:   256,
	RegistrySize:    1024,
	RegistryMaxSize: 64 * 1024,
}

// StateFactory creates sandboxed Lua states with only safe libraries.
type StateFactory struct {
	limits Limits
	// libraries allows overriding the default safe libraries for testing.
	libraries []safeLibrary
}

// NewStateFactory creates a state factory with the given stack limits.
func NewStateFactory(limits Limits) *StateFactory {
	return &StateFactory{
		limits:    limits,
		libraries: defaultSafeLibraries(),
	}
}

// NewState creates a fresh Lua state with only safe libraries loaded and the
// unsafe base functions removed. The state is bound to ctx; callers rebind it
// with SetContext for later calls.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       f.limits.CallStackSize,
		RegistrySize:        f.limits.RegistrySize,
		RegistryMaxSize:     f.limits.RegistryMaxSize,
		IncludeGoStackTrace: false,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "failed to open library %s", lib.name)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	if ctx != nil {
		L.SetContext(ctx)
	}
	return L, nil
}
