// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// Approximate per-value costs, in bytes, of gopher-lua's Go representations.
const (
	stateOverhead    = 64 * 1024
	valueOverhead    = 16
	tableOverhead    = 96
	tableSlotCost    = 32
	functionOverhead = 128
	instructionCost  = 4
	userDataOverhead = 64
)

// estimateState walks every value reachable from the globals and registry
// tables and sums an approximate footprint. gopher-lua shares the Go heap
// with the host, so the figure is an estimate rather than a measurement.
func estimateState(L *lua.LState) int64 {
	w := &walker{seen: make(map[any]struct{})}
	total := int64(stateOverhead)
	total += w.value(L.G.Global)
	total += w.value(L.G.Registry)
	return total
}

type walker struct {
	seen map[any]struct{}
}

func (w *walker) value(v lua.LValue) int64 {
	switch val := v.(type) {
	case nil, *lua.LNilType, lua.LBool, lua.LNumber:
		return valueOverhead
	case lua.LString:
		return valueOverhead + int64(len(val))
	case *lua.LTable:
		if !w.visit(val) {
			return 0
		}
		size := int64(tableOverhead)
		val.ForEach(func(k, item lua.LValue) {
			size += tableSlotCost + w.value(k) + w.value(item)
		})
		if mt, ok := val.Metatable.(*lua.LTable); ok {
			size += w.value(mt)
		}
		return size
	case *lua.LFunction:
		if !w.visit(val) {
			return 0
		}
		size := int64(functionOverhead)
		if val.Proto != nil {
			size += int64(len(val.Proto.Code)) * instructionCost
			for _, c := range val.Proto.Constants {
				size += w.value(c)
			}
		}
		for _, up := range val.Upvalues {
			if up != nil {
				size += w.value(up.Value())
			}
		}
		return size
	case *lua.LUserData:
		if !w.visit(val) {
			return 0
		}
		return userDataOverhead + w.value(val.Metatable)
	default:
		return valueOverhead
	}
}

// visit reports whether ref is seen for the first time.
func (w *walker) visit(ref any) bool {
	if _, ok := w.seen[ref]; ok {
		return false
	}
	w.seen[ref] = struct{}{}
	return true
}
