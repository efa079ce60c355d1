// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hostfunc

import (
	"fmt"
	"slices"

	lua "github.com/yuin/gopher-lua"
)

// ToLua converts a Go value decoded from YAML or koanf into a Lua value.
// Unsupported types become their fmt representation.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []string:
		tbl := L.CreateTable(len(val), 0)
		for _, s := range val {
			tbl.Append(lua.LString(s))
		}
		return tbl
	case []any:
		tbl := L.CreateTable(len(val), 0)
		for _, item := range val {
			tbl.Append(ToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.CreateTable(0, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			tbl.RawSetString(k, ToLua(L, val[k]))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// FromLua converts a Lua value to a Go value.
func FromLua(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		if isArray(val) {
			return tableToSlice(val)
		}
		return tableToMap(val)
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

// isArray reports whether a table has only sequential integer keys from 1.
// The empty table counts as an array.
func isArray(tbl *lua.LTable) bool {
	maxN := tbl.MaxN()
	count := 0
	tbl.ForEach(func(_, _ lua.LValue) {
		count++
	})
	return count == maxN
}

func tableToSlice(tbl *lua.LTable) []any {
	out := make([]any, 0, tbl.MaxN())
	for i := 1; i <= tbl.MaxN(); i++ {
		out = append(out, FromLua(tbl.RawGetInt(i)))
	}
	return out
}

func tableToMap(tbl *lua.LTable) map[string]any {
	out := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		out[k.String()] = FromLua(v)
	})
	return out
}
