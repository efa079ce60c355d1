// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import "github.com/samber/oops"

// State is the lifecycle state of a managed plugin.
type State int

// Lifecycle states.
const (
	// StateUnloaded means no isolation boundary is held for the plugin.
	StateUnloaded State = iota
	// StateLoading means a Load call is in flight.
	StateLoading
	// StateLoaded means the environment finished loading and the plugin is usable.
	StateLoaded
	// StateUnloading means an Unload call is in flight.
	StateUnloading
	// StateError means the last Load or Unload failed inside the environment.
	// It is recoverable by calling Load or Unload again.
	StateError
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateUnloading:
		return "unloading"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsUsable reports whether work may be scheduled on a plugin in this state.
func (s State) IsUsable() bool {
	return s == StateLoaded
}

// AllStates lists every state in declaration order.
func AllStates() []State {
	return []State{StateUnloaded, StateLoading, StateLoaded, StateUnloading, StateError}
}

// ParseState returns the state whose String form is s.
func ParseState(s string) (State, bool) {
	for _, st := range AllStates() {
		if st.String() == s {
			return st, true
		}
	}
	return StateUnloaded, false
}

// MarshalText encodes the state as its String form.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state from its String form.
func (s *State) UnmarshalText(text []byte) error {
	st, ok := ParseState(string(text))
	if !ok {
		return oops.Code(CodeInvalidArgument).Errorf("unknown plugin state %q", text)
	}
	*s = st
	return nil
}
