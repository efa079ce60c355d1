// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package capability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/plugin/capability"
	"github.com/holomush/pluginhost/pkg/errutil"
)

func TestEnforcer_Check(t *testing.T) {
	tests := []struct {
		name       string
		grants     []string
		capability string
		want       bool
	}{
		{"exact match", []string{"kv.read"}, "kv.read", true},
		{"single segment wildcard", []string{"kv.*"}, "kv.write", true},
		{"single segment does not cross dots", []string{"kv.*"}, "kv.read.raw", false},
		{"double star crosses dots", []string{"kv.**"}, "kv.read.raw", true},
		{"root super wildcard", []string{"**"}, "ids.new", true},
		{"no match", []string{"log"}, "kv.read", false},
		{"empty capability", []string{"**"}, "", false},
		{"no grants", nil, "log", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := capability.NewEnforcer()
			require.NoError(t, e.Grant("greeter", tt.grants))
			assert.Equal(t, tt.want, e.Check("greeter", tt.capability))
		})
	}
}

func TestEnforcer_UnknownPluginDenied(t *testing.T) {
	var e capability.Enforcer
	assert.False(t, e.Check("ghost", capability.Log))
	assert.Nil(t, e.Grants("ghost"))
}

func TestEnforcer_GrantIsAtomic(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.Grant("greeter", []string{"log"}))

	err := e.Grant("greeter", []string{"kv.*", "[unclosed"})
	require.Error(t, err)
	assert.Equal(t, []string{"log"}, e.Grants("greeter"))

	assert.Error(t, e.Grant("greeter", []string{""}))
	assert.Error(t, e.Grant("", []string{"log"}))
}

func TestEnforcer_GrantCopiesPatterns(t *testing.T) {
	e := capability.NewEnforcer()
	patterns := []string{"log"}
	require.NoError(t, e.Grant("greeter", patterns))
	patterns[0] = "**"

	assert.False(t, e.Check("greeter", capability.KVWrite))
	got := e.Grants("greeter")
	got[0] = "**"
	assert.Equal(t, []string{"log"}, e.Grants("greeter"))
}

func TestEnforcer_Revoke(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.Grant("b", []string{"log"}))
	require.NoError(t, e.Grant("a", []string{"log"}))
	assert.Equal(t, []string{"a", "b"}, e.Plugins())

	e.Revoke("a")
	e.Revoke("never-granted")
	assert.Equal(t, []string{"b"}, e.Plugins())
	assert.False(t, e.Check("a", capability.Log))
}

func TestEnforcer_Require(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.Grant("greeter", []string{"kv.read"}))

	assert.NoError(t, e.Require("greeter", capability.KVRead))

	err := e.Require("greeter", capability.KVWrite)
	errutil.AssertErrorCode(t, err, capability.CodeDenied)
	errutil.AssertErrorContext(t, err, "capability", capability.KVWrite)
}
