// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks provides testify mocks for the plugin package interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/holomush/pluginhost/internal/plugin"
)

// Environment is a mock implementation of plugin.Environment.
type Environment struct {
	mock.Mock
}

var _ plugin.Environment = (*Environment)(nil)

// NewEnvironment creates an Environment mock and registers expectation
// assertions on test cleanup.
func NewEnvironment(t interface {
	mock.TestingT
	Cleanup(func())
},
) *Environment {
	m := &Environment{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Load provides a mock function with given fields: ctx, boot.
func (m *Environment) Load(ctx context.Context, boot plugin.BootConfig) error {
	ret := m.Called(ctx, boot)
	if fn, ok := ret.Get(0).(func(context.Context, plugin.BootConfig) error); ok {
		return fn(ctx, boot)
	}
	return ret.Error(0)
}

// Unload provides a mock function with given fields: ctx.
func (m *Environment) Unload(ctx context.Context) error {
	ret := m.Called(ctx)
	if fn, ok := ret.Get(0).(func(context.Context) error); ok {
		return fn(ctx)
	}
	return ret.Error(0)
}

// MemoryUsage provides a mock function with given fields: ctx.
func (m *Environment) MemoryUsage(ctx context.Context) (int64, error) {
	ret := m.Called(ctx)
	return ret.Get(0).(int64), ret.Error(1)
}
