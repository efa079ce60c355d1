// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/holomush/pluginhost/internal/plugin"
)

// Publisher is a mock implementation of plugin.Publisher.
type Publisher struct {
	mock.Mock
}

var _ plugin.Publisher = (*Publisher)(nil)

// Publish provides a mock function with given fields: ctx, t.
func (m *Publisher) Publish(ctx context.Context, t plugin.Transition) error {
	ret := m.Called(ctx, t)
	return ret.Error(0)
}

// ConfigSource is a mock implementation of plugin.ConfigSource.
type ConfigSource struct {
	mock.Mock
}

var _ plugin.ConfigSource = (*ConfigSource)(nil)

// PluginSettings provides a mock function with given fields: name.
func (m *ConfigSource) PluginSettings(name string) map[string]any {
	ret := m.Called(name)
	settings, _ := ret.Get(0).(map[string]any)
	return settings
}
