// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/logging"
	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/goplugin"
	"github.com/holomush/pluginhost/internal/plugin/hostfunc"
	pluginlua "github.com/holomush/pluginhost/internal/plugin/lua"
	"github.com/holomush/pluginhost/internal/xdg"
)

// bundle is a plugin bundle resolved from disk and ready to be managed.
type bundle struct {
	manifest *plugin.Manifest
	dir      xdg.PluginDir
	env      plugin.Environment
}

// runtimes carries what environments need from the host.
type runtimes struct {
	logger    *slog.Logger
	hostFuncs *hostfunc.Functions
	clients   goplugin.ClientFactory
}

// openBundle reads the manifest of root/name and builds its environment.
func openBundle(root, name string, rt runtimes) (*bundle, error) {
	dir := xdg.NewPluginDir(root, name)
	manifest, err := plugin.ReadManifest(dir.Path())
	if err != nil {
		return nil, err
	}
	if manifest.Name != name {
		return nil, oops.Code(plugin.CodeInvalidManifest).
			With("bundle", name).
			With("plugin", manifest.Name).
			Errorf("manifest name %q does not match bundle directory %q", manifest.Name, name)
	}
	if err := manifest.CheckEngine(version); err != nil {
		return nil, err
	}

	env, err := newEnvironment(manifest, rt)
	if err != nil {
		return nil, err
	}
	return &bundle{manifest: manifest, dir: dir, env: env}, nil
}

func newEnvironment(m *plugin.Manifest, rt runtimes) (plugin.Environment, error) {
	logger := rt.logger.With("plugin", m.Name)
	switch m.Type {
	case plugin.TypeLua:
		opts := []pluginlua.Option{pluginlua.WithLogger(logger)}
		if rt.hostFuncs != nil {
			opts = append(opts, pluginlua.WithHostFunctions(rt.hostFuncs))
		}
		return pluginlua.ForManifest(m, opts...), nil
	case plugin.TypeBinary:
		clients := rt.clients
		if clients == nil {
			clients = &goplugin.DefaultClientFactory{Logger: logging.HCLog(rt.logger, "plugin")}
		}
		return goplugin.ForManifest(m,
			goplugin.WithClientFactory(clients),
			goplugin.WithLogger(logger))
	default:
		return nil, oops.Code(plugin.CodeInvalidManifest).
			With("plugin", m.Name).
			Errorf("manifest does not name a runtime; set type to lua or binary")
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
