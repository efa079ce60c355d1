// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pluginsdk provides the SDK for building binary plugins.
//
// Binary plugins run as child processes and talk to the host via gRPC using
// the HashiCorp go-plugin framework. The host calls Init once the process is
// up and Shutdown before killing it.
//
// Example usage:
//
//	package main
//
//	import (
//		"context"
//		"github.com/holomush/pluginhost/pkg/pluginsdk"
//	)
//
//	type Greeter struct{}
//
//	func (g *Greeter) Init(ctx context.Context, cfg pluginsdk.Config) error {
//		return nil
//	}
//
//	func (g *Greeter) Shutdown(ctx context.Context) error {
//		return nil
//	}
//
//	func main() {
//		pluginsdk.Serve(&pluginsdk.ServeConfig{Plugin: &Greeter{}})
//	}
package pluginsdk

import (
	"context"
	"errors"

	hashiplug "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// PluginName is the key under which the lifecycle plugin is dispensed.
const PluginName = "lifecycle"

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and plugins must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PLUGINHOST_PLUGIN",
	MagicCookieValue: "pluginhost-lifecycle-v1",
}

// Plugin is the interface binary plugins implement.
type Plugin interface {
	// Init receives the boot configuration and starts the plugin.
	Init(ctx context.Context, cfg Config) error
	// Shutdown releases plugin resources before the process is killed.
	Shutdown(ctx context.Context) error
}

// ServeConfig configures the plugin server.
type ServeConfig struct {
	// Plugin is the lifecycle implementation.
	// Required; Serve will panic if nil.
	Plugin Plugin
}

// Serve starts the plugin server. This should be called from main().
// It blocks and never returns under normal operation.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("pluginsdk: config cannot be nil")
	}
	if config.Plugin == nil {
		panic("pluginsdk: config.Plugin cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginSet(config.Plugin),
		GRPCServer:      hashiplug.DefaultGRPCServer,
	})
}

// PluginSet returns the go-plugin plugin map. The host passes nil.
func PluginSet(impl Plugin) hashiplug.PluginSet {
	return hashiplug.PluginSet{
		PluginName: &GRPCPlugin{Impl: impl},
	}
}

// GRPCPlugin implements go-plugin's Plugin interface for gRPC.
type GRPCPlugin struct {
	hashiplug.NetRPCUnsupportedPlugin
	// Impl is used by the plugin side only.
	Impl Plugin
}

// GRPCServer registers the lifecycle server (called by plugin process).
func (p *GRPCPlugin) GRPCServer(_ *hashiplug.GRPCBroker, s *grpc.Server) error {
	if p.Impl == nil {
		return errors.New("pluginsdk: plugin implementation is nil")
	}
	RegisterLifecycleServer(s, &lifecycleAdapter{impl: p.Impl})
	return nil
}

// GRPCClient returns a lifecycle client (called by host process).
func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *hashiplug.GRPCBroker, c *grpc.ClientConn) (any, error) {
	return NewLifecycleClient(c), nil
}

// lifecycleAdapter adapts Plugin to LifecycleServer.
type lifecycleAdapter struct {
	impl Plugin
}

// Init implements LifecycleServer.
func (a *lifecycleAdapter) Init(ctx context.Context, cfg *structpb.Struct) (*emptypb.Empty, error) {
	if err := a.impl.Init(ctx, Config(cfg.AsMap())); err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "init: %v", err)
	}
	return &emptypb.Empty{}, nil
}

// Shutdown implements LifecycleServer.
func (a *lifecycleAdapter) Shutdown(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := a.impl.Shutdown(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "shutdown: %v", err)
	}
	return &emptypb.Empty{}, nil
}
