// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	"hash"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"golang.org/x/crypto/blake2b"

	"github.com/holomush/pluginhost/pkg/pluginsdk"
)

// DefaultStartTimeout bounds the go-plugin handshake with a child process.
const DefaultStartTimeout = 30 * time.Second

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the gRPC client protocol, starting the process if needed.
	Client() (hashiplug.ClientProtocol, error)
	// ReattachConfig describes the running process, or nil before start.
	ReattachConfig() *hashiplug.ReattachConfig
	// Kill terminates the plugin process.
	Kill()
}

// ClientOptions carries per-plugin settings into a ClientFactory.
type ClientOptions struct {
	// Name is the plugin name, used to scope process logs.
	Name string
	// Checksum is the expected BLAKE2b-256 digest of the executable, or nil.
	Checksum []byte
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string, opts ClientOptions) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct {
	// Logger receives the child's go-plugin logs; nil uses hclog.Default().
	Logger hclog.Logger
	// StartTimeout overrides DefaultStartTimeout.
	StartTimeout time.Duration
}

// NewClient creates a real go-plugin client. go-plugin verifies the checksum
// again right before exec.
func (f *DefaultClientFactory) NewClient(execPath string, opts ClientOptions) PluginClient {
	logger := f.Logger
	if logger == nil {
		logger = hclog.Default()
	}
	timeout := f.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}

	cfg := &hashiplug.ClientConfig{
		HandshakeConfig:  pluginsdk.HandshakeConfig,
		Plugins:          pluginsdk.PluginSet(nil),
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath resolved from a validated manifest inside the bundle directory
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
		Logger:           logger.Named(opts.Name),
		StartTimeout:     timeout,
		// The gRPC channel to the child is mutually authenticated with
		// per-process certificates.
		AutoMTLS: true,
	}
	if len(opts.Checksum) > 0 {
		cfg.SecureConfig = &hashiplug.SecureConfig{
			Checksum: opts.Checksum,
			Hash:     newHash(),
		}
	}
	return hashiplug.NewClient(cfg)
}

func newHash() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only a key longer than 64 bytes fails, and no key is passed.
		panic(err)
	}
	return h
}
