// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package goplugin runs binary plugins as child processes over go-plugin gRPC.
package goplugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/prometheus/procfs"
	"github.com/samber/oops"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/pkg/pluginsdk"
)

// Compile-time interface check.
var _ plugin.Environment = (*Environment)(nil)

// MemoryReader returns the resident set size of a process in bytes.
type MemoryReader func(pid int) (int64, error)

// Environment runs one plugin in a separate process.
//
// Load starts the executable named by the manifest, dispenses the lifecycle
// client and calls Init with the boot configuration. Unload calls Shutdown
// and always kills the process.
type Environment struct {
	executable string
	checksum   []byte
	factory    ClientFactory
	memory     MemoryReader
	logger     *slog.Logger

	mu        sync.Mutex
	gen       uint64
	client    PluginClient
	lifecycle pluginsdk.LifecycleClient
}

// Option configures an Environment.
type Option func(*Environment)

// WithClientFactory sets a custom client factory (for testing).
func WithClientFactory(f ClientFactory) Option {
	return func(e *Environment) {
		e.factory = f
	}
}

// WithMemoryReader overrides the procfs RSS reader.
func WithMemoryReader(r MemoryReader) Option {
	return func(e *Environment) {
		e.memory = r
	}
}

// WithLogger sets the environment logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Environment) {
		e.logger = logger
	}
}

// New creates an environment for the given executable. executable is relative
// to the boot base directory and may contain ${os} and ${arch}. checksum is a
// manifest checksum string; empty disables verification.
func New(executable, checksum string, opts ...Option) (*Environment, error) {
	sum, err := ParseChecksum(checksum)
	if err != nil {
		return nil, err
	}
	e := &Environment{
		executable: executable,
		checksum:   sum,
		factory:    &DefaultClientFactory{},
		memory:     ResidentMemory,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ForManifest creates an environment for a binary manifest.
func ForManifest(m *plugin.Manifest, opts ...Option) (*Environment, error) {
	if m.BinaryPlugin == nil {
		return nil, oops.Code(plugin.CodeInvalidManifest).
			In("goplugin").
			With("plugin", m.Name).
			Errorf("manifest has no binary-plugin section")
	}
	return New(m.BinaryPlugin.Executable, m.BinaryPlugin.Checksum, opts...)
}

// Load implements plugin.Environment.
func (e *Environment) Load(ctx context.Context, boot plugin.BootConfig) error {
	name := boot.String(plugin.BootKeyName)
	errb := oops.In("goplugin").With("plugin", name).With("operation", "load")

	// A failed or abandoned earlier attempt may have left a process behind.
	e.mu.Lock()
	stale := e.client
	e.client, e.lifecycle = nil, nil
	e.gen++
	gen := e.gen
	e.mu.Unlock()
	if stale != nil {
		stale.Kill()
	}

	execPath, err := e.resolve(boot.BaseDir())
	if err != nil {
		return errb.Wrap(err)
	}
	if _, err := os.Stat(execPath); err != nil {
		return errb.With("path", execPath).Hint("plugin executable not found").Wrap(err)
	}
	if len(e.checksum) > 0 {
		if err := VerifyChecksum(execPath, e.checksum); err != nil {
			return errb.Wrap(err)
		}
	}

	client := e.factory.NewClient(execPath, ClientOptions{Name: name, Checksum: e.checksum})
	if !e.adopt(gen, client, nil) {
		client.Kill()
		return errb.Errorf("load superseded by a newer attempt")
	}

	lc, err := dispense(client)
	if err != nil {
		e.release(gen)
		return errb.With("path", execPath).Wrap(err)
	}

	cfg, err := pluginsdk.EncodeConfig(boot)
	if err != nil {
		e.release(gen)
		return errb.Hint("boot configuration is not encodable").Wrap(err)
	}
	if _, err := lc.Init(ctx, cfg); err != nil {
		e.release(gen)
		return errb.Hint("plugin init failed").Wrap(err)
	}

	if !e.adopt(gen, client, lc) {
		return errb.Errorf("load superseded by a newer attempt")
	}
	e.logger.DebugContext(ctx, "plugin process ready", "plugin", name, "path", execPath)
	return nil
}

// Unload implements plugin.Environment. Without a process it is a no-op.
func (e *Environment) Unload(ctx context.Context) error {
	e.mu.Lock()
	client, lc := e.client, e.lifecycle
	e.client, e.lifecycle = nil, nil
	e.gen++
	e.mu.Unlock()

	if client == nil {
		return nil
	}
	defer client.Kill()

	if lc == nil {
		return nil
	}
	if _, err := lc.Shutdown(ctx, &emptypb.Empty{}); err != nil {
		return oops.In("goplugin").With("operation", "unload").Hint("plugin shutdown failed").Wrap(err)
	}
	return nil
}

// MemoryUsage implements plugin.Environment by reading the process RSS.
func (e *Environment) MemoryUsage(_ context.Context) (int64, error) {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()

	errb := oops.In("goplugin").With("operation", "memory")
	if client == nil {
		return 0, errb.Errorf("no plugin process")
	}
	rc := client.ReattachConfig()
	if rc == nil || rc.Pid <= 0 {
		return 0, errb.Errorf("plugin process id unavailable")
	}
	bytes, err := e.memory(rc.Pid)
	if err != nil {
		return 0, errb.With("pid", rc.Pid).Wrap(err)
	}
	return bytes, nil
}

func (e *Environment) resolve(base string) (string, error) {
	return ExecutablePath(base, e.executable)
}

// ExecutablePath expands the ${os} and ${arch} placeholders in executable and
// joins it onto the bundle directory base.
func ExecutablePath(base, executable string) (string, error) {
	rel := strings.NewReplacer("${os}", runtime.GOOS, "${arch}", runtime.GOARCH).Replace(executable)
	if !filepath.IsLocal(rel) {
		return "", oops.With("executable", rel).Errorf("executable must be a relative path inside the plugin directory")
	}
	return filepath.Join(base, rel), nil
}

// adopt records client and lc if gen is still the current attempt.
func (e *Environment) adopt(gen uint64, client PluginClient, lc pluginsdk.LifecycleClient) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return false
	}
	e.client, e.lifecycle = client, lc
	return true
}

// release kills the process started by attempt gen if it is still current.
func (e *Environment) release(gen uint64) {
	e.mu.Lock()
	client := e.client
	if e.gen != gen {
		client = nil
	} else {
		e.client, e.lifecycle = nil, nil
	}
	e.mu.Unlock()
	if client != nil {
		client.Kill()
	}
}

func dispense(client PluginClient) (pluginsdk.LifecycleClient, error) {
	rpc, err := client.Client()
	if err != nil {
		return nil, oops.Hint("failed to start plugin process").Wrap(err)
	}
	raw, err := rpc.Dispense(pluginsdk.PluginName)
	if err != nil {
		return nil, oops.Hint("failed to dispense lifecycle client").Wrap(err)
	}
	lc, ok := raw.(pluginsdk.LifecycleClient)
	if !ok {
		return nil, oops.Errorf("dispensed %T does not implement the lifecycle client", raw)
	}
	return lc, nil
}

// ResidentMemory reads a process's resident set size from procfs.
func ResidentMemory(pid int) (int64, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return 0, oops.With("pid", pid).Wrap(err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, oops.With("pid", pid).Wrap(err)
	}
	return int64(stat.ResidentMemory()), nil
}
