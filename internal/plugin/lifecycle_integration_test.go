// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package plugin_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/capability"
	"github.com/holomush/pluginhost/internal/plugin/hostfunc"
	pluginlua "github.com/holomush/pluginhost/internal/plugin/lua"
)

const greeterScript = `
greeting = nil

function on_load(config)
  greeting = config.settings.greeting or "hello"
  host.log("info", "greeter loaded")
  host.kv_set("greeting", greeting)
end

function on_unload()
  host.kv_delete("greeting")
end
`

var _ = Describe("Lua plugin lifecycle", func() {
	var (
		dir      string
		kv       *hostfunc.MemoryKV
		enforcer *capability.Enforcer
		pub      *recordingPublisher
		mgr      *plugin.Manager
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "main.lua"), []byte(greeterScript), 0o600)).To(Succeed())

		kv = hostfunc.NewMemoryKV()
		enforcer = capability.NewEnforcer()
		pub = &recordingPublisher{}

		manifest, err := plugin.NewManifest("greeter", "1.0.0",
			plugin.WithLuaEntry("main.lua"),
			plugin.WithCapabilities("log", "kv.*"))
		Expect(err).NotTo(HaveOccurred())

		env := pluginlua.ForManifest(manifest,
			pluginlua.WithHostFunctions(hostfunc.New(kv, enforcer)))

		mgr, err = plugin.NewManager(plugin.Dependencies{
			Logger:      discardLogger(),
			Config:      plugin.StaticConfig{"greeter": {"greeting": "howdy"}},
			Publisher:   pub,
			Directory:   plugin.StaticDirectory(dir),
			Environment: env,
			Manifest:    manifest,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("loads, reports memory and unloads", func() {
		ctx := context.Background()

		Expect(mgr.Load(ctx)).To(Equal(plugin.StateLoaded))
		Expect(mgr.MemoryUsage(ctx)).To(BeNumerically(">", 0))

		value, err := kv.Get(ctx, "greeter", "greeting")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(value)).To(Equal("howdy"))
		Expect(enforcer.Check("greeter", "kv.write")).To(BeTrue())

		Expect(mgr.Unload(ctx)).To(Equal(plugin.StateUnloaded))
		Expect(mgr.MemoryUsage(ctx)).To(Equal(plugin.UnknownMemoryUsage))

		value, err = kv.Get(ctx, "greeter", "greeting")
		Expect(err).NotTo(HaveOccurred())
		Expect(value).To(BeNil())
		Expect(enforcer.Check("greeter", "kv.write")).To(BeFalse())

		Expect(pub.targets()).To(Equal([]plugin.State{
			plugin.StateLoading, plugin.StateLoaded,
			plugin.StateUnloading, plugin.StateUnloaded,
		}))
	})

	It("recovers after the script is fixed", func() {
		ctx := context.Background()
		Expect(os.WriteFile(filepath.Join(dir, "main.lua"), []byte("error('broken')"), 0o600)).To(Succeed())

		Expect(mgr.Load(ctx)).To(Equal(plugin.StateError))
		Expect(mgr.LastError()).To(MatchError(ContainSubstring("broken")))

		Expect(os.WriteFile(filepath.Join(dir, "main.lua"), []byte(greeterScript), 0o600)).To(Succeed())
		Expect(mgr.Load(ctx)).To(Equal(plugin.StateLoaded))
		Expect(mgr.LastError()).To(BeNil())
	})
})
