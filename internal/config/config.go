// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads plugin host configuration from a YAML file and
// command-line flags.
package config

import (
	"errors"
	"os"
	"slices"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/pluginhost/internal/plugin"
)

// CodeInvalidConfig marks a configuration that failed loading or validation.
const CodeInvalidConfig = "INVALID_CONFIG"

// DatabaseURLEnv is consulted when database-url is not configured.
const DatabaseURLEnv = "DATABASE_URL"

// Defaults for flags.
const (
	DefaultLogFormat     = "json"
	DefaultMetricsAddr   = "127.0.0.1:9100"
	DefaultPollInterval  = 15 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 500 * time.Millisecond
)

var _ plugin.ConfigSource = (*Config)(nil)

// Config is the plugin host configuration.
type Config struct {
	PluginsDir    string                    `koanf:"plugins-dir"`
	Bundles       []string                  `koanf:"bundles"`
	LogFormat     string                    `koanf:"log-format"`
	MetricsAddr   string                    `koanf:"metrics-addr"`
	ControlSocket string                    `koanf:"control-socket"`
	DatabaseURL   string                    `koanf:"database-url"`
	LoadTimeout   time.Duration             `koanf:"load-timeout"`
	UnloadTimeout time.Duration             `koanf:"unload-timeout"`
	MemoryTimeout time.Duration             `koanf:"memory-timeout"`
	PollInterval  time.Duration             `koanf:"poll-interval"`
	RetryAttempts uint64                    `koanf:"retry-attempts"`
	RetryBase     time.Duration             `koanf:"retry-base"`
	Plugins       map[string]map[string]any `koanf:"plugins"`
}

// Defaults are the environment-dependent flag defaults.
type Defaults struct {
	PluginsDir    string
	ControlSocket string
}

// RegisterFlags adds every configuration flag to fs.
func RegisterFlags(fs *pflag.FlagSet, defaults Defaults) {
	fs.String("plugins-dir", defaults.PluginsDir, "directory containing plugin bundles")
	fs.StringSlice("bundles", nil, "bundle names to manage (directories below plugins-dir)")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("control-socket", defaults.ControlSocket, "Unix socket for runtime plugin control (empty = disabled)")
	fs.String("database-url", "", "PostgreSQL URL for transition history (default: $"+DatabaseURLEnv+")")
	fs.Duration("load-timeout", plugin.DefaultLoadTimeout, "deadline for a plugin load")
	fs.Duration("unload-timeout", plugin.DefaultUnloadTimeout, "deadline for a plugin unload")
	fs.Duration("memory-timeout", plugin.DefaultMemoryTimeout, "deadline for a plugin memory query (0 = unbounded)")
	fs.Duration("poll-interval", DefaultPollInterval, "memory polling interval (0 = disabled)")
	fs.Uint64("retry-attempts", DefaultRetryAttempts, "load attempts per plugin")
	fs.Duration("retry-base", DefaultRetryBase, "base delay between load attempts")
}

// Load reads path (optional) and then fs. Flags the user set override the
// file; flag defaults only fill keys the file leaves out.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeInvalidConfig).With("path", path).Wrapf(err, "read config file")
		}
	}
	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, oops.Code(CodeInvalidConfig).Wrapf(err, "read flags")
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code(CodeInvalidConfig).Wrapf(err, "decode config")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv(DatabaseURLEnv)
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.PluginsDir == "" {
		errs = append(errs, errors.New("plugins-dir is required"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, oops.Errorf("log-format must be 'json' or 'text', got %q", c.LogFormat))
	}
	if c.LoadTimeout <= 0 {
		errs = append(errs, oops.Errorf("load-timeout must be positive, got %s", c.LoadTimeout))
	}
	if c.UnloadTimeout <= 0 {
		errs = append(errs, oops.Errorf("unload-timeout must be positive, got %s", c.UnloadTimeout))
	}
	if c.MemoryTimeout < 0 {
		errs = append(errs, oops.Errorf("memory-timeout must not be negative, got %s", c.MemoryTimeout))
	}
	if c.PollInterval < 0 {
		errs = append(errs, oops.Errorf("poll-interval must not be negative, got %s", c.PollInterval))
	}
	if c.RetryAttempts == 0 {
		errs = append(errs, errors.New("retry-attempts must be at least 1"))
	}
	if c.RetryBase <= 0 {
		errs = append(errs, oops.Errorf("retry-base must be positive, got %s", c.RetryBase))
	}
	for i, name := range c.Bundles {
		if name == "" {
			errs = append(errs, oops.Errorf("bundles[%d] is empty", i))
		} else if slices.Index(c.Bundles, name) != i {
			errs = append(errs, oops.Errorf("bundle %q is listed twice", name))
		}
	}
	if len(errs) > 0 {
		return oops.Code(CodeInvalidConfig).Wrap(errors.Join(errs...))
	}
	return nil
}

// PluginSettings implements plugin.ConfigSource.
func (c *Config) PluginSettings(name string) map[string]any {
	return c.Plugins[name]
}

// RetryPolicy returns the load retry policy.
func (c *Config) RetryPolicy() plugin.RetryPolicy {
	return plugin.RetryPolicy{Attempts: c.RetryAttempts, Base: c.RetryBase}
}
