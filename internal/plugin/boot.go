// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import "maps"

// Boot configuration keys passed to Environment.Load.
const (
	BootKeyName         = "name"
	BootKeyVersion      = "version"
	BootKeyMetadata     = "metadata"
	BootKeyBaseDir      = "base_dir"
	BootKeySettings     = "settings"
	BootKeyCapabilities = "capabilities"
)

// BootConfig is the configuration mapping handed to an Environment at load time.
type BootConfig map[string]any

// String returns the value stored under key, or "" if it is absent or not a string.
func (b BootConfig) String(key string) string {
	s, _ := b[key].(string)
	return s
}

// Map returns the nested mapping stored under key, or nil.
func (b BootConfig) Map(key string) map[string]any {
	m, _ := b[key].(map[string]any)
	return m
}

// Strings returns the string slice stored under key, or nil.
func (b BootConfig) Strings(key string) []string {
	switch v := b[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// BaseDir returns the directory the environment should load plugin code from.
func (b BootConfig) BaseDir() string {
	return b.String(BootKeyBaseDir)
}

// buildBootConfig assembles the boot configuration from the manifest and the
// host collaborators. Nested maps are copied so the environment cannot mutate
// the manifest or the configuration source through it.
func buildBootConfig(m *Manifest, cfg ConfigSource, dir Directory) BootConfig {
	settings := cloneTree(cfg.PluginSettings(m.Name))
	if settings == nil {
		settings = map[string]any{}
	}
	metadata := cloneTree(m.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	return BootConfig{
		BootKeyName:         m.Name,
		BootKeyVersion:      m.Version,
		BootKeyMetadata:     metadata,
		BootKeyBaseDir:      dir.Path(),
		BootKeySettings:     settings,
		BootKeyCapabilities: append([]string(nil), m.Capabilities...),
	}
}

// cloneTree deep-copies nested maps and slices produced by YAML or koanf.
func cloneTree(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := maps.Clone(src)
	for k, v := range dst {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneTree(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}
