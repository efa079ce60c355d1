package plugin

import (
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Type identifies the isolation runtime a plugin bundle targets.
type Type string

// Plugin types supported by the host.
const (
	TypeLua    Type = "lua"
	TypeBinary Type = "binary"
)

// ManifestFile is the file name of a bundle manifest.
const ManifestFile = "plugin.yaml"

// Manifest describes a plugin's identity. A Manager keeps its own copy and
// never hands out a pointer to it, so a manifest is immutable once managed.
type Manifest struct {
	Name        string `yaml:"name" json:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version     string `yaml:"version" json:"version" jsonschema:"minLength=1"`
	Type        Type   `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"enum=lua,enum=binary"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Engine is an optional semver constraint on the host version, e.g. ">= 1.0.0, < 2.0.0".
	Engine       string         `yaml:"engine,omitempty" json:"engine,omitempty"`
	Metadata     map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Capabilities []string       `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	LuaPlugin    *LuaConfig     `yaml:"lua-plugin,omitempty" json:"lua-plugin,omitempty"`
	BinaryPlugin *BinaryConfig  `yaml:"binary-plugin,omitempty" json:"binary-plugin,omitempty"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry" json:"entry"`
}

// BinaryConfig holds binary plugin configuration.
type BinaryConfig struct {
	Executable string `yaml:"executable" json:"executable"`
	// Checksum pins the executable contents, formatted as "blake2b256:<hex>".
	Checksum string `yaml:"checksum,omitempty" json:"checksum,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

var checksumPattern = regexp.MustCompile(`^blake2b256:[0-9a-f]{64}$`)

// ManifestOption configures a manifest built with NewManifest.
type ManifestOption func(*Manifest)

// WithMetadata sets a metadata entry.
func WithMetadata(key string, value any) ManifestOption {
	return func(m *Manifest) {
		if m.Metadata == nil {
			m.Metadata = make(map[string]any)
		}
		m.Metadata[key] = value
	}
}

// WithCapabilities appends capability patterns.
func WithCapabilities(patterns ...string) ManifestOption {
	return func(m *Manifest) {
		m.Capabilities = append(m.Capabilities, patterns...)
	}
}

// WithLuaEntry marks the manifest as a Lua plugin with the given entry file.
func WithLuaEntry(entry string) ManifestOption {
	return func(m *Manifest) {
		m.Type = TypeLua
		m.LuaPlugin = &LuaConfig{Entry: entry}
	}
}

// WithExecutable marks the manifest as a binary plugin with the given executable.
func WithExecutable(executable, checksum string) ManifestOption {
	return func(m *Manifest) {
		m.Type = TypeBinary
		m.BinaryPlugin = &BinaryConfig{Executable: executable, Checksum: checksum}
	}
}

// NewManifest builds and validates a manifest.
func NewManifest(name, version string, opts ...ManifestOption) (*Manifest, error) {
	m := &Manifest{Name: name, Version: version}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.Code(CodeInvalidManifest).Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.Code(CodeInvalidManifest).Wrapf(err, "invalid YAML")
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// ReadManifest reads the manifest of the bundle rooted at dir.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.Code(CodeInvalidManifest).With("path", path).Wrap(err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	errb := oops.Code(CodeInvalidManifest).With("plugin", m.Name)

	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return errb.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return errb.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return errb.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return errb.With("version", m.Version).Wrapf(err, "version is not a semantic version")
	}

	if m.Engine != "" {
		if _, err := semver.NewConstraint(m.Engine); err != nil {
			return errb.With("engine", m.Engine).Wrapf(err, "engine is not a valid version constraint")
		}
	}

	if slices.Contains(m.Capabilities, "") {
		return errb.Errorf("capabilities must not contain empty patterns")
	}

	switch m.Type {
	case "":
		// Runtime-neutral manifest; the host picks the environment.
	case TypeLua:
		if m.LuaPlugin == nil {
			return errb.Errorf("lua-plugin is required when type is lua")
		}
		if m.LuaPlugin.Entry == "" {
			return errb.Errorf("lua-plugin.entry is required")
		}
	case TypeBinary:
		if m.BinaryPlugin == nil {
			return errb.Errorf("binary-plugin is required when type is binary")
		}
		if m.BinaryPlugin.Executable == "" {
			return errb.Errorf("binary-plugin.executable is required")
		}
		if c := m.BinaryPlugin.Checksum; c != "" && !checksumPattern.MatchString(c) {
			return errb.Errorf("binary-plugin.checksum must look like blake2b256:<64 hex digits>, got %q", c)
		}
	default:
		return errb.Errorf("type must be 'lua' or 'binary', got %q", m.Type)
	}

	return nil
}

// SemVer returns the parsed version, or nil if the version is not valid.
func (m *Manifest) SemVer() *semver.Version {
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil
	}
	return v
}

// CheckEngine reports whether the host version satisfies the manifest's
// engine constraint. A manifest without a constraint accepts every host.
func (m *Manifest) CheckEngine(hostVersion string) error {
	if m.Engine == "" {
		return nil
	}
	errb := oops.Code(CodeInvalidManifest).With("plugin", m.Name).With("engine", m.Engine)
	constraint, err := semver.NewConstraint(m.Engine)
	if err != nil {
		return errb.Wrapf(err, "engine is not a valid version constraint")
	}
	host, err := semver.NewVersion(hostVersion)
	if err != nil {
		return errb.With("host_version", hostVersion).Wrapf(err, "host version is not a semantic version")
	}
	if !constraint.Check(host) {
		return errb.With("host_version", hostVersion).
			Errorf("plugin %s requires host %s, running %s", m.Name, m.Engine, hostVersion)
	}
	return nil
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Metadata = cloneTree(m.Metadata)
	c.Capabilities = slices.Clone(m.Capabilities)
	if m.LuaPlugin != nil {
		lp := *m.LuaPlugin
		c.LuaPlugin = &lp
	}
	if m.BinaryPlugin != nil {
		bp := *m.BinaryPlugin
		c.BinaryPlugin = &bp
	}
	return &c
}
