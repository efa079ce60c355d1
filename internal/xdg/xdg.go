// Package xdg provides XDG Base Directory paths for the plugin host.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "pluginhost"

// ConfigDir returns the XDG config directory for pluginhost.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	return resolve("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for pluginhost.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() (string, error) {
	return resolve("XDG_DATA_HOME", ".local", "share")
}

// StateDir returns the XDG state directory for pluginhost.
// Checks XDG_STATE_HOME first, falls back to ~/.local/state.
func StateDir() (string, error) {
	return resolve("XDG_STATE_HOME", ".local", "state")
}

// RuntimeDir returns the XDG runtime directory for pluginhost.
// Checks XDG_RUNTIME_DIR first, falls back to StateDir()/run.
func RuntimeDir() (string, error) {
	if base := os.Getenv("XDG_RUNTIME_DIR"); base != "" {
		return filepath.Join(base, appName), nil
	}
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "run"), nil
}

// ControlSocket returns the default control socket path.
func ControlSocket() (string, error) {
	dir, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName+".sock"), nil
}

// PluginsDir returns the default root under which plugin bundles live.
func PluginsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "plugins"), nil
}

// ConfigFile returns the default config file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func resolve(env string, fallback ...string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appName), nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return "", oops.With("env", env).Wrapf(err, "cannot determine home directory")
		}
	}
	return filepath.Join(append(append([]string{home}, fallback...), appName)...), nil
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.With("path", path).Wrapf(err, "create directory")
	}
	return nil
}

// PluginDir is the directory of one plugin bundle below a plugins root.
// It satisfies plugin.Directory.
type PluginDir struct {
	root string
	name string
}

// NewPluginDir returns the bundle directory root/name.
func NewPluginDir(root, name string) PluginDir {
	return PluginDir{root: root, name: name}
}

// Path returns the absolute bundle path, or the joined path if it cannot be
// made absolute.
func (d PluginDir) Path() string {
	p := filepath.Join(d.root, d.name)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Name returns the bundle name.
func (d PluginDir) Name() string {
	return d.name
}
