// Package paths resolves where the shelf CLI keeps its configuration,
// schema declarations and local data. Every location follows the same
// precedence: command-line flag, then config.yaml, then environment
// variable, then a platform default.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user directories.
const AppName = "metashelf"

// ConfigFileName is the config file read from the config directory.
const ConfigFileName = "config.yaml"

// SchemaDirName is the schema directory inside the config directory.
const SchemaDirName = "schemas"

// Environment variables for directory overrides.
const (
	EnvConfigDir = "METASHELF_CONFIG_DIR"
	EnvDataDir   = "METASHELF_DATA_DIR"
	EnvSchemaDir = "METASHELF_SCHEMA_DIR"
)

// platform is swapped out in tests.
var platform = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform configuration directory:
//
//	Linux:   $XDG_CONFIG_HOME/metashelf or ~/.config/metashelf
//	other:   os.UserConfigDir()/metashelf
func DefaultConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform data directory:
//
//	Linux:   $XDG_DATA_HOME/metashelf or ~/.local/share/metashelf
//	other:   os.UserConfigDir()/metashelf/data
func DefaultDataDir() (string, error) {
	if platform.goos != "linux" {
		dir, err := platform.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppName, "data"), nil
	}
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func xdgDir(env, homeRel string) (string, error) {
	if platform.goos != "linux" {
		dir, err := platform.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppName), nil
	}
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := platform.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, homeRel, AppName), nil
}

// ResolveConfigDir returns flag, else $METASHELF_CONFIG_DIR, else
// DefaultConfigDir. The config directory cannot come from config.yaml.
func ResolveConfigDir(flag string) (string, error) {
	return resolve(flag, "", EnvConfigDir, DefaultConfigDir)
}

// ResolveDataDir returns flag, else the config.yaml value, else
// $METASHELF_DATA_DIR, else DefaultDataDir.
func ResolveDataDir(flag, configValue string) (string, error) {
	return resolve(flag, configValue, EnvDataDir, DefaultDataDir)
}

// ResolveSchemaDir returns flag, else the config.yaml value, else
// $METASHELF_SCHEMA_DIR, else <configDir>/schemas.
func ResolveSchemaDir(flag, configValue, configDir string) (string, error) {
	return resolve(flag, configValue, EnvSchemaDir, func() (string, error) {
		return filepath.Join(configDir, SchemaDirName), nil
	})
}

// resolve makes explicit choices absolute; defaults are returned as is.
func resolve(flag, configValue, env string, fallback func() (string, error)) (string, error) {
	for _, v := range []string{flag, configValue, os.Getenv(env)} {
		if v != "" {
			return filepath.Abs(v)
		}
	}
	return fallback()
}
