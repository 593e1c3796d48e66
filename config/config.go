// Package config loads the TOML configuration shared by the romlib tools.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const defaultDataDir = "~/.local/share/romlib"

// Paths contains where things are kept on disk.
type Paths struct {
	Database string `toml:"database"`
	Bios     string `toml:"bios"`
	Artwork  string `toml:"artwork"`
	Cores    string `toml:"cores"`
	State    string `toml:"state"`
}

// Scan contains the defaults for scans.
type Scan struct {
	Archives    bool `toml:"archives"`
	EventBuffer int  `toml:"event_buffer"`
}

// Config is the configuration of the romlib tools.
type Config struct {
	Paths Paths `toml:"paths"`
	Scan  Scan  `toml:"scan"`
}

// Default returns the configuration used when no file exists. Paths are
// unexpanded.
func Default() Config {
	dir := defaultDataDir
	if base, ok := os.LookupEnv("XDG_DATA_HOME"); ok && strings.TrimSpace(base) != "" {
		dir = filepath.Join(base, "romlib")
	}

	return Config{
		Paths: Paths{
			Database: filepath.Join(dir, "romlib.db"),
			Bios:     filepath.Join(dir, "bios"),
			Artwork:  filepath.Join(dir, "artwork"),
			Cores:    filepath.Join(dir, "cores"),
			State:    filepath.Join(dir, "state"),
		},
		Scan: Scan{
			Archives:    true,
			EventBuffer: 64,
		},
	}
}

// DefaultPath returns where the configuration file is looked for when no
// path is given.
func DefaultPath() (string, error) {
	return ExpandPath("~/.config/romlib/config.toml")
}

// Load parses and validates the configuration file at path, or the default
// location if path is empty. A missing file yields the defaults. The
// returned flag reports whether the file existed.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, false, err
		}
	}

	path, err := ExpandPath(path)
	if err != nil {
		return nil, false, err
	}

	exists := true
	file, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		exists = false
	case err != nil:
		return nil, false, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}

	return &cfg, exists, nil
}

func (c *Config) normalize() error {
	for name, p := range map[string]*string{
		"paths.database": &c.Paths.Database,
		"paths.bios":     &c.Paths.Bios,
		"paths.artwork":  &c.Paths.Artwork,
		"paths.cores":    &c.Paths.Cores,
		"paths.state":    &c.Paths.State,
	} {
		v, err := ExpandPath(strings.TrimSpace(*p))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*p = v
	}
	return nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	for _, p := range []struct {
		name, value string
	}{
		{"paths.database", c.Paths.Database},
		{"paths.bios", c.Paths.Bios},
		{"paths.artwork", c.Paths.Artwork},
		{"paths.cores", c.Paths.Cores},
		{"paths.state", c.Paths.State},
	} {
		if p.value == "" {
			return fmt.Errorf("%s must be set", p.name)
		}
	}
	if c.Scan.EventBuffer < 0 {
		return errors.New("scan.event_buffer must not be negative")
	}
	return nil
}

// StateFile returns where the state of an interrupted scan is saved.
func (c *Config) StateFile() string {
	return filepath.Join(c.Paths.State, "scan.toml")
}

// EnsureDirectories creates every configured directory. The cores
// directory is managed by the emulator so it is left alone.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{filepath.Dir(c.Paths.Database), c.Paths.Bios, c.Paths.Artwork, c.Paths.State} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ExpandPath expands a leading ~ to the home directory and makes the path
// absolute.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			path = home
		} else if path[1] == '/' || path[1] == '\\' {
			path = filepath.Join(home, path[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", path, err)
	}
	return absolute, nil
}
