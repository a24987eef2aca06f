// Package configfile manages the per-project .filigree/ directory: the JSON
// project configuration, path discovery, and first-time initialization.
package configfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/filigree-dev/filigree/internal/idgen"
)

// DirName is the well-known project subdirectory.
const DirName = ".filigree"

// ConfigFileName is the project configuration file inside DirName.
const ConfigFileName = "config.json"

// DatabaseFileName is the embedded database file inside DirName.
const DatabaseFileName = "filigree.db"

// SummaryFileName is the regenerated snapshot document inside DirName.
const SummaryFileName = "context.md"

// CurrentVersion is written by Init and bumped on config-shape changes.
const CurrentVersion = 1

// Project operating modes
const (
	ModeEthereal = "ethereal"
	ModeServer   = "server"
)

// Config is the persisted project configuration
type Config struct {
	Prefix       string   `json:"prefix"`
	Version      int      `json:"version"`
	Mode         string   `json:"mode,omitempty"`
	EnabledPacks []string `json:"enabled_packs"`
}

// DefaultConfig returns the configuration Init writes for a new project
func DefaultConfig(prefix string) *Config {
	return &Config{
		Prefix:       prefix,
		Version:      CurrentVersion,
		EnabledPacks: []string{"core"},
	}
}

// ConfigPath returns the config file path under a .filigree directory
func ConfigPath(filigreeDir string) string {
	return filepath.Join(filigreeDir, ConfigFileName)
}

// DatabasePath returns the database path under a .filigree directory
func DatabasePath(filigreeDir string) string {
	return filepath.Join(filigreeDir, DatabaseFileName)
}

// SummaryPath returns the snapshot document path under a .filigree directory
func SummaryPath(filigreeDir string) string {
	return filepath.Join(filigreeDir, SummaryFileName)
}

// PacksDir returns the pack-overlay directory under a .filigree directory
func PacksDir(filigreeDir string) string {
	return filepath.Join(filigreeDir, "packs")
}

// TemplatesDir returns the per-type override directory under a .filigree directory
func TemplatesDir(filigreeDir string) string {
	return filepath.Join(filigreeDir, "templates")
}

// Load reads the project configuration. Returns (nil, nil) when the project
// is not initialized.
func Load(filigreeDir string) (*Config, error) {
	data, err := os.ReadFile(ConfigPath(filigreeDir)) // #nosec G304 - controlled path
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Prefix == "" {
		return nil, fmt.Errorf("config at %s has no prefix", ConfigPath(filigreeDir))
	}
	return &cfg, nil
}

// Save writes the project configuration
func (c *Config) Save(filigreeDir string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(ConfigPath(filigreeDir), append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Discover walks up from startDir looking for a .filigree directory.
// Returns the directory path, or "" when no project is found.
func Discover(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Init creates <projectDir>/.filigree with a fresh configuration.
//
// The directory is built aside as .filigree.tmp and renamed into place so a
// crashed init never leaves a half-initialized project behind. A file lock
// next to the target serializes concurrent inits of the same project.
func Init(projectDir, prefix string) (*Config, error) {
	if err := idgen.ValidatePrefix(prefix); err != nil {
		return nil, err
	}

	target := filepath.Join(projectDir, DirName)
	lock := flock.New(target + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("locking init: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(target + ".lock")
	}()

	if _, err := os.Stat(ConfigPath(target)); err == nil {
		return nil, fmt.Errorf("project already initialized at %s", target)
	}

	staging := target + ".tmp"
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("clearing stale staging dir: %w", err)
	}
	for _, sub := range []string{"", "packs", "templates"} {
		if err := os.MkdirAll(filepath.Join(staging, sub), 0o750); err != nil {
			return nil, fmt.Errorf("creating %s: %w", filepath.Join(staging, sub), err)
		}
	}

	cfg := DefaultConfig(prefix)
	if err := cfg.Save(staging); err != nil {
		return nil, err
	}

	if err := os.Rename(staging, target); err != nil {
		// Another process may have won the rename between our stat and now.
		_ = os.RemoveAll(staging)
		return nil, fmt.Errorf("activating %s: %w", target, err)
	}
	return cfg, nil
}
