// Package config handles loading and managing smsvault configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the smsvault configuration.
type Config struct {
	Extract ExtractConfig `toml:"extract"`
	Log     LogConfig     `toml:"log"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	configPath string
}

// ExtractConfig holds defaults for `smsvault extract`. Command-line flags
// override them.
type ExtractConfig struct {
	Region  string `toml:"region"`   // phone number region for numbers without a country code
	Workers int    `toml:"workers"`  // parallel attachment copies / chat writes
	Output  string `toml:"output"`   // archive to create when -o is not given
	TempDir string `toml:"temp_dir"` // staging workspace parent ("" = system temp)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Default extract settings.
const (
	DefaultRegion  = "US"
	DefaultWorkers = 4
	DefaultOutput  = "messages.zip"
	MaxWorkers     = 64
)

// DefaultHome returns the default smsvault home directory.
// Respects SMSVAULT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("SMSVAULT_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".smsvault"
	}
	return filepath.Join(home, ".smsvault")
}

// NewDefaultConfig returns a configuration with default values rooted at
// DefaultHome.
func NewDefaultConfig() *Config {
	return newConfig(DefaultHome())
}

func newConfig(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Extract: ExtractConfig{
			Region:  DefaultRegion,
			Workers: DefaultWorkers,
			Output:  DefaultOutput,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration.
//
// If path is non-empty the file must exist, and HomeDir is its parent
// directory. Otherwise config.toml is read from homeDir (or DefaultHome when
// homeDir is empty) if present, and defaults are used when it is not.
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""
	switch {
	case explicit:
		path = expandPath(path)
		if homeDir == "" {
			homeDir = filepath.Dir(path)
		}
	case homeDir != "":
		homeDir = expandPath(homeDir)
		path = filepath.Join(homeDir, "config.toml")
	default:
		homeDir = DefaultHome()
		path = filepath.Join(homeDir, "config.toml")
	}
	homeDir = expandPath(homeDir)

	cfg := newConfig(homeDir)
	cfg.configPath = path

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w%s", path, err, backslashHint(err))
	}

	cfg.Extract.Output = expandPath(cfg.Extract.Output)
	cfg.Extract.TempDir = expandPath(cfg.Extract.TempDir)
	cfg.Extract.Workers = ClampWorkers(cfg.Extract.Workers)
	if cfg.Extract.Region == "" {
		cfg.Extract.Region = DefaultRegion
	}
	cfg.Extract.Region = strings.ToUpper(cfg.Extract.Region)
	if cfg.Extract.Output == "" {
		cfg.Extract.Output = DefaultOutput
	}

	return cfg, nil
}

// ConfigFilePath returns the path of the configuration file that was (or
// would have been) loaded.
func (c *Config) ConfigFilePath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return filepath.Join(c.HomeDir, "config.toml")
}

// ClampWorkers bounds a worker count to [1, MaxWorkers]. Zero or negative
// values select DefaultWorkers.
func ClampWorkers(n int) int {
	if n <= 0 {
		return DefaultWorkers
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}

// backslashHint returns a hint for TOML errors caused by Windows paths
// written with backslashes inside double-quoted strings.
func backslashHint(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "invalid escape") || strings.Contains(msg, "hexadecimal digits") {
		return "\nhint: use forward slashes (C:/Users/me) or single quotes ('C:\\Users\\me') for Windows paths"
	}
	return ""
}

// MkTempDir creates a private temporary directory. It tries each preferred
// parent in order, then the system temp directory, then <home>/tmp.
func MkTempDir(pattern string, preferredDirs ...string) (string, error) {
	for _, dir := range preferredDirs {
		if dir == "" {
			continue
		}
		if d, err := os.MkdirTemp(dir, pattern); err == nil {
			return d, nil
		}
	}

	d, err := os.MkdirTemp("", pattern)
	if err == nil {
		return d, nil
	}

	fallback := filepath.Join(DefaultHome(), "tmp")
	if mkErr := os.MkdirAll(fallback, 0700); mkErr != nil {
		return "", fmt.Errorf("create temp dir: %w (fallback: %v)", err, mkErr)
	}
	_ = os.Chmod(fallback, 0700)
	d, fbErr := os.MkdirTemp(fallback, pattern)
	if fbErr != nil {
		return "", fmt.Errorf("create temp dir: %w (fallback: %v)", err, fbErr)
	}
	return d, nil
}

// expandPath expands a leading ~ to the user's home directory. On Windows
// it also strips quotes left by CMD around the whole path.
func expandPath(path string) string {
	if runtime.GOOS == "windows" && len(path) >= 2 {
		if (path[0] == '\'' || path[0] == '"') && path[len(path)-1] == path[0] {
			path = path[1 : len(path)-1]
		}
	}
	if path == "" {
		return path
	}
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
