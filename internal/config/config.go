// Package config loads the watcher's two settings stores: a user-scoped
// config under the home directory (interval, port, model endpoint) and a
// project-scoped config inside the watched working tree (review rules,
// exclude patterns, custom prompts). Both are TOML. Missing files yield
// defaults; only an unreadable or invalid user config is allowed to stop the
// process, and only at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultCheckIntervalSecs is the scan cycle interval when no user
	// config overrides it.
	DefaultCheckIntervalSecs = 60

	// DefaultPort is the gateway's preferred listen port.
	DefaultPort = 38080

	// DefaultModel is the model requested from the provider.
	DefaultModel = "gpt-oss:20b"

	// DefaultBaseURL is the OpenAI-compatible endpoint the model client
	// talks to. The default targets a local Ollama instance.
	DefaultBaseURL = "http://localhost:11434/v1"

	// userConfigDir is the directory under $HOME holding the user config
	// and log files.
	userConfigDir = ".driftwatch"

	// projectConfigDir is the directory under the project root holding
	// the project config.
	projectConfigDir = ".driftwatch"

	// configFileName is the file name used for both stores.
	configFileName = "config.toml"
)

// Config is the user-scoped settings store.
type Config struct {
	// CheckIntervalSecs is the scan cycle interval in seconds.
	CheckIntervalSecs int64 `toml:"check_interval_secs"`

	// Port is the preferred gateway port. Up to nine higher ports are
	// tried when it is occupied.
	Port int `toml:"port"`

	// Model is the model name sent to the provider.
	Model string `toml:"model"`

	// BaseURL is the provider's OpenAI-compatible base URL.
	BaseURL string `toml:"base_url"`

	// LogDir overrides the log file directory. Empty means
	// ~/.driftwatch/logs.
	LogDir string `toml:"log_dir"`
}

// Interval returns the scan cycle interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.CheckIntervalSecs) * time.Second
}

// Default returns the built-in user configuration.
func Default() *Config {
	return &Config{
		CheckIntervalSecs: DefaultCheckIntervalSecs,
		Port:              DefaultPort,
		Model:             DefaultModel,
		BaseURL:           DefaultBaseURL,
	}
}

// UserConfigPath returns the location of the user config file.
func UserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}

	return filepath.Join(home, userConfigDir, configFileName), nil
}

// Load reads the user config. A missing file yields the defaults, which are
// also written back so the user has a file to edit. An unreadable or
// unparsable file is an error; callers treat that as fatal at startup.
func Load() (*Config, error) {
	path, err := UserConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadFile(path)
}

// LoadFile is Load with an explicit path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		cfg := Default()
		if err := writeTOML(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default "+
				"config: %w", err)
		}
		return cfg, nil

	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w",
			path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if cfg.CheckIntervalSecs <= 0 {
		return nil, fmt.Errorf("invalid config %s: "+
			"check_interval_secs must be positive", path)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid config %s: port out of range",
			path)
	}

	return cfg, nil
}

// writeTOML marshals v to path, creating parent directories as needed.
func writeTOML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(v)
}
