// Package config loads the idevlog.yaml collector configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file name looked up in the working directory.
const DefaultFile = "idevlog.yaml"

// Config represents an idevlog.yaml configuration file.
type Config struct {
	Version     int      `yaml:"version"`
	Backend     string   `yaml:"backend"`
	Tidevice    Tidevice `yaml:"tidevice,omitempty"`
	Device      Device   `yaml:"device"`
	Filter      Filter   `yaml:"filter"`
	Output      Output   `yaml:"output"`
	Pipeline    Pipeline `yaml:"pipeline"`
	Session     Session  `yaml:"session"`
	Socket      string   `yaml:"socket,omitempty"`
	MetricsAddr string   `yaml:"metrics_addr,omitempty"`
	Log         Log      `yaml:"log"`
}

// Tidevice configures the child-process backend.
type Tidevice struct {
	Binary string `yaml:"binary,omitempty"`
}

// Device controls how the collector waits for and selects a device.
type Device struct {
	UDID         string        `yaml:"udid,omitempty"`
	MaxRetries   int           `yaml:"max_retries"` // <= 0 retries until interrupted
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	RetryDelay   time.Duration `yaml:"retry_delay,omitempty"`
}

// Filter holds the two filter stages.
type Filter struct {
	App           string `yaml:"app"`
	Keyword       string `yaml:"keyword,omitempty"`
	OutputKeyword string `yaml:"output_keyword,omitempty"`
}

// Output describes the persisted log file.
type Output struct {
	Path            string `yaml:"path"`
	MaxSize         int64  `yaml:"max_size,omitempty"` // bytes; 0 disables rotation
	MaxBackups      int    `yaml:"max_backups,omitempty"`
	CompressRotated bool   `yaml:"compress_rotated,omitempty"`
}

// Pipeline tunes the producer/consumer hand-off.
type Pipeline struct {
	QueueSize    int           `yaml:"queue_size"`
	DequeueWait  time.Duration `yaml:"dequeue_wait"`
	JoinTimeout  time.Duration `yaml:"join_timeout"`
	PrintMatches bool          `yaml:"print_matches"`
}

// Session controls whether failed runs are restarted.
type Session struct {
	Restart     string `yaml:"restart"` // always|on-failure|never
	MaxRestarts int    `yaml:"max_restarts,omitempty"`
}

// Log configures process logging.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto|text|json
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Version: 1,
		Backend: "goios",
		Device: Device{
			MaxRetries:   3,
			ProbeTimeout: 2 * time.Second,
		},
		Output: Output{
			Path:       "idevlog-${app}.log",
			MaxBackups: 5,
		},
		Pipeline: Pipeline{
			QueueSize:    1024,
			DequeueWait:  3 * time.Second,
			JoinTimeout:  10 * time.Second,
			PrintMatches: true,
		},
		Session: Session{Restart: "never"},
		Log:     Log{Level: "info", Format: "auto"},
	}
}

// Parse decodes YAML on top of Default. Omitted keys keep their defaults.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but returns Default when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	c, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return c, err
}

// Save writes the configuration as YAML.
func Save(path string, c *Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// OutputPath expands ${app} and ${home} in the configured output path.
func (c *Config) OutputPath() string {
	home, _ := os.UserHomeDir()
	app := c.Filter.App
	if app == "" {
		app = "device"
	}
	r := strings.NewReplacer("${app}", app, "${home}", home)
	return r.Replace(c.Output.Path)
}
