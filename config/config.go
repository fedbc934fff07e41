// Package config loads the runtime settings of the minixfs tools from an
// optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const envVarPrefix = "MINIXFS"

type Config struct {
	CacheSlots        int           `envconfig:"CACHE_SLOTS"        yaml:"cacheSlots"`
	InodeSlots        int           `envconfig:"INODE_SLOTS"        yaml:"inodeSlots"`
	WritebackInterval time.Duration `envconfig:"WRITEBACK_INTERVAL" yaml:"writebackInterval"`
	ReadOnly          bool          `envconfig:"READ_ONLY"          yaml:"readOnly"`
	LogLevel          LogLevel      `envconfig:"LOG_LEVEL"          yaml:"logLevel"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		CacheSlots:        64,
		WritebackInterval: 5 * time.Second,
		LogLevel:          "info",
	}
}

// Load starts from Default, reads the file named by MINIXFS_CONFIG_FILE
// when it is set, and then applies the environment on top.
func Load() (*Config, error) {
	c := Default()
	if configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE"); configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.CacheSlots < 16 {
		return fmt.Errorf("invalid configuration: cacheSlots / %s_CACHE_SLOTS must be at least 16, got %d", envVarPrefix, c.CacheSlots)
	}
	if c.InodeSlots < 0 {
		return fmt.Errorf("invalid configuration: inodeSlots / %s_INODE_SLOTS is negative", envVarPrefix)
	}
	if c.WritebackInterval < 0 {
		return fmt.Errorf("invalid configuration: writebackInterval / %s_WRITEBACK_INTERVAL is negative", envVarPrefix)
	}
	return nil
}

// Logger builds a text logger writing to stderr at the configured level.
func (c *Config) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.LogLevel.Level()}))
}

// LogLevel is a slog level spelled as debug, info, warn or error.
type LogLevel string

var ErrLogLevel = errors.New("log level must be one of debug, info, warn, error")

func (l *LogLevel) Decode(value string) error {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "debug", "info", "warn", "error":
		*l = LogLevel(v)
		return nil
	case "warning":
		*l = "warn"
		return nil
	}
	return fmt.Errorf("%q: %w", value, ErrLogLevel)
}

func (l *LogLevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("yaml-unmarshaling *LogLevel: %w", err)
	}
	return l.Decode(s)
}

func (l LogLevel) Level() slog.Level {
	switch l {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
