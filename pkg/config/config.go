// Package config provides configuration handling for the l2sack avoider.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/irctrakz/l2sack/pkg/codec"
	"github.com/irctrakz/l2sack/pkg/core"
	"github.com/irctrakz/l2sack/pkg/logging"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete configuration.
type Config struct {
	// Avoider contains the avoider configuration.
	Avoider core.AvoiderConfig `json:"avoider" yaml:"avoider"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics contains the metrics endpoint configuration.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// Format is the log line format (text, json).
	Format string `json:"format" yaml:"format"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// MetricsConfig contains configuration for the HTTP metrics endpoint.
type MetricsConfig struct {
	// Listen is the address to serve /metrics and /health on. Empty
	// disables the endpoint.
	Listen string `json:"listen" yaml:"listen"`

	// Path is the metrics path.
	Path string `json:"path" yaml:"path"`

	// IntervalSec is how often counters are logged; 0 disables it.
	IntervalSec int `json:"intervalSec" yaml:"intervalSec"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Avoider: core.DefaultAvoiderConfig(),
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// LoadFromFile loads configuration from a .json, .yaml or .yml file.
func LoadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}
	return nil
}

func envBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// LoadFromEnv overlays configuration from environment variables.
func LoadFromEnv(config *Config) {
	// Avoider config
	if val := os.Getenv("L2SACK_MAX_SACK_BLOCKS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Avoider.MaxSackBlocks = n
		}
	}
	if val := os.Getenv("L2SACK_SKIP_INCOMPLETE"); val != "" {
		config.Avoider.SkipIncompleteSegments = envBool(val)
	}
	if val := os.Getenv("L2SACK_MATCH_LOCAL_ADDRESS"); val != "" {
		config.Avoider.MatchLocalAddress = envBool(val)
	}
	if val := os.Getenv("L2SACK_COPY_PACKETS"); val != "" {
		config.Avoider.CopyPackets = envBool(val)
	}
	if val := os.Getenv("L2SACK_DEBUG"); val != "" {
		config.Avoider.Debug = envBool(val)
	}

	// Metrics config
	if val := os.Getenv("L2SACK_METRICS_LISTEN"); val != "" {
		config.Metrics.Listen = val
	}
	if val := os.Getenv("L2SACK_METRICS_PATH"); val != "" {
		config.Metrics.Path = val
	}
	if val := os.Getenv("L2SACK_METRICS_INTERVAL"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Metrics.IntervalSec = n
		}
	}

	// Logging config
	if val := os.Getenv("LOGGING_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOGGING_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOGGING_FILE"); val != "" {
		config.Logging.File = val
	}
	if val := os.Getenv("LOGGING_MAX_SIZE"); val != "" {
		if maxSize, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxSize = maxSize
		}
	}
	if val := os.Getenv("LOGGING_MAX_BACKUPS"); val != "" {
		if maxBackups, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxBackups = maxBackups
		}
	}
	if val := os.Getenv("LOGGING_MAX_AGE"); val != "" {
		if maxAge, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxAge = maxAge
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Avoider.MaxSackBlocks < 1 || c.Avoider.MaxSackBlocks > codec.MaxSACKBlocks {
		return fmt.Errorf("%w: max SACK blocks must be between 1 and %d, got %d", ErrInvalid, codec.MaxSACKBlocks, c.Avoider.MaxSackBlocks)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil || c.Logging.Level == "" {
		return fmt.Errorf("%w: logging level %q", ErrInvalid, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: logging format %q", ErrInvalid, c.Logging.Format)
	}
	if c.Logging.File != "" && (c.Logging.MaxSize <= 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAge < 0) {
		return fmt.Errorf("%w: log rotation limits must be positive", ErrInvalid)
	}

	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("%w: metrics listen address %q: %v", ErrInvalid, c.Metrics.Listen, err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") || c.Metrics.Path == "/health" {
			return fmt.Errorf("%w: metrics path %q", ErrInvalid, c.Metrics.Path)
		}
	}
	if c.Metrics.IntervalSec < 0 {
		return fmt.Errorf("%w: metrics interval %d", ErrInvalid, c.Metrics.IntervalSec)
	}
	return nil
}

// ApplyLogging configures logging and packet copying from c.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	if c.Avoider.Debug {
		level = logging.DebugLevel
	}
	logging.SetLevel(level)
	if c.Logging.Format == "json" {
		logging.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logging.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	core.SetCopyMode(c.Avoider.CopyPackets)

	if c.Logging.File != "" {
		dir, filename := filepath.Split(c.Logging.File)
		if dir == "" {
			dir = "."
		}
		err := logging.EnableFileLogging(
			dir,
			filename,
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
		)
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}
	return nil
}

// SaveToFile saves the configuration to a .json, .yaml or .yml file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
