// Package config provides configuration management for the geeksw CLI.
//
// Values are layered from lowest to highest precedence: built-in defaults,
// the geeksw.yaml project file, GEEKSW_* environment variables and finally
// command-line flags.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config holds all CLI configuration options.
type Config struct {
	// Targets are produced by `geeksw run` when no arguments are given.
	Targets         []string      `koanf:"targets"`
	Datasets        []string      `koanf:"datasets"`
	StreamWorkers   int           `koanf:"stream_workers"`
	InstanceWorkers int           `koanf:"instance_workers"`
	Mode            string        `koanf:"mode"`
	CacheDir        string        `koanf:"cache_dir"`
	CacheThreshold  time.Duration `koanf:"cache_threshold"`
	CacheKeys       string        `koanf:"cache_keys"`
	NoCache         bool          `koanf:"no_cache"`
	InstanceTimeout time.Duration `koanf:"instance_timeout"`
	StatePath       string        `koanf:"state_path"`
	MetricsOut      string        `koanf:"metrics_out"`
	Verbose         bool          `koanf:"verbose"`
	OutputFormat    string        `koanf:"output"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
}

// Default configuration values
const (
	DefaultCacheDir        = ".geeksw/cache"
	DefaultStreamWorkers   = 4
	DefaultInstanceWorkers = 4
	DefaultMode            = "sequential"
	DefaultCacheThreshold  = time.Second
	DefaultCacheKeys       = "content"
	DefaultOutput          = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)

// ConfigFileNames are searched in order in the project root.
var ConfigFileNames = []string{"geeksw.yaml", "geeksw.yml"}

var (
	validModes     = []string{"sequential", "concurrent"}
	validCacheKeys = []string{"content", "path"}
	validOutputs   = []string{"auto", "text", "markdown", "json"}
)

// Default returns the configuration used when nothing is loaded.
func Default() *Config {
	return &Config{
		StreamWorkers:   DefaultStreamWorkers,
		InstanceWorkers: DefaultInstanceWorkers,
		Mode:            DefaultMode,
		CacheDir:        DefaultCacheDir,
		CacheThreshold:  DefaultCacheThreshold,
		CacheKeys:       DefaultCacheKeys,
		OutputFormat:    DefaultOutput,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.StreamWorkers < 1 {
		return fmt.Errorf("stream_workers must be at least 1, got %d", c.StreamWorkers)
	}
	if c.InstanceWorkers < 1 {
		return fmt.Errorf("instance_workers must be at least 1, got %d", c.InstanceWorkers)
	}
	if err := oneOf("mode", c.Mode, validModes); err != nil {
		return err
	}
	if err := oneOf("cache_keys", c.CacheKeys, validCacheKeys); err != nil {
		return err
	}
	if err := oneOf("output", c.OutputFormat, validOutputs); err != nil {
		return err
	}
	if c.CacheThreshold < 0 {
		return fmt.Errorf("cache_threshold must not be negative, got %s", c.CacheThreshold)
	}
	if c.InstanceTimeout < 0 {
		return fmt.Errorf("instance_timeout must not be negative, got %s", c.InstanceTimeout)
	}
	for _, ds := range c.Datasets {
		if strings.Trim(ds, "/") == "" {
			return fmt.Errorf("invalid dataset %q", ds)
		}
	}
	return nil
}

func oneOf(key, value string, valid []string) error {
	if value == "" || slices.Contains(valid, strings.ToLower(value)) {
		return nil
	}
	return fmt.Errorf("invalid %s %q (want one of %s)", key, value, strings.Join(valid, ", "))
}
