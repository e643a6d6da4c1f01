// Package config loads the optional YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the file form of the tool's settings. Zero values mean "not set";
// command-line flags override anything set here.
type Config struct {
	CacheDir    string       `yaml:"cache_dir"`
	Repository  []string     `yaml:"repository"`
	CodeVersion string       `yaml:"code_version"`
	Workers     int          `yaml:"workers"`
	Log         LogConfig    `yaml:"log"`
	Prefixes    PrefixConfig `yaml:"prefixes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PrefixConfig struct {
	Field  string `yaml:"field"`
	Method string `yaml:"method"`
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, rejecting unknown keys.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 0 {
		errs = append(errs, errors.New("workers must be >= 0"))
	}
	for i, r := range c.Repository {
		if strings.TrimSpace(r) == "" {
			errs = append(errs, fmt.Errorf("repository[%d] must not be empty", i))
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "terminal", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q (expected terminal|text|json)", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q (expected debug|info|warn|error)", c.Log.Level))
	}
	return errors.Join(errs...)
}
