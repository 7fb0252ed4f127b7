// Package config provides YAML configuration parsing for the chanwatch
// CLI.
//
// This package enables running chanwatch as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	board: g
//	output_dir: /var/lib/chanwatch/g
//	sink: file
//	images: true
//	poll_interval: 60s
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval for production
// configs. The upstream is a shared resource; this prevents accidental
// hammering.
const minPollInterval = 1 * time.Second

// defaultPollInterval matches the upstream-friendly cadence used when the
// config does not specify one.
const defaultPollInterval = 60 * time.Second

// Sink names accepted by the Sink field.
const (
	SinkFile   = "file"
	SinkSQLite = "sqlite"
)

// Config is the root configuration structure for the chanwatch CLI.
//
// It maps directly to the YAML configuration file structure. Use [Load]
// or [Parse] to create a Config from YAML.
type Config struct {
	// Board is the board identifier to watch, e.g. "g".
	Board string `yaml:"board"`

	// OutputDir is the directory the selected sink writes under.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	OutputDir string `yaml:"output_dir"`

	// Sink selects the persistence backend: "file" (per-thread JSON
	// dumps plus images) or "sqlite" (daily-rotating database).
	// Defaults to "file".
	Sink string `yaml:"sink"`

	// Images enables image downloading. Only valid with the file sink.
	Images bool `yaml:"images"`

	// PollInterval is the time between poll cycles, for both the board
	// index and each tracked thread. Accepts duration strings like
	// "60s", "2m". Defaults to 60s.
	PollInterval Duration `yaml:"poll_interval"`

	// APIBase overrides the JSON API host. Mainly for mirrors and tests.
	APIBase string `yaml:"api_base"`

	// ImageBase overrides the image host.
	ImageBase string `yaml:"image_base"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with
// environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults, expands
// environment variables and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Sink == "" {
		cfg.Sink = SinkFile
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = Duration(defaultPollInterval)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate re-runs expansion and validation. Callers that mutate a parsed
// Config, such as CLI flag overrides, use this to check the result.
func (c *Config) Validate() error {
	return c.expandAndValidate()
}

// boardPattern keeps board identifiers to path-safe characters.
var boardPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// expandAndValidate expands environment variables and validates the
// config.
func (c *Config) expandAndValidate() error {
	if c.Board == "" {
		return fmt.Errorf("board is required")
	}
	if !boardPattern.MatchString(c.Board) {
		return fmt.Errorf("board must be lowercase alphanumeric, got %q", c.Board)
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	expanded, err := expandEnvVars(c.OutputDir)
	if err != nil {
		return fmt.Errorf("output_dir: %w", err)
	}
	c.OutputDir = expanded

	if c.Sink != SinkFile && c.Sink != SinkSQLite {
		return fmt.Errorf("sink must be %q or %q, got %q", SinkFile, SinkSQLite, c.Sink)
	}
	if c.Images && c.Sink != SinkFile {
		return fmt.Errorf("images can only be enabled with the %q sink", SinkFile)
	}

	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s",
			minPollInterval, c.PollInterval.Duration())
	}

	for _, base := range []struct {
		name  string
		value *string
	}{
		{"api_base", &c.APIBase},
		{"image_base", &c.ImageBase},
	} {
		if *base.value == "" {
			continue
		}
		expanded, err := expandEnvVars(*base.value)
		if err != nil {
			return fmt.Errorf("%s: %w", base.name, err)
		}
		*base.value = strings.TrimRight(expanded, "/")

		parsed, err := url.Parse(*base.value)
		if err != nil {
			return fmt.Errorf("%s: invalid url: %w", base.name, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%s: url scheme must be http or https, got %q", base.name, parsed.Scheme)
		}
	}

	return nil
}
