package chanwatch

import (
	"errors"
	"log/slog"
	"strings"
	"time"
)

// watcherConfig holds mutable state during Watcher construction.
type watcherConfig struct {
	interval   time.Duration
	pullImages bool
	apiBase    string
	imageBase  string
	logger     *slog.Logger
}

// Option configures a [Watcher] during construction.
//
// Option implements the functional options pattern. Options return an
// error if validation fails.
//
// Built-in options: [WithInterval], [WithImages], [WithLogger],
// [WithAPIBase], [WithImageBase].
type Option func(*watcherConfig) error

// WithInterval sets how often the board index and each tracked thread are
// polled. Defaults to 60 seconds.
//
// Shorter intervals give finer-grained samples at the cost of bandwidth;
// the upstream is a shared resource, do not abuse it.
//
// Returns an error if the duration is zero or negative.
func WithInterval(d time.Duration) Option {
	return func(cfg *watcherConfig) error {
		if d <= 0 {
			return errors.New("polling interval must be positive")
		}
		cfg.interval = d
		return nil
	}
}

// WithImages enables image fetching.
//
// When enabled, every post referencing an image has its file downloaded,
// checksum-verified, and delivered via [Handler.Img], gated by
// [Handler.ShouldFetch]. Disabled by default; a handler used without this
// option never receives Img or ShouldFetch calls.
func WithImages() Option {
	return func(cfg *watcherConfig) error {
		cfg.pullImages = true
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the watcher.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *watcherConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithAPIBase overrides the base URL of the JSON API host.
//
// Mainly useful for pointing the watcher at a mirror or a test server.
// A trailing slash is trimmed.
func WithAPIBase(base string) Option {
	return func(cfg *watcherConfig) error {
		if base == "" {
			return errors.New("api base cannot be empty")
		}
		cfg.apiBase = strings.TrimRight(base, "/")
		return nil
	}
}

// WithImageBase overrides the base URL of the image host.
//
// A trailing slash is trimmed.
func WithImageBase(base string) Option {
	return func(cfg *watcherConfig) error {
		if base == "" {
			return errors.New("image base cannot be empty")
		}
		cfg.imageBase = strings.TrimRight(base, "/")
		return nil
	}
}
