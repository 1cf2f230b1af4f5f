// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid config")

type (
	// Config is the complete furnace configuration.
	Config struct {
		Locations []string     `json:"locations" mapstructure:"locations"`
		StateFile string       `json:"state_file" mapstructure:"state_file"`
		Lock      LockConfig   `json:"lock" mapstructure:"lock"`
		Watch     WatchConfig  `json:"watch" mapstructure:"watch"`
		Events    EventsConfig `json:"events" mapstructure:"events"`
		Log       LogConfig    `json:"log" mapstructure:"log"`
		Serve     ServeConfig  `json:"serve" mapstructure:"serve"`
	}

	// LockConfig configures the container lock manager.
	LockConfig struct {
		// WaitTimeout bounds lock waits whose context has no deadline.
		WaitTimeout time.Duration `json:"wait_timeout" mapstructure:"wait_timeout"`
	}

	// WatchConfig configures file-watch driven rescans.
	WatchConfig struct {
		Enabled  bool          `json:"enabled" mapstructure:"enabled"`
		Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
		Ignore   []string      `json:"ignore" mapstructure:"ignore"`
	}

	// EventsConfig configures event delivery.
	EventsConfig struct {
		Parallel bool `json:"parallel" mapstructure:"parallel"`
		Workers  int  `json:"workers" mapstructure:"workers"`
	}

	// LogConfig configures the CLI logger.
	LogConfig struct {
		Level string `json:"level" mapstructure:"level"`
	}

	// ServeConfig configures the health and metrics listener.
	ServeConfig struct {
		Addr string `json:"addr" mapstructure:"addr"`
	}

	// InvalidConfigError lists every field that failed validation.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Locations: []string{"addons"},
		StateFile: ".furnace/state.toml",
		Lock:      LockConfig{WaitTimeout: 30 * time.Second},
		Watch:     WatchConfig{Debounce: 500 * time.Millisecond},
		Events:    EventsConfig{Workers: 4},
		Log:       LogConfig{Level: "info"},
		Serve:     ServeConfig{Addr: "127.0.0.1:9464"},
	}
}

// Validate checks constraints the CUE schema cannot see once environment
// overrides have been applied.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Locations) == 0 {
		errs = append(errs, errors.New("locations: at least one storage location is required"))
	}
	for i, loc := range c.Locations {
		if strings.TrimSpace(loc) == "" {
			errs = append(errs, fmt.Errorf("locations[%d]: empty path", i))
		}
	}
	if c.Lock.WaitTimeout < 0 {
		errs = append(errs, fmt.Errorf("lock.wait_timeout: negative duration %s", c.Lock.WaitTimeout))
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce: negative duration %s", c.Watch.Debounce))
	}
	if c.Events.Workers < 1 {
		errs = append(errs, fmt.Errorf("events.workers: %d is below 1", c.Events.Workers))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (log.Level, error) {
	return log.ParseLevel(c.Log.Level)
}

// EventWorkers returns the delivery pool size: Events.Workers when
// parallel delivery is enabled, otherwise 1.
func (c *Config) EventWorkers() int {
	if !c.Events.Parallel {
		return 1
	}
	return c.Events.Workers
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig for errors.Is compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }
