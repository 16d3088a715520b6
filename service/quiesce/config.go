package quiesce

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Defaults.
const (
	DefaultTimeout          = time.Minute
	DefaultMaxWorkers       = 10
	DefaultHistorySize      = 1000
	DefaultMetricsNamespace = "quiesce"
)

// ErrInvalidConfig is returned when the configuration cannot be used.
var ErrInvalidConfig = errors.New("invalid quiesce config")

// Config configures a Manager.
type Config struct {
	// DefaultTimeout is used for requests that do not specify a timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxWorkers limits how many requests are coordinated at the same time.
	// Further requests are queued.
	MaxWorkers int `yaml:"max_workers"`

	// HistorySize defines how many requests are kept for lookups.
	HistorySize int `yaml:"history_size"`

	// MetricsNamespace is prefixed to all metric names.
	MetricsNamespace string `yaml:"metrics_namespace"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:   DefaultTimeout,
		MaxWorkers:       DefaultMaxWorkers,
		HistorySize:      DefaultHistorySize,
		MetricsNamespace: DefaultMetricsNamespace,
	}
}

// Init checks the configuration and fills in defaults for unset values.
func (c *Config) Init() error {
	var errs *multierror.Error

	switch {
	case c.DefaultTimeout < 0:
		errs = multierror.Append(errs, fmt.Errorf("default timeout must not be negative, got %s", c.DefaultTimeout))
	case c.DefaultTimeout == 0:
		c.DefaultTimeout = DefaultTimeout
	}

	switch {
	case c.MaxWorkers < 0:
		errs = multierror.Append(errs, fmt.Errorf("max workers must not be negative, got %d", c.MaxWorkers))
	case c.MaxWorkers == 0:
		c.MaxWorkers = DefaultMaxWorkers
	}

	switch {
	case c.HistorySize < 0:
		errs = multierror.Append(errs, fmt.Errorf("history size must not be negative, got %d", c.HistorySize))
	case c.HistorySize == 0:
		c.HistorySize = DefaultHistorySize
	}

	if c.MetricsNamespace == "" {
		c.MetricsNamespace = DefaultMetricsNamespace
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
