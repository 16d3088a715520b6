package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/safing/quiesce/base/log"
	"github.com/safing/quiesce/service/quiesce"
)

const defaultListen = "127.0.0.1:7070"

// Config is the daemon configuration.
type Config struct {
	LogLevel      string `yaml:"log_level"`
	Listen        string `yaml:"listen"`
	QuiesceOnExit bool   `yaml:"quiesce_on_exit"`

	Journal JournalConfig  `yaml:"journal"`
	Quiesce quiesce.Config `yaml:"quiesce"`

	Units        []UnitConfig        `yaml:"units"`
	Participants []ParticipantConfig `yaml:"participants"`
}

// JournalConfig configures the request journal.
// The journal is disabled if no path is set.
type JournalConfig struct {
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

// UnitConfig defines a unit that is stopped by a command.
type UnitConfig struct {
	ID          string        `yaml:"id"`
	Stop        string        `yaml:"stop"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// ParticipantConfig defines a hook participant.
type ParticipantConfig struct {
	Name    string        `yaml:"name"`
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

func defaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Listen:   defaultListen,
		Quiesce:  quiesce.DefaultConfig(),
	}
}

// loadConfig reads the config file at path.
// An empty path returns the default config.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// check validates the config and fills in defaults.
func (cfg *Config) check() error {
	var errs *multierror.Error

	if cfg.LogLevel != "" && log.ParseLevel(cfg.LogLevel) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("invalid log level %q", cfg.LogLevel))
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.Journal.MaxEntries < 0 {
		errs = multierror.Append(errs, errors.New("journal max entries must not be negative"))
	}
	if err := cfg.Quiesce.Init(); err != nil {
		errs = multierror.Append(errs, err)
	}

	unitIDs := make(map[string]struct{}, len(cfg.Units))
	for i, u := range cfg.Units {
		switch {
		case u.ID == "":
			errs = multierror.Append(errs, fmt.Errorf("unit #%d has no id", i+1))
		case u.Stop == "":
			errs = multierror.Append(errs, fmt.Errorf("unit %s has no stop command", u.ID))
		}
		if _, ok := unitIDs[u.ID]; ok && u.ID != "" {
			errs = multierror.Append(errs, fmt.Errorf("unit %s is defined more than once", u.ID))
		}
		unitIDs[u.ID] = struct{}{}
	}

	names := make(map[string]struct{}, len(cfg.Participants))
	for i, p := range cfg.Participants {
		switch {
		case p.Name == "":
			errs = multierror.Append(errs, fmt.Errorf("participant #%d has no name", i+1))
		case p.Command == "":
			errs = multierror.Append(errs, fmt.Errorf("participant %s has no command", p.Name))
		}
		if _, ok := names[p.Name]; ok && p.Name != "" {
			errs = multierror.Append(errs, fmt.Errorf("participant %s is defined more than once", p.Name))
		}
		names[p.Name] = struct{}{}
	}

	return errs.ErrorOrNil()
}
