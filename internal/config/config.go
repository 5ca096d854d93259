// Package config loads and serves Malamar's process-wide configuration.
//
// Configuration is kept separate from persisted state: anything that changes at runtime
// (queue rows, comments, agent lists) lives in the database, not here. A single global
// Config instance is held behind a mutex and handed out by value so callers can never
// mutate it out from under each other; updates go through explicit setters.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Runner holds the settings the runner core (C9-C11) actually reads.
type Runner struct {
	// TempDir is where input/context/output files are written for CLI invocations.
	TempDir string `json:"temp_dir"`
	// PollIntervalMS is how often the task and chat queue pollers fire.
	PollIntervalMS int `json:"poll_interval_ms"`
}

// Server holds settings consumed by the out-of-scope HTTP layer.
type Server struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Log holds settings consumed by the out-of-scope CLI bootstrap.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Config is the full process configuration.
type Config struct {
	DataDir string `json:"data_dir"`
	Server  Server `json:"server"`
	Log     Log    `json:"log"`
	Runner  Runner `json:"runner"`
}

const defaultPollIntervalMS = 1000

// Default returns a Config populated with the runner's documented defaults.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Server:  Server{Host: "127.0.0.1", Port: 8787},
		Log:     Log{Level: "info", Format: "text"},
		Runner: Runner{
			TempDir:        os.TempDir(),
			PollIntervalMS: defaultPollIntervalMS,
		},
	}
}

//nolint:gochecknoglobals // intentional singleton, mirrors the ambient config convention
var (
	current *Config
	mu      sync.RWMutex
)

// Load reads a JSON config file from path, falling back to documented defaults for any
// field the file omits, and installs it as the process-wide singleton.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, jsonErr)
			}
		case os.IsNotExist(err):
			// No config file yet: defaults stand.
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if cfg.Runner.PollIntervalMS <= 0 {
		cfg.Runner.PollIntervalMS = defaultPollIntervalMS
	}
	if cfg.Runner.TempDir == "" {
		cfg.Runner.TempDir = os.TempDir()
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg, nil
}

// Get returns a copy of the current process-wide config. Panics if Load has not run;
// callers in tests should use SetForTest instead.
func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		panic("config.Load must be called before config.Get")
	}
	return *current
}

// SetForTest installs cfg as the process-wide singleton, for use in package tests that
// don't want to touch the filesystem.
func SetForTest(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
}

// PollInterval returns Runner.PollIntervalMS as a time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Runner.PollIntervalMS) * time.Millisecond
}
