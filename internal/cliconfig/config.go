// Package cliconfig holds CLI configuration for connectsync: defaults,
// validation, and the file/env/flag precedence machinery.
package cliconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultServiceURL is the default remote document service endpoint.
const DefaultServiceURL = "https://api.connecthealth.io"

// Config holds CLI configuration for connectsync.
type Config struct {
	DataDir string
	Backend string

	ServiceURL string
	AuthKey    string
	ClientID   string
	ActorID    string

	ProbeURL      string
	ProbeInterval time.Duration
	HTTPTimeout   time.Duration

	CacheTTL    time.Duration
	DedupWindow time.Duration
	BatchLimit  int

	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	YieldEvery  int

	Verbose bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Backend:       "file",
		ServiceURL:    DefaultServiceURL,
		ActorID:       "default",
		ProbeInterval: 30 * time.Second,
		HTTPTimeout:   30 * time.Second,
		CacheTTL:      5 * time.Minute,
		DedupWindow:   10 * time.Second,
		BatchLimit:    500,
		MaxRetries:    5,
		BackoffBase:   500 * time.Millisecond,
		BackoffMax:    30 * time.Second,
		YieldEvery:    10,
		AuthKey:       os.Getenv("CONNECTSYNC_AUTH_KEY"),
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data-dir is required")
	}
	if c.Backend != "file" && c.Backend != "sqlite" {
		return fmt.Errorf("unknown backend %q (want file or sqlite)", c.Backend)
	}

	if c.ServiceURL == "" {
		c.ServiceURL = DefaultServiceURL
	}

	// Ensure no trailing slash
	if len(c.ServiceURL) > 0 && c.ServiceURL[len(c.ServiceURL)-1] == '/' {
		c.ServiceURL = c.ServiceURL[:len(c.ServiceURL)-1]
	}

	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe interval must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}

	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
