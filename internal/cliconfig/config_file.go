package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	DataDir string `toml:"data_dir"`
	Backend string `toml:"backend"`

	ServiceURL string `toml:"service_url"`
	AuthKey    string `toml:"auth_key"`
	ClientID   string `toml:"client_id"`
	ActorID    string `toml:"actor_id"`

	ProbeURL      string `toml:"probe_url"`
	ProbeInterval string `toml:"probe_interval"`
	HTTPTimeout   string `toml:"http_timeout"`

	CacheTTL    string `toml:"cache_ttl"`
	DedupWindow string `toml:"dedup_window"`
	BatchLimit  int    `toml:"batch_limit"`

	MaxRetries  int    `toml:"max_retries"`
	BackoffBase string `toml:"backoff_base"`
	BackoffMax  string `toml:"backoff_max"`
	YieldEvery  int    `toml:"yield_every"`

	Verbose *bool `toml:"verbose"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.connectsync/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".connectsync", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("backend", fc.Backend, &cfg.Backend)
	s.setString("service-url", fc.ServiceURL, &cfg.ServiceURL)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)
	s.setString("client-id", fc.ClientID, &cfg.ClientID)
	s.setString("actor-id", fc.ActorID, &cfg.ActorID)
	s.setString("probe-url", fc.ProbeURL, &cfg.ProbeURL)

	if err := s.setDuration("probe-interval", fc.ProbeInterval, &cfg.ProbeInterval); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("cache-ttl", fc.CacheTTL, &cfg.CacheTTL); err != nil {
		return err
	}
	if err := s.setDuration("dedup-window", fc.DedupWindow, &cfg.DedupWindow); err != nil {
		return err
	}
	if err := s.setDuration("backoff-base", fc.BackoffBase, &cfg.BackoffBase); err != nil {
		return err
	}
	if err := s.setDuration("backoff-max", fc.BackoffMax, &cfg.BackoffMax); err != nil {
		return err
	}

	s.setInt("batch-limit", fc.BatchLimit, &cfg.BatchLimit)
	s.setInt("max-retries", fc.MaxRetries, &cfg.MaxRetries)
	s.setInt("yield-every", fc.YieldEvery, &cfg.YieldEvery)

	s.setBool("verbose", fc.Verbose, &cfg.Verbose)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
