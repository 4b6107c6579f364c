package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (CONNECTSYNC_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", os.Getenv("CONNECTSYNC_DATA_DIR"), &cfg.DataDir)
	s.setString("backend", os.Getenv("CONNECTSYNC_BACKEND"), &cfg.Backend)
	s.setString("service-url", os.Getenv("CONNECTSYNC_SERVICE_URL"), &cfg.ServiceURL)
	s.setString("auth-key", os.Getenv("CONNECTSYNC_AUTH_KEY"), &cfg.AuthKey)
	s.setString("client-id", os.Getenv("CONNECTSYNC_CLIENT_ID"), &cfg.ClientID)
	s.setString("actor-id", os.Getenv("CONNECTSYNC_ACTOR_ID"), &cfg.ActorID)
	s.setString("probe-url", os.Getenv("CONNECTSYNC_PROBE_URL"), &cfg.ProbeURL)

	if err := s.setDuration("probe-interval", os.Getenv("CONNECTSYNC_PROBE_INTERVAL"), &cfg.ProbeInterval); err != nil {
		return err
	}
	if err := s.setDuration("timeout", os.Getenv("CONNECTSYNC_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("cache-ttl", os.Getenv("CONNECTSYNC_CACHE_TTL"), &cfg.CacheTTL); err != nil {
		return err
	}
	if err := s.setDuration("dedup-window", os.Getenv("CONNECTSYNC_DEDUP_WINDOW"), &cfg.DedupWindow); err != nil {
		return err
	}
	if err := s.setDuration("backoff-base", os.Getenv("CONNECTSYNC_BACKOFF_BASE"), &cfg.BackoffBase); err != nil {
		return err
	}
	if err := s.setDuration("backoff-max", os.Getenv("CONNECTSYNC_BACKOFF_MAX"), &cfg.BackoffMax); err != nil {
		return err
	}

	if err := s.setIntFromString("batch-limit", os.Getenv("CONNECTSYNC_BATCH_LIMIT"), &cfg.BatchLimit); err != nil {
		return err
	}
	if err := s.setIntFromString("max-retries", os.Getenv("CONNECTSYNC_MAX_RETRIES"), &cfg.MaxRetries); err != nil {
		return err
	}
	if err := s.setIntFromString("yield-every", os.Getenv("CONNECTSYNC_YIELD_EVERY"), &cfg.YieldEvery); err != nil {
		return err
	}

	s.setBoolFromString("verbose", os.Getenv("CONNECTSYNC_VERBOSE"), &cfg.Verbose)

	return nil
}
