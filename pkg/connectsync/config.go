package connectsync

import (
	"fmt"
	"os"
	"time"

	"github.com/InvestigateHealth/connectsync/internal/domain"
)

// Storage backends for the durable cache and queues.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

type Config struct {
	// DataDir holds the durable cache and queue state. Required.
	DataDir string

	// Backend selects the key-value store: "file" or "sqlite".
	Backend string

	ServiceURL string
	AuthKey    string
	ClientID   string

	// ActorID identifies the local user in queued operations.
	ActorID string

	// ProbeURL is the endpoint used for reachability probes. Defaults to
	// ServiceURL's health endpoint.
	ProbeURL      string
	ProbeInterval time.Duration

	HTTPTimeout time.Duration

	// DefaultTTL is the freshness window for cached records.
	DefaultTTL time.Duration

	// DedupWindow suppresses duplicate audit and share operations enqueued
	// within this interval.
	DedupWindow time.Duration

	// BatchLimit caps the size of a single batch commit.
	BatchLimit int

	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// YieldEvery re-probes connectivity after this many drained operations.
	YieldEvery int
}

// SetDefaults fills zero-value fields with their defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendFile
	}
	if c.ActorID == "" {
		c.ActorID = "default"
	}
	if c.AuthKey == "" {
		c.AuthKey = os.Getenv("CONNECTSYNC_AUTH_KEY")
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 30 * time.Second
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 5 * time.Minute
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 10 * time.Second
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 500
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.YieldEvery <= 0 {
		c.YieldEvery = 10
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data-dir is required", domain.ErrInvalidConfig)
	}
	if c.ServiceURL == "" {
		return fmt.Errorf("%w: service-url is required", domain.ErrInvalidConfig)
	}
	if c.Backend != BackendFile && c.Backend != BackendSQLite {
		return fmt.Errorf("%w: unknown backend %q", domain.ErrInvalidConfig, c.Backend)
	}

	// Ensure no trailing slash
	if c.ServiceURL[len(c.ServiceURL)-1] == '/' {
		c.ServiceURL = c.ServiceURL[:len(c.ServiceURL)-1]
	}
	if c.ProbeURL == "" {
		c.ProbeURL = c.ServiceURL + "/v1/ping"
	}

	if c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("%w: backoff-max must be at least backoff-base", domain.ErrInvalidConfig)
	}
	return nil
}
