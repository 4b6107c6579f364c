package domain

import (
	"encoding/json"
	"time"
)

// CacheEntry is a TTL-bound cached record. Entries are wholesale-replaced
// on every write; merging partial updates is the writer's responsibility.
type CacheEntry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	CachedAt time.Time       `json:"cached_at"`
	TTL      time.Duration   `json:"ttl"`
}

// Stale reports whether the entry's age has reached its TTL at the given
// time. A zero TTL means the entry is always stale.
func (e CacheEntry) Stale(now time.Time) bool {
	return now.Sub(e.CachedAt) >= e.TTL
}
