// Package cache implements the TTL-bound local cache store over the
// durable key/value storage port.
//
// The cache never fails loudly: any storage error degrades to a cache
// miss (reads) or a dropped write, logged but not surfaced. Callers that
// need a value when the cache misses must go to the remote service.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/InvestigateHealth/connectsync/internal/domain"
	"github.com/InvestigateHealth/connectsync/internal/ports"
	"github.com/InvestigateHealth/connectsync/pkg/log"
)

// Store is the local cache over serializable records. Writes are
// last-write-wins; entries are wholesale-replaced, never merged.
type Store struct {
	storage ports.Storage
	clock   ports.Clock
	logger  log.Logger
}

// New creates a Store on top of the given storage.
func New(storage ports.Storage, clock ports.Clock, logger log.Logger) *Store {
	return &Store{storage: storage, clock: clock, logger: logger}
}

// Get returns the cached value for (collection, id). ok is false on a
// miss, including any storage failure. stale reports whether the entry's
// age reached its TTL; stale entries are still returned so offline
// callers can opt into them.
func (s *Store) Get(ctx context.Context, collection, id string) (value json.RawMessage, stale bool, ok bool) {
	key := domain.CacheKey(collection, id)
	data, err := s.storage.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ports.ErrKeyNotFound) {
			s.logger.Warn("cache read failed, treating as miss",
				log.String("key", key), log.Err(err))
		}
		return nil, false, false
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("cache entry corrupt, treating as miss",
			log.String("key", key), log.Err(err))
		return nil, false, false
	}

	return entry.Value, entry.Stale(s.clock.Now()), true
}

// Set replaces the cached value for (collection, id). A storage failure is
// logged and dropped; the caller proceeds as if the write never happened.
func (s *Store) Set(ctx context.Context, collection, id string, value json.RawMessage, ttl time.Duration) {
	key := domain.CacheKey(collection, id)
	entry := domain.CacheEntry{
		Key:      key,
		Value:    value,
		CachedAt: s.clock.Now(),
		TTL:      ttl,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("cache entry marshal failed", log.String("key", key), log.Err(err))
		return
	}
	if err := s.storage.Set(ctx, key, data); err != nil {
		s.logger.Warn("cache write failed, dropping entry",
			log.String("key", key), log.Err(err))
	}
}

// Evict removes a single cached record.
func (s *Store) Evict(ctx context.Context, collection, id string) {
	key := domain.CacheKey(collection, id)
	if err := s.storage.Remove(ctx, key); err != nil {
		s.logger.Warn("cache evict failed", log.String("key", key), log.Err(err))
	}
}

// EvictPrefix removes every cached record whose key starts with prefix.
// Use domain.CacheCollectionPrefix to target a whole collection.
func (s *Store) EvictPrefix(ctx context.Context, prefix string) {
	keys, err := s.storage.Keys(ctx)
	if err != nil {
		s.logger.Warn("cache prefix scan failed", log.String("prefix", prefix), log.Err(err))
		return
	}
	var matched []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	if len(matched) == 0 {
		return
	}
	if err := s.storage.MultiRemove(ctx, matched); err != nil {
		s.logger.Warn("cache prefix evict failed", log.String("prefix", prefix), log.Err(err))
	}
}
