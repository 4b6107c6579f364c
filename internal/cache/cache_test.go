package cache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/InvestigateHealth/connectsync/internal/adapters/kv"
	"github.com/InvestigateHealth/connectsync/internal/domain"
	"github.com/InvestigateHealth/connectsync/pkg/log"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*Store, *kv.MemoryStorage, *fakeClock) {
	storage := kv.NewMemoryStorage()
	clock := newFakeClock()
	return New(storage, clock, log.NewNoopLogger()), storage, clock
}

func TestStore_SetGet(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()

	s.Set(ctx, "posts", "p1", json.RawMessage(`{"title":"hi"}`), time.Minute)

	value, stale, ok := s.Get(ctx, "posts", "p1")
	if !ok {
		t.Fatal("Get miss after Set")
	}
	if stale {
		t.Error("fresh entry reported stale")
	}
	if string(value) != `{"title":"hi"}` {
		t.Errorf("value = %s", value)
	}
}

func TestStore_MissReturnsNotOK(t *testing.T) {
	s, _, _ := newTestStore()

	_, _, ok := s.Get(context.Background(), "posts", "nope")
	if ok {
		t.Error("Get on empty cache should miss")
	}
}

func TestStore_StaleAfterTTL(t *testing.T) {
	s, _, clock := newTestStore()
	ctx := context.Background()

	s.Set(ctx, "posts", "p1", json.RawMessage(`1`), time.Minute)

	clock.Advance(59 * time.Second)
	if _, stale, _ := s.Get(ctx, "posts", "p1"); stale {
		t.Error("entry stale before TTL")
	}

	clock.Advance(time.Second) // age == ttl: stale
	value, stale, ok := s.Get(ctx, "posts", "p1")
	if !ok {
		t.Fatal("stale entry should still be returned")
	}
	if !stale {
		t.Error("entry not stale at TTL boundary")
	}
	if string(value) != `1` {
		t.Errorf("value = %s", value)
	}
}

func TestStore_WriteReplacesWholesale(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()

	s.Set(ctx, "posts", "p1", json.RawMessage(`{"a":1,"b":2}`), time.Minute)
	s.Set(ctx, "posts", "p1", json.RawMessage(`{"a":9}`), time.Minute)

	value, _, _ := s.Get(ctx, "posts", "p1")
	if string(value) != `{"a":9}` {
		t.Errorf("value = %s, want wholesale replacement", value)
	}
}

func TestStore_StorageFailureDegradesToMiss(t *testing.T) {
	storage := kv.NewMemoryStorage()
	s := New(storage, newFakeClock(), log.NewNoopLogger())
	ctx := context.Background()

	s.Set(ctx, "posts", "p1", json.RawMessage(`1`), time.Minute)

	storage.FailReads = true
	if _, _, ok := s.Get(ctx, "posts", "p1"); ok {
		t.Error("read failure should degrade to miss")
	}

	// Write failure must not panic or surface.
	storage.FailWrites = true
	s.Set(ctx, "posts", "p2", json.RawMessage(`2`), time.Minute)
}

func TestStore_CorruptEntryDegradesToMiss(t *testing.T) {
	s, storage, _ := newTestStore()
	ctx := context.Background()

	_ = storage.Set(ctx, domain.CacheKey("posts", "p1"), []byte("not json"))

	if _, _, ok := s.Get(ctx, "posts", "p1"); ok {
		t.Error("corrupt entry should degrade to miss")
	}
}

func TestStore_EvictAndEvictPrefix(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()

	s.Set(ctx, "posts", "p1", json.RawMessage(`1`), time.Minute)
	s.Set(ctx, "posts", "p2", json.RawMessage(`2`), time.Minute)
	s.Set(ctx, "users", "u1", json.RawMessage(`3`), time.Minute)

	s.Evict(ctx, "posts", "p1")
	if _, _, ok := s.Get(ctx, "posts", "p1"); ok {
		t.Error("p1 still cached after Evict")
	}

	s.EvictPrefix(ctx, domain.CacheCollectionPrefix("posts"))
	if _, _, ok := s.Get(ctx, "posts", "p2"); ok {
		t.Error("p2 still cached after EvictPrefix")
	}
	if _, _, ok := s.Get(ctx, "users", "u1"); !ok {
		t.Error("u1 evicted by unrelated prefix")
	}
}
