package domain

import (
	"testing"
	"time"
)

func TestMutationStatus_CanTransition(t *testing.T) {
	allowed := []struct {
		from, to MutationStatus
	}{
		{StatusUnconfirmed, StatusEnqueued},
		{StatusUnconfirmed, StatusConfirmed},
		{StatusEnqueued, StatusSyncing},
		{StatusSyncing, StatusConfirmed},
		{StatusSyncing, StatusDead},
		{StatusSyncing, StatusEnqueued},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransition(tr.to) {
			t.Errorf("%s -> %s rejected, want allowed", tr.from, tr.to)
		}
	}

	denied := []struct {
		from, to MutationStatus
	}{
		{StatusEnqueued, StatusConfirmed},
		{StatusEnqueued, StatusDead},
		{StatusConfirmed, StatusEnqueued},
		{StatusConfirmed, StatusSyncing},
		{StatusDead, StatusEnqueued},
		{StatusDead, StatusSyncing},
	}
	for _, tr := range denied {
		if tr.from.CanTransition(tr.to) {
			t.Errorf("%s -> %s allowed, want rejected", tr.from, tr.to)
		}
	}
}

func TestCacheEntry_StaleBoundary(t *testing.T) {
	cachedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entry := CacheEntry{CachedAt: cachedAt, TTL: 5 * time.Minute}

	if entry.Stale(cachedAt.Add(5*time.Minute - time.Second)) {
		t.Error("entry stale just before TTL")
	}
	if !entry.Stale(cachedAt.Add(5 * time.Minute)) {
		t.Error("entry fresh exactly at TTL")
	}
	if !(CacheEntry{CachedAt: cachedAt}).Stale(cachedAt) {
		t.Error("zero-TTL entry reported fresh")
	}
}

func TestRemoteError_Classification(t *testing.T) {
	retryable := []RemoteErrorKind{KindUnavailable, KindDeadlineExceeded, KindQuotaExceeded, KindInternal}
	for _, kind := range retryable {
		err := NewRemoteError(kind, "boom")
		if !err.Retryable() || err.Terminal() {
			t.Errorf("%s: want retryable, not terminal", kind)
		}
	}

	terminal := []RemoteErrorKind{KindPermissionDenied, KindNotFound, KindInvalidPayload}
	for _, kind := range terminal {
		err := NewRemoteError(kind, "boom")
		if err.Retryable() || !err.Terminal() {
			t.Errorf("%s: want terminal, not retryable", kind)
		}
	}
}

func TestChunkBatch(t *testing.T) {
	ops := make([]BatchOp, 5)
	for i := range ops {
		ops[i] = BatchOp{Kind: OpUpdate, Collection: "posts", ID: string(rune('a' + i))}
	}

	chunks := ChunkBatch(ops, 2)
	if got := len(chunks); got != 3 {
		t.Fatalf("len(chunks) = %d, want 3", got)
	}
	if len(chunks[0]) != 2 || len(chunks[1]) != 2 || len(chunks[2]) != 1 {
		t.Errorf("chunk sizes = %d/%d/%d, want 2/2/1", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	if got := ChunkBatch(nil, 2); got != nil {
		t.Errorf("ChunkBatch(nil) = %v, want nil", got)
	}
	if got := ChunkBatch(ops, 0); len(got) != 1 || len(got[0]) != 5 {
		t.Errorf("ChunkBatch with no limit = %d chunks, want one full chunk", len(got))
	}
}

func TestQueuedOperation_Dedup(t *testing.T) {
	audit := QueuedOperation{Kind: OpAuditLog, TargetID: "rec-1", Actor: "user-1"}
	share := QueuedOperation{Kind: OpShareRecord, TargetID: "rec-1", Actor: "user-1"}
	update := QueuedOperation{Kind: OpUpdate, TargetID: "rec-1", Actor: "user-1"}

	if !audit.Dedupable() || !share.Dedupable() {
		t.Error("audit/share operations should dedup")
	}
	if update.Dedupable() {
		t.Error("document mutations should never dedup")
	}
	if audit.DedupKey() == share.DedupKey() {
		t.Error("different kinds produced the same dedup key")
	}
}

func TestConnectivityState_Offline(t *testing.T) {
	cases := []struct {
		state ConnectivityState
		want  bool
	}{
		{ConnectivityState{Connected: true, Reachable: true}, false},
		{ConnectivityState{Connected: true, Reachable: false}, true},
		{ConnectivityState{Connected: false, Reachable: true}, true},
		{ConnectivityState{}, true},
	}
	for _, tc := range cases {
		if got := tc.state.Offline(); got != tc.want {
			t.Errorf("%+v Offline() = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestCacheKeys(t *testing.T) {
	if got := CacheKey("posts", "p1"); got != "cache:posts:p1" {
		t.Errorf("CacheKey = %q", got)
	}
	if got := CacheCollectionPrefix("posts"); got != "cache:posts:" {
		t.Errorf("CacheCollectionPrefix = %q", got)
	}
	if got := QueueKey(OpCreate); got != "queue:create" {
		t.Errorf("QueueKey = %q", got)
	}
}
