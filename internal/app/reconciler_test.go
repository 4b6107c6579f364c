package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/InvestigateHealth/connectsync/internal/adapters/kv"
	"github.com/InvestigateHealth/connectsync/internal/domain"
)

func TestDrain_EmptiesQueueExactlyOnce(t *testing.T) {
	remote := newFakeRemote()
	conn := &fakeConn{}
	conn.SetOffline(true)
	e, em, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := e.UpdateDocument(ctx, "posts", "p1", json.RawMessage(`{"n":1}`)); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if e.PendingOps() != 3 {
		t.Fatalf("pending ops = %d, want 3", e.PendingOps())
	}

	conn.SetOffline(false)
	e.Drain(ctx)

	if e.PendingOps() != 0 {
		t.Errorf("pending ops after drain = %d, want 0", e.PendingOps())
	}
	if got := remote.callCount("update"); got != 3 {
		t.Errorf("remote updates = %d, want 3", got)
	}
	if len(em.confirmed) != 3 {
		t.Errorf("confirmed events = %d, want 3", len(em.confirmed))
	}
	if e.Draining() {
		t.Error("draining flag still set after drain")
	}
}

func TestDrain_RetryableFailureDeadLettersAfterMaxRetries(t *testing.T) {
	remote := newFakeRemote()
	remote.errFor["update"] = domain.NewRemoteError(domain.KindUnavailable, "backend down")
	conn := &fakeConn{}
	conn.SetOffline(true)
	e, em, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	if _, err := e.UpdateDocument(ctx, "posts", "p1", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	conn.SetOffline(false)
	e.Drain(ctx)

	if e.PendingOps() != 0 {
		t.Errorf("pending ops = %d, want 0", e.PendingOps())
	}
	deadOps := e.DeadOps()
	if len(deadOps) != 1 {
		t.Fatalf("dead ops = %d, want 1", len(deadOps))
	}
	// MaxRetries is 3: the op is attempted exactly that many times.
	if got := remote.callCount("update"); got != 3 {
		t.Errorf("remote updates = %d, want 3", got)
	}
	if len(em.dead) != 1 {
		t.Errorf("dead events = %d, want 1", len(em.dead))
	}
	if e.Draining() {
		t.Error("draining flag still set after failed drain")
	}
}

func TestDrain_TerminalErrorFastTracksToDead(t *testing.T) {
	remote := newFakeRemote()
	remote.errFor["update"] = domain.NewRemoteError(domain.KindPermissionDenied, "forbidden")
	conn := &fakeConn{}
	conn.SetOffline(true)
	e, _, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	if _, err := e.UpdateDocument(ctx, "posts", "p1", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	conn.SetOffline(false)
	e.Drain(ctx)

	if got := remote.callCount("update"); got != 1 {
		t.Errorf("terminal op attempted %d times, want 1", got)
	}
	if len(e.DeadOps()) != 1 {
		t.Errorf("dead ops = %d, want 1", len(e.DeadOps()))
	}
}

func TestDrain_SecondFailsTwiceThenSucceeds(t *testing.T) {
	remote := newFakeRemote()
	conn := &fakeConn{}
	conn.SetOffline(true)
	e, em, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	targets := []string{"a", "b", "c"}
	for _, id := range targets {
		if _, err := e.UpdateDocument(ctx, "posts", id, json.RawMessage(`{"n":1}`)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	remote.failN[remoteKey("posts", "b")] = 2

	conn.SetOffline(false)
	e.Drain(ctx)

	if e.PendingOps() != 0 {
		t.Errorf("pending ops = %d, want 0", e.PendingOps())
	}
	if len(e.DeadOps()) != 0 {
		t.Errorf("dead ops = %d, want 0", len(e.DeadOps()))
	}
	// Confirmation order matches enqueue order: b is retried in place,
	// not pushed behind c.
	confirmed := em.confirmed
	if len(confirmed) != 3 {
		t.Fatalf("confirmed = %d, want 3", len(confirmed))
	}
	for i, id := range targets {
		if confirmed[i].TargetID != id {
			t.Errorf("confirmed[%d].TargetID = %s, want %s", i, confirmed[i].TargetID, id)
		}
	}
	if got := remote.callCount("update"); got != 5 {
		t.Errorf("remote updates = %d, want 5 (a, b fail, b fail, b, c)", got)
	}
}

func TestDrain_StopsWhenConnectionDrops(t *testing.T) {
	remote := newFakeRemote()
	conn := &fakeConn{}
	conn.SetOffline(true)
	e, _, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := e.UpdateDocument(ctx, "posts", id, json.RawMessage(`{"n":1}`)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	// Drop the connection after the first remote call succeeds.
	var once sync.Once
	remote.onCall = func(method, key string) {
		once.Do(func() { conn.SetOffline(true) })
	}

	conn.SetOffline(false)
	e.Drain(ctx)

	if e.PendingOps() != 2 {
		t.Errorf("pending ops = %d, want 2 (remainder untouched)", e.PendingOps())
	}
	if got := remote.callCount("update"); got != 1 {
		t.Errorf("remote updates = %d, want 1", got)
	}
}

func TestDrain_ConcurrentCallReturnsImmediately(t *testing.T) {
	remote := newFakeRemote()
	conn := &fakeConn{}
	conn.SetOffline(true)
	e, em, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	if _, err := e.UpdateDocument(ctx, "posts", "p1", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	remote.onCall = func(method, key string) {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	conn.SetOffline(false)
	done := make(chan struct{})
	go func() {
		e.Drain(ctx)
		close(done)
	}()

	<-started
	if !e.Draining() {
		t.Error("Draining() = false during an active pass")
	}
	e.Drain(ctx) // must return without waiting for the first pass
	close(release)
	<-done

	em.mu.Lock()
	starts := em.drainStarts
	em.mu.Unlock()
	if starts != 1 {
		t.Errorf("drain starts = %d, want 1", starts)
	}
}

func TestDrain_CreateRebindsToServerID(t *testing.T) {
	remote := newFakeRemote()
	conn := &fakeConn{}
	conn.SetOffline(true)
	e, em, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	res, err := e.CreateDocument(ctx, "posts", json.RawMessage(`{"title":"draft"}`))
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	clientID := res.ID

	conn.SetOffline(false)
	e.Drain(ctx)

	if doc := remote.doc("posts", "srv-1"); string(doc) != `{"title":"draft"}` {
		t.Errorf("remote doc = %s", doc)
	}
	// The cache entry now lives under the server-assigned ID.
	value, _, err := e.GetDocument(ctx, "posts", "srv-1", false)
	if err != nil {
		t.Fatalf("read server ID: %v", err)
	}
	if string(value) != `{"title":"draft"}` {
		t.Errorf("cached value = %s", value)
	}
	if _, _, err := e.GetDocument(ctx, "posts", clientID, false); err == nil {
		t.Error("client ID entry still resolves after rebind")
	}
	// The confirmation event tells the holder of the client ID where the
	// record ended up.
	if len(em.serverIDs) != 1 || em.serverIDs[0] != "srv-1" {
		t.Errorf("confirmed server IDs = %v, want [srv-1]", em.serverIDs)
	}
}

func TestDrain_DeleteReplayTreatsMissingAsDone(t *testing.T) {
	remote := newFakeRemote()
	conn := &fakeConn{}
	conn.SetOffline(true)
	e, em, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	// The record never existed remotely; the replayed delete still counts
	// as confirmed.
	if _, err := e.DeleteDocument(ctx, "posts", "ghost"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	conn.SetOffline(false)
	e.Drain(ctx)

	if e.PendingOps() != 0 {
		t.Errorf("pending ops = %d, want 0", e.PendingOps())
	}
	if len(em.confirmed) != 1 {
		t.Errorf("confirmed = %d, want 1", len(em.confirmed))
	}
	if len(e.DeadOps()) != 0 {
		t.Errorf("dead ops = %d, want 0", len(e.DeadOps()))
	}
}

func TestDrain_CounterIncrementsReplaySequentially(t *testing.T) {
	remote := newFakeRemote()
	remote.setDoc("posts", "p1", json.RawMessage(`{"likeCount":5}`))
	conn := &fakeConn{}
	e, _, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	if _, _, err := e.GetDocument(ctx, "posts", "p1", false); err != nil {
		t.Fatalf("fill: %v", err)
	}
	conn.SetOffline(true)

	for i := 0; i < 2; i++ {
		if _, err := e.IncrementCounter(ctx, "posts", "p1", "likeCount", 1); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}

	// Optimistic value is visible while offline.
	value, _, err := e.GetDocument(ctx, "posts", "p1", false)
	if err != nil {
		t.Fatalf("offline read: %v", err)
	}
	var doc map[string]float64
	if err := json.Unmarshal(value, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["likeCount"] != 7 {
		t.Errorf("optimistic likeCount = %v, want 7", doc["likeCount"])
	}

	conn.SetOffline(false)
	e.Drain(ctx)

	if err := json.Unmarshal(remote.doc("posts", "p1"), &doc); err != nil {
		t.Fatalf("unmarshal remote: %v", err)
	}
	if doc["likeCount"] != 7 {
		t.Errorf("remote likeCount = %v, want 7", doc["likeCount"])
	}
	if e.PendingOps() != 0 {
		t.Errorf("pending ops = %d, want 0", e.PendingOps())
	}
}

func TestDrain_MissingUploadDroppedWithoutRemoteCall(t *testing.T) {
	remote := newFakeRemote()
	conn := &fakeConn{}
	conn.SetOffline(true)
	e, em, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	missing := filepath.Join(t.TempDir(), "gone.jpg")
	if _, err := e.UploadFile(ctx, missing, "photos/gone.jpg", nil, nil); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	conn.SetOffline(false)
	e.Drain(ctx)

	if e.PendingUploads() != 0 {
		t.Errorf("pending uploads = %d, want 0", e.PendingUploads())
	}
	if got := remote.callCount("upload"); got != 0 {
		t.Errorf("remote uploads = %d, want 0 for a missing file", got)
	}
	if em.uploadsDropped != 1 {
		t.Errorf("dropped events = %d, want 1", em.uploadsDropped)
	}
	if len(e.DeadUploads()) != 0 {
		t.Errorf("dead uploads = %d, want 0 (dropped, not dead)", len(e.DeadUploads()))
	}
}

func TestDrain_UploadAppliesCompletion(t *testing.T) {
	remote := newFakeRemote()
	remote.setDoc("posts", "p1", json.RawMessage(`{"title":"x"}`))
	conn := &fakeConn{}
	conn.SetOffline(true)
	e, em, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	completion := &domain.CompletionTarget{Collection: "posts", ID: "p1", Field: "photoUrl"}
	if _, err := e.UploadFile(ctx, path, "photos/photo.jpg", nil, completion); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	conn.SetOffline(false)
	e.Drain(ctx)

	if e.PendingUploads() != 0 {
		t.Errorf("pending uploads = %d, want 0", e.PendingUploads())
	}
	if len(em.uploadsConfirmed) != 1 || em.uploadsConfirmed[0] != remote.uploadURL {
		t.Errorf("confirmed uploads = %v", em.uploadsConfirmed)
	}
	var doc map[string]string
	if err := json.Unmarshal(remote.doc("posts", "p1"), &doc); err != nil {
		t.Fatalf("unmarshal remote: %v", err)
	}
	if doc["photoUrl"] != remote.uploadURL {
		t.Errorf("photoUrl = %q, want %q", doc["photoUrl"], remote.uploadURL)
	}
}

func TestDrain_UploadTerminalErrorDeadLetters(t *testing.T) {
	remote := newFakeRemote()
	remote.errFor["upload"] = domain.NewRemoteError(domain.KindPermissionDenied, "bucket denied")
	conn := &fakeConn{}
	conn.SetOffline(true)
	e, em, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := e.UploadFile(ctx, path, "photos/photo.jpg", nil, nil); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	conn.SetOffline(false)
	e.Drain(ctx)

	if got := remote.callCount("upload"); got != 1 {
		t.Errorf("remote uploads = %d, want 1", got)
	}
	if len(e.DeadUploads()) != 1 {
		t.Errorf("dead uploads = %d, want 1", len(e.DeadUploads()))
	}
	if em.uploadsDead != 1 {
		t.Errorf("dead upload events = %d, want 1", em.uploadsDead)
	}
}

func TestDrain_SecondPassAfterConfirmIsNoOp(t *testing.T) {
	remote := newFakeRemote()
	conn := &fakeConn{}
	conn.SetOffline(true)
	e, em, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	if _, err := e.UpdateDocument(ctx, "posts", "p1", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	conn.SetOffline(false)
	e.Drain(ctx)

	value, _, err := e.GetDocument(ctx, "posts", "p1", false)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	calls := remote.callCount("update") + remote.callCount("get")

	// Draining again with nothing pending touches neither the remote nor
	// the cache.
	e.Drain(ctx)

	if got := remote.callCount("update") + remote.callCount("get"); got != calls {
		t.Errorf("remote calls after no-op drain = %d, want %d", got, calls)
	}
	again, _, err := e.GetDocument(ctx, "posts", "p1", false)
	if err != nil {
		t.Fatalf("GetDocument after no-op drain: %v", err)
	}
	if string(again) != string(value) {
		t.Errorf("cache changed: %s then %s", value, again)
	}
	if len(em.confirmed) != 1 {
		t.Errorf("confirmed events = %d, want 1", len(em.confirmed))
	}
	if em.drainStarts != 1 {
		t.Errorf("drain start events = %d, want 1 (empty pass emits none)", em.drainStarts)
	}
}

func TestDrain_DeadLetterPersistFailureStopsPass(t *testing.T) {
	remote := newFakeRemote()
	remote.errFor["update"] = domain.NewRemoteError(domain.KindPermissionDenied, "forbidden")
	conn := &fakeConn{}
	conn.SetOffline(true)
	storage := kv.NewMemoryStorage()
	e, em, _ := newTestEngine(t, remote, conn, storage)
	ctx := context.Background()

	if _, err := e.UpdateDocument(ctx, "posts", "p1", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// A terminal error whose dead-letter move cannot be persisted must end
	// the pass after one attempt, not spin on the same head.
	storage.FailWrites = true
	conn.SetOffline(false)
	e.Drain(ctx)

	if got := remote.callCount("update"); got != 1 {
		t.Errorf("remote updates = %d, want 1", got)
	}
	if e.Draining() {
		t.Error("draining flag still set after aborted pass")
	}
	if e.PendingOps() != 1 {
		t.Errorf("pending ops = %d, want 1 (op stays at the head)", e.PendingOps())
	}
	if len(e.DeadOps()) != 0 {
		t.Errorf("dead ops = %d, want 0", len(e.DeadOps()))
	}
	if len(em.dead) != 0 {
		t.Errorf("dead events = %d, want 0", len(em.dead))
	}

	// Once storage recovers, the next pass dead-letters it normally.
	storage.FailWrites = false
	e.Drain(ctx)
	if len(e.DeadOps()) != 1 {
		t.Errorf("dead ops after recovery = %d, want 1", len(e.DeadOps()))
	}
}

func TestDrain_UploadDeadLetterPersistFailureStopsPass(t *testing.T) {
	remote := newFakeRemote()
	remote.errFor["upload"] = domain.NewRemoteError(domain.KindPermissionDenied, "bucket denied")
	conn := &fakeConn{}
	conn.SetOffline(true)
	storage := kv.NewMemoryStorage()
	e, _, _ := newTestEngine(t, remote, conn, storage)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := e.UploadFile(ctx, path, "photos/photo.jpg", nil, nil); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	storage.FailWrites = true
	conn.SetOffline(false)
	e.Drain(ctx)

	if got := remote.callCount("upload"); got != 1 {
		t.Errorf("remote uploads = %d, want 1", got)
	}
	if e.Draining() {
		t.Error("draining flag still set after aborted pass")
	}
	if e.PendingUploads() != 1 {
		t.Errorf("pending uploads = %d, want 1", e.PendingUploads())
	}
	if len(e.DeadUploads()) != 0 {
		t.Errorf("dead uploads = %d, want 0", len(e.DeadUploads()))
	}
}

func TestRequeueDeadOp_SecondChanceSucceeds(t *testing.T) {
	remote := newFakeRemote()
	remote.errFor["update"] = domain.NewRemoteError(domain.KindPermissionDenied, "forbidden")
	conn := &fakeConn{}
	conn.SetOffline(true)
	e, _, _ := newTestEngine(t, remote, conn, kv.NewMemoryStorage())
	ctx := context.Background()

	if _, err := e.UpdateDocument(ctx, "posts", "p1", json.RawMessage(`{"n":1}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	conn.SetOffline(false)
	e.Drain(ctx)

	deadOps := e.DeadOps()
	if len(deadOps) != 1 {
		t.Fatalf("dead ops = %d, want 1", len(deadOps))
	}

	// Permission restored: requeue and drain again.
	delete(remote.errFor, "update")
	if err := e.RequeueDeadOp(ctx, deadOps[0].Op.ID); err != nil {
		t.Fatalf("RequeueDeadOp: %v", err)
	}
	e.Drain(ctx)

	if e.PendingOps() != 0 || len(e.DeadOps()) != 0 {
		t.Errorf("pending=%d dead=%d after requeue, want 0/0", e.PendingOps(), len(e.DeadOps()))
	}
}
