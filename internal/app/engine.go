// Package app contains the application core of connectsync: the facade
// operations with their execute-or-enqueue decision, the sync and upload
// reconcilers, and the engine lifecycle state machine.
package app

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/InvestigateHealth/connectsync/internal/cache"
	"github.com/InvestigateHealth/connectsync/internal/domain"
	"github.com/InvestigateHealth/connectsync/internal/ports"
	"github.com/InvestigateHealth/connectsync/internal/queue"
	"github.com/InvestigateHealth/connectsync/pkg/log"
)

// Collections for bookkeeping records synthesized by the engine.
const (
	AuditLogCollection = "auditLogs"
	ShareCollection    = "shares"
)

// Tuning holds the retry parameters a running engine may adjust live,
// for example from a config hot-reload.
type Tuning struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	YieldEvery  int
}

// Config carries the engine's construction-time settings. The current
// actor is an explicit dependency here rather than an ambient singleton
// so the engine stays testable with fake collaborators.
type Config struct {
	ActorID     string
	DefaultTTL  time.Duration
	DedupWindow time.Duration
	BatchLimit  int
	Tuning      Tuning
}

// Result reports the outcome of a facade mutation. An offline mutation
// never fails visibly: it is enqueued and reported as StatusEnqueued
// (unconfirmed) instead.
type Result struct {
	ID     string
	Status domain.MutationStatus
	Value  json.RawMessage
}

// Confirmed reports whether the remote service has accepted the mutation.
func (r Result) Confirmed() bool { return r.Status == domain.StatusConfirmed }

// Engine owns the cache store and both queues exclusively; the remote
// service and connectivity oracle are shared, read-only collaborators.
type Engine struct {
	cfg     Config
	remote  ports.RemoteService
	conn    ports.Connectivity
	cache   *cache.Store
	queue   *queue.OpQueue
	uploads *queue.UploadQueue
	clock   ports.Clock
	logger  log.Logger
	emitter EventEmitter

	// draining is the sole drain-concurrency primitive: set before the
	// first suspension point of a drain, cleared on a deferred path.
	draining atomic.Bool

	tuneMu sync.RWMutex
	tuning Tuning
}

// NewEngine builds the engine and restores queue state from storage.
func NewEngine(
	ctx context.Context,
	cfg Config,
	remote ports.RemoteService,
	conn ports.Connectivity,
	storage ports.Storage,
	clock ports.Clock,
	logger log.Logger,
	emitter EventEmitter,
) (*Engine, error) {
	if emitter == nil {
		emitter = noopEmitter{}
	}
	opQueue, err := queue.NewOpQueue(ctx, storage, clock, logger, cfg.DedupWindow)
	if err != nil {
		return nil, err
	}
	uploadQueue, err := queue.NewUploadQueue(ctx, storage, clock, logger)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		remote:  remote,
		conn:    conn,
		cache:   cache.New(storage, clock, logger),
		queue:   opQueue,
		uploads: uploadQueue,
		clock:   clock,
		logger:  logger,
		emitter: emitter,
		tuning:  cfg.Tuning,
	}, nil
}

// UpdateTuning replaces the live retry parameters. Safe to call while a
// drain is running; the next retry decision reads the new values.
func (e *Engine) UpdateTuning(t Tuning) {
	e.tuneMu.Lock()
	e.tuning = t
	e.tuneMu.Unlock()
	e.logger.Info("tuning updated",
		log.Int("max_retries", t.MaxRetries),
		log.Duration("backoff_base", t.BackoffBase),
		log.Duration("backoff_max", t.BackoffMax),
	)
}

func (e *Engine) currentTuning() Tuning {
	e.tuneMu.RLock()
	defer e.tuneMu.RUnlock()
	return e.tuning
}

// Offline reports the engine's view of connectivity.
func (e *Engine) Offline() bool {
	return e.conn.Current().Offline()
}

// PendingOps returns the live operation queue size.
func (e *Engine) PendingOps() int { return e.queue.Size() }

// PendingUploads returns the pending upload count.
func (e *Engine) PendingUploads() int { return e.uploads.Size() }

// DeadOps returns the dead-lettered operations for inspection.
func (e *Engine) DeadOps() []domain.DeadOperation { return e.queue.Dead() }

// DeadUploads returns the dead-lettered uploads for inspection.
func (e *Engine) DeadUploads() []domain.DeadUpload { return e.uploads.Dead() }

// RequeueDeadOp manually moves a dead operation back to the live queue.
func (e *Engine) RequeueDeadOp(ctx context.Context, id string) error {
	return e.queue.RequeueDead(ctx, id)
}

// GetDocument serves a read. Fresh cache hits are served locally; online
// misses go to the remote service and fill the cache; offline misses are
// an explicit ErrUnavailableOffline unless the caller opted into stale
// values with allowStale.
func (e *Engine) GetDocument(ctx context.Context, collection, id string, allowStale bool) (json.RawMessage, bool, error) {
	value, stale, ok := e.cache.Get(ctx, collection, id)
	if ok && !stale {
		return value, false, nil
	}

	if e.Offline() {
		if ok && allowStale {
			return value, true, nil
		}
		return nil, false, domain.ErrUnavailableOffline
	}

	remote, err := e.remote.Get(ctx, collection, id)
	if err != nil {
		// A stale value is still better than an error when allowed.
		if ok && allowStale {
			return value, true, nil
		}
		return nil, false, err
	}
	e.cache.Set(ctx, collection, id, remote, e.cfg.DefaultTTL)
	return remote, false, nil
}

// CreateDocument creates a record. Online, the server assigns the ID;
// offline, a client-generated ID stands in until the queued create is
// confirmed (the reconciler rebinds the cache entry to the server ID).
func (e *Engine) CreateDocument(ctx context.Context, collection string, data json.RawMessage) (Result, error) {
	if !e.Offline() {
		id, err := e.remote.Create(ctx, collection, data)
		if err != nil {
			return Result{}, err
		}
		e.cache.Set(ctx, collection, id, data, e.cfg.DefaultTTL)
		return Result{ID: id, Status: domain.StatusConfirmed, Value: data}, nil
	}

	id := uuid.NewString()
	op := domain.QueuedOperation{
		ID:         uuid.NewString(),
		Kind:       domain.OpCreate,
		Collection: collection,
		TargetID:   id,
		Actor:      e.cfg.ActorID,
		Payload:    data,
	}
	if _, err := e.queue.Enqueue(ctx, op); err != nil {
		return Result{}, err
	}
	e.cache.Set(ctx, collection, id, data, e.cfg.DefaultTTL)
	return Result{ID: id, Status: domain.StatusEnqueued, Value: data}, nil
}

// UpdateDocument applies a partial update. The optimistic cache write
// merges the partial into the cached record; the cache itself only ever
// stores whole values.
func (e *Engine) UpdateDocument(ctx context.Context, collection, id string, partial json.RawMessage) (Result, error) {
	if !e.Offline() {
		if err := e.remote.Update(ctx, collection, id, partial); err != nil {
			return Result{}, err
		}
		e.refreshFromRemote(ctx, collection, id, partial)
		value, _, _ := e.cache.Get(ctx, collection, id)
		return Result{ID: id, Status: domain.StatusConfirmed, Value: value}, nil
	}

	op := domain.QueuedOperation{
		ID:         uuid.NewString(),
		Kind:       domain.OpUpdate,
		Collection: collection,
		TargetID:   id,
		Actor:      e.cfg.ActorID,
		Payload:    partial,
	}
	if _, err := e.queue.Enqueue(ctx, op); err != nil {
		return Result{}, err
	}
	merged := e.mergeIntoCache(ctx, collection, id, partial)
	return Result{ID: id, Status: domain.StatusEnqueued, Value: merged}, nil
}

// DeleteDocument removes a record and evicts its cache entry.
func (e *Engine) DeleteDocument(ctx context.Context, collection, id string) (Result, error) {
	if !e.Offline() {
		if err := e.remote.Delete(ctx, collection, id); err != nil {
			return Result{}, err
		}
		e.cache.Evict(ctx, collection, id)
		return Result{ID: id, Status: domain.StatusConfirmed}, nil
	}

	op := domain.QueuedOperation{
		ID:         uuid.NewString(),
		Kind:       domain.OpDelete,
		Collection: collection,
		TargetID:   id,
		Actor:      e.cfg.ActorID,
	}
	if _, err := e.queue.Enqueue(ctx, op); err != nil {
		return Result{}, err
	}
	e.cache.Evict(ctx, collection, id)
	return Result{ID: id, Status: domain.StatusEnqueued}, nil
}

// counterPayload is the persisted form of an incrementCounter operation.
type counterPayload struct {
	Field string `json:"field"`
	Delta int64  `json:"delta"`
}

// IncrementCounter adds delta to a numeric field. Replay is read-modify-
// write against the remote record; last-writer-wins is acceptable per the
// engine's conflict model.
func (e *Engine) IncrementCounter(ctx context.Context, collection, id, field string, delta int64) (Result, error) {
	if !e.Offline() {
		if err := e.executeIncrement(ctx, collection, id, field, delta); err != nil {
			return Result{}, err
		}
		value, _, _ := e.cache.Get(ctx, collection, id)
		return Result{ID: id, Status: domain.StatusConfirmed, Value: value}, nil
	}

	payload, err := json.Marshal(counterPayload{Field: field, Delta: delta})
	if err != nil {
		return Result{}, err
	}
	op := domain.QueuedOperation{
		ID:         uuid.NewString(),
		Kind:       domain.OpIncrementCounter,
		Collection: collection,
		TargetID:   id,
		Actor:      e.cfg.ActorID,
		Payload:    payload,
	}
	if _, err := e.queue.Enqueue(ctx, op); err != nil {
		return Result{}, err
	}
	optimistic := e.bumpCachedCounter(ctx, collection, id, field, delta)
	return Result{ID: id, Status: domain.StatusEnqueued, Value: optimistic}, nil
}

// auditPayload is the persisted form of an auditLog operation.
type auditPayload struct {
	Action   string            `json:"action"`
	TargetID string            `json:"target_id"`
	Actor    string            `json:"actor"`
	At       time.Time         `json:"at"`
	Details  map[string]string `json:"details,omitempty"`
}

// AuditLog records an audit event. Offline audit events dedup within the
// configured window: retrying the same user action must not produce two
// entries.
func (e *Engine) AuditLog(ctx context.Context, action, targetID string, details map[string]string) (Result, error) {
	payload, err := json.Marshal(auditPayload{
		Action:   action,
		TargetID: targetID,
		Actor:    e.cfg.ActorID,
		At:       e.clock.Now(),
		Details:  details,
	})
	if err != nil {
		return Result{}, err
	}

	if !e.Offline() {
		id, err := e.remote.Create(ctx, AuditLogCollection, payload)
		if err != nil {
			return Result{}, err
		}
		return Result{ID: id, Status: domain.StatusConfirmed}, nil
	}

	op := domain.QueuedOperation{
		ID:         uuid.NewString(),
		Kind:       domain.OpAuditLog,
		Collection: AuditLogCollection,
		TargetID:   targetID,
		Actor:      e.cfg.ActorID,
		Payload:    payload,
	}
	if _, err := e.queue.Enqueue(ctx, op); err != nil {
		return Result{}, err
	}
	return Result{ID: op.ID, Status: domain.StatusEnqueued}, nil
}

// sharePayload is the persisted form of a shareRecord operation.
type sharePayload struct {
	Collection string    `json:"collection"`
	TargetID   string    `json:"target_id"`
	Recipient  string    `json:"recipient"`
	Actor      string    `json:"actor"`
	At         time.Time `json:"at"`
}

// ShareRecord shares a record with another user. Dedups like AuditLog so
// a flapping connection cannot send the same share notification twice.
func (e *Engine) ShareRecord(ctx context.Context, collection, id, recipient string) (Result, error) {
	payload, err := json.Marshal(sharePayload{
		Collection: collection,
		TargetID:   id,
		Recipient:  recipient,
		Actor:      e.cfg.ActorID,
		At:         e.clock.Now(),
	})
	if err != nil {
		return Result{}, err
	}

	if !e.Offline() {
		shareID, err := e.remote.Create(ctx, ShareCollection, payload)
		if err != nil {
			return Result{}, err
		}
		return Result{ID: shareID, Status: domain.StatusConfirmed}, nil
	}

	op := domain.QueuedOperation{
		ID:         uuid.NewString(),
		Kind:       domain.OpShareRecord,
		Collection: ShareCollection,
		TargetID:   id,
		Actor:      e.cfg.ActorID,
		Payload:    payload,
	}
	if _, err := e.queue.Enqueue(ctx, op); err != nil {
		return Result{}, err
	}
	return Result{ID: op.ID, Status: domain.StatusEnqueued}, nil
}

// UploadFile uploads a local file. Online, the returned Result carries
// the remote URL in Value (as a JSON string); offline, the upload is
// queued and replayed by the upload reconciler.
func (e *Engine) UploadFile(ctx context.Context, localPath, storagePath string, metadata map[string]string, completion *domain.CompletionTarget) (Result, error) {
	if !e.Offline() {
		url, err := e.remote.UploadFile(ctx, localPath, storagePath, metadata)
		if err != nil {
			return Result{}, err
		}
		if completion != nil {
			e.applyCompletion(ctx, *completion, url)
		}
		value, _ := json.Marshal(url)
		return Result{ID: storagePath, Status: domain.StatusConfirmed, Value: value}, nil
	}

	u := domain.PendingUpload{
		ID:          uuid.NewString(),
		LocalPath:   localPath,
		StoragePath: storagePath,
		Metadata:    metadata,
		Completion:  completion,
	}
	if err := e.uploads.Enqueue(ctx, u); err != nil {
		return Result{}, err
	}
	return Result{ID: u.ID, Status: domain.StatusEnqueued}, nil
}

// DeleteFile removes a previously uploaded file from remote storage. File
// deletion has no local state to serve, so it requires connectivity.
func (e *Engine) DeleteFile(ctx context.Context, ref string) error {
	if e.Offline() {
		return domain.ErrUnavailableOffline
	}
	return e.remote.DeleteFile(ctx, ref)
}

// BatchWrite commits document mutations atomically in capped chunks.
// Offline, each op is enqueued individually with an optimistic cache
// write; atomicity is then per-operation, matching replay semantics.
func (e *Engine) BatchWrite(ctx context.Context, ops []domain.BatchOp) (Result, error) {
	if len(ops) == 0 {
		return Result{Status: domain.StatusConfirmed}, nil
	}

	if !e.Offline() {
		for _, chunk := range domain.ChunkBatch(ops, e.cfg.BatchLimit) {
			if err := e.remote.BatchCommit(ctx, chunk); err != nil {
				return Result{}, err
			}
			for _, op := range chunk {
				e.writeThroughBatchOp(ctx, op)
			}
		}
		return Result{Status: domain.StatusConfirmed}, nil
	}

	for _, bop := range ops {
		op := domain.QueuedOperation{
			ID:         uuid.NewString(),
			Kind:       bop.Kind,
			Collection: bop.Collection,
			TargetID:   bop.ID,
			Actor:      e.cfg.ActorID,
			Payload:    bop.Payload,
		}
		if _, err := e.queue.Enqueue(ctx, op); err != nil {
			return Result{}, err
		}
		e.writeThroughBatchOp(ctx, bop)
	}
	return Result{Status: domain.StatusEnqueued}, nil
}

func (e *Engine) writeThroughBatchOp(ctx context.Context, op domain.BatchOp) {
	switch op.Kind {
	case domain.OpCreate:
		e.cache.Set(ctx, op.Collection, op.ID, op.Payload, e.cfg.DefaultTTL)
	case domain.OpUpdate:
		e.mergeIntoCache(ctx, op.Collection, op.ID, op.Payload)
	case domain.OpDelete:
		e.cache.Evict(ctx, op.Collection, op.ID)
	}
}

// refreshFromRemote replaces the cache entry with the server-confirmed
// record. When the read-back fails the local merge is the best available
// approximation.
func (e *Engine) refreshFromRemote(ctx context.Context, collection, id string, fallbackPartial json.RawMessage) {
	confirmed, err := e.remote.Get(ctx, collection, id)
	if err != nil {
		e.logger.Debug("confirmed read-back failed, merging locally",
			log.String("collection", collection), log.String("id", id), log.Err(err))
		if fallbackPartial != nil {
			e.mergeIntoCache(ctx, collection, id, fallbackPartial)
		}
		return
	}
	e.cache.Set(ctx, collection, id, confirmed, e.cfg.DefaultTTL)
}

// mergeIntoCache overlays a partial update onto the cached record and
// writes the merged value back. Merging happens here, before Set; the
// cache itself is strictly last-write-wins.
func (e *Engine) mergeIntoCache(ctx context.Context, collection, id string, partial json.RawMessage) json.RawMessage {
	merged := partial
	if cached, _, ok := e.cache.Get(ctx, collection, id); ok {
		var base, overlay map[string]interface{}
		if json.Unmarshal(cached, &base) == nil && json.Unmarshal(partial, &overlay) == nil {
			for k, v := range overlay {
				base[k] = v
			}
			if out, err := json.Marshal(base); err == nil {
				merged = out
			}
		}
	}
	e.cache.Set(ctx, collection, id, merged, e.cfg.DefaultTTL)
	return merged
}

// bumpCachedCounter applies an optimistic counter increment to the cached
// record, creating the field if the record is cached without it.
func (e *Engine) bumpCachedCounter(ctx context.Context, collection, id, field string, delta int64) json.RawMessage {
	cached, _, ok := e.cache.Get(ctx, collection, id)
	if !ok {
		return nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(cached, &doc); err != nil {
		return cached
	}
	current, _ := doc[field].(float64)
	doc[field] = current + float64(delta)
	out, err := json.Marshal(doc)
	if err != nil {
		return cached
	}
	e.cache.Set(ctx, collection, id, out, e.cfg.DefaultTTL)
	return out
}

// applyCompletion routes an upload's completion field update through the
// execute-or-enqueue path. A failed online attempt is enqueued rather
// than dropped: no caller is waiting, so losing it would be silent.
func (e *Engine) applyCompletion(ctx context.Context, target domain.CompletionTarget, url string) {
	partial, err := json.Marshal(map[string]string{target.Field: url})
	if err != nil {
		e.logger.Error("marshal completion update", log.Err(err))
		return
	}

	if !e.Offline() {
		if err := e.remote.Update(ctx, target.Collection, target.ID, partial); err == nil {
			e.mergeIntoCache(ctx, target.Collection, target.ID, partial)
			return
		}
		e.logger.Warn("completion update failed online, enqueueing",
			log.String("collection", target.Collection), log.String("id", target.ID))
	}

	op := domain.QueuedOperation{
		ID:         uuid.NewString(),
		Kind:       domain.OpUpdate,
		Collection: target.Collection,
		TargetID:   target.ID,
		Actor:      e.cfg.ActorID,
		Payload:    partial,
	}
	if _, err := e.queue.Enqueue(ctx, op); err != nil {
		e.logger.Error("enqueue completion update", log.Err(err))
		return
	}
	e.mergeIntoCache(ctx, target.Collection, target.ID, partial)
}

// executeIncrement performs a read-modify-write increment against the
// remote service and refreshes the cache with the written record.
func (e *Engine) executeIncrement(ctx context.Context, collection, id, field string, delta int64) error {
	current, err := e.remote.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(current, &doc); err != nil {
		return domain.NewRemoteError(domain.KindInvalidPayload, "record %s/%s not an object: %v", collection, id, err)
	}
	val, _ := doc[field].(float64)
	doc[field] = val + float64(delta)

	partial, err := json.Marshal(map[string]interface{}{field: doc[field]})
	if err != nil {
		return err
	}
	if err := e.remote.Update(ctx, collection, id, partial); err != nil {
		return err
	}
	full, err := json.Marshal(doc)
	if err == nil {
		e.cache.Set(ctx, collection, id, full, e.cfg.DefaultTTL)
	}
	return nil
}
