// Package queue implements the durable pending-operation queue and the
// pending-upload queue, both persisted through the storage port.
//
// Each operation kind lives under its own storage key (queue:create,
// queue:update, ...) holding a JSON array. Every mutation rewrites the
// affected key with one atomic storage write, so after a crash an
// operation is either fully present or fully absent, never torn.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/InvestigateHealth/connectsync/internal/domain"
	"github.com/InvestigateHealth/connectsync/internal/ports"
	"github.com/InvestigateHealth/connectsync/pkg/log"
)

// ErrEmpty is returned when dequeuing from an empty queue.
var ErrEmpty = errors.New("queue: empty")

// ErrNotFound is returned when a dead-list entry id does not exist.
var ErrNotFound = errors.New("queue: operation not found")

// OpQueue is the durable, ordered list of not-yet-applied mutations plus
// the dead-letter sublist. FIFO holds within each (collection, target);
// cross-target interleaving is permitted but the implementation keeps a
// single global FIFO, which is strictly stronger.
type OpQueue struct {
	storage     ports.Storage
	clock       ports.Clock
	logger      log.Logger
	dedupWindow time.Duration

	mu      sync.Mutex
	ops     []domain.QueuedOperation // ordered by Seq
	dead    []domain.DeadOperation
	nextSeq int64
}

// NewOpQueue loads the persisted queue state and returns a ready queue.
// A missing namespace is an empty queue, not an error.
func NewOpQueue(ctx context.Context, storage ports.Storage, clock ports.Clock, logger log.Logger, dedupWindow time.Duration) (*OpQueue, error) {
	q := &OpQueue{
		storage:     storage,
		clock:       clock,
		logger:      logger,
		dedupWindow: dedupWindow,
	}
	if err := q.load(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *OpQueue) load(ctx context.Context) error {
	for _, kind := range domain.OpKinds {
		data, err := q.storage.Get(ctx, domain.QueueKey(kind))
		if errors.Is(err, ports.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load queue %s: %w", kind, err)
		}
		var ops []domain.QueuedOperation
		if err := json.Unmarshal(data, &ops); err != nil {
			return fmt.Errorf("decode queue %s: %w", kind, err)
		}
		q.ops = append(q.ops, ops...)
	}
	sort.Slice(q.ops, func(i, j int) bool { return q.ops[i].Seq < q.ops[j].Seq })
	for _, op := range q.ops {
		if op.Seq >= q.nextSeq {
			q.nextSeq = op.Seq + 1
		}
	}

	data, err := q.storage.Get(ctx, domain.DeadQueueKey)
	if err == nil {
		if err := json.Unmarshal(data, &q.dead); err != nil {
			return fmt.Errorf("decode dead list: %w", err)
		}
	} else if !errors.Is(err, ports.ErrKeyNotFound) {
		return fmt.Errorf("load dead list: %w", err)
	}
	return nil
}

// persistKind rewrites the storage key for one operation kind.
func (q *OpQueue) persistKind(ctx context.Context, kind domain.OpKind) error {
	subset := make([]domain.QueuedOperation, 0)
	for _, op := range q.ops {
		if op.Kind == kind {
			subset = append(subset, op)
		}
	}
	data, err := json.Marshal(subset)
	if err != nil {
		return err
	}
	return q.storage.Set(ctx, domain.QueueKey(kind), data)
}

func (q *OpQueue) persistDead(ctx context.Context) error {
	data, err := json.Marshal(q.dead)
	if err != nil {
		return err
	}
	return q.storage.Set(ctx, domain.DeadQueueKey, data)
}

// Enqueue appends the operation and persists it. Returns false without
// enqueuing when a dedupable operation with the same (kind, target, actor)
// was already enqueued within the dedup window.
func (q *OpQueue) Enqueue(ctx context.Context, op domain.QueuedOperation) (bool, error) {
	if !op.Kind.Valid() {
		return false, fmt.Errorf("queue: unknown operation kind %q", op.Kind)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = now
	}

	if op.Dedupable() && q.dedupWindow > 0 {
		key := op.DedupKey()
		for _, existing := range q.ops {
			if existing.Dedupable() && existing.DedupKey() == key &&
				now.Sub(existing.EnqueuedAt) < q.dedupWindow {
				q.logger.Debug("duplicate operation discarded",
					log.String("kind", string(op.Kind)),
					log.String("target", op.TargetID),
				)
				return false, nil
			}
		}
	}

	op.Seq = q.nextSeq
	q.nextSeq++
	q.ops = append(q.ops, op)

	if err := q.persistKind(ctx, op.Kind); err != nil {
		// Roll back the in-memory append so memory and disk agree.
		q.ops = q.ops[:len(q.ops)-1]
		q.nextSeq--
		return false, fmt.Errorf("persist enqueue: %w", err)
	}
	return true, nil
}

// Peek returns the head operation without removing it.
func (q *OpQueue) Peek() (domain.QueuedOperation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 {
		return domain.QueuedOperation{}, false
	}
	return q.ops[0], true
}

// Dequeue removes and returns the head operation, persisting the removal.
func (q *OpQueue) Dequeue(ctx context.Context) (domain.QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 {
		return domain.QueuedOperation{}, ErrEmpty
	}
	head := q.ops[0]
	q.ops = q.ops[1:]
	if err := q.persistKind(ctx, head.Kind); err != nil {
		q.ops = append([]domain.QueuedOperation{head}, q.ops...)
		return domain.QueuedOperation{}, fmt.Errorf("persist dequeue: %w", err)
	}
	return head, nil
}

// Size returns the number of live operations.
func (q *OpQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// BumpHeadRetry increments the head operation's retry count in place and
// persists it. Returns the new count.
func (q *OpQueue) BumpHeadRetry(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 {
		return 0, ErrEmpty
	}
	q.ops[0].RetryCount++
	if err := q.persistKind(ctx, q.ops[0].Kind); err != nil {
		q.ops[0].RetryCount--
		return 0, fmt.Errorf("persist retry count: %w", err)
	}
	return q.ops[0].RetryCount, nil
}

// MoveHeadToDead removes the head operation from the live queue and
// appends it to the dead list with the given reason.
func (q *OpQueue) MoveHeadToDead(ctx context.Context, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 {
		return ErrEmpty
	}
	head := q.ops[0]
	q.ops = q.ops[1:]
	q.dead = append(q.dead, domain.DeadOperation{
		Op:     head,
		Reason: reason,
		DiedAt: q.clock.Now(),
	})

	if err := q.persistDead(ctx); err != nil {
		q.ops = append([]domain.QueuedOperation{head}, q.ops...)
		q.dead = q.dead[:len(q.dead)-1]
		return fmt.Errorf("persist dead list: %w", err)
	}
	if err := q.persistKind(ctx, head.Kind); err != nil {
		// The op now exists in both lists; the live copy wins on reload
		// and the duplicate dead entry is harmless (never auto-retried).
		q.ops = append([]domain.QueuedOperation{head}, q.ops...)
		return fmt.Errorf("persist dead removal: %w", err)
	}
	return nil
}

// Dead returns a copy of the dead list for inspection.
func (q *OpQueue) Dead() []domain.DeadOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.DeadOperation, len(q.dead))
	copy(out, q.dead)
	return out
}

// RequeueDead moves one dead operation back to the tail of the live queue
// with a fresh retry budget. This is the manual counterpart of the dead
// list never being retried automatically.
func (q *OpQueue) RequeueDead(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := -1
	for i, d := range q.dead {
		if d.Op.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	op := q.dead[idx].Op
	op.RetryCount = 0
	op.Seq = q.nextSeq
	q.nextSeq++

	q.dead = append(q.dead[:idx], q.dead[idx+1:]...)
	q.ops = append(q.ops, op)

	if err := q.persistKind(ctx, op.Kind); err != nil {
		return fmt.Errorf("persist requeue: %w", err)
	}
	if err := q.persistDead(ctx); err != nil {
		return fmt.Errorf("persist dead removal: %w", err)
	}
	return nil
}
