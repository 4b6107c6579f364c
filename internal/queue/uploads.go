package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/InvestigateHealth/connectsync/internal/domain"
	"github.com/InvestigateHealth/connectsync/internal/ports"
	"github.com/InvestigateHealth/connectsync/pkg/log"
)

// UploadQueue is the durable queue of pending binary uploads. It is kept
// separate from the operation queue so a stuck upload never blocks
// document-mutation draining.
type UploadQueue struct {
	storage ports.Storage
	clock   ports.Clock
	logger  log.Logger

	mu      sync.Mutex
	uploads []domain.PendingUpload
	dead    []domain.DeadUpload
}

// NewUploadQueue loads persisted upload state and returns a ready queue.
func NewUploadQueue(ctx context.Context, storage ports.Storage, clock ports.Clock, logger log.Logger) (*UploadQueue, error) {
	q := &UploadQueue{storage: storage, clock: clock, logger: logger}

	data, err := storage.Get(ctx, domain.UploadsQueueKey)
	if err == nil {
		if err := json.Unmarshal(data, &q.uploads); err != nil {
			return nil, fmt.Errorf("decode upload queue: %w", err)
		}
	} else if !errors.Is(err, ports.ErrKeyNotFound) {
		return nil, fmt.Errorf("load upload queue: %w", err)
	}

	data, err = storage.Get(ctx, domain.DeadUploadsKey)
	if err == nil {
		if err := json.Unmarshal(data, &q.dead); err != nil {
			return nil, fmt.Errorf("decode dead uploads: %w", err)
		}
	} else if !errors.Is(err, ports.ErrKeyNotFound) {
		return nil, fmt.Errorf("load dead uploads: %w", err)
	}
	return q, nil
}

func (q *UploadQueue) persist(ctx context.Context) error {
	data, err := json.Marshal(q.uploads)
	if err != nil {
		return err
	}
	return q.storage.Set(ctx, domain.UploadsQueueKey, data)
}

func (q *UploadQueue) persistDead(ctx context.Context) error {
	data, err := json.Marshal(q.dead)
	if err != nil {
		return err
	}
	return q.storage.Set(ctx, domain.DeadUploadsKey, data)
}

// Enqueue appends the upload and persists it.
func (q *UploadQueue) Enqueue(ctx context.Context, u domain.PendingUpload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if u.EnqueuedAt.IsZero() {
		u.EnqueuedAt = q.clock.Now()
	}
	q.uploads = append(q.uploads, u)
	if err := q.persist(ctx); err != nil {
		q.uploads = q.uploads[:len(q.uploads)-1]
		return fmt.Errorf("persist upload enqueue: %w", err)
	}
	return nil
}

// Peek returns the head upload without removing it.
func (q *UploadQueue) Peek() (domain.PendingUpload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.uploads) == 0 {
		return domain.PendingUpload{}, false
	}
	return q.uploads[0], true
}

// Dequeue removes and returns the head upload.
func (q *UploadQueue) Dequeue(ctx context.Context) (domain.PendingUpload, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.uploads) == 0 {
		return domain.PendingUpload{}, ErrEmpty
	}
	head := q.uploads[0]
	q.uploads = q.uploads[1:]
	if err := q.persist(ctx); err != nil {
		q.uploads = append([]domain.PendingUpload{head}, q.uploads...)
		return domain.PendingUpload{}, fmt.Errorf("persist upload dequeue: %w", err)
	}
	return head, nil
}

// Size returns the number of pending uploads.
func (q *UploadQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.uploads)
}

// BumpHeadRetry increments the head upload's retry count in place.
func (q *UploadQueue) BumpHeadRetry(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.uploads) == 0 {
		return 0, ErrEmpty
	}
	q.uploads[0].RetryCount++
	if err := q.persist(ctx); err != nil {
		q.uploads[0].RetryCount--
		return 0, fmt.Errorf("persist upload retry count: %w", err)
	}
	return q.uploads[0].RetryCount, nil
}

// MoveHeadToDead moves the head upload to the dead list.
func (q *UploadQueue) MoveHeadToDead(ctx context.Context, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.uploads) == 0 {
		return ErrEmpty
	}
	head := q.uploads[0]
	q.uploads = q.uploads[1:]
	q.dead = append(q.dead, domain.DeadUpload{
		Upload: head,
		Reason: reason,
		DiedAt: q.clock.Now(),
	})
	if err := q.persistDead(ctx); err != nil {
		q.uploads = append([]domain.PendingUpload{head}, q.uploads...)
		q.dead = q.dead[:len(q.dead)-1]
		return fmt.Errorf("persist dead uploads: %w", err)
	}
	if err := q.persist(ctx); err != nil {
		q.uploads = append([]domain.PendingUpload{head}, q.uploads...)
		return fmt.Errorf("persist upload removal: %w", err)
	}
	return nil
}

// Dead returns a copy of the dead upload list for inspection.
func (q *UploadQueue) Dead() []domain.DeadUpload {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.DeadUpload, len(q.dead))
	copy(out, q.dead)
	return out
}
