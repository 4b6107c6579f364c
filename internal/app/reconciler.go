package app

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/InvestigateHealth/connectsync/internal/domain"
	"github.com/InvestigateHealth/connectsync/internal/queue"
	"github.com/InvestigateHealth/connectsync/pkg/log"
)

// Drain runs one reconciliation pass: document mutations first, then
// pending uploads. At most one drain runs at a time; a second call while
// one is in progress returns immediately. Errors never propagate out of a
// drain; they are reflected in per-operation retry state, the dead lists,
// and the event emitter.
func (e *Engine) Drain(ctx context.Context) {
	if !e.draining.CompareAndSwap(false, true) {
		return
	}
	defer e.draining.Store(false)

	pending := e.queue.Size() + e.uploads.Size()
	if pending == 0 {
		return
	}
	e.emitter.OnDrainStart(pending)
	e.logger.Info("drain started", log.Int("pending", pending))

	confirmed, dead := e.drainOps(ctx)
	uc, ud := e.drainUploads(ctx)
	confirmed += uc
	dead += ud

	e.emitter.OnDrainEnd(confirmed, dead)
	e.logger.Info("drain finished",
		log.Int("confirmed", confirmed),
		log.Int("dead", dead),
		log.Int("remaining", e.queue.Size()+e.uploads.Size()),
	)
}

// Draining reports whether a drain pass is in progress.
func (e *Engine) Draining() bool {
	return e.draining.Load()
}

// drainOps processes the operation queue head-first. A failing head is
// retried in place so per-target ordering holds for dependent mutations;
// it is never re-enqueued at the tail.
func (e *Engine) drainOps(ctx context.Context) (confirmed, dead int) {
	tuning := e.currentTuning()
	back := NewBackoff(tuning.BackoffBase, tuning.BackoffMax)
	processed := 0

	for {
		if ctx.Err() != nil || e.Offline() {
			// Disconnected mid-drain: stop, leave the remainder untouched.
			return confirmed, dead
		}

		op, ok := e.queue.Peek()
		if !ok {
			return confirmed, dead
		}

		serverID, err := e.executeOp(ctx, op)
		if err == nil {
			if _, derr := e.queue.Dequeue(ctx); derr != nil {
				// Persist failed; the op stays at the head. Re-executing it
				// next pass is the safe direction for at-least-once replay.
				e.logger.Error("dequeue after success failed", log.Err(derr))
				return confirmed, dead
			}
			confirmed++
			e.emitter.OnOperationConfirmed(op, serverID)
		} else {
			var remoteErr *domain.RemoteError
			terminal := errors.As(err, &remoteErr) && remoteErr.Terminal()

			if terminal {
				if e.deadLetterHead(ctx, op, err.Error()) != nil {
					// Storage refused the move; the head would spin forever.
					return confirmed, dead
				}
				dead++
			} else {
				retries, berr := e.queue.BumpHeadRetry(ctx)
				if berr != nil {
					e.logger.Error("persist retry count failed", log.Err(berr))
					return confirmed, dead
				}
				if retries >= e.currentTuning().MaxRetries {
					if e.deadLetterHead(ctx, op, "max retries exceeded: "+err.Error()) != nil {
						return confirmed, dead
					}
					dead++
				} else {
					e.logger.Warn("operation failed, retrying in place",
						log.String("op", op.ID),
						log.String("kind", string(op.Kind)),
						log.Int("retries", retries),
						log.Err(err),
					)
					if back.Wait(ctx, retries) != nil {
						return confirmed, dead
					}
					continue
				}
			}
		}

		processed++
		yieldEvery := e.currentTuning().YieldEvery
		if yieldEvery > 0 && processed%yieldEvery == 0 {
			// Cooperative yield: revalidate reachability before continuing.
			e.conn.Probe(ctx)
		}
	}
}

func (e *Engine) deadLetterHead(ctx context.Context, op domain.QueuedOperation, reason string) error {
	if err := e.queue.MoveHeadToDead(ctx, reason); err != nil && !errors.Is(err, queue.ErrEmpty) {
		e.logger.Error("dead-letter failed", log.String("op", op.ID), log.Err(err))
		return err
	}
	e.logger.Warn("operation dead-lettered",
		log.String("op", op.ID),
		log.String("kind", string(op.Kind)),
		log.String("reason", reason),
	)
	e.emitter.OnOperationDead(op, reason)
	return nil
}

// executeOp replays one queued operation against the remote service and
// refreshes the cache with the server-confirmed result where one exists.
// For creates it returns the server-assigned ID when it differs from the
// client-assigned target ID, so callers can observe the rebind.
func (e *Engine) executeOp(ctx context.Context, op domain.QueuedOperation) (string, error) {
	switch op.Kind {
	case domain.OpCreate:
		serverID, err := e.remote.Create(ctx, op.Collection, op.Payload)
		if err != nil {
			return "", err
		}
		if serverID != "" && serverID != op.TargetID {
			// Rebind the optimistic entry to the server-assigned ID.
			e.cache.Evict(ctx, op.Collection, op.TargetID)
			e.cache.Set(ctx, op.Collection, serverID, op.Payload, e.cfg.DefaultTTL)
			return serverID, nil
		}
		e.cache.Set(ctx, op.Collection, op.TargetID, op.Payload, e.cfg.DefaultTTL)
		return "", nil

	case domain.OpUpdate:
		if err := e.remote.Update(ctx, op.Collection, op.TargetID, op.Payload); err != nil {
			return "", err
		}
		e.refreshFromRemote(ctx, op.Collection, op.TargetID, op.Payload)
		return "", nil

	case domain.OpDelete:
		err := e.remote.Delete(ctx, op.Collection, op.TargetID)
		var remoteErr *domain.RemoteError
		if err != nil && !(errors.As(err, &remoteErr) && remoteErr.Kind == domain.KindNotFound) {
			return "", err
		}
		// Already-gone counts as success: replaying a delete is idempotent.
		e.cache.Evict(ctx, op.Collection, op.TargetID)
		return "", nil

	case domain.OpIncrementCounter:
		var p counterPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return "", domain.NewRemoteError(domain.KindInvalidPayload, "counter payload: %v", err)
		}
		return "", e.executeIncrement(ctx, op.Collection, op.TargetID, p.Field, p.Delta)

	case domain.OpAuditLog, domain.OpShareRecord:
		_, err := e.remote.Create(ctx, op.Collection, op.Payload)
		return "", err

	default:
		return "", domain.NewRemoteError(domain.KindInvalidPayload, "unknown operation kind %q", op.Kind)
	}
}
